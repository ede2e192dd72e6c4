package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

const (
	pendingRefundConstraint = "refund_transactions_one_pending_idx"
	notificationConstraint  = "notifications_booking_id_kind_reference_key"
)

type PostgresFinanceRepository struct {
	pool *pgxpool.Pool
	q    Executor
}

func NewFinanceRepository(db *DB) ports.FinanceRepository {
	return &PostgresFinanceRepository{
		pool: db.Pool,
		q:    db.Pool,
	}
}

const bookingColumns = `id, parent_id, child_id, provider_id, venue_id, activity_id, parent_email,
		activity_start, amount_pence, payment_method, payment_reference,
		status, tfc_deadline, dispute_locked, cancel_reason, transferred_from,
		created_at, updated_at, cancelled_at, completed_at`

func (r *PostgresFinanceRepository) CreateBooking(ctx context.Context, b *domain.Booking) error {
	query := `INSERT INTO bookings (` + bookingColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := r.q.Exec(ctx, query,
		b.ID,
		b.ParentID,
		b.ChildID,
		b.ProviderID,
		b.VenueID,
		b.ActivityID,
		b.ParentEmail,
		b.ActivityStart,
		b.AmountPence,
		b.PaymentMethod,
		b.PaymentReference,
		b.Status,
		b.TFCDeadline,
		b.DisputeLocked,
		b.CancelReason,
		b.TransferredFrom,
		b.CreatedAt,
		b.UpdatedAt,
		b.CancelledAt,
		b.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

func (r *PostgresFinanceRepository) FindBookingByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	return scanBooking(r.q.QueryRow(ctx, query, id), id)
}

func (r *PostgresFinanceRepository) FindBookingByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`
	return scanBooking(r.q.QueryRow(ctx, query, id), id)
}

// TransitionBooking persists the booking predicated on the row still holding
// the expected status. Zero rows updated means another writer got there first.
func (r *PostgresFinanceRepository) TransitionBooking(ctx context.Context, b *domain.Booking, expected domain.BookingStatus) error {
	query := `UPDATE bookings
			  SET status = $1, cancel_reason = $2, cancelled_at = $3, completed_at = $4, updated_at = NOW()
			  WHERE id = $5 AND status = $6`

	cmdTag, err := r.q.Exec(ctx, query,
		b.Status,
		b.CancelReason,
		b.CancelledAt,
		b.CompletedAt,
		b.ID,
		expected,
	)
	if err != nil {
		return fmt.Errorf("failed to transition booking: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.NewStatusConflictError(b.ID, expected)
	}
	return nil
}

func (r *PostgresFinanceRepository) UpdateBooking(ctx context.Context, b *domain.Booking) error {
	query := `UPDATE bookings
			  SET parent_email = $1, activity_start = $2, payment_reference = $3,
				  status = $4, tfc_deadline = $5, dispute_locked = $6,
				  cancel_reason = $7, cancelled_at = $8, completed_at = $9, updated_at = NOW()
			  WHERE id = $10`

	cmdTag, err := r.q.Exec(ctx, query,
		b.ParentEmail,
		b.ActivityStart,
		b.PaymentReference,
		b.Status,
		b.TFCDeadline,
		b.DisputeLocked,
		b.CancelReason,
		b.CancelledAt,
		b.CompletedAt,
		b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.NewBookingNotFoundError(b.ID.String())
	}
	return nil
}

func (r *PostgresFinanceRepository) SetDisputeLock(ctx context.Context, bookingID uuid.UUID, locked bool) error {
	query := `UPDATE bookings SET dispute_locked = $1, updated_at = NOW() WHERE id = $2`

	cmdTag, err := r.q.Exec(ctx, query, locked, bookingID)
	if err != nil {
		return fmt.Errorf("failed to set dispute lock: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.NewBookingNotFoundError(bookingID.String())
	}
	return nil
}

func (r *PostgresFinanceRepository) FindTFCReminderCandidates(ctx context.Context, now time.Time, window time.Duration, limit int) ([]*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + `
			  FROM bookings
			  WHERE payment_method = 'TFC'
				  AND status IN ('PENDING', 'TFC_PENDING')
				  AND tfc_deadline IS NOT NULL
				  AND tfc_deadline > $1
				  AND tfc_deadline <= $2
			  ORDER BY tfc_deadline ASC
			  LIMIT $3`

	rows, err := r.q.Query(ctx, query, now, now.Add(window), limit)
	if err != nil {
		return nil, fmt.Errorf("query tfc reminder candidates: %w", err)
	}
	return collectBookings(rows)
}

func (r *PostgresFinanceRepository) FindTFCExpiredBookings(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + `
			  FROM bookings
			  WHERE payment_method = 'TFC'
				  AND status IN ('PENDING', 'TFC_PENDING')
				  AND tfc_deadline IS NOT NULL
				  AND tfc_deadline <= $1
			  ORDER BY tfc_deadline ASC
			  LIMIT $2
			  FOR UPDATE SKIP LOCKED`

	rows, err := r.q.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query tfc expired bookings: %w", err)
	}
	return collectBookings(rows)
}

func (r *PostgresFinanceRepository) FindActivityByID(ctx context.Context, id uuid.UUID) (*domain.Activity, error) {
	query := `SELECT id, provider_id, venue_id, name, start_at, price_pence, capacity
			  FROM activities
			  WHERE id = $1`

	var a domain.Activity
	err := r.q.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.ProviderID,
		&a.VenueID,
		&a.Name,
		&a.StartAt,
		&a.PricePence,
		&a.Capacity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewActivityNotFoundError(id.String())
		}
		return nil, fmt.Errorf("failed to scan activity: %w", err)
	}
	return &a, nil
}

func (r *PostgresFinanceRepository) CountActiveBookings(ctx context.Context, activityID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM bookings
			  WHERE activity_id = $1 AND status IN ('PENDING', 'TFC_PENDING', 'CONFIRMED')`

	var count int
	if err := r.q.QueryRow(ctx, query, activityID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active bookings: %w", err)
	}
	return count, nil
}

const refundColumns = `id, booking_id, amount_pence, method, fee_pence, reason, status,
		gateway_refund_id, actor_id, actor_role, created_at, updated_at, processed_at`

func (r *PostgresFinanceRepository) CreateRefund(ctx context.Context, rt *domain.RefundTransaction) error {
	query := `INSERT INTO refund_transactions (` + refundColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.q.Exec(ctx, query,
		rt.ID,
		rt.BookingID,
		rt.AmountPence,
		rt.Method,
		rt.FeePence,
		rt.Reason,
		rt.Status,
		rt.GatewayRefundID,
		rt.ActorID,
		rt.ActorRole,
		rt.CreatedAt,
		rt.UpdatedAt,
		rt.ProcessedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.ConstraintName == pendingRefundConstraint {
				return domain.NewDuplicatePendingRefundError(rt.BookingID)
			}
		}
		return fmt.Errorf("failed to create refund transaction: %w", err)
	}
	return nil
}

func (r *PostgresFinanceRepository) FindRefundByID(ctx context.Context, id uuid.UUID) (*domain.RefundTransaction, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_transactions WHERE id = $1`
	return scanRefund(r.q.QueryRow(ctx, query, id), id)
}

func (r *PostgresFinanceRepository) FindRefundByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.RefundTransaction, error) {
	query := `SELECT ` + refundColumns + ` FROM refund_transactions WHERE id = $1 FOR UPDATE`
	return scanRefund(r.q.QueryRow(ctx, query, id), id)
}

// FindPendingRefundByBooking returns nil, nil when the booking has no pending
// refund. The partial unique index guarantees there is at most one.
func (r *PostgresFinanceRepository) FindPendingRefundByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.RefundTransaction, error) {
	query := `SELECT ` + refundColumns + `
			  FROM refund_transactions
			  WHERE booking_id = $1 AND status = 'PENDING'`

	rt, err := scanRefund(r.q.QueryRow(ctx, query, bookingID), bookingID)
	if err != nil {
		if domain.IsErrorCode(err, domain.ErrCodeRefundNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rt, nil
}

func (r *PostgresFinanceRepository) UpdateRefund(ctx context.Context, rt *domain.RefundTransaction) error {
	query := `UPDATE refund_transactions
			  SET status = $1, gateway_refund_id = $2, processed_at = $3, updated_at = NOW()
			  WHERE id = $4`

	cmdTag, err := r.q.Exec(ctx, query,
		rt.Status,
		rt.GatewayRefundID,
		rt.ProcessedAt,
		rt.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update refund transaction: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.NewRefundNotFoundError(rt.ID.String())
	}
	return nil
}

// SettledTotalPence sums everything already given back against the booking:
// non-failed refund amounts plus their fees, plus credits issued from it.
func (r *PostgresFinanceRepository) SettledTotalPence(ctx context.Context, bookingID uuid.UUID) (int64, error) {
	query := `SELECT
				COALESCE((SELECT SUM(amount_pence + fee_pence)
					FROM refund_transactions
					WHERE booking_id = $1 AND status <> 'FAILED'), 0)
				+
				COALESCE((SELECT SUM(amount_pence + fee_pence)
					FROM wallet_credits
					WHERE booking_id = $1), 0)`

	var total int64
	if err := r.q.QueryRow(ctx, query, bookingID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum settled total: %w", err)
	}
	return total, nil
}

const creditColumns = `id, parent_id, provider_id, booking_id, amount_pence, used_pence,
		fee_pence, expiry_date, source, status, created_at, updated_at`

func (r *PostgresFinanceRepository) CreateCredit(ctx context.Context, c *domain.WalletCredit) error {
	query := `INSERT INTO wallet_credits (` + creditColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.q.Exec(ctx, query,
		c.ID,
		c.ParentID,
		c.ProviderID,
		c.BookingID,
		c.AmountPence,
		c.UsedPence,
		c.FeePence,
		c.ExpiryDate,
		c.Source,
		c.Status,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create wallet credit: %w", err)
	}
	return nil
}

// FindAvailableCredits locks and returns the parent's usable credits, oldest
// expiry first, so consumption drains the credits closest to expiring.
func (r *PostgresFinanceRepository) FindAvailableCredits(ctx context.Context, parentID uuid.UUID, providerID *uuid.UUID, now time.Time) ([]*domain.WalletCredit, error) {
	query := `SELECT ` + creditColumns + `
			  FROM wallet_credits
			  WHERE parent_id = $1
				  AND status = 'ACTIVE'
				  AND expiry_date > $2
				  AND used_pence < amount_pence
				  AND ($3::uuid IS NULL OR provider_id IS NULL OR provider_id = $3)
			  ORDER BY expiry_date ASC
			  FOR UPDATE`

	rows, err := r.q.Query(ctx, query, parentID, now, providerID)
	if err != nil {
		return nil, fmt.Errorf("query available credits: %w", err)
	}

	credits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.WalletCredit, error) {
		var c domain.WalletCredit
		err := row.Scan(
			&c.ID,
			&c.ParentID,
			&c.ProviderID,
			&c.BookingID,
			&c.AmountPence,
			&c.UsedPence,
			&c.FeePence,
			&c.ExpiryDate,
			&c.Source,
			&c.Status,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		return &c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan wallet credits: %w", err)
	}
	return credits, nil
}

func (r *PostgresFinanceRepository) UpdateCredit(ctx context.Context, c *domain.WalletCredit) error {
	query := `UPDATE wallet_credits
			  SET used_pence = $1, status = $2, updated_at = NOW()
			  WHERE id = $3`

	cmdTag, err := r.q.Exec(ctx, query, c.UsedPence, c.Status, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update wallet credit: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("wallet credit %s not found", c.ID)
	}
	return nil
}

func (r *PostgresFinanceRepository) ExpireCredits(ctx context.Context, now time.Time, limit int) (int64, error) {
	query := `UPDATE wallet_credits
			  SET status = 'EXPIRED', updated_at = NOW()
			  WHERE id IN (
				  SELECT id FROM wallet_credits
				  WHERE status = 'ACTIVE' AND expiry_date <= $1
				  LIMIT $2
				  FOR UPDATE SKIP LOCKED
			  )`

	cmdTag, err := r.q.Exec(ctx, query, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to expire wallet credits: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

const chargebackColumns = `id, booking_id, external_id, amount_pence, reason, status,
		received_at, evidence_due_at, resolved_by, resolved_at, resolution_notes,
		created_at, updated_at`

func (r *PostgresFinanceRepository) CreateChargeback(ctx context.Context, c *domain.Chargeback) error {
	query := `INSERT INTO chargebacks (` + chargebackColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.q.Exec(ctx, query,
		c.ID,
		c.BookingID,
		c.ExternalID,
		c.AmountPence,
		c.Reason,
		c.Status,
		c.ReceivedAt,
		c.EvidenceDueAt,
		c.ResolvedBy,
		c.ResolvedAt,
		c.ResolutionNotes,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create chargeback: %w", err)
	}
	return nil
}

func (r *PostgresFinanceRepository) FindChargebackByID(ctx context.Context, id uuid.UUID) (*domain.Chargeback, error) {
	query := `SELECT ` + chargebackColumns + ` FROM chargebacks WHERE id = $1`
	return scanChargeback(r.q.QueryRow(ctx, query, id), id)
}

func (r *PostgresFinanceRepository) FindChargebackByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Chargeback, error) {
	query := `SELECT ` + chargebackColumns + ` FROM chargebacks WHERE id = $1 FOR UPDATE`
	return scanChargeback(r.q.QueryRow(ctx, query, id), id)
}

func (r *PostgresFinanceRepository) UpdateChargeback(ctx context.Context, c *domain.Chargeback) error {
	query := `UPDATE chargebacks
			  SET status = $1, resolved_by = $2, resolved_at = $3, resolution_notes = $4, updated_at = NOW()
			  WHERE id = $5`

	cmdTag, err := r.q.Exec(ctx, query,
		c.Status,
		c.ResolvedBy,
		c.ResolvedAt,
		c.ResolutionNotes,
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update chargeback: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.NewChargebackNotFoundError(c.ID.String())
	}
	return nil
}

func (r *PostgresFinanceRepository) CreateNotification(ctx context.Context, n *domain.Notification) error {
	query := `INSERT INTO notifications (id, booking_id, kind, recipient, reference, sent_at)
			  VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.q.Exec(ctx, query,
		n.ID,
		n.BookingID,
		n.Kind,
		n.Recipient,
		n.Reference,
		n.SentAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.ConstraintName == notificationConstraint {
				return domain.NewDuplicateNotificationError(n.BookingID, n.Kind)
			}
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *PostgresFinanceRepository) HasNotification(ctx context.Context, bookingID uuid.UUID, kind domain.NotificationKind, reference string) (bool, error) {
	query := `SELECT EXISTS (
				  SELECT 1 FROM notifications
				  WHERE booking_id = $1 AND kind = $2 AND reference = $3
			  )`

	var exists bool
	if err := r.q.QueryRow(ctx, query, bookingID, kind, reference).Scan(&exists); err != nil {
		return false, fmt.Errorf("check notification: %w", err)
	}
	return exists, nil
}

func (r *PostgresFinanceRepository) AppendAuditEvent(ctx context.Context, e *domain.AuditEvent) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	query := `INSERT INTO audit_events (id, entity_type, entity_id, action, actor_id, actor_role, payload, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.q.Exec(ctx, query,
		e.ID,
		e.EntityType,
		e.EntityID,
		e.Action,
		e.ActorID,
		e.ActorRole,
		payload,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// WithTx executes a function within a database transaction. Calling WithTx on
// an already transactional repository reuses the open transaction.
func (r *PostgresFinanceRepository) WithTx(ctx context.Context, fn func(ports.FinanceRepository) error) error {
	if _, ok := r.q.(pgx.Tx); ok {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Rollback is a no-op once the transaction has committed.
	defer tx.Rollback(ctx)

	repoWithTx := &PostgresFinanceRepository{
		pool: r.pool,
		q:    tx,
	}

	if err := fn(repoWithTx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func scanBooking(row pgx.Row, id uuid.UUID) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID,
		&b.ParentID,
		&b.ChildID,
		&b.ProviderID,
		&b.VenueID,
		&b.ActivityID,
		&b.ParentEmail,
		&b.ActivityStart,
		&b.AmountPence,
		&b.PaymentMethod,
		&b.PaymentReference,
		&b.Status,
		&b.TFCDeadline,
		&b.DisputeLocked,
		&b.CancelReason,
		&b.TransferredFrom,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.CancelledAt,
		&b.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewBookingNotFoundError(id.String())
		}
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]*domain.Booking, error) {
	bookings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Booking, error) {
		var b domain.Booking
		err := row.Scan(
			&b.ID,
			&b.ParentID,
			&b.ChildID,
			&b.ProviderID,
			&b.VenueID,
			&b.ActivityID,
			&b.ParentEmail,
			&b.ActivityStart,
			&b.AmountPence,
			&b.PaymentMethod,
			&b.PaymentReference,
			&b.Status,
			&b.TFCDeadline,
			&b.DisputeLocked,
			&b.CancelReason,
			&b.TransferredFrom,
			&b.CreatedAt,
			&b.UpdatedAt,
			&b.CancelledAt,
			&b.CompletedAt,
		)
		return &b, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan bookings: %w", err)
	}
	return bookings, nil
}

func scanRefund(row pgx.Row, id uuid.UUID) (*domain.RefundTransaction, error) {
	var rt domain.RefundTransaction
	err := row.Scan(
		&rt.ID,
		&rt.BookingID,
		&rt.AmountPence,
		&rt.Method,
		&rt.FeePence,
		&rt.Reason,
		&rt.Status,
		&rt.GatewayRefundID,
		&rt.ActorID,
		&rt.ActorRole,
		&rt.CreatedAt,
		&rt.UpdatedAt,
		&rt.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewRefundNotFoundError(id.String())
		}
		return nil, fmt.Errorf("failed to scan refund transaction: %w", err)
	}
	return &rt, nil
}

func scanChargeback(row pgx.Row, id uuid.UUID) (*domain.Chargeback, error) {
	var c domain.Chargeback
	err := row.Scan(
		&c.ID,
		&c.BookingID,
		&c.ExternalID,
		&c.AmountPence,
		&c.Reason,
		&c.Status,
		&c.ReceivedAt,
		&c.EvidenceDueAt,
		&c.ResolvedBy,
		&c.ResolvedAt,
		&c.ResolutionNotes,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewChargebackNotFoundError(id.String())
		}
		return nil, fmt.Errorf("failed to scan chargeback: %w", err)
	}
	return &c, nil
}
