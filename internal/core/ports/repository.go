package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
)

// FinanceRepository defines the persistence surface for the finance core.
// The backing store must support atomic read-modify-write and a uniqueness
// constraint equivalent to "at most one pending refund per booking".
type FinanceRepository interface {
	// Bookings. The booking row is owned exclusively by this core; every
	// status change goes through TransitionBooking so a concurrent mutation
	// of the same booking is rejected with a conflict instead of applied
	// twice.
	CreateBooking(ctx context.Context, b *domain.Booking) error
	FindBookingByID(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	FindBookingByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	// TransitionBooking persists b predicated on the row still holding
	// expected; zero rows updated surfaces as a status conflict.
	TransitionBooking(ctx context.Context, b *domain.Booking, expected domain.BookingStatus) error
	UpdateBooking(ctx context.Context, b *domain.Booking) error
	SetDisputeLock(ctx context.Context, bookingID uuid.UUID, locked bool) error
	// FindTFCReminderCandidates returns unpaid TFC bookings whose deadline
	// falls within the window from now.
	FindTFCReminderCandidates(ctx context.Context, now time.Time, window time.Duration, limit int) ([]*domain.Booking, error)
	// FindTFCExpiredBookings returns unpaid TFC bookings whose deadline has
	// already passed.
	FindTFCExpiredBookings(ctx context.Context, now time.Time, limit int) ([]*domain.Booking, error)

	// Activities (read-only here).
	FindActivityByID(ctx context.Context, id uuid.UUID) (*domain.Activity, error)
	CountActiveBookings(ctx context.Context, activityID uuid.UUID) (int, error)

	// Refund transactions.
	CreateRefund(ctx context.Context, r *domain.RefundTransaction) error
	FindRefundByID(ctx context.Context, id uuid.UUID) (*domain.RefundTransaction, error)
	FindRefundByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.RefundTransaction, error)
	FindPendingRefundByBooking(ctx context.Context, bookingID uuid.UUID) (*domain.RefundTransaction, error)
	UpdateRefund(ctx context.Context, r *domain.RefundTransaction) error
	// SettledTotalPence sums non-failed refund amounts, fees and issued
	// credits against the booking; what remains chargeable is
	// AmountPence minus this.
	SettledTotalPence(ctx context.Context, bookingID uuid.UUID) (int64, error)

	// Wallet credits.
	CreateCredit(ctx context.Context, c *domain.WalletCredit) error
	// FindAvailableCredits returns active, unexpired, unexhausted credits
	// for the parent (and provider scope when given), oldest expiry first,
	// locked for update.
	FindAvailableCredits(ctx context.Context, parentID uuid.UUID, providerID *uuid.UUID, now time.Time) ([]*domain.WalletCredit, error)
	UpdateCredit(ctx context.Context, c *domain.WalletCredit) error
	// ExpireCredits reclassifies active credits past their expiry date,
	// returning how many rows changed.
	ExpireCredits(ctx context.Context, now time.Time, limit int) (int64, error)

	// Chargebacks.
	CreateChargeback(ctx context.Context, c *domain.Chargeback) error
	FindChargebackByID(ctx context.Context, id uuid.UUID) (*domain.Chargeback, error)
	FindChargebackByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Chargeback, error)
	UpdateChargeback(ctx context.Context, c *domain.Chargeback) error

	// Notifications. CreateNotification maps a uniqueness violation on
	// (booking, kind, reference) to a duplicate-notification error.
	CreateNotification(ctx context.Context, n *domain.Notification) error
	HasNotification(ctx context.Context, bookingID uuid.UUID, kind domain.NotificationKind, reference string) (bool, error)

	// AppendAuditEvent writes to the append-only audit trail.
	AppendAuditEvent(ctx context.Context, e *domain.AuditEvent) error

	// WithTx executes fn within a database transaction.
	WithTx(ctx context.Context, fn func(FinanceRepository) error) error
}
