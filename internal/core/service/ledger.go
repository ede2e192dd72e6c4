package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
	"github.com/kidsclubhq/bookingpay/internal/core/policy"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

// Ledger is the booking state machine. It orchestrates the policy engine and
// the issuer: every cancellation path checks eligibility, settles through the
// Issuer in one transaction, and only then triggers the external gateway call
// for the card portion.
type Ledger struct {
	repo    ports.FinanceRepository
	policy  *policy.Engine
	issuer  *Issuer
	gateway ports.PaymentGateway
	mailer  ports.Mailer
	logger  *slog.Logger
}

func NewLedger(
	repo ports.FinanceRepository,
	policyEngine *policy.Engine,
	issuer *Issuer,
	gateway ports.PaymentGateway,
	mailer ports.Mailer,
	logger *slog.Logger,
) *Ledger {
	return &Ledger{
		repo:    repo,
		policy:  policyEngine,
		issuer:  issuer,
		gateway: gateway,
		mailer:  mailer,
		logger:  logger,
	}
}

// CancelResult reports how a cancellation settled.
type CancelResult struct {
	BookingID           uuid.UUID
	RefundTransactionID *uuid.UUID
	CreditID            *uuid.UUID
	RefundedPence       int64
	CreditedPence       int64
	FeePence            int64
	PolicyReason        string
}

// DetermineEligibility re-derives what a parent-initiated cancellation at the
// given time would settle to, without side effects.
func (l *Ledger) DetermineEligibility(ctx context.Context, bookingID uuid.UUID, now time.Time) (policy.Eligibility, error) {
	b, err := l.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		return policy.Eligibility{}, err
	}
	return l.policy.Eligibility(b, now, policy.InitiatorParent), nil
}

// Cancel processes a parent-initiated cancellation. The preferred refund
// method must be one the policy allows for the booking at this time.
func (l *Ledger) Cancel(ctx context.Context, bookingID uuid.UUID, actor domain.Actor, reason string, preferred policy.RefundMethod) (*CancelResult, error) {
	return l.cancel(ctx, bookingID, actor, reason, policy.InitiatorParent, preferred)
}

// CancelByProvider processes a cancellation made on behalf of the venue. No
// admin fee is retained and the refund method is the parent's choice.
func (l *Ledger) CancelByProvider(ctx context.Context, bookingID uuid.UUID, actor domain.Actor, reason string, method policy.RefundMethod) (*CancelResult, error) {
	return l.cancel(ctx, bookingID, actor, reason, policy.InitiatorProvider, method)
}

func (l *Ledger) cancel(ctx context.Context, bookingID uuid.UUID, actor domain.Actor, reason string, initiator policy.Initiator, preferred policy.RefundMethod) (*CancelResult, error) {
	var result CancelResult
	var dispatch *cardDispatch
	var recipient, paymentRef string

	err := l.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		b, err := txRepo.FindBookingByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.IsTerminal() {
			return domain.NewAlreadyTerminalError(b.ID, b.Status)
		}
		if b.DisputeLocked {
			return domain.NewDisputeLockedError(b.ID)
		}
		recipient = b.ParentEmail
		paymentRef = b.PaymentReference

		now := time.Now()
		elig := l.policy.Eligibility(b, now, initiator)
		result = CancelResult{BookingID: b.ID, PolicyReason: elig.Reason}

		if !elig.Refundable || elig.RefundablePence == 0 {
			// Nothing comes back, but a fee swallowing the whole amount is
			// still a fee the caller should see.
			if elig.AdminFeePence > 0 {
				result.FeePence = min(elig.AdminFeePence, b.AmountPence)
			}
			return l.cancelWithoutSettlement(ctx, txRepo, b, actor, reason, string(initiator), now)
		}

		if !elig.Allows(preferred) {
			return domain.NewRefundMethodNotAllowedError(string(preferred))
		}

		method := SettleCredit
		if preferred == policy.MethodCash {
			method = settleMethodForPayment(b.PaymentMethod)
		}

		cancelled := domain.StatusCancelled
		s, err := l.issuer.SettleIn(ctx, txRepo, SettleRequest{
			BookingID:      b.ID,
			AmountPence:    elig.RefundablePence,
			FeePence:       elig.AdminFeePence,
			Method:         method,
			Actor:          actor,
			Reason:         reason,
			Source:         domain.SourceCancellationRefund,
			TransitionTo:   &cancelled,
			ExpectedStatus: b.Status,
		})
		if err != nil {
			return err
		}

		result.RefundTransactionID = s.RefundTransactionID
		result.CreditID = s.CreditID
		result.RefundedPence = s.CardPence
		result.CreditedPence = s.CreditPence
		result.FeePence = s.FeePence

		if s.RefundTransactionID != nil {
			dispatch = &cardDispatch{
				paymentReference: b.PaymentReference,
				refundID:         *s.RefundTransactionID,
				amountPence:      s.CardPence,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if dispatch != nil {
		dispatchCardRefund(ctx, l.repo, l.gateway, l.logger, dispatch)
	}
	l.sendCancellationNotice(ctx, bookingID, recipient, paymentRef, reason)

	return &result, nil
}

// cancelWithoutSettlement transitions the booking to cancelled with no
// financial movement (no-show, or the fee swallows the whole amount).
func (l *Ledger) cancelWithoutSettlement(ctx context.Context, repo ports.FinanceRepository, b *domain.Booking, actor domain.Actor, reason, initiator string, now time.Time) error {
	expected := b.Status
	if err := b.Cancel(reason, now); err != nil {
		return err
	}
	if err := repo.TransitionBooking(ctx, b, expected); err != nil {
		return err
	}
	return repo.AppendAuditEvent(ctx, &domain.AuditEvent{
		ID:         uuid.New(),
		EntityType: "booking",
		EntityID:   b.ID,
		Action:     "cancelled",
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Payload: domain.NewCancellationPayload(domain.CancellationRecord{
			Reason:    reason,
			Initiator: initiator,
		}),
		CreatedAt: now,
	})
}

// PartialRefund settles part of the charged amount without cancelling the
// booking. No fee is retained.
func (l *Ledger) PartialRefund(ctx context.Context, bookingID uuid.UUID, amountPence int64, method SettleMethod, actor domain.Actor, reason string) (*Settlement, error) {
	var settlement *Settlement
	var dispatch *cardDispatch

	err := l.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		b, err := txRepo.FindBookingByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.DisputeLocked {
			return domain.NewDisputeLockedError(b.ID)
		}

		s, err := l.issuer.SettleIn(ctx, txRepo, SettleRequest{
			BookingID:   b.ID,
			AmountPence: amountPence,
			Method:      method,
			Actor:       actor,
			Reason:      reason,
			Source:      domain.SourceProviderGoodwill,
		})
		if err != nil {
			return err
		}
		settlement = s

		if s.RefundTransactionID != nil {
			dispatch = &cardDispatch{
				paymentReference: b.PaymentReference,
				refundID:         *s.RefundTransactionID,
				amountPence:      s.CardPence,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if dispatch != nil {
		dispatchCardRefund(ctx, l.repo, l.gateway, l.logger, dispatch)
	}
	return settlement, nil
}

// CancelUnpaidTFC cancels a TFC booking whose payment deadline has passed.
// Nothing was ever collected so there is no settlement. A second sweep of the
// same booking observes the terminal status and gets AlreadyTerminal.
func (l *Ledger) CancelUnpaidTFC(ctx context.Context, bookingID uuid.UUID) error {
	return l.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		b, err := txRepo.FindBookingByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.IsTerminal() {
			return domain.NewAlreadyTerminalError(b.ID, b.Status)
		}
		if b.Status != domain.StatusPending && b.Status != domain.StatusTFCPending {
			return domain.NewStatusConflictError(b.ID, domain.StatusTFCPending)
		}
		return l.cancelWithoutSettlement(ctx, txRepo, b, domain.SystemActor, "tfc_deadline_expired", string(domain.RoleSystem), time.Now())
	})
}

// Reschedule mutates the booking's activity start only. Financial state is
// untouched; the same terminal-state gate applies.
func (l *Ledger) Reschedule(ctx context.Context, bookingID uuid.UUID, newStart time.Time, actor domain.Actor) error {
	return l.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		b, err := txRepo.FindBookingByIDForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.IsTerminal() {
			return domain.NewAlreadyTerminalError(b.ID, b.Status)
		}
		b.ActivityStart = newStart
		return txRepo.UpdateBooking(ctx, b)
	})
}

// ReconcileRefund moves a pending refund transaction to processed or failed
// once the gateway's outcome is known (webhook or poll).
func (l *Ledger) ReconcileRefund(ctx context.Context, refundID uuid.UUID, succeeded bool, gatewayRefundID string) error {
	return l.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		r, err := txRepo.FindRefundByIDForUpdate(ctx, refundID)
		if err != nil {
			return err
		}

		now := time.Now()
		outcome := "processed"
		if succeeded {
			if err := r.MarkProcessed(gatewayRefundID, now); err != nil {
				return err
			}
		} else {
			if err := r.MarkFailed(); err != nil {
				return err
			}
			outcome = "failed"
		}
		if err := txRepo.UpdateRefund(ctx, r); err != nil {
			return err
		}

		return txRepo.AppendAuditEvent(ctx, &domain.AuditEvent{
			ID:         uuid.New(),
			EntityType: "refund_transaction",
			EntityID:   r.ID,
			Action:     "refund_reconciled",
			ActorID:    domain.SystemActor.ID,
			ActorRole:  domain.RoleSystem,
			Payload: domain.NewRefundUpdatePayload(domain.RefundUpdateRecord{
				RefundTransactionID: r.ID,
				Outcome:             outcome,
				GatewayRefundID:     gatewayRefundID,
			}),
			CreatedAt: now,
		})
	})
}

// sendCancellationNotice emails the parent and records the send under the
// booking's payment reference, so a retried cancellation never mails twice.
// Failures are logged, not surfaced; the cancellation has already committed.
func (l *Ledger) sendCancellationNotice(ctx context.Context, bookingID uuid.UUID, recipient, reference, reason string) {
	if recipient == "" {
		return
	}
	if err := l.mailer.Send(ctx, "booking_cancelled", recipient, map[string]string{
		"booking_id": bookingID.String(),
		"reason":     reason,
	}); err != nil {
		l.logger.Warn("cancellation notice failed", "booking_id", bookingID, "error", err)
		return
	}
	if err := l.repo.CreateNotification(ctx, &domain.Notification{
		ID:        uuid.New(),
		BookingID: bookingID,
		Kind:      domain.NotifyCancellation,
		Recipient: recipient,
		Reference: reference,
		SentAt:    time.Now(),
	}); err != nil && !domain.IsErrorCode(err, domain.ErrCodeDuplicateNotification) {
		l.logger.Warn("cancellation notice record failed", "booking_id", bookingID, "error", err)
	}
}
