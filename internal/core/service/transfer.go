package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

// TransferRequest asks for a booking to be moved to a different activity at
// the same venue.
type TransferRequest struct {
	FromBookingID uuid.UUID
	ToActivityID  uuid.UUID
	ParentID      uuid.UUID
	Reason        string
}

// TransferResult reports both booking ids and how the price delta settled.
// A positive delta is returned as AdditionalPaymentPence for the caller to
// collect; it is never collected synchronously here.
type TransferResult struct {
	FromBookingID          uuid.UUID
	ToBookingID            uuid.UUID
	PriceDeltaPence        int64
	AdditionalPaymentPence int64
	RefundTransactionID    *uuid.UUID
	CreditID               *uuid.UUID
}

// Transfers moves bookings between activities: the source booking is
// cancelled and a successor created in one transaction, with any negative
// price delta settled through the Issuer on the original payment method.
type Transfers struct {
	repo    ports.FinanceRepository
	issuer  *Issuer
	gateway ports.PaymentGateway
	logger  *slog.Logger
}

func NewTransfers(repo ports.FinanceRepository, issuer *Issuer, gateway ports.PaymentGateway, logger *slog.Logger) *Transfers {
	return &Transfers{
		repo:    repo,
		issuer:  issuer,
		gateway: gateway,
		logger:  logger,
	}
}

// Transfer validates the move, cancels the source booking, creates the
// successor against the target activity (copying payment metadata), and
// settles the price delta.
//
// The capacity check counts existing bookings without locking the activity,
// so a concurrent booking can still race it past capacity.
func (t *Transfers) Transfer(ctx context.Context, req TransferRequest, actor domain.Actor) (*TransferResult, error) {
	var result TransferResult
	var dispatch *cardDispatch

	err := t.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		src, err := txRepo.FindBookingByIDForUpdate(ctx, req.FromBookingID)
		if err != nil {
			return err
		}
		if src.ParentID != req.ParentID {
			return domain.NewOwnershipMismatchError(src.ID, req.ParentID)
		}
		if src.IsTerminal() {
			return domain.NewAlreadyTerminalError(src.ID, src.Status)
		}
		if src.DisputeLocked {
			return domain.NewDisputeLockedError(src.ID)
		}

		now := time.Now()
		if !now.Before(src.ActivityStart) {
			return domain.NewActivityStartedError(src.ActivityID)
		}

		target, err := txRepo.FindActivityByID(ctx, req.ToActivityID)
		if err != nil {
			return err
		}
		if target.VenueID != src.VenueID {
			return domain.NewVenueMismatchError(target.ID)
		}
		if target.Capacity > 0 {
			taken, err := txRepo.CountActiveBookings(ctx, target.ID)
			if err != nil {
				return err
			}
			if taken >= target.Capacity {
				return domain.NewActivityFullError(target.ID)
			}
		}

		expected := src.Status
		if err := src.Cancel("transferred: "+req.Reason, now); err != nil {
			return err
		}
		if err := txRepo.TransitionBooking(ctx, src, expected); err != nil {
			return err
		}

		successor := &domain.Booking{
			ID:               uuid.New(),
			ParentID:         src.ParentID,
			ChildID:          src.ChildID,
			ProviderID:       target.ProviderID,
			VenueID:          target.VenueID,
			ActivityID:       target.ID,
			ParentEmail:      src.ParentEmail,
			ActivityStart:    target.StartAt,
			AmountPence:      target.PricePence,
			PaymentMethod:    src.PaymentMethod,
			PaymentReference: src.PaymentReference,
			Status:           domain.StatusConfirmed,
			TransferredFrom:  &src.ID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if src.PaymentMethod == domain.PaymentTFC {
			successor.TFCDeadline = src.TFCDeadline
		}
		if err := txRepo.CreateBooking(ctx, successor); err != nil {
			return err
		}

		delta := target.PricePence - src.AmountPence
		result = TransferResult{
			FromBookingID:   src.ID,
			ToBookingID:     successor.ID,
			PriceDeltaPence: delta,
		}

		switch {
		case delta > 0:
			result.AdditionalPaymentPence = delta
		case delta < 0:
			s, err := t.issuer.SettleIn(ctx, txRepo, SettleRequest{
				BookingID:   src.ID,
				AmountPence: -delta,
				Method:      settleMethodForPayment(src.PaymentMethod),
				Actor:       actor,
				Reason:      "transfer_price_adjustment",
				Source:      domain.SourceTransferAdjustment,
			})
			if err != nil {
				return err
			}
			result.RefundTransactionID = s.RefundTransactionID
			result.CreditID = s.CreditID
			if s.RefundTransactionID != nil {
				dispatch = &cardDispatch{
					paymentReference: src.PaymentReference,
					refundID:         *s.RefundTransactionID,
					amountPence:      s.CardPence,
				}
			}
		}

		return txRepo.AppendAuditEvent(ctx, &domain.AuditEvent{
			ID:         uuid.New(),
			EntityType: "booking",
			EntityID:   src.ID,
			Action:     "transferred",
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Payload: domain.NewTransferPayload(domain.TransferRecord{
				FromBookingID:          src.ID,
				ToBookingID:            successor.ID,
				PriceDeltaPence:        delta,
				AdditionalPaymentPence: result.AdditionalPaymentPence,
				RefundTransactionID:    result.RefundTransactionID,
				CreditID:               result.CreditID,
			}),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	if dispatch != nil {
		dispatchCardRefund(ctx, t.repo, t.gateway, t.logger, dispatch)
	}
	return &result, nil
}
