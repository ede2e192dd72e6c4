package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

// ReceiveChargebackInput is what the card network's dispute notice carries.
type ReceiveChargebackInput struct {
	BookingID     uuid.UUID
	ExternalID    string
	AmountPence   int64
	Reason        string
	ReceivedAt    time.Time
	EvidenceDueAt time.Time
}

// Chargebacks handles card-network disputes. Receiving one locks the booking
// against any new cancellation or refund until it is resolved.
type Chargebacks struct {
	repo    ports.FinanceRepository
	issuer  *Issuer
	gateway ports.PaymentGateway
	logger  *slog.Logger
}

func NewChargebacks(repo ports.FinanceRepository, issuer *Issuer, gateway ports.PaymentGateway, logger *slog.Logger) *Chargebacks {
	return &Chargebacks{
		repo:    repo,
		issuer:  issuer,
		gateway: gateway,
		logger:  logger,
	}
}

// Receive records a new dispute and dispute-locks the booking in one
// transaction.
func (c *Chargebacks) Receive(ctx context.Context, in ReceiveChargebackInput, actor domain.Actor) (*domain.Chargeback, error) {
	if in.AmountPence <= 0 {
		return nil, domain.NewInvalidAmountError(in.AmountPence)
	}

	now := time.Now()
	cb := &domain.Chargeback{
		ID:            uuid.New(),
		BookingID:     in.BookingID,
		ExternalID:    in.ExternalID,
		AmountPence:   in.AmountPence,
		Reason:        in.Reason,
		Status:        domain.ChargebackPending,
		ReceivedAt:    in.ReceivedAt,
		EvidenceDueAt: in.EvidenceDueAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := c.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		b, err := txRepo.FindBookingByIDForUpdate(ctx, in.BookingID)
		if err != nil {
			return err
		}
		if err := txRepo.CreateChargeback(ctx, cb); err != nil {
			return err
		}
		if err := txRepo.SetDisputeLock(ctx, b.ID, true); err != nil {
			return err
		}
		return txRepo.AppendAuditEvent(ctx, &domain.AuditEvent{
			ID:         uuid.New(),
			EntityType: "chargeback",
			EntityID:   cb.ID,
			Action:     "chargeback_received",
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Payload: domain.NewChargebackPayload(domain.ChargebackRecord{
				ChargebackID: cb.ID,
				ExternalID:   cb.ExternalID,
				AmountPence:  cb.AmountPence,
			}),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return cb, nil
}

// Resolve closes a pending dispute. A win unlocks the booking with no
// financial movement; a loss unlocks it and creates exactly one pending
// card refund (fee 0) equal to the chargeback amount through the Issuer.
func (c *Chargebacks) Resolve(ctx context.Context, chargebackID uuid.UUID, outcome domain.ChargebackStatus, actor domain.Actor, notes string) (*domain.Chargeback, error) {
	var cb *domain.Chargeback
	var dispatch *cardDispatch

	err := c.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		found, err := txRepo.FindChargebackByIDForUpdate(ctx, chargebackID)
		if err != nil {
			return err
		}
		cb = found

		now := time.Now()
		if err := cb.Resolve(outcome, actor.ID, notes, now); err != nil {
			return err
		}
		if err := txRepo.UpdateChargeback(ctx, cb); err != nil {
			return err
		}
		if err := txRepo.SetDisputeLock(ctx, cb.BookingID, false); err != nil {
			return err
		}

		var refundID *uuid.UUID
		if outcome == domain.ChargebackLost {
			b, err := txRepo.FindBookingByIDForUpdate(ctx, cb.BookingID)
			if err != nil {
				return err
			}
			s, err := c.issuer.SettleIn(ctx, txRepo, SettleRequest{
				BookingID:   cb.BookingID,
				AmountPence: cb.AmountPence,
				Method:      SettleCard,
				Actor:       actor,
				Reason:      "chargeback_lost",
				Source:      domain.SourceChargebackReversal,
			})
			if err != nil {
				return err
			}
			refundID = s.RefundTransactionID
			if refundID != nil {
				dispatch = &cardDispatch{
					paymentReference: b.PaymentReference,
					refundID:         *refundID,
					amountPence:      s.CardPence,
				}
			}
		}

		return txRepo.AppendAuditEvent(ctx, &domain.AuditEvent{
			ID:         uuid.New(),
			EntityType: "chargeback",
			EntityID:   cb.ID,
			Action:     "chargeback_resolved",
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Payload: domain.NewChargebackPayload(domain.ChargebackRecord{
				ChargebackID: cb.ID,
				ExternalID:   cb.ExternalID,
				AmountPence:  cb.AmountPence,
				Outcome:      string(outcome),
			}),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	if dispatch != nil {
		dispatchCardRefund(ctx, c.repo, c.gateway, c.logger, dispatch)
	}
	return cb, nil
}
