package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

// SettleMethod selects the settlement rail split.
type SettleMethod string

const (
	SettleCard   SettleMethod = "CARD"
	SettleCredit SettleMethod = "CREDIT"
	SettleMixed  SettleMethod = "MIXED"
)

// SettleRequest asks the Issuer to convert part of a booking's charged amount
// into refund and/or credit rows.
type SettleRequest struct {
	BookingID   uuid.UUID
	AmountPence int64
	FeePence    int64
	Method      SettleMethod
	Actor       domain.Actor
	Reason      string
	Source      domain.CreditSource

	// TransitionTo, when set, moves the booking to that status in the same
	// transaction, predicated on ExpectedStatus. When nil (chargeback
	// settlements) the booking status is left untouched and the terminal /
	// dispute-lock guards are skipped.
	TransitionTo   *domain.BookingStatus
	ExpectedStatus domain.BookingStatus

	CreditExpiryMonths int
}

// Settlement reports what the Issuer created. The caller is responsible for
// triggering the gateway call for the card portion after the transaction has
// committed, and for reconciling the pending row afterwards.
type Settlement struct {
	RefundTransactionID *uuid.UUID
	CreditID            *uuid.UUID
	CardPence           int64
	CreditPence         int64
	FeePence            int64
}

// Issuer atomically settles an amount across the card-refund and wallet-credit
// rails. All settlement paths in the system funnel through here so the
// monetary invariants hold in one place: never a second pending refund, never
// more settled than was charged, and one audit event referencing every row
// created.
type Issuer struct {
	repo               ports.FinanceRepository
	creditExpiryMonths int
	logger             *slog.Logger
}

func NewIssuer(repo ports.FinanceRepository, creditExpiryMonths int, logger *slog.Logger) *Issuer {
	if creditExpiryMonths <= 0 {
		creditExpiryMonths = domain.DefaultCreditExpiryMonths
	}
	return &Issuer{
		repo:               repo,
		creditExpiryMonths: creditExpiryMonths,
		logger:             logger,
	}
}

// Settle runs SettleIn inside its own transaction.
func (i *Issuer) Settle(ctx context.Context, req SettleRequest) (*Settlement, error) {
	var result *Settlement
	err := i.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		s, err := i.SettleIn(ctx, txRepo, req)
		if err != nil {
			return err
		}
		result = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SettleIn performs a settlement using the given (already transactional)
// repository, so callers that manage their own transaction (the transfer
// engine) can compose it with other writes.
func (i *Issuer) SettleIn(ctx context.Context, repo ports.FinanceRepository, req SettleRequest) (*Settlement, error) {
	if req.AmountPence <= 0 {
		return nil, domain.NewInvalidAmountError(req.AmountPence)
	}
	if req.FeePence < 0 {
		return nil, domain.NewInvalidAmountError(req.FeePence)
	}

	b, err := repo.FindBookingByIDForUpdate(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	if req.TransitionTo != nil {
		if b.IsTerminal() {
			return nil, domain.NewAlreadyTerminalError(b.ID, b.Status)
		}
		if b.DisputeLocked {
			return nil, domain.NewDisputeLockedError(b.ID)
		}
		if b.Status != req.ExpectedStatus {
			return nil, domain.NewStatusConflictError(b.ID, req.ExpectedStatus)
		}
	}

	pending, err := repo.FindPendingRefundByBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, domain.NewDuplicatePendingRefundError(req.BookingID)
	}

	settled, err := repo.SettledTotalPence(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	remaining := b.AmountPence - settled
	if req.AmountPence+req.FeePence > remaining {
		return nil, domain.NewInsufficientAmountError(req.AmountPence+req.FeePence, remaining)
	}

	cardPence, creditPence := splitAmount(req.AmountPence, req.Method)
	now := time.Now()

	result := &Settlement{
		CardPence:   cardPence,
		CreditPence: creditPence,
		FeePence:    req.FeePence,
	}

	if cardPence > 0 {
		refund := &domain.RefundTransaction{
			ID:          uuid.New(),
			BookingID:   b.ID,
			AmountPence: cardPence,
			Method:      domain.RefundCard,
			FeePence:    req.FeePence,
			Reason:      req.Reason,
			Status:      domain.RefundPending,
			ActorID:     req.Actor.ID,
			ActorRole:   req.Actor.Role,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.CreateRefund(ctx, refund); err != nil {
			return nil, err
		}
		result.RefundTransactionID = &refund.ID
	}

	if creditPence > 0 {
		source := req.Source
		if source == "" {
			source = domain.SourceCancellationRefund
		}
		expiry := req.CreditExpiryMonths
		if expiry <= 0 {
			expiry = i.creditExpiryMonths
		}
		providerID := b.ProviderID
		credit, err := domain.NewWalletCredit(b.ParentID, creditPence, source, &providerID, &b.ID, expiry, now)
		if err != nil {
			return nil, err
		}
		if cardPence == 0 {
			// No refund row exists to carry the retained fee, so it rides on
			// the credit row; otherwise the fee would not count as settled and
			// could be charged again.
			credit.FeePence = req.FeePence
		}
		if err := repo.CreateCredit(ctx, credit); err != nil {
			return nil, err
		}
		result.CreditID = &credit.ID
	}

	if req.TransitionTo != nil {
		expected := b.Status
		switch *req.TransitionTo {
		case domain.StatusCancelled:
			if err := b.Cancel(req.Reason, now); err != nil {
				return nil, err
			}
		default:
			if err := b.CanTransitionTo(*req.TransitionTo); err != nil {
				return nil, err
			}
			b.Status = *req.TransitionTo
		}
		if err := repo.TransitionBooking(ctx, b, expected); err != nil {
			return nil, err
		}
	}

	event := &domain.AuditEvent{
		ID:         uuid.New(),
		EntityType: "booking",
		EntityID:   b.ID,
		Action:     "settlement",
		ActorID:    req.Actor.ID,
		ActorRole:  req.Actor.Role,
		Payload: domain.NewSettlementPayload(domain.SettlementRecord{
			RefundTransactionID: result.RefundTransactionID,
			CreditID:            result.CreditID,
			CardPence:           cardPence,
			CreditPence:         creditPence,
			FeePence:            req.FeePence,
			Reason:              req.Reason,
		}),
		CreatedAt: now,
	}
	if err := repo.AppendAuditEvent(ctx, event); err != nil {
		return nil, err
	}

	return result, nil
}

// splitAmount divides the settlement amount between the two rails. Mixed
// splits evenly, with the odd penny landing on the credit rail.
func splitAmount(amount int64, method SettleMethod) (cardPence, creditPence int64) {
	switch method {
	case SettleCard:
		return amount, 0
	case SettleCredit:
		return 0, amount
	default:
		card := amount / 2
		return card, amount - card
	}
}

// settleMethodForPayment maps a booking's original payment method onto the
// rail its money flows back on.
func settleMethodForPayment(m domain.PaymentMethod) SettleMethod {
	switch m {
	case domain.PaymentCard:
		return SettleCard
	case domain.PaymentMixed:
		return SettleMixed
	default:
		// TFC settlement happens outside this system; credit is the only
		// rail we can return money on. Credit-paid bookings refund to credit.
		return SettleCredit
	}
}
