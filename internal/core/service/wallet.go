package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

// Wallet owns credit balances: issuance, consumption, cross-provider
// transfer, and balance queries. Expiry reclassification is driven by the
// sweep worker through the repository.
type Wallet struct {
	repo               ports.FinanceRepository
	creditExpiryMonths int
	logger             *slog.Logger
}

func NewWallet(repo ports.FinanceRepository, creditExpiryMonths int, logger *slog.Logger) *Wallet {
	if creditExpiryMonths <= 0 {
		creditExpiryMonths = domain.DefaultCreditExpiryMonths
	}
	return &Wallet{
		repo:               repo,
		creditExpiryMonths: creditExpiryMonths,
		logger:             logger,
	}
}

// IssueCredit creates an active credit row for the parent. A zero
// expiryMonths uses the wallet default.
func (w *Wallet) IssueCredit(ctx context.Context, parentID uuid.UUID, amountPence int64, source domain.CreditSource, providerID, bookingID *uuid.UUID, expiryMonths int) (*domain.WalletCredit, error) {
	if expiryMonths <= 0 {
		expiryMonths = w.creditExpiryMonths
	}
	credit, err := domain.NewWalletCredit(parentID, amountPence, source, providerID, bookingID, expiryMonths, time.Now())
	if err != nil {
		return nil, err
	}

	err = w.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		if err := txRepo.CreateCredit(ctx, credit); err != nil {
			return err
		}
		return txRepo.AppendAuditEvent(ctx, &domain.AuditEvent{
			ID:         uuid.New(),
			EntityType: "wallet_credit",
			EntityID:   credit.ID,
			Action:     "credit_issued",
			ActorID:    parentID,
			ActorRole:  domain.RoleSystem,
			Payload: domain.NewCreditChangePayload(domain.CreditChangeRecord{
				CreditIDs:    []uuid.UUID{credit.ID},
				AmountPence:  amountPence,
				ToProviderID: providerID,
			}),
			CreatedAt: credit.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

// UseCredits consumes amountPence of the parent's credit, oldest expiry
// first, each credit fully exhausted before the next is touched. The whole
// consumption happens in one transaction: if the available total is short the
// operation fails with InsufficientCredits and no row changes.
func (w *Wallet) UseCredits(ctx context.Context, parentID uuid.UUID, amountPence int64, providerID *uuid.UUID) ([]uuid.UUID, error) {
	if amountPence <= 0 {
		return nil, domain.NewInvalidAmountError(amountPence)
	}

	var consumed []uuid.UUID
	err := w.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		now := time.Now()
		credits, err := txRepo.FindAvailableCredits(ctx, parentID, providerID, now)
		if err != nil {
			return err
		}

		var available int64
		for _, c := range credits {
			available += c.AvailablePence()
		}
		if available < amountPence {
			return domain.NewInsufficientCreditsError(amountPence, available)
		}

		remaining := amountPence
		for _, c := range credits {
			if remaining == 0 {
				break
			}
			take := c.AvailablePence()
			if take > remaining {
				take = remaining
			}
			if err := c.Use(take); err != nil {
				return err
			}
			if err := txRepo.UpdateCredit(ctx, c); err != nil {
				return err
			}
			consumed = append(consumed, c.ID)
			remaining -= take
		}

		return txRepo.AppendAuditEvent(ctx, &domain.AuditEvent{
			ID:         uuid.New(),
			EntityType: "wallet_credit",
			EntityID:   parentID,
			Action:     "credit_used",
			ActorID:    parentID,
			ActorRole:  domain.RoleParent,
			Payload: domain.NewCreditChangePayload(domain.CreditChangeRecord{
				CreditIDs:      consumed,
				AmountPence:    amountPence,
				FromProviderID: providerID,
			}),
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	return consumed, nil
}

// TransferCredits moves amountPence of credit from one provider scope to
// another. The two halves are independently consistent but deliberately not
// atomic across scopes; a failed issue is compensated by re-issuing the
// consumed amount back into the source scope.
func (w *Wallet) TransferCredits(ctx context.Context, parentID, fromProviderID, toProviderID uuid.UUID, amountPence int64) error {
	saga := NewSaga(
		SagaStep{
			Name: "consume_source_credits",
			Do: func(ctx context.Context) error {
				_, err := w.UseCredits(ctx, parentID, amountPence, &fromProviderID)
				return err
			},
			Undo: func(ctx context.Context) error {
				_, err := w.IssueCredit(ctx, parentID, amountPence, domain.SourceTransferReversal, &fromProviderID, nil, 0)
				return err
			},
		},
		SagaStep{
			Name: "issue_destination_credit",
			Do: func(ctx context.Context) error {
				_, err := w.IssueCredit(ctx, parentID, amountPence, domain.SourceBalanceTransfer, &toProviderID, nil, 0)
				return err
			},
		},
	)

	if err := saga.Execute(ctx); err != nil {
		w.logger.Error("credit transfer failed",
			"parent_id", parentID,
			"from_provider", fromProviderID,
			"to_provider", toProviderID,
			"error", err)
		return err
	}
	return nil
}

// Balance returns the parent's usable credit total in the given scope.
func (w *Wallet) Balance(ctx context.Context, parentID uuid.UUID, providerID *uuid.UUID) (int64, error) {
	var total int64
	err := w.repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		credits, err := txRepo.FindAvailableCredits(ctx, parentID, providerID, time.Now())
		if err != nil {
			return err
		}
		for _, c := range credits {
			total += c.AvailablePence()
		}
		return nil
	})
	return total, err
}
