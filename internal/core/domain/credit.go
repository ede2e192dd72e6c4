package domain

import (
	"time"

	"github.com/google/uuid"
)

// CreditStatus represents the lifecycle state of a wallet credit.
type CreditStatus string

const (
	CreditActive  CreditStatus = "ACTIVE"
	CreditExpired CreditStatus = "EXPIRED"
)

// CreditSource records why a credit was issued.
type CreditSource string

const (
	SourceCancellationRefund CreditSource = "CANCELLATION_REFUND"
	SourceChargebackReversal CreditSource = "CHARGEBACK_REVERSAL"
	SourceTransferAdjustment CreditSource = "TRANSFER_ADJUSTMENT"
	SourceBalanceTransfer    CreditSource = "BALANCE_TRANSFER"
	SourceTransferReversal   CreditSource = "BALANCE_TRANSFER_REVERSAL"
	SourceProviderGoodwill   CreditSource = "PROVIDER_GOODWILL"
)

// DefaultCreditExpiryMonths is applied when the caller does not specify an
// expiry for a newly issued credit.
const DefaultCreditExpiryMonths = 12

// WalletCredit is a redeemable, expiring non-cash balance held by a parent,
// optionally scoped to a single provider. UsedPence never exceeds AmountPence;
// a fully used row is exhausted even while nominally active.
type WalletCredit struct {
	ID         uuid.UUID
	ParentID   uuid.UUID
	ProviderID *uuid.UUID
	BookingID  *uuid.UUID

	AmountPence int64
	UsedPence   int64
	// FeePence is the admin fee retained by the settlement that issued this
	// credit, recorded here when no refund row exists to carry it. It counts
	// toward the booking's settled total but is never spendable.
	FeePence   int64
	ExpiryDate time.Time
	Source     CreditSource
	Status     CreditStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewWalletCredit issues an active credit expiring expiryMonths from now.
// A zero expiryMonths falls back to DefaultCreditExpiryMonths.
func NewWalletCredit(parentID uuid.UUID, amountPence int64, source CreditSource, providerID, bookingID *uuid.UUID, expiryMonths int, now time.Time) (*WalletCredit, error) {
	if amountPence <= 0 {
		return nil, NewInvalidAmountError(amountPence)
	}
	if expiryMonths <= 0 {
		expiryMonths = DefaultCreditExpiryMonths
	}
	return &WalletCredit{
		ID:          uuid.New(),
		ParentID:    parentID,
		ProviderID:  providerID,
		BookingID:   bookingID,
		AmountPence: amountPence,
		ExpiryDate:  now.AddDate(0, expiryMonths, 0),
		Source:      source,
		Status:      CreditActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// AvailablePence is the unconsumed remainder of the credit.
func (c *WalletCredit) AvailablePence() int64 {
	return c.AmountPence - c.UsedPence
}

// Usable reports whether the credit can satisfy any spend at the given time.
func (c *WalletCredit) Usable(now time.Time) bool {
	return c.Status == CreditActive && c.ExpiryDate.After(now) && c.AvailablePence() > 0
}

// Use consumes pence from the credit, enforcing UsedPence ≤ AmountPence.
func (c *WalletCredit) Use(pence int64) error {
	if pence <= 0 {
		return NewInvalidAmountError(pence)
	}
	if pence > c.AvailablePence() {
		return NewInsufficientCreditsError(pence, c.AvailablePence())
	}
	c.UsedPence += pence
	return nil
}
