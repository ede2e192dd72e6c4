package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChargebackStatus represents the state of a card-network dispute.
type ChargebackStatus string

const (
	ChargebackPending ChargebackStatus = "PENDING"
	ChargebackWon     ChargebackStatus = "WON"
	ChargebackLost    ChargebackStatus = "LOST"
)

// Chargeback is a card-network dispute against a booking's charge. While a
// chargeback is pending the booking is dispute-locked: no new cancellation or
// refund may touch it.
type Chargeback struct {
	ID        uuid.UUID
	BookingID uuid.UUID
	// ExternalID is the card network's chargeback reference.
	ExternalID  string
	AmountPence int64
	Reason      string
	Status      ChargebackStatus

	ReceivedAt    time.Time
	EvidenceDueAt time.Time

	ResolvedBy      *uuid.UUID
	ResolvedAt      *time.Time
	ResolutionNotes *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Resolve closes a pending chargeback with the given outcome.
func (c *Chargeback) Resolve(outcome ChargebackStatus, resolvedBy uuid.UUID, notes string, at time.Time) error {
	if c.Status != ChargebackPending {
		return NewChargebackResolvedError(c.ID)
	}
	if outcome != ChargebackWon && outcome != ChargebackLost {
		return NewInvalidChargebackOutcomeError(outcome)
	}
	c.Status = outcome
	c.ResolvedBy = &resolvedBy
	c.ResolvedAt = &at
	c.ResolutionNotes = &notes
	return nil
}
