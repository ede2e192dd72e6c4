package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefundStatus represents the reconciliation state of a refund transaction.
type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundProcessed RefundStatus = "PROCESSED"
	RefundFailed    RefundStatus = "FAILED"
)

// RefundMethod is the rail an amount is returned on.
type RefundMethod string

const (
	RefundCard   RefundMethod = "CARD"
	RefundCredit RefundMethod = "CREDIT"
)

// RefundTransaction is a single card-rail refund against a booking. It is
// created in Pending inside the settlement transaction; the gateway call
// happens after commit and a webhook/poll later reconciles it to Processed
// or Failed. At most one Pending row may exist per booking at any time.
type RefundTransaction struct {
	ID          uuid.UUID
	BookingID   uuid.UUID
	AmountPence int64
	Method      RefundMethod
	FeePence    int64
	Reason      string
	Status      RefundStatus

	// GatewayRefundID is set once the external refund has been created.
	GatewayRefundID *string

	ActorID   uuid.UUID
	ActorRole ActorRole

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}

// MarkProcessed reconciles a pending refund after a successful gateway outcome.
func (r *RefundTransaction) MarkProcessed(gatewayRefundID string, at time.Time) error {
	if r.Status != RefundPending {
		return NewInvalidRefundStateError(r.Status, RefundProcessed)
	}
	r.Status = RefundProcessed
	r.GatewayRefundID = &gatewayRefundID
	r.ProcessedAt = &at
	return nil
}

// MarkFailed reconciles a pending refund after a failed gateway outcome.
// The row is kept for manual follow-up; the booking-state change that
// produced it is never rolled back.
func (r *RefundTransaction) MarkFailed() error {
	if r.Status != RefundPending {
		return NewInvalidRefundStateError(r.Status, RefundFailed)
	}
	r.Status = RefundFailed
	return nil
}

// GatewayRefund is the payment gateway's view of a refund.
type GatewayRefund struct {
	RefundID    string    `json:"refund_id"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
}
