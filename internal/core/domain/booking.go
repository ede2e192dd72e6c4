// Package domain defines the domain models for the booking finance core.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the current state of a booking in its lifecycle
type BookingStatus string

const (
	StatusPending    BookingStatus = "PENDING"
	StatusTFCPending BookingStatus = "TFC_PENDING"
	StatusConfirmed  BookingStatus = "CONFIRMED"
	StatusCancelled  BookingStatus = "CANCELLED"
	StatusCompleted  BookingStatus = "COMPLETED"
)

// PaymentMethod is how the booking was (or will be) paid for.
type PaymentMethod string

const (
	PaymentCard   PaymentMethod = "CARD"
	PaymentTFC    PaymentMethod = "TFC"
	PaymentCredit PaymentMethod = "CREDIT"
	PaymentMixed  PaymentMethod = "MIXED"
)

// ActorRole identifies who performed an operation.
type ActorRole string

const (
	RoleParent   ActorRole = "PARENT"
	RoleProvider ActorRole = "PROVIDER"
	RoleAdmin    ActorRole = "ADMIN"
	RoleSystem   ActorRole = "SYSTEM"
)

// Actor is the identity attached to every mutating operation.
type Actor struct {
	ID   uuid.UUID
	Role ActorRole
}

// SystemActor is used by scheduled sweeps.
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

// Booking represents a paid (or pending-payment) place on an activity.
// All monetary fields are integer pence.
type Booking struct {
	ID          uuid.UUID
	ParentID    uuid.UUID
	ChildID     uuid.UUID
	ProviderID  uuid.UUID
	VenueID     uuid.UUID
	ActivityID  uuid.UUID
	ParentEmail string

	ActivityStart time.Time
	AmountPence   int64
	PaymentMethod PaymentMethod
	// PaymentReference is the gateway charge reference for card payments or
	// the bank-transfer reference for TFC payments.
	PaymentReference string

	Status        BookingStatus
	TFCDeadline   *time.Time
	DisputeLocked bool
	CancelReason  *string

	// TransferredFrom links a booking created by the transfer engine back to
	// the cancelled booking it replaced.
	TransferredFrom *uuid.UUID

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time
}

// CanTransitionTo validates whether a booking can move from its current status
// to the target status. It returns nil if the transition is allowed, otherwise
// an error describing why the transition is invalid.
//
// Terminal states (Cancelled, Completed) do not allow any further transitions;
// a cancelled booking is never resurrected in place.
//
// Valid transitions are:
//   - Pending → Confirmed, Cancelled
//   - TFCPending → Confirmed, Cancelled
//   - Confirmed → Cancelled, Completed
func (b *Booking) CanTransitionTo(target BookingStatus) error {
	switch b.Status {
	case StatusCancelled, StatusCompleted:
		return NewInvalidTransitionError(b.Status, target)

	case StatusPending, StatusTFCPending:
		if target == StatusConfirmed || target == StatusCancelled {
			return nil
		}

	case StatusConfirmed:
		if target == StatusCancelled || target == StatusCompleted {
			return nil
		}
	}
	return NewInvalidTransitionError(b.Status, target)
}

func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

// Cancel moves the booking to Cancelled, recording the reason.
func (b *Booking) Cancel(reason string, at time.Time) error {
	if err := b.CanTransitionTo(StatusCancelled); err != nil {
		return err
	}
	b.Status = StatusCancelled
	b.CancelReason = &reason
	b.CancelledAt = &at
	return nil
}

// Activity is the bookable event a booking points at. It is owned by the
// scheduling subsystem; this core only ever reads it.
type Activity struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	VenueID    uuid.UUID
	Name       string
	StartAt    time.Time
	PricePence int64
	Capacity   int
}
