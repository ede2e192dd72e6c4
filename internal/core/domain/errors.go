package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DomainError represents a business logic error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Error codes. NotFound codes are surfaced directly and never retried;
// conflict codes reject the operation and are never retried automatically.
const (
	ErrCodeBookingNotFound    = "BOOKING_NOT_FOUND"
	ErrCodeActivityNotFound   = "ACTIVITY_NOT_FOUND"
	ErrCodeRefundNotFound     = "REFUND_NOT_FOUND"
	ErrCodeChargebackNotFound = "CHARGEBACK_NOT_FOUND"

	ErrCodeAlreadyTerminal        = "ALREADY_TERMINAL"
	ErrCodeStatusConflict         = "STATUS_CONFLICT"
	ErrCodeDisputeLocked          = "DISPUTE_LOCKED"
	ErrCodeDuplicatePendingRefund = "DUPLICATE_PENDING_REFUND"
	ErrCodeDuplicateNotification  = "DUPLICATE_NOTIFICATION"
	ErrCodeInsufficientAmount     = "INSUFFICIENT_AMOUNT"
	ErrCodeInsufficientCredits    = "INSUFFICIENT_CREDITS"
	ErrCodeInvalidTransition      = "INVALID_TRANSITION"
	ErrCodeInvalidRefundState     = "INVALID_REFUND_STATE"
	ErrCodeInvalidAmount          = "INVALID_AMOUNT"
	ErrCodeRefundMethodNotAllowed = "REFUND_METHOD_NOT_ALLOWED"
	ErrCodeChargebackResolved     = "CHARGEBACK_RESOLVED"
	ErrCodeInvalidOutcome         = "INVALID_OUTCOME"
	ErrCodeOwnershipMismatch      = "OWNERSHIP_MISMATCH"
	ErrCodeVenueMismatch          = "VENUE_MISMATCH"
	ErrCodeActivityStarted        = "ACTIVITY_STARTED"
	ErrCodeActivityFull           = "ACTIVITY_FULL"
)

// IsErrorCode reports whether err (or anything it wraps) is a DomainError
// carrying the given code.
func IsErrorCode(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

func NewBookingNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeBookingNotFound,
		Message: fmt.Sprintf("booking %s not found", id),
	}
}

func NewActivityNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeActivityNotFound,
		Message: fmt.Sprintf("activity %s not found", id),
	}
}

func NewRefundNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeRefundNotFound,
		Message: fmt.Sprintf("refund transaction %s not found", id),
	}
}

func NewChargebackNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeChargebackNotFound,
		Message: fmt.Sprintf("chargeback %s not found", id),
	}
}

func NewAlreadyTerminalError(id uuid.UUID, status BookingStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeAlreadyTerminal,
		Message: fmt.Sprintf("booking %s is already %s", id, status),
	}
}

func NewStatusConflictError(id uuid.UUID, expected BookingStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeStatusConflict,
		Message: fmt.Sprintf("booking %s is no longer %s", id, expected),
	}
}

func NewDisputeLockedError(id uuid.UUID) *DomainError {
	return &DomainError{
		Code:    ErrCodeDisputeLocked,
		Message: fmt.Sprintf("booking %s is locked by an open chargeback", id),
	}
}

func NewDuplicatePendingRefundError(bookingID uuid.UUID) *DomainError {
	return &DomainError{
		Code:    ErrCodeDuplicatePendingRefund,
		Message: fmt.Sprintf("booking %s already has a pending refund transaction", bookingID),
	}
}

func NewDuplicateNotificationError(bookingID uuid.UUID, kind NotificationKind) *DomainError {
	return &DomainError{
		Code:    ErrCodeDuplicateNotification,
		Message: fmt.Sprintf("notification %s already recorded for booking %s", kind, bookingID),
	}
}

func NewInsufficientAmountError(requested, remaining int64) *DomainError {
	return &DomainError{
		Code:    ErrCodeInsufficientAmount,
		Message: fmt.Sprintf("requested %d pence exceeds remaining chargeable %d pence", requested, remaining),
	}
}

func NewInsufficientCreditsError(requested, available int64) *DomainError {
	return &DomainError{
		Code:    ErrCodeInsufficientCredits,
		Message: fmt.Sprintf("requested %d pence but only %d pence of credit available", requested, available),
	}
}

func NewInvalidTransitionError(from, to BookingStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

func NewInvalidRefundStateError(from, to RefundStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidRefundState,
		Message: fmt.Sprintf("cannot move refund from %s to %s", from, to),
	}
}

func NewInvalidAmountError(amount int64) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidAmount,
		Message: fmt.Sprintf("invalid amount: %d", amount),
	}
}

func NewRefundMethodNotAllowedError(method string) *DomainError {
	return &DomainError{
		Code:    ErrCodeRefundMethodNotAllowed,
		Message: fmt.Sprintf("refund method %s is not allowed for this cancellation", method),
	}
}

func NewChargebackResolvedError(id uuid.UUID) *DomainError {
	return &DomainError{
		Code:    ErrCodeChargebackResolved,
		Message: fmt.Sprintf("chargeback %s is already resolved", id),
	}
}

func NewInvalidChargebackOutcomeError(outcome ChargebackStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidOutcome,
		Message: fmt.Sprintf("invalid chargeback outcome %s", outcome),
	}
}

func NewOwnershipMismatchError(bookingID, parentID uuid.UUID) *DomainError {
	return &DomainError{
		Code:    ErrCodeOwnershipMismatch,
		Message: fmt.Sprintf("booking %s does not belong to parent %s", bookingID, parentID),
	}
}

func NewVenueMismatchError(activityID uuid.UUID) *DomainError {
	return &DomainError{
		Code:    ErrCodeVenueMismatch,
		Message: fmt.Sprintf("activity %s belongs to a different venue", activityID),
	}
}

func NewActivityStartedError(activityID uuid.UUID) *DomainError {
	return &DomainError{
		Code:    ErrCodeActivityStarted,
		Message: fmt.Sprintf("activity %s has already started", activityID),
	}
}

func NewActivityFullError(activityID uuid.UUID) *DomainError {
	return &DomainError{
		Code:    ErrCodeActivityFull,
		Message: fmt.Sprintf("activity %s has no remaining capacity", activityID),
	}
}
