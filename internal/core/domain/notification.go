package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind identifies the template a notification was sent with.
type NotificationKind string

const (
	NotifyTFCReminder  NotificationKind = "TFC_PAYMENT_REMINDER"
	NotifyTFCCancelled NotificationKind = "TFC_BOOKING_CANCELLED"
	NotifyCancellation NotificationKind = "BOOKING_CANCELLED"
)

// Notification records a dispatched message. The unique key
// (booking, kind, reference) is what makes the TFC reminder sweep idempotent:
// a reminder already recorded for the booking's payment reference is never
// sent again.
type Notification struct {
	ID        uuid.UUID
	BookingID uuid.UUID
	Kind      NotificationKind
	Recipient string
	// Reference scopes the uniqueness key, e.g. the TFC payment reference.
	Reference string
	SentAt    time.Time
}
