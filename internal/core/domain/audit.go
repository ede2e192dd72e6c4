package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditSchemaVersion is stamped on every payload envelope so new fields can
// be added to a record type without ambiguity about its shape.
const AuditSchemaVersion = 1

// Audit payload kinds.
const (
	AuditSettlement   = "settlement"
	AuditCancellation = "cancellation"
	AuditChargeback   = "chargeback"
	AuditTransfer     = "transfer"
	AuditCreditChange = "credit_change"
	AuditRefundUpdate = "refund_update"
)

// AuditEvent is one row in the append-only audit trail. Events are never
// mutated or deleted.
type AuditEvent struct {
	ID         uuid.UUID
	EntityType string
	EntityID   uuid.UUID
	Action     string
	ActorID    uuid.UUID
	ActorRole  ActorRole
	Payload    AuditPayload
	CreatedAt  time.Time
}

// AuditPayload is a versioned envelope around exactly one typed record.
// Exactly one of the record pointers is set, matching Kind.
type AuditPayload struct {
	Version int    `json:"v"`
	Kind    string `json:"kind"`

	Settlement   *SettlementRecord   `json:"settlement,omitempty"`
	Cancellation *CancellationRecord `json:"cancellation,omitempty"`
	Chargeback   *ChargebackRecord   `json:"chargeback,omitempty"`
	Transfer     *TransferRecord     `json:"transfer,omitempty"`
	CreditChange *CreditChangeRecord `json:"credit_change,omitempty"`
	RefundUpdate *RefundUpdateRecord `json:"refund_update,omitempty"`
}

// SettlementRecord describes how a charged amount was split across rails.
type SettlementRecord struct {
	RefundTransactionID *uuid.UUID `json:"refund_transaction_id,omitempty"`
	CreditID            *uuid.UUID `json:"credit_id,omitempty"`
	CardPence           int64      `json:"card_pence"`
	CreditPence         int64      `json:"credit_pence"`
	FeePence            int64      `json:"fee_pence"`
	Reason              string     `json:"reason"`
}

// CancellationRecord describes a booking cancellation with no settlement
// component (zero-refund cancellations, TFC deadline expiry).
type CancellationRecord struct {
	Reason    string `json:"reason"`
	Initiator string `json:"initiator"`
}

// ChargebackRecord describes a dispute lifecycle event.
type ChargebackRecord struct {
	ChargebackID uuid.UUID `json:"chargeback_id"`
	ExternalID   string    `json:"external_id"`
	AmountPence  int64     `json:"amount_pence"`
	Outcome      string    `json:"outcome,omitempty"`
}

// TransferRecord links the cancelled source booking to its successor.
type TransferRecord struct {
	FromBookingID          uuid.UUID  `json:"from_booking_id"`
	ToBookingID            uuid.UUID  `json:"to_booking_id"`
	PriceDeltaPence        int64      `json:"price_delta_pence"`
	AdditionalPaymentPence int64      `json:"additional_payment_pence"`
	RefundTransactionID    *uuid.UUID `json:"refund_transaction_id,omitempty"`
	CreditID               *uuid.UUID `json:"credit_id,omitempty"`
}

// CreditChangeRecord describes wallet credit issuance or consumption.
type CreditChangeRecord struct {
	CreditIDs      []uuid.UUID `json:"credit_ids"`
	AmountPence    int64       `json:"amount_pence"`
	FromProviderID *uuid.UUID  `json:"from_provider_id,omitempty"`
	ToProviderID   *uuid.UUID  `json:"to_provider_id,omitempty"`
}

// RefundUpdateRecord describes reconciliation of a pending refund.
type RefundUpdateRecord struct {
	RefundTransactionID uuid.UUID `json:"refund_transaction_id"`
	Outcome             string    `json:"outcome"`
	GatewayRefundID     string    `json:"gateway_refund_id,omitempty"`
}

func newAuditPayload(kind string) AuditPayload {
	return AuditPayload{Version: AuditSchemaVersion, Kind: kind}
}

func NewSettlementPayload(rec SettlementRecord) AuditPayload {
	p := newAuditPayload(AuditSettlement)
	p.Settlement = &rec
	return p
}

func NewCancellationPayload(rec CancellationRecord) AuditPayload {
	p := newAuditPayload(AuditCancellation)
	p.Cancellation = &rec
	return p
}

func NewChargebackPayload(rec ChargebackRecord) AuditPayload {
	p := newAuditPayload(AuditChargeback)
	p.Chargeback = &rec
	return p
}

func NewTransferPayload(rec TransferRecord) AuditPayload {
	p := newAuditPayload(AuditTransfer)
	p.Transfer = &rec
	return p
}

func NewCreditChangePayload(rec CreditChangeRecord) AuditPayload {
	p := newAuditPayload(AuditCreditChange)
	p.CreditChange = &rec
	return p
}

func NewRefundUpdatePayload(rec RefundUpdateRecord) AuditPayload {
	p := newAuditPayload(AuditRefundUpdate)
	p.RefundUpdate = &rec
	return p
}
