package ports

import (
	"context"

	"github.com/kidsclubhq/bookingpay/internal/core/domain"
)

// PaymentGateway defines the behavior of the external payment processor.
// Calls are at-least-once and must never happen inside the transaction that
// created the pending refund row.
type PaymentGateway interface {
	CreateRefund(ctx context.Context, paymentReference string, amountPence int64, idempotencyKey string) (*domain.GatewayRefund, error)
	GetRefund(ctx context.Context, refundID string) (*domain.GatewayRefund, error)
}
