package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/kidsclubhq/bookingpay/internal/config"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

// RetryGatewayClient decorates a PaymentGateway with bounded exponential
// backoff on retryable failures. Safe because every call carries an
// idempotency key.
type RetryGatewayClient struct {
	inner      ports.PaymentGateway
	baseDelay  time.Duration
	maxRetries int
}

func NewRetryGatewayClient(inner ports.PaymentGateway, cfg config.RetryConfig) ports.PaymentGateway {
	return &RetryGatewayClient{
		inner:      inner,
		baseDelay:  time.Duration(cfg.BaseDelay) * time.Second,
		maxRetries: int(cfg.MaxRetries),
	}
}

func (r *RetryGatewayClient) CreateRefund(ctx context.Context, paymentReference string, amountPence int64, idempotencyKey string) (*domain.GatewayRefund, error) {
	return retry(r, ctx, func(ctx context.Context) (*domain.GatewayRefund, error) {
		return r.inner.CreateRefund(ctx, paymentReference, amountPence, idempotencyKey)
	})
}

func (r *RetryGatewayClient) GetRefund(ctx context.Context, refundID string) (*domain.GatewayRefund, error) {
	return retry(r, ctx, func(ctx context.Context) (*domain.GatewayRefund, error) {
		return r.inner.GetRefund(ctx, refundID)
	})
}

func retry[T any](r *RetryGatewayClient, ctx context.Context, operation func(ctx context.Context) (*T, error)) (*T, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resp, err := operation(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var gwErr *GatewayError
		if errors.As(err, &gwErr) && !gwErr.IsRetryable() {
			return nil, err
		}

		if attempt < r.maxRetries-1 {
			delay := r.baseDelay << attempt
			jitter := time.Duration(rand.Int63n(int64(delay/2) + 1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay + jitter):
			}
		}
	}

	return nil, fmt.Errorf("maximum retries exceeded: %w", lastErr)
}
