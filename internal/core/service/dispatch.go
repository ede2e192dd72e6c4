package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

// cardDispatch carries what the post-commit gateway call needs.
type cardDispatch struct {
	paymentReference string
	refundID         uuid.UUID
	amountPence      int64
}

// dispatchCardRefund calls the gateway after the settlement transaction has
// committed, using the refund transaction id as the idempotency key. On
// failure the pending row is left intact for reconciliation; the committed
// booking-state change is never rolled back.
func dispatchCardRefund(ctx context.Context, repo ports.FinanceRepository, gateway ports.PaymentGateway, logger *slog.Logger, d *cardDispatch) {
	resp, err := gateway.CreateRefund(ctx, d.paymentReference, d.amountPence, d.refundID.String())
	if err != nil {
		logger.Error("gateway refund call failed, pending row kept for reconciliation",
			"refund_transaction_id", d.refundID,
			"error", err)
		return
	}

	err = repo.WithTx(ctx, func(txRepo ports.FinanceRepository) error {
		r, err := txRepo.FindRefundByIDForUpdate(ctx, d.refundID)
		if err != nil {
			return err
		}
		if r.Status != domain.RefundPending {
			return nil
		}
		r.GatewayRefundID = &resp.RefundID
		return txRepo.UpdateRefund(ctx, r)
	})
	if err != nil {
		logger.Error("failed to record gateway refund id",
			"refund_transaction_id", d.refundID,
			"gateway_refund_id", resp.RefundID,
			"error", err)
	}
}
