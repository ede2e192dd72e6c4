package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kidsclubhq/bookingpay/internal/core/domain"
	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

// TFCLedger is the slice of the booking ledger the reconciler needs.
type TFCLedger interface {
	CancelUnpaidTFC(ctx context.Context, bookingID uuid.UUID) error
}

// TFCReconciler sweeps unpaid TFC bookings on a fixed interval: bookings
// approaching their payment deadline get exactly one reminder, bookings past
// it are auto-cancelled with a cancellation notice.
//
// A tick is single-threaded; an atomic in-progress flag skips overlapping
// ticks. The authoritative duplicate-reminder guard is the notifications
// uniqueness key, so correctness survives even if the flag is bypassed by a
// second process.
type TFCReconciler struct {
	repo           ports.FinanceRepository
	ledger         TFCLedger
	mailer         ports.Mailer
	interval       time.Duration
	reminderWindow time.Duration
	batchSize      int
	logger         *slog.Logger

	inProgress atomic.Bool
}

func NewTFCReconciler(
	repo ports.FinanceRepository,
	ledger TFCLedger,
	mailer ports.Mailer,
	interval time.Duration,
	reminderWindow time.Duration,
	batchSize int,
	logger *slog.Logger,
) *TFCReconciler {
	if reminderWindow <= 0 {
		reminderWindow = 48 * time.Hour
	}
	return &TFCReconciler{
		repo:           repo,
		ledger:         ledger,
		mailer:         mailer,
		interval:       interval,
		reminderWindow: reminderWindow,
		batchSize:      batchSize,
		logger:         logger,
	}
}

func (r *TFCReconciler) Start(ctx context.Context) {
	r.logger.Info("starting tfc deadline reconciler",
		"interval", r.interval,
		"reminder_window", r.reminderWindow,
		"batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping tfc deadline reconciler")
			return
		case <-ticker.C:
			r.run(ctx)
		}
	}
}

// RunOnce executes a single reconciliation cycle.
func (r *TFCReconciler) RunOnce(ctx context.Context) {
	r.run(ctx)
}

func (r *TFCReconciler) run(ctx context.Context) {
	if !r.inProgress.CompareAndSwap(false, true) {
		r.logger.Warn("sweep already in progress, skipping tick")
		return
	}
	defer r.inProgress.Store(false)

	r.sendReminders(ctx)
	r.cancelExpired(ctx)
}

func (r *TFCReconciler) sendReminders(ctx context.Context) {
	now := time.Now()
	bookings, err := r.repo.FindTFCReminderCandidates(ctx, now, r.reminderWindow, r.batchSize)
	if err != nil {
		r.logger.Error("failed to fetch tfc reminder candidates", "error", err)
		return
	}

	for _, b := range bookings {
		if err := r.remind(ctx, b, now); err != nil {
			if domain.IsErrorCode(err, domain.ErrCodeDuplicateNotification) {
				continue
			}
			r.logger.Error("tfc reminder failed", "booking_id", b.ID, "error", err)
		}
	}
}

func (r *TFCReconciler) remind(ctx context.Context, b *domain.Booking, now time.Time) error {
	sent, err := r.repo.HasNotification(ctx, b.ID, domain.NotifyTFCReminder, b.PaymentReference)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}

	deadline := ""
	if b.TFCDeadline != nil {
		deadline = b.TFCDeadline.Format(time.RFC3339)
	}
	if err := r.mailer.Send(ctx, "tfc_payment_reminder", b.ParentEmail, map[string]string{
		"booking_id": b.ID.String(),
		"reference":  b.PaymentReference,
		"deadline":   deadline,
	}); err != nil {
		return err
	}

	return r.repo.CreateNotification(ctx, &domain.Notification{
		ID:        uuid.New(),
		BookingID: b.ID,
		Kind:      domain.NotifyTFCReminder,
		Recipient: b.ParentEmail,
		Reference: b.PaymentReference,
		SentAt:    now,
	})
}

func (r *TFCReconciler) cancelExpired(ctx context.Context) {
	now := time.Now()
	bookings, err := r.repo.FindTFCExpiredBookings(ctx, now, r.batchSize)
	if err != nil {
		r.logger.Error("failed to fetch expired tfc bookings", "error", err)
		return
	}

	if len(bookings) > 0 {
		r.logger.Info("cancelling unpaid tfc bookings", "count", len(bookings))
	}

	for _, b := range bookings {
		err := r.ledger.CancelUnpaidTFC(ctx, b.ID)
		if err != nil {
			// A parallel actor got there first; nothing left to do.
			if domain.IsErrorCode(err, domain.ErrCodeAlreadyTerminal) || domain.IsErrorCode(err, domain.ErrCodeStatusConflict) {
				continue
			}
			r.logger.Error("tfc auto-cancel failed", "booking_id", b.ID, "error", err)
			continue
		}

		if err := r.notifyCancelled(ctx, b, now); err != nil && !domain.IsErrorCode(err, domain.ErrCodeDuplicateNotification) {
			r.logger.Error("tfc cancellation notice failed", "booking_id", b.ID, "error", err)
		}
	}
}

func (r *TFCReconciler) notifyCancelled(ctx context.Context, b *domain.Booking, now time.Time) error {
	if err := r.mailer.Send(ctx, "tfc_booking_cancelled", b.ParentEmail, map[string]string{
		"booking_id": b.ID.String(),
		"reference":  b.PaymentReference,
	}); err != nil {
		return err
	}
	return r.repo.CreateNotification(ctx, &domain.Notification{
		ID:        uuid.New(),
		BookingID: b.ID,
		Kind:      domain.NotifyTFCCancelled,
		Recipient: b.ParentEmail,
		Reference: b.PaymentReference,
		SentAt:    now,
	})
}
