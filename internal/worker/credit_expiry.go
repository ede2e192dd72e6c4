package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/kidsclubhq/bookingpay/internal/core/ports"
)

// CreditExpirySweeper reclassifies active wallet credits whose expiry date
// has passed. Expired credits can never be used again regardless of any
// remaining balance.
type CreditExpirySweeper struct {
	repo      ports.FinanceRepository
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewCreditExpirySweeper(repo ports.FinanceRepository, interval time.Duration, batchSize int, logger *slog.Logger) *CreditExpirySweeper {
	return &CreditExpirySweeper{
		repo:      repo,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (s *CreditExpirySweeper) Start(ctx context.Context) {
	s.logger.Info("starting credit expiry sweeper", "interval", s.interval, "batch_size", s.batchSize)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping credit expiry sweeper")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce expires due credits in batches until none remain.
func (s *CreditExpirySweeper) RunOnce(ctx context.Context) {
	now := time.Now()
	var total int64
	for {
		n, err := s.repo.ExpireCredits(ctx, now, s.batchSize)
		if err != nil {
			s.logger.Error("credit expiry sweep failed", "error", err)
			return
		}
		total += n
		if n < int64(s.batchSize) {
			break
		}
	}
	if total > 0 {
		s.logger.Info("expired wallet credits", "count", total)
	}
}
