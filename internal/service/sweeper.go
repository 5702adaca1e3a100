package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ismayilysfli/orders-invoice-erp/internal/metrics"
)

type StaleTokenSweeper interface {
	SweepStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically deletes refresh token rows that are revoked and
// expired for longer than the retention period. It is housekeeping only;
// correctness never depends on it.
type Sweeper struct {
	store     StaleTokenSweeper
	interval  time.Duration
	retention time.Duration
	clock     Clock
	logger    *zap.Logger
}

func NewSweeper(store StaleTokenSweeper, interval, retention time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:     store,
		interval:  interval,
		retention: retention,
		clock:     systemClock{},
		logger:    logger.Named("sweeper"),
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("sweeper disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single pass and reports how many rows were deleted.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	cutoff := s.clock.Now().Add(-s.retention)
	n, err := s.store.SweepStale(ctx, cutoff)
	if err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		metrics.SweptTokens.Add(float64(n))
		s.logger.Info("swept stale refresh tokens", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n
}
