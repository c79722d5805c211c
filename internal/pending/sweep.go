package pending

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaycore/orchestrator/internal/storage"
)

// Sweeper proactively removes expired pending_actions rows on a fixed
// interval, on top of the lazy expiry Store.Get already performs on read.
type Sweeper struct {
	backing storage.PendingActionStore
	logger  *slog.Logger
	cron    *cron.Cron
}

func NewSweeper(backing storage.PendingActionStore, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{backing: backing, logger: logger.With("component", "pending-sweeper")}
}

// Start schedules the sweep to run every minute until ctx is cancelled or
// Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every 1m", func() { s.sweepOnce(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.backing.DeleteExpired(ctx, time.Now())
	if err != nil {
		s.logger.Error("pending action sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("swept expired pending actions", "count", n)
	}
}
