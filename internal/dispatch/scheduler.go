package dispatch

import (
	"context"
	"time"

	"github.com/alexnthnz/notification-engine/internal/notification"
	"go.uber.org/zap"
)

// Scheduler periodically finds notifications ready for a dispatch attempt and
// hands them to an Enqueuer: the local worker pool, or Kafka.
type Scheduler struct {
	store    notification.NotificationStore
	enqueuer Enqueuer
	interval time.Duration
	backoff  time.Duration
	batch    int
	logger   *zap.Logger
	now      func() time.Time
}

// NewScheduler creates a scheduler
func NewScheduler(store notification.NotificationStore, enqueuer Enqueuer, interval, backoff time.Duration, batch int, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Scheduler{
		store:    store,
		enqueuer: enqueuer,
		interval: interval,
		backoff:  backoff,
		batch:    batch,
		logger:   logger,
		now:      time.Now,
	}
}

// Run scans every interval until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.ScanOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Scheduler scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// ScanOnce enqueues one batch of due notifications and returns how many were handed over
func (s *Scheduler) ScanOnce(ctx context.Context) (int, error) {
	ids, err := s.store.Due(ctx, s.now(), s.backoff, s.batch)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, id := range ids {
		if err := s.enqueuer.Enqueue(ctx, Job{NotificationID: id, EnqueuedAt: s.now()}); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	if enqueued > 0 {
		s.logger.Debug("Enqueued due notifications", zap.Int("count", enqueued))
	}
	return enqueued, nil
}
