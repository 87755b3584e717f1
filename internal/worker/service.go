// Package worker runs the background recalculation loop: a cron schedule
// that periodically rebuilds every active segment, and a queue consumer that
// serves on-demand triggers enqueued by the API.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/tessera-crm/tessera/internal/cache"
	"github.com/tessera-crm/tessera/internal/config"
	"github.com/tessera-crm/tessera/internal/logger"
	"github.com/tessera-crm/tessera/internal/materializer"
	"github.com/tessera-crm/tessera/internal/validation"
)

// Recalculator is the slice of the materializer the worker drives.
type Recalculator interface {
	Recalculate(ctx context.Context, id uuid.UUID) (int64, error)
	RecalculateAll(ctx context.Context) (materializer.Summary, error)
}

// Service is the background worker.
type Service struct {
	cfg   *config.WorkerConfig
	queue cache.Queue
	recal Recalculator
}

// NewService creates the worker.
func NewService(cfg *config.WorkerConfig, queue cache.Queue, recal Recalculator) *Service {
	validation.AssertNotNil(cfg, "worker config")
	validation.AssertNotNil(queue, "queue")
	validation.AssertNotNil(recal, "recalculator")

	return &Service{
		cfg:   cfg,
		queue: queue,
		recal: recal,
	}
}

// Run blocks until ctx is cancelled, driving both the scheduled full pass
// and the on-demand queue consumer.
func (s *Service) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		s.runFullPass(ctx)
	}); err != nil {
		return err
	}
	c.Start()
	defer func() {
		stopCtx := c.Stop()
		<-stopCtx.Done()
	}()

	log.Info("worker started",
		slog.String("schedule", s.cfg.Schedule),
		slog.Duration("pop_timeout", s.cfg.PopTimeout),
	)

	for {
		if err := ctx.Err(); err != nil {
			log.Info("worker stopping")
			return nil
		}

		target, err := s.queue.DequeueRecalc(ctx, s.cfg.PopTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			log.Error("failed to dequeue trigger", slog.Any("error", err))
			// Back off so a broken queue does not spin the loop.
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.PopTimeout):
			}
			continue
		}
		if target == "" {
			continue
		}

		s.handleTrigger(ctx, target)
	}
}

// handleTrigger dispatches one queue message.
func (s *Service) handleTrigger(ctx context.Context, target string) {
	log := logger.FromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RecalcTimeout)
	defer cancel()

	if target == cache.RecalcAllTarget {
		s.runFullPass(ctx)
		return
	}

	id, err := uuid.Parse(target)
	if err != nil {
		log.Warn("discarding malformed trigger", slog.String("target", target))
		return
	}

	if _, err := s.recal.Recalculate(ctx, id); err != nil {
		log.Error("on-demand recalculation failed",
			slog.String("segment_id", target),
			slog.Any("error", err),
		)
	}
}

func (s *Service) runFullPass(ctx context.Context) {
	if _, err := s.recal.RecalculateAll(ctx); err != nil {
		logger.FromContext(ctx).Error("scheduled recalculation failed",
			slog.Any("error", err),
		)
	}
}
