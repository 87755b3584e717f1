// Package materializer turns segment definitions into stored membership.
// It compiles a segment's criteria into a SQL predicate and replaces the
// segment_members rows with the predicate's current result set.
package materializer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-crm/tessera/internal/criteria"
	"github.com/tessera-crm/tessera/internal/logger"
	"github.com/tessera-crm/tessera/internal/observability"
	"github.com/tessera-crm/tessera/internal/store"
	"github.com/tessera-crm/tessera/internal/validation"
)

// Service materializes segment membership.
type Service struct {
	repo    store.SegmentRepository
	metrics *observability.Metrics
}

// Summary reports the outcome of a full recalculation pass.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Members   int64
	Elapsed   time.Duration
}

// NewService creates the materializer.
func NewService(repo store.SegmentRepository, metrics *observability.Metrics) *Service {
	validation.AssertNotNil(repo, "segment repository")
	validation.AssertNotNil(metrics, "metrics")

	return &Service{
		repo:    repo,
		metrics: metrics,
	}
}

// Recalculate rebuilds one segment's membership and returns the new member
// count. Inactive segments can still be recalculated on demand; only the
// scheduled fan-out skips them.
func (s *Service) Recalculate(ctx context.Context, id uuid.UUID) (int64, error) {
	start := time.Now()

	count, err := s.recalculate(ctx, id)
	s.metrics.ObserveRecalc(time.Since(start).Seconds(), err)
	if err != nil {
		return 0, err
	}

	s.metrics.SetSegmentMembers(id.String(), count)
	logger.FromContext(ctx).Info("segment recalculated",
		slog.String("segment_id", id.String()),
		slog.Int64("members", count),
		slog.Duration("elapsed", time.Since(start)),
	)
	return count, nil
}

func (s *Service) recalculate(ctx context.Context, id uuid.UUID) (int64, error) {
	seg, err := s.repo.GetSegment(ctx, id)
	if err != nil {
		return 0, err
	}

	pred, err := criteria.Compile(seg.Criteria, seg.Connective)
	if err != nil {
		return 0, fmt.Errorf("failed to compile segment %s: %w", id, err)
	}

	count, err := s.repo.ReplaceMembership(ctx, id, pred)
	if err != nil {
		return 0, fmt.Errorf("failed to materialize segment %s: %w", id, err)
	}

	return count, nil
}

// RecalculateAll rebuilds every active segment sequentially. A failing
// segment is logged and skipped so one bad definition cannot starve the
// rest; the summary carries the failure count.
func (s *Service) RecalculateAll(ctx context.Context) (Summary, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	segments, err := s.repo.ListActiveSegments(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list active segments: %w", err)
	}

	summary := Summary{Total: len(segments)}
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		count, err := s.Recalculate(ctx, seg.ID)
		if err != nil {
			summary.Failed++
			log.Error("segment recalculation failed",
				slog.String("segment_id", seg.ID.String()),
				slog.String("segment_name", seg.Name),
				slog.Any("error", err),
			)
			continue
		}
		summary.Succeeded++
		summary.Members += count
	}
	summary.Elapsed = time.Since(start)

	log.Info("recalculation pass finished",
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Int64("members", summary.Members),
		slog.Duration("elapsed", summary.Elapsed),
	)

	return summary, nil
}
