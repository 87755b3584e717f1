package materializer

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tessera-crm/tessera/internal/observability"
	"github.com/tessera-crm/tessera/internal/store"
	"github.com/tessera-crm/tessera/internal/testsupport"
)

func TestRecalculateRecordsMetrics(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	repo := &stubRepo{
		segments:   map[uuid.UUID]*store.Segment{id: activeLeadSegment(id, "leads")},
		replaceRet: map[uuid.UUID]int64{id: 12},
	}
	metrics := observability.NewMetrics()
	svc := NewService(repo, metrics)

	testsupport.AssertMetricDelta(t, metrics.Registry(),
		"tessera_segment_recalculations_total",
		map[string]string{"outcome": "success"},
		1,
		func() {
			_, err := svc.Recalculate(context.Background(), id)
			require.NoError(t, err)
		},
	)

	testsupport.AssertHistogramRecorded(t, metrics.Registry(),
		"tessera_segment_recalculation_duration_seconds", nil)

	gauge := testsupport.GetMetricValue(t, metrics.Registry(),
		"tessera_segment_members",
		map[string]string{"segment_id": id.String()})
	require.Equal(t, float64(12), gauge)
}

func TestRecalculateRecordsFailureOutcome(t *testing.T) {
	t.Parallel()

	repo := &stubRepo{segments: map[uuid.UUID]*store.Segment{}}
	metrics := observability.NewMetrics()
	svc := NewService(repo, metrics)

	testsupport.AssertMetricDelta(t, metrics.Registry(),
		"tessera_segment_recalculations_total",
		map[string]string{"outcome": "error"},
		1,
		func() {
			_, err := svc.Recalculate(context.Background(), uuid.New())
			require.Error(t, err)
		},
	)
}
