package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-crm/tessera/internal/cache"
	"github.com/tessera-crm/tessera/internal/criteria"
	"github.com/tessera-crm/tessera/internal/store"
)

// memRepo is an in-memory SegmentRepository for handler tests.
type memRepo struct {
	mu       sync.Mutex
	segments map[uuid.UUID]*store.Segment
	members  map[uuid.UUID][]*store.MemberRow
}

var _ store.SegmentRepository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{
		segments: make(map[uuid.UUID]*store.Segment),
		members:  make(map[uuid.UUID][]*store.MemberRow),
	}
}

func (m *memRepo) CreateSegment(_ context.Context, s *store.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.segments {
		if existing.Name == s.Name {
			return fmt.Errorf("%w: %q", store.ErrDuplicateSegmentName, s.Name)
		}
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	cp := *s
	m.segments[s.ID] = &cp
	return nil
}

func (m *memRepo) GetSegment(_ context.Context, id uuid.UUID) (*store.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.segments[id]
	if !ok {
		return nil, store.ErrSegmentNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memRepo) UpdateSegment(_ context.Context, s *store.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.segments[s.ID]
	if !ok {
		return store.ErrSegmentNotFound
	}
	for id, other := range m.segments {
		if id != s.ID && other.Name == s.Name {
			return fmt.Errorf("%w: %q", store.ErrDuplicateSegmentName, s.Name)
		}
	}
	s.CreatedAt = existing.CreatedAt
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	m.segments[s.ID] = &cp
	return nil
}

func (m *memRepo) DeleteSegment(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.segments[id]; !ok {
		return store.ErrSegmentNotFound
	}
	delete(m.segments, id)
	delete(m.members, id)
	return nil
}

func (m *memRepo) ListSegments(_ context.Context, f store.ListFilter) ([]*store.Segment, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Segment
	for _, s := range m.segments {
		if f.IsActive != nil && s.IsActive != *f.IsActive {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (m *memRepo) ListActiveSegments(context.Context) ([]*store.Segment, error) {
	return nil, nil
}

func (m *memRepo) ReplaceMembership(context.Context, uuid.UUID, *criteria.Predicate) (int64, error) {
	return 0, nil
}

func (m *memRepo) ListMembers(_ context.Context, id uuid.UUID, limit, offset int) ([]*store.MemberRow, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.segments[id]; !ok {
		return nil, 0, store.ErrSegmentNotFound
	}
	rows := m.members[id]
	return rows, int64(len(rows)), nil
}

func (m *memRepo) SegmentStats(context.Context) (*store.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &store.Stats{TotalSegments: int64(len(m.segments))}
	for _, s := range m.segments {
		if s.IsActive {
			stats.ActiveSegments++
		}
	}
	return stats, nil
}

// setCount stamps a segment's materialized state, emulating the store-side
// update done by ReplaceMembership.
func (m *memRepo) setCount(id uuid.UUID, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.segments[id]; ok {
		now := time.Now().UTC()
		s.CustomerCount = count
		s.LastCalculatedAt = &now
	}
}

// stubMaterializer emulates the synchronous recalculation path.
type stubMaterializer struct {
	repo  *memRepo
	count int64
	err   error

	mu    sync.Mutex
	calls []uuid.UUID
}

func (s *stubMaterializer) Recalculate(_ context.Context, id uuid.UUID) (int64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, id)
	s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if s.repo != nil {
		if _, err := s.repo.GetSegment(context.Background(), id); err != nil {
			return 0, err
		}
		s.repo.setCount(id, s.count)
	}
	return s.count, nil
}

func (s *stubMaterializer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type testAPI struct {
	api   *API
	repo  *memRepo
	mat   *stubMaterializer
	queue *cache.MemoryQueue
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	repo := newMemRepo()
	mat := &stubMaterializer{repo: repo, count: 3}
	queue := cache.NewMemoryQueue()
	api := NewAPIWithConfig(repo, mat, queue, nil, "", true)

	return &testAPI{api: api, repo: repo, mat: mat, queue: queue}
}

func (ta *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ta.api.Router.ServeHTTP(rec, req)
	return rec
}

func validCreatePayload() map[string]any {
	return map[string]any{
		"name": "Hot leads",
		"criteria": []map[string]any{
			{"field": "status", "operator": "EQUALS", "value": "lead", "dataType": "enum"},
			{"field": "leadScore", "operator": "GREATER_THAN", "value": 50, "dataType": "number"},
		},
		"connective": "AND",
	}
}

func TestHandleCreateSegment(t *testing.T) {
	t.Parallel()

	t.Run("creates and materializes synchronously", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		rec := ta.do(t, http.MethodPost, "/api/v1/segments", validCreatePayload())

		require.Equal(t, http.StatusCreated, rec.Code)

		var resp SegmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Hot leads", resp.Name)
		assert.Equal(t, int64(3), resp.CustomerCount)
		assert.NotNil(t, resp.LastCalculatedAt)
		assert.True(t, resp.IsActive)
		assert.Equal(t, "system", resp.CreatedBy)
		assert.Equal(t, 1, ta.mat.callCount())
	})

	t.Run("takes creator from the gateway header", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(validCreatePayload()))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/segments", &buf)
		req.Header.Set("X-User-ID", "user-42")
		rec := httptest.NewRecorder()
		ta.api.Router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)

		var resp SegmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "user-42", resp.CreatedBy)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/segments", bytes.NewBufferString("{nope"))
		rec := httptest.NewRecorder()
		ta.api.Router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ERR_INVALID_JSON", resp.Code)
	})

	t.Run("accumulates every validation issue", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		payload := map[string]any{
			"name": "",
			"criteria": []map[string]any{
				{"field": "noSuchField", "operator": "EQUALS", "value": "x", "dataType": "string"},
			},
			"connective": "XOR",
		}
		rec := ta.do(t, http.MethodPost, "/api/v1/segments", payload)

		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ERR_INVALID_INPUT", resp.Code)
		require.GreaterOrEqual(t, len(resp.Details), 3)
		assert.Equal(t, 0, ta.mat.callCount())
	})

	t.Run("rejects empty criteria", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		payload := map[string]any{"name": "Everyone", "criteria": []map[string]any{}}
		rec := ta.do(t, http.MethodPost, "/api/v1/segments", payload)

		require.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Details, 1)
		assert.Equal(t, "criteria", resp.Details[0].Field)
	})

	t.Run("conflicts on duplicate name", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		first := ta.do(t, http.MethodPost, "/api/v1/segments", validCreatePayload())
		require.Equal(t, http.StatusCreated, first.Code)

		second := ta.do(t, http.MethodPost, "/api/v1/segments", validCreatePayload())
		assert.Equal(t, http.StatusConflict, second.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
		assert.Equal(t, "ERR_CONFLICT", resp.Code)
	})

	t.Run("defaults connective to AND", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		payload := validCreatePayload()
		delete(payload, "connective")
		rec := ta.do(t, http.MethodPost, "/api/v1/segments", payload)

		require.Equal(t, http.StatusCreated, rec.Code)

		var resp SegmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "AND", resp.Connective)
	})
}

func TestHandleGetSegment(t *testing.T) {
	t.Parallel()

	t.Run("rejects malformed id", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		rec := ta.do(t, http.MethodGet, "/api/v1/segments/not-a-uuid", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ERR_INVALID_ID", resp.Code)
	})

	t.Run("404 for unknown segment", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		rec := ta.do(t, http.MethodGet, "/api/v1/segments/"+uuid.NewString(), nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns existing segment", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		created := ta.do(t, http.MethodPost, "/api/v1/segments", validCreatePayload())
		require.Equal(t, http.StatusCreated, created.Code)
		var createdResp SegmentResponse
		require.NoError(t, json.Unmarshal(created.Body.Bytes(), &createdResp))

		rec := ta.do(t, http.MethodGet, "/api/v1/segments/"+createdResp.ID, nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp SegmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, createdResp.ID, resp.ID)
		assert.Len(t, resp.Criteria, 2)
	})
}

func TestHandleUpdateSegment(t *testing.T) {
	t.Parallel()

	create := func(t *testing.T, ta *testAPI) SegmentResponse {
		t.Helper()
		rec := ta.do(t, http.MethodPost, "/api/v1/segments", validCreatePayload())
		require.Equal(t, http.StatusCreated, rec.Code)
		var resp SegmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	t.Run("metadata change skips recalculation", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)
		seg := create(t, ta)
		callsAfterCreate := ta.mat.callCount()

		rec := ta.do(t, http.MethodPatch, "/api/v1/segments/"+seg.ID,
			map[string]any{"name": "Warm leads"})

		require.Equal(t, http.StatusOK, rec.Code)

		var resp SegmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Warm leads", resp.Name)
		assert.Equal(t, callsAfterCreate, ta.mat.callCount())
	})

	t.Run("criteria change recalculates synchronously", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)
		seg := create(t, ta)
		callsAfterCreate := ta.mat.callCount()

		ta.mat.count = 7
		rec := ta.do(t, http.MethodPatch, "/api/v1/segments/"+seg.ID, map[string]any{
			"criteria": []map[string]any{
				{"field": "status", "operator": "EQUALS", "value": "active", "dataType": "enum"},
			},
		})

		require.Equal(t, http.StatusOK, rec.Code)

		var resp SegmentResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(7), resp.CustomerCount)
		assert.Equal(t, callsAfterCreate+1, ta.mat.callCount())
	})

	t.Run("rejects invalid partial payload", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)
		seg := create(t, ta)

		rec := ta.do(t, http.MethodPatch, "/api/v1/segments/"+seg.ID,
			map[string]any{"connective": "MAYBE"})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("404 for unknown segment", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		rec := ta.do(t, http.MethodPatch, "/api/v1/segments/"+uuid.NewString(),
			map[string]any{"name": "Ghost"})

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleDeleteSegment(t *testing.T) {
	t.Parallel()

	t.Run("deletes and returns 204", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)
		created := ta.do(t, http.MethodPost, "/api/v1/segments", validCreatePayload())
		require.Equal(t, http.StatusCreated, created.Code)
		var seg SegmentResponse
		require.NoError(t, json.Unmarshal(created.Body.Bytes(), &seg))

		rec := ta.do(t, http.MethodDelete, "/api/v1/segments/"+seg.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		gone := ta.do(t, http.MethodGet, "/api/v1/segments/"+seg.ID, nil)
		assert.Equal(t, http.StatusNotFound, gone.Code)
	})

	t.Run("404 for unknown segment", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		rec := ta.do(t, http.MethodDelete, "/api/v1/segments/"+uuid.NewString(), nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleRecalculate(t *testing.T) {
	t.Parallel()

	t.Run("single segment is synchronous", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)
		created := ta.do(t, http.MethodPost, "/api/v1/segments", validCreatePayload())
		require.Equal(t, http.StatusCreated, created.Code)
		var seg SegmentResponse
		require.NoError(t, json.Unmarshal(created.Body.Bytes(), &seg))

		ta.mat.count = 9
		rec := ta.do(t, http.MethodPost, "/api/v1/segments/"+seg.ID+"/recalculate", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp RecalcResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, seg.ID, resp.SegmentID)
		assert.Equal(t, int64(9), resp.CustomerCount)
	})

	t.Run("single segment 404", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		rec := ta.do(t, http.MethodPost, "/api/v1/segments/"+uuid.NewString()+"/recalculate", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("recalculate-all enqueues and acknowledges", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		rec := ta.do(t, http.MethodPost, "/api/v1/segments/recalculate-all", nil)

		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp QueuedResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "queued", resp.Status)

		target, err := ta.queue.DequeueRecalc(context.Background(), 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, cache.RecalcAllTarget, target)
	})
}

func TestHandleSegmentStats(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)
	created := ta.do(t, http.MethodPost, "/api/v1/segments", validCreatePayload())
	require.Equal(t, http.StatusCreated, created.Code)

	rec := ta.do(t, http.MethodGet, "/api/v1/segments/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.TotalSegments)
	assert.Equal(t, int64(1), resp.ActiveSegments)
}

func TestHandleListFields(t *testing.T) {
	t.Parallel()

	ta := newTestAPI(t)

	rec := ta.do(t, http.MethodGet, "/api/v1/segments/fields", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Fields []FieldResponse `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Fields)

	byName := make(map[string]FieldResponse, len(resp.Fields))
	for _, f := range resp.Fields {
		byName[f.Name] = f
	}

	status, ok := byName["status"]
	require.True(t, ok)
	assert.Equal(t, "enum", status.DataType)
	assert.Contains(t, status.Operators, "IN")
	assert.NotEmpty(t, status.Options)

	tags, ok := byName["tags"]
	require.True(t, ok)
	assert.Contains(t, tags.Operators, "HAS_TAG")
}

func TestHandleListMembers(t *testing.T) {
	t.Parallel()

	t.Run("404 for unknown segment", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		rec := ta.do(t, http.MethodGet, "/api/v1/segments/"+uuid.NewString()+"/customers", nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("returns materialized members", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)
		created := ta.do(t, http.MethodPost, "/api/v1/segments", validCreatePayload())
		require.Equal(t, http.StatusCreated, created.Code)
		var seg SegmentResponse
		require.NoError(t, json.Unmarshal(created.Body.Bytes(), &seg))

		segID := uuid.MustParse(seg.ID)
		ta.repo.members[segID] = []*store.MemberRow{
			{
				CustomerID: uuid.New(),
				Email:      "ada@example.com",
				FullName:   "Ada Lovelace",
				Status:     "lead",
				LeadScore:  80,
				Tags:       []string{"vip"},
				AddedAt:    time.Now().UTC(),
			},
		}

		rec := ta.do(t, http.MethodGet, "/api/v1/segments/"+seg.ID+"/customers", nil)

		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data       []MemberResponse `json:"data"`
			Pagination Pagination       `json:"pagination"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "ada@example.com", resp.Data[0].Email)
		assert.Equal(t, int64(1), resp.Pagination.TotalItems)
	})
}

func TestListSegmentsQueryValidation(t *testing.T) {
	t.Parallel()

	t.Run("rejects non-boolean is_active", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		rec := ta.do(t, http.MethodGet, "/api/v1/segments?is_active=banana", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects non-integer page", func(t *testing.T) {
		t.Parallel()

		ta := newTestAPI(t)

		rec := ta.do(t, http.MethodGet, "/api/v1/segments?page=banana", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
