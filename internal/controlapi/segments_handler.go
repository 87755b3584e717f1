package controlapi

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tessera-crm/tessera/internal/cache"
	"github.com/tessera-crm/tessera/internal/criteria"
	"github.com/tessera-crm/tessera/internal/logger"
	"github.com/tessera-crm/tessera/internal/store"
)

// handleCreateSegment processes the POST /api/v1/segments request.
//
// The new segment is materialized synchronously before the response, so the
// caller immediately sees an accurate customer_count. A failed first
// materialization does not roll back the create; the scheduled pass will
// retry it.
func (a *API) handleCreateSegment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreateSegmentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	seg := &store.Segment{
		Name:        req.Name,
		Description: req.Description,
		Criteria:    req.Criteria,
		Connective:  criteria.Connective(req.Connective),
		IsActive:    isActive,
		CreatedBy:   requestUserID(r),
	}

	if err := a.segments.CreateSegment(r.Context(), seg); err != nil {
		if errors.Is(err, store.ErrDuplicateSegmentName) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_CONFLICT",
				Message: "A segment with this name already exists",
			})
			return
		}
		log.Error("failed to create segment in db", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to create segment",
		})
		return
	}

	a.materializeAndRefresh(r, seg)

	log.Info("segment created",
		slog.String("segment_id", seg.ID.String()),
		slog.String("segment_name", seg.Name),
	)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, mapSegmentToResponse(seg))
}

// handleListSegments processes the GET /api/v1/segments request.
// Supported query parameters: page, page_size, is_active, created_by,
// search.
func (a *API) handleListSegments(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	page, pageSize, errResp := parsePagination(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	filter := store.ListFilter{
		CreatedBy: r.URL.Query().Get("created_by"),
		Search:    r.URL.Query().Get("search"),
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	}

	if raw := r.URL.Query().Get("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_INVALID_QUERY_PARAM",
				Message: "parameter 'is_active' must be a boolean",
			})
			return
		}
		filter.IsActive = &active
	}

	segments, totalItems, err := a.segments.ListSegments(r.Context(), filter)
	if err != nil {
		log.Error("failed to list segments from db", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list segments",
		})
		return
	}

	dtos := make([]SegmentResponse, len(segments))
	for i, s := range segments {
		dtos[i] = mapSegmentToResponse(s)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data:       dtos,
		Pagination: buildPagination(totalItems, page, pageSize),
	})
}

// handleGetSegment processes the GET /api/v1/segments/{id} request.
func (a *API) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	id, errResp := parseSegmentID(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	seg, err := a.segments.GetSegment(r.Context(), id)
	if err != nil {
		a.renderStoreError(w, r, err, "Failed to get segment")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapSegmentToResponse(seg))
}

// handleUpdateSegment processes the PATCH /api/v1/segments/{id} request.
// Only provided fields change. An update that touches the criteria or the
// connective triggers a synchronous recalculation, so the response carries
// the membership of the new definition, never the old one.
func (a *API) handleUpdateSegment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	id, errResp := parseSegmentID(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	var req UpdateSegmentRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()
	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	seg, err := a.segments.GetSegment(r.Context(), id)
	if err != nil {
		a.renderStoreError(w, r, err, "Failed to get segment")
		return
	}

	if req.Name != nil {
		seg.Name = *req.Name
	}
	if req.Description != nil {
		seg.Description = *req.Description
	}
	if req.Criteria != nil {
		seg.Criteria = *req.Criteria
	}
	if req.Connective != nil {
		seg.Connective = criteria.Connective(*req.Connective)
	}
	if req.IsActive != nil {
		seg.IsActive = *req.IsActive
	}

	if err := a.segments.UpdateSegment(r.Context(), seg); err != nil {
		if errors.Is(err, store.ErrDuplicateSegmentName) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_CONFLICT",
				Message: "A segment with this name already exists",
			})
			return
		}
		a.renderStoreError(w, r, err, "Failed to update segment")
		return
	}

	if req.TouchesDefinition() {
		a.materializeAndRefresh(r, seg)
	}

	log.Info("segment updated", slog.String("segment_id", id.String()))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapSegmentToResponse(seg))
}

// handleDeleteSegment processes the DELETE /api/v1/segments/{id} request.
// Membership rows cascade in the database.
func (a *API) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	id, errResp := parseSegmentID(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	if err := a.segments.DeleteSegment(r.Context(), id); err != nil {
		a.renderStoreError(w, r, err, "Failed to delete segment")
		return
	}

	if a.metrics != nil {
		a.metrics.DropSegment(id.String())
	}

	log.Info("segment deleted", slog.String("segment_id", id.String()))
	render.NoContent(w, r)
}

// handleRecalculateSegment processes POST /api/v1/segments/{id}/recalculate.
// The rebuild is synchronous; the response carries the fresh member count.
func (a *API) handleRecalculateSegment(w http.ResponseWriter, r *http.Request) {
	id, errResp := parseSegmentID(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	count, err := a.materializer.Recalculate(r.Context(), id)
	if err != nil {
		a.renderStoreError(w, r, err, "Failed to recalculate segment")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, RecalcResponse{
		SegmentID:     id.String(),
		CustomerCount: count,
		CalculatedAt:  time.Now().UTC(),
	})
}

// handleRecalculateAll processes POST /api/v1/segments/recalculate-all.
// The trigger is queued for the worker and acknowledged with 202; rebuilding
// every segment inline would hold the HTTP request for too long.
func (a *API) handleRecalculateAll(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if err := a.queue.EnqueueRecalc(r.Context(), cache.RecalcAllTarget); err != nil {
		log.Error("failed to enqueue recalculation", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to queue recalculation",
		})
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, QueuedResponse{Status: "queued"})
}

// handleSegmentStats processes the GET /api/v1/segments/stats request.
func (a *API) handleSegmentStats(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	stats, err := a.segments.SegmentStats(r.Context())
	if err != nil {
		log.Error("failed to compute segment stats", slog.Any("error", err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to compute segment statistics",
		})
		return
	}

	resp := StatsResponse{
		TotalSegments:      stats.TotalSegments,
		ActiveSegments:     stats.ActiveSegments,
		TotalMembers:       stats.TotalMembers,
		AverageSegmentSize: stats.AverageSegmentSize,
	}
	if stats.LargestSegment != nil {
		resp.LargestSegment = &LargestSegmentInfo{
			ID:            stats.LargestSegment.ID.String(),
			Name:          stats.LargestSegment.Name,
			CustomerCount: stats.LargestSegment.CustomerCount,
		}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// handleListFields processes the GET /api/v1/segments/fields request.
// The catalog drives segment-builder UIs: every filterable field with its
// data type, valid operators, and enum options.
func (a *API) handleListFields(w http.ResponseWriter, r *http.Request) {
	fields := criteria.Catalog()

	dtos := make([]FieldResponse, len(fields))
	for i, f := range fields {
		ops := criteria.OperatorsFor(f.DataType)
		names := make([]string, len(ops))
		for j, op := range ops {
			names[j] = string(op)
		}
		dtos[i] = FieldResponse{
			Name:      f.Name,
			Label:     f.Label,
			DataType:  string(f.DataType),
			Operators: names,
			Options:   f.Options,
		}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"fields": dtos})
}

// handleListMembers processes the GET /api/v1/segments/{id}/customers
// request. It reads the materialized membership, not the live predicate.
func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	id, errResp := parseSegmentID(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	page, pageSize, errResp := parsePagination(r)
	if errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	members, totalItems, err := a.segments.ListMembers(r.Context(), id, pageSize, (page-1)*pageSize)
	if err != nil {
		a.renderStoreError(w, r, err, "Failed to list segment members")
		return
	}

	dtos := make([]MemberResponse, len(members))
	for i, m := range members {
		dtos[i] = MemberResponse{
			CustomerID: m.CustomerID.String(),
			Email:      m.Email,
			FullName:   m.FullName,
			Status:     m.Status,
			LeadScore:  m.LeadScore,
			Tags:       m.Tags,
			AddedAt:    m.AddedAt,
		}
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data:       dtos,
		Pagination: buildPagination(totalItems, page, pageSize),
	})
}

// --- Private Helpers ---

// materializeAndRefresh rebuilds the segment's membership and reloads the
// stamped row so the response reflects the fresh count. Both steps are
// best-effort: a failure is logged and the caller responds with the data it
// already has.
func (a *API) materializeAndRefresh(r *http.Request, seg *store.Segment) {
	log := logger.FromContext(r.Context())

	if _, err := a.materializer.Recalculate(r.Context(), seg.ID); err != nil {
		log.Error("initial materialization failed",
			slog.String("segment_id", seg.ID.String()),
			slog.Any("error", err),
		)
		return
	}

	fresh, err := a.segments.GetSegment(r.Context(), seg.ID)
	if err != nil {
		log.Warn("failed to reload segment after materialization",
			slog.String("segment_id", seg.ID.String()),
			slog.Any("error", err),
		)
		return
	}
	*seg = *fresh
}

// parseSegmentID extracts and validates the {id} URL parameter.
func parseSegmentID(r *http.Request) (uuid.UUID, *ErrorResponse) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &ErrorResponse{
			Code:    "ERR_INVALID_ID",
			Message: "Segment id must be a valid UUID",
		}
	}
	return id, nil
}

// parsePagination extracts page/page_size with defaults and clamping.
func parsePagination(r *http.Request) (page, pageSize int, errResp *ErrorResponse) {
	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		return 0, 0, &ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		}
	}

	pageSize, err = parseOptionalInt(r, "page_size", 20)
	if err != nil {
		return 0, 0, &ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		}
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	return page, pageSize, nil
}

// parseOptionalInt extracts an integer from the query string, returning
// defaultValue when the parameter is absent.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}

// buildPagination computes the pager metadata for list responses.
func buildPagination(totalItems int64, page, pageSize int) Pagination {
	totalPages := 0
	if totalItems > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(pageSize)))
	}
	return Pagination{
		TotalItems:  totalItems,
		TotalPages:  totalPages,
		CurrentPage: page,
		PageSize:    pageSize,
	}
}

// renderStoreError maps repository errors to API responses.
func (a *API) renderStoreError(w http.ResponseWriter, r *http.Request, err error, internalMsg string) {
	if errors.Is(err, store.ErrSegmentNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: "Segment not found",
		})
		return
	}

	logger.FromContext(r.Context()).Error(internalMsg, slog.Any("error", err))
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_INTERNAL",
		Message: internalMsg,
	})
}
