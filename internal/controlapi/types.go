// Package controlapi implements the REST API for the Tessera segmentation
// service. It handles HTTP routing, request decoding, validation, and
// response formatting.
package controlapi

import (
	"strings"
	"time"

	"github.com/tessera-crm/tessera/internal/criteria"
	"github.com/tessera-crm/tessera/internal/store"
)

// SegmentResponse represents the segment resource as returned by the API.
type SegmentResponse struct {
	// ID is the segment's UUID. Read-only.
	ID string `json:"id"`

	// Name is the unique human-readable label for the segment.
	Name string `json:"name"`

	// Description provides optional context about the segment's purpose.
	Description string `json:"description"`

	// Criteria is the ordered list of filter rules.
	Criteria criteria.List `json:"criteria"`

	// Connective joins the criteria: "AND" or "OR".
	Connective string `json:"connective"`

	// IsActive controls whether the scheduled fan-out recalculates this
	// segment.
	IsActive bool `json:"is_active"`

	// CustomerCount is the materialized member count as of the last
	// recalculation.
	CustomerCount int64 `json:"customer_count"`

	// LastCalculatedAt is nil until the first successful recalculation.
	LastCalculatedAt *time.Time `json:"last_calculated_at"`

	// CreatedBy identifies the user that created the segment.
	CreatedBy string `json:"created_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateSegmentRequest defines the payload for creating a new segment.
type CreateSegmentRequest struct {
	// Name is required and must be unique.
	Name string `json:"name"`

	// Description is optional.
	Description string `json:"description,omitempty"`

	// Criteria is required and must contain at least one rule.
	Criteria criteria.List `json:"criteria"`

	// Connective defaults to "AND" if omitted.
	Connective string `json:"connective,omitempty"`

	// IsActive defaults to true if omitted.
	IsActive *bool `json:"is_active,omitempty"`
}

// Sanitize cleans up input data by trimming whitespace and normalizing the
// connective.
func (r *CreateSegmentRequest) Sanitize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.Connective = strings.ToUpper(strings.TrimSpace(r.Connective))
	if r.Connective == "" {
		r.Connective = string(criteria.ConnectiveAnd)
	}
}

// Validate checks the request against business rules. Unlike a fail-fast
// validator, it accumulates every problem so the client can fix the whole
// payload in one round trip.
func (r *CreateSegmentRequest) Validate() *ErrorResponse {
	var details []ErrorDetail

	if err := validateSegmentName(r.Name); err != nil {
		details = append(details, *err)
	}
	details = append(details, validateDefinition(r.Criteria, r.Connective)...)

	if len(details) == 0 {
		return nil
	}
	return &ErrorResponse{
		Code:    "ERR_INVALID_INPUT",
		Message: "Segment definition is invalid",
		Details: details,
	}
}

// UpdateSegmentRequest defines the payload for partial updates (PATCH).
// Pointers distinguish "missing field" (keep current value) from an explicit
// update.
type UpdateSegmentRequest struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Criteria    *criteria.List `json:"criteria,omitempty"`
	Connective  *string        `json:"connective,omitempty"`
	IsActive    *bool          `json:"is_active,omitempty"`
}

// Sanitize trims the provided fields in-place.
func (r *UpdateSegmentRequest) Sanitize() {
	if r.Name != nil {
		*r.Name = strings.TrimSpace(*r.Name)
	}
	if r.Description != nil {
		*r.Description = strings.TrimSpace(*r.Description)
	}
	if r.Connective != nil {
		*r.Connective = strings.ToUpper(strings.TrimSpace(*r.Connective))
	}
}

// Validate checks the provided fields against business rules.
func (r *UpdateSegmentRequest) Validate() *ErrorResponse {
	var details []ErrorDetail

	if r.Name != nil {
		if err := validateSegmentName(*r.Name); err != nil {
			details = append(details, *err)
		}
	}
	if r.Criteria != nil {
		if len(*r.Criteria) == 0 {
			details = append(details, ErrorDetail{
				Field: "criteria",
				Issue: "at least one criterion is required",
			})
		}
		for _, issue := range criteria.ValidateList(*r.Criteria) {
			details = append(details, ErrorDetail{Field: issue.Ref, Issue: issue.Message})
		}
	}
	if r.Connective != nil && !criteria.Connective(*r.Connective).Valid() {
		details = append(details, ErrorDetail{
			Field: "connective",
			Issue: `connective must be "AND" or "OR"`,
		})
	}

	if len(details) == 0 {
		return nil
	}
	return &ErrorResponse{
		Code:    "ERR_INVALID_INPUT",
		Message: "Segment definition is invalid",
		Details: details,
	}
}

// TouchesDefinition reports whether the update changes the membership
// predicate and therefore requires a recalculation.
func (r *UpdateSegmentRequest) TouchesDefinition() bool {
	return r.Criteria != nil || r.Connective != nil
}

// RecalcResponse is returned by the synchronous recalculation endpoint.
type RecalcResponse struct {
	SegmentID     string    `json:"segment_id"`
	CustomerCount int64     `json:"customer_count"`
	CalculatedAt  time.Time `json:"calculated_at"`
}

// QueuedResponse acknowledges an asynchronous trigger.
type QueuedResponse struct {
	Status string `json:"status"`
}

// StatsResponse is the aggregate view over all segments.
type StatsResponse struct {
	TotalSegments      int64               `json:"total_segments"`
	ActiveSegments     int64               `json:"active_segments"`
	TotalMembers       int64               `json:"total_members"`
	AverageSegmentSize float64             `json:"average_segment_size"`
	LargestSegment     *LargestSegmentInfo `json:"largest_segment"`
}

// LargestSegmentInfo identifies the active segment with the most members.
type LargestSegmentInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	CustomerCount int64  `json:"customer_count"`
}

// FieldResponse describes one filterable field for segment builders.
type FieldResponse struct {
	Name      string                 `json:"name"`
	Label     string                 `json:"label"`
	DataType  string                 `json:"data_type"`
	Operators []string               `json:"operators"`
	Options   []criteria.FieldOption `json:"options,omitempty"`
}

// MemberResponse is one customer row in a segment's membership listing.
type MemberResponse struct {
	CustomerID string    `json:"customer_id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	Status     string    `json:"status"`
	LeadScore  int       `json:"lead_score"`
	Tags       []string  `json:"tags"`
	AddedAt    time.Time `json:"added_at"`
}

// PaginatedResponse is a standard wrapper for list endpoints to support
// offset pagination.
type PaginatedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for the frontend pager.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// -----------------------------------------------------------------------------
// Reusable Validation Logic
// -----------------------------------------------------------------------------

// validateSegmentName enforces the format and length rules for the name.
func validateSegmentName(name string) *ErrorDetail {
	if name == "" {
		return &ErrorDetail{Field: "name", Issue: "name is required"}
	}
	if len(name) > 255 {
		return &ErrorDetail{Field: "name", Issue: "name must be at most 255 characters"}
	}
	return nil
}

// validateDefinition checks a full criteria list plus connective.
func validateDefinition(list criteria.List, connective string) []ErrorDetail {
	var details []ErrorDetail

	if len(list) == 0 {
		details = append(details, ErrorDetail{
			Field: "criteria",
			Issue: "at least one criterion is required",
		})
	}
	for _, issue := range criteria.ValidateList(list) {
		details = append(details, ErrorDetail{Field: issue.Ref, Issue: issue.Message})
	}
	if !criteria.Connective(connective).Valid() {
		details = append(details, ErrorDetail{
			Field: "connective",
			Issue: `connective must be "AND" or "OR"`,
		})
	}

	return details
}

// mapSegmentToResponse converts the DB entity to the API response DTO.
func mapSegmentToResponse(s *store.Segment) SegmentResponse {
	list := s.Criteria
	if list == nil {
		list = criteria.List{}
	}
	return SegmentResponse{
		ID:               s.ID.String(),
		Name:             s.Name,
		Description:      s.Description,
		Criteria:         list,
		Connective:       string(s.Connective),
		IsActive:         s.IsActive,
		CustomerCount:    s.CustomerCount,
		LastCalculatedAt: s.LastCalculatedAt,
		CreatedBy:        s.CreatedBy,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}
