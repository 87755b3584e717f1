// Package store provides the data access layer for the Tessera application.
// It handles all direct interactions with the PostgreSQL database using the
// pgx driver.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tessera-crm/tessera/internal/criteria"
	"github.com/tessera-crm/tessera/internal/validation"
)

// Sentinel errors returned by the repository. Handlers map these to HTTP
// statuses; everything else is a server error.
var (
	ErrSegmentNotFound      = errors.New("segment not found")
	ErrDuplicateSegmentName = errors.New("segment name already exists")
)

// Compile-time check to verify that PostgresStore implements SegmentRepository.
var _ SegmentRepository = (*PostgresStore)(nil)

// Segment represents the database schema for a customer segment.
// It mirrors the 'segments' table structure.
type Segment struct {
	ID               uuid.UUID
	Name             string
	Description      string
	Criteria         criteria.List
	Connective       criteria.Connective
	IsActive         bool
	CustomerCount    int64
	LastCalculatedAt *time.Time
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ListFilter narrows and pages the segment list.
type ListFilter struct {
	IsActive  *bool
	CreatedBy string
	// Search matches name or description, case-insensitively.
	Search string
	Limit  int
	Offset int
}

// Stats aggregates counts over the segment and membership tables.
type Stats struct {
	TotalSegments      int64
	ActiveSegments     int64
	TotalMembers       int64
	AverageSegmentSize float64
	LargestSegment     *SegmentRef
}

// SegmentRef identifies a segment in aggregate results.
type SegmentRef struct {
	ID            uuid.UUID
	Name          string
	CustomerCount int64
}

// SegmentRepository defines the interface for segment persistence operations.
// Using an interface allows for dependency injection and easier mocking in
// tests.
type SegmentRepository interface {
	// CreateSegment inserts a new segment and populates the server-generated
	// timestamps in the struct. Returns ErrDuplicateSegmentName on a name
	// collision.
	CreateSegment(ctx context.Context, s *Segment) error

	// GetSegment retrieves one segment by id. Returns ErrSegmentNotFound.
	GetSegment(ctx context.Context, id uuid.UUID) (*Segment, error)

	// UpdateSegment persists the full (already merged) segment row.
	UpdateSegment(ctx context.Context, s *Segment) error

	// DeleteSegment removes the segment; membership rows cascade.
	DeleteSegment(ctx context.Context, id uuid.UUID) error

	// ListSegments retrieves a filtered page of segments and the total count.
	ListSegments(ctx context.Context, f ListFilter) ([]*Segment, int64, error)

	// ListActiveSegments returns every active segment, in creation order.
	// Used by the recalculation fan-out.
	ListActiveSegments(ctx context.Context) ([]*Segment, error)

	// ReplaceMembership atomically swaps a segment's membership for the
	// result of the compiled predicate and stamps the segment's count and
	// last_calculated_at. Returns the new member count.
	ReplaceMembership(ctx context.Context, segmentID uuid.UUID, p *criteria.Predicate) (int64, error)

	// ListMembers retrieves a page of the segment's materialized members.
	ListMembers(ctx context.Context, segmentID uuid.UUID, limit, offset int) ([]*MemberRow, int64, error)

	// SegmentStats computes aggregate statistics over all segments.
	SegmentStats(ctx context.Context) (*Stats, error)
}

// PostgresStore is the implementation of SegmentRepository backed by
// PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new repository instance with the given
// connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	validation.AssertNotNil(db, "database pool")
	return &PostgresStore{db: db}
}

const segmentColumns = `id, name, description, criteria, connective, is_active,
	customer_count, last_calculated_at, created_by, created_at, updated_at`

// CreateSegment inserts a new segment into the database.
// It uses the RETURNING clause to get the server-generated timestamps.
func (s *PostgresStore) CreateSegment(ctx context.Context, seg *Segment) error {
	criteriaJSON, err := seg.Criteria.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode criteria: %w", err)
	}

	if seg.ID == uuid.Nil {
		seg.ID = uuid.New()
	}

	query := `
		INSERT INTO segments (id, name, description, criteria, connective, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		seg.ID,
		seg.Name,
		seg.Description,
		criteriaJSON,
		seg.Connective,
		seg.IsActive,
		seg.CreatedBy,
	).Scan(&seg.CreatedAt, &seg.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrDuplicateSegmentName, seg.Name)
		}
		return fmt.Errorf("failed to insert segment: %w", err)
	}

	return nil
}

// GetSegment retrieves a single segment by id.
func (s *PostgresStore) GetSegment(ctx context.Context, id uuid.UUID) (*Segment, error) {
	query := `SELECT ` + segmentColumns + ` FROM segments WHERE id = $1`

	seg, err := scanSegment(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSegmentNotFound
		}
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}
	return seg, nil
}

// UpdateSegment persists the already-merged segment row. The handler layer
// owns merging partial changes; the store writes the whole definition.
func (s *PostgresStore) UpdateSegment(ctx context.Context, seg *Segment) error {
	criteriaJSON, err := seg.Criteria.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode criteria: %w", err)
	}

	query := `
		UPDATE segments
		SET name = $2, description = $3, criteria = $4, connective = $5,
		    is_active = $6, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err = s.db.QueryRow(ctx, query,
		seg.ID,
		seg.Name,
		seg.Description,
		criteriaJSON,
		seg.Connective,
		seg.IsActive,
	).Scan(&seg.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSegmentNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrDuplicateSegmentName, seg.Name)
		}
		return fmt.Errorf("failed to update segment: %w", err)
	}

	return nil
}

// DeleteSegment removes the segment row. Membership rows are removed by the
// ON DELETE CASCADE constraint.
func (s *PostgresStore) DeleteSegment(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM segments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete segment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSegmentNotFound
	}
	return nil
}

// ListSegments retrieves a filtered subset of segments based on pagination
// parameters. It executes two queries: one for the total count and one for
// the page data.
func (s *PostgresStore) ListSegments(ctx context.Context, f ListFilter) ([]*Segment, int64, error) {
	where, args := buildListFilter(f)

	var total int64
	countQuery := `SELECT count(*) FROM segments` + where
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count segments: %w", err)
	}

	if total == 0 {
		return []*Segment{}, 0, nil
	}

	query := fmt.Sprintf(
		`SELECT %s FROM segments%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		segmentColumns, where, len(args)+1, len(args)+2,
	)
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	segments := make([]*Segment, 0, f.Limit)
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan segment row: %w", err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return segments, total, nil
}

// ListActiveSegments returns all active segments in creation order, which is
// the order the recalculation fan-out processes them in.
func (s *PostgresStore) ListActiveSegments(ctx context.Context) ([]*Segment, error) {
	query := `SELECT ` + segmentColumns + ` FROM segments WHERE is_active ORDER BY created_at`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active segments: %w", err)
	}
	defer rows.Close()

	var segments []*Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment row: %w", err)
		}
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return segments, nil
}

// SegmentStats computes the aggregate view for the stats endpoint. Averages
// are taken over active segments only, matching the dashboard's definition.
func (s *PostgresStore) SegmentStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	query := `
		SELECT count(*),
		       count(*) FILTER (WHERE is_active),
		       COALESCE(avg(customer_count) FILTER (WHERE is_active), 0)
		FROM segments
	`
	if err := s.db.QueryRow(ctx, query).Scan(
		&stats.TotalSegments,
		&stats.ActiveSegments,
		&stats.AverageSegmentSize,
	); err != nil {
		return nil, fmt.Errorf("failed to aggregate segments: %w", err)
	}

	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM segment_members`).Scan(&stats.TotalMembers); err != nil {
		return nil, fmt.Errorf("failed to count memberships: %w", err)
	}

	largestQuery := `
		SELECT id, name, customer_count
		FROM segments
		WHERE is_active
		ORDER BY customer_count DESC, created_at
		LIMIT 1
	`
	var ref SegmentRef
	err := s.db.QueryRow(ctx, largestQuery).Scan(&ref.ID, &ref.Name, &ref.CustomerCount)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No active segments: LargestSegment stays nil.
	case err != nil:
		return nil, fmt.Errorf("failed to find largest segment: %w", err)
	default:
		stats.LargestSegment = &ref
	}

	return stats, nil
}

// --- Private helpers ---

// rowScanner abstracts pgx.Row and pgx.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row rowScanner) (*Segment, error) {
	var (
		seg         Segment
		criteriaRaw []byte
	)
	if err := row.Scan(
		&seg.ID,
		&seg.Name,
		&seg.Description,
		&criteriaRaw,
		&seg.Connective,
		&seg.IsActive,
		&seg.CustomerCount,
		&seg.LastCalculatedAt,
		&seg.CreatedBy,
		&seg.CreatedAt,
		&seg.UpdatedAt,
	); err != nil {
		return nil, err
	}

	list, err := criteria.DecodeList(criteriaRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode criteria: %w", err)
	}
	seg.Criteria = list

	return &seg, nil
}

// buildListFilter assembles the WHERE clause for ListSegments with
// hand-numbered positional placeholders.
func buildListFilter(f ListFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if f.CreatedBy != "" {
		args = append(args, f.CreatedBy)
		conds = append(conds, fmt.Sprintf("created_by = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", n, n))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
