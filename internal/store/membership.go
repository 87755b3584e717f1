package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tessera-crm/tessera/internal/criteria"
)

// MemberRow is the customer read model returned when listing a segment's
// materialized membership.
type MemberRow struct {
	CustomerID uuid.UUID
	Email      string
	FullName   string
	Status     string
	LeadScore  int
	Tags       []string
	AddedAt    time.Time
}

// ReplaceMembership swaps the segment's membership for the current result of
// the compiled predicate, inside a single transaction. A per-segment advisory
// lock serializes concurrent recalculations of the same segment so readers
// never observe a half-replaced set.
func (s *PostgresStore) ReplaceMembership(ctx context.Context, segmentID uuid.UUID, p *criteria.Predicate) (int64, error) {
	if p == nil {
		return 0, fmt.Errorf("predicate cannot be nil")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	// Advisory lock released automatically at transaction end.
	lockQuery := `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	if _, err := tx.Exec(ctx, lockQuery, segmentID.String()); err != nil {
		return 0, fmt.Errorf("failed to acquire segment lock: %w", err)
	}

	// Verify the segment still exists under the lock; a concurrent delete
	// would otherwise leave orphaned membership rows.
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT true FROM segments WHERE id = $1`, segmentID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrSegmentNotFound
		}
		return 0, fmt.Errorf("failed to check segment: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM segment_members WHERE segment_id = $1`, segmentID); err != nil {
		return 0, fmt.Errorf("failed to clear membership: %w", err)
	}

	// The predicate's placeholders are numbered from $1, so the segment id
	// is appended as the last parameter.
	insertQuery := fmt.Sprintf(`
		INSERT INTO segment_members (segment_id, customer_id)
		SELECT $%d, id FROM customers WHERE %s
	`, len(p.Args)+1, p.Where)
	args := append(append([]any{}, p.Args...), segmentID)

	tag, err := tx.Exec(ctx, insertQuery, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert membership: %w", err)
	}
	count := tag.RowsAffected()

	stampQuery := `
		UPDATE segments
		SET customer_count = $2, last_calculated_at = now(), updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, stampQuery, segmentID, count); err != nil {
		return 0, fmt.Errorf("failed to stamp segment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit membership replacement: %w", err)
	}

	return count, nil
}

// ListMembers retrieves a page of the segment's members joined with their
// customer rows, newest members first.
func (s *PostgresStore) ListMembers(ctx context.Context, segmentID uuid.UUID, limit, offset int) ([]*MemberRow, int64, error) {
	// Distinguish "no members" from "no such segment".
	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT true FROM segments WHERE id = $1`, segmentID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrSegmentNotFound
		}
		return nil, 0, fmt.Errorf("failed to check segment: %w", err)
	}

	var total int64
	countQuery := `SELECT count(*) FROM segment_members WHERE segment_id = $1`
	if err := s.db.QueryRow(ctx, countQuery, segmentID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count members: %w", err)
	}

	if total == 0 {
		return []*MemberRow{}, 0, nil
	}

	query := `
		SELECT c.id, c.email, c.full_name, c.status, c.lead_score,
		       COALESCE(c.tags, '{}'), m.added_at
		FROM segment_members m
		JOIN customers c ON c.id = m.customer_id
		WHERE m.segment_id = $1
		ORDER BY m.added_at DESC, c.id
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.Query(ctx, query, segmentID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := make([]*MemberRow, 0, limit)
	for rows.Next() {
		var m MemberRow
		if err := rows.Scan(
			&m.CustomerID,
			&m.Email,
			&m.FullName,
			&m.Status,
			&m.LeadScore,
			&m.Tags,
			&m.AddedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return members, total, nil
}
