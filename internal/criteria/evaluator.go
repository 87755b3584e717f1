package criteria

import (
	"fmt"
	"strings"
)

// ErrUnsupportedOperator is wrapped by Fragment when a criterion carries an
// operator outside the closed set. Criteria are validated against the enum at
// write time, so hitting this during compilation means stored data is
// inconsistent with the operator catalog.
var ErrUnsupportedOperator = fmt.Errorf("unsupported operator")

// Fragment translates a single criterion into a SQL boolean expression plus
// the bound parameter values it consumes, starting placeholder numbering at
// startIndex. It returns the fragment, the ordered args, and the next free
// placeholder index.
//
// The column name comes from the field whitelist and the operator from the
// closed enum; only those two trusted sources ever reach the SQL text. Every
// user-supplied value is returned as a bound arg.
func Fragment(c Criterion, startIndex int) (string, []any, int, error) {
	col := resolveColumn(c.Field)
	idx := startIndex

	switch c.Operator {
	case OpEquals:
		return fmt.Sprintf("%s = $%d", col, idx), []any{c.Value}, idx + 1, nil

	case OpNotEquals:
		return fmt.Sprintf("%s <> $%d", col, idx), []any{c.Value}, idx + 1, nil

	case OpContains:
		return fmt.Sprintf("%s ILIKE $%d", col, idx), []any{"%" + stringValue(c.Value) + "%"}, idx + 1, nil

	case OpNotContains:
		return fmt.Sprintf("%s NOT ILIKE $%d", col, idx), []any{"%" + stringValue(c.Value) + "%"}, idx + 1, nil

	case OpStartsWith:
		return fmt.Sprintf("%s ILIKE $%d", col, idx), []any{stringValue(c.Value) + "%"}, idx + 1, nil

	case OpEndsWith:
		return fmt.Sprintf("%s ILIKE $%d", col, idx), []any{"%" + stringValue(c.Value)}, idx + 1, nil

	case OpGreaterThan:
		return fmt.Sprintf("%s > $%d", col, idx), []any{c.Value}, idx + 1, nil

	case OpGreaterThanOrEqual:
		return fmt.Sprintf("%s >= $%d", col, idx), []any{c.Value}, idx + 1, nil

	case OpLessThan:
		return fmt.Sprintf("%s < $%d", col, idx), []any{c.Value}, idx + 1, nil

	case OpLessThanOrEqual:
		return fmt.Sprintf("%s <= $%d", col, idx), []any{c.Value}, idx + 1, nil

	case OpIn, OpNotIn:
		items, ok := asSlice(c.Value)
		if !ok || len(items) == 0 {
			return "", nil, startIndex, fmt.Errorf("operator %s on field %q requires a non-empty array value", c.Operator, c.Field)
		}
		placeholders := make([]string, len(items))
		for i := range items {
			placeholders[i] = fmt.Sprintf("$%d", idx+i)
		}
		keyword := "IN"
		if c.Operator == OpNotIn {
			keyword = "NOT IN"
		}
		frag := fmt.Sprintf("%s %s (%s)", col, keyword, strings.Join(placeholders, ", "))
		return frag, items, idx + len(items), nil

	case OpIsNull:
		return fmt.Sprintf("%s IS NULL", col), nil, idx, nil

	case OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", col), nil, idx, nil

	case OpBetween:
		bounds, ok := asSlice(c.Value)
		if !ok || len(bounds) != 2 {
			return "", nil, startIndex, fmt.Errorf("operator BETWEEN on field %q requires a 2-element array value", c.Field)
		}
		frag := fmt.Sprintf("%s BETWEEN $%d AND $%d", col, idx, idx+1)
		return frag, bounds, idx + 2, nil

	case OpRegex:
		return fmt.Sprintf("%s ~ $%d", col, idx), []any{c.Value}, idx + 1, nil

	case OpDateBefore:
		return fmt.Sprintf("%s < $%d::timestamptz", col, idx), []any{c.Value}, idx + 1, nil

	case OpDateAfter:
		return fmt.Sprintf("%s > $%d::timestamptz", col, idx), []any{c.Value}, idx + 1, nil

	case OpDateBetween:
		bounds, ok := asSlice(c.Value)
		if !ok || len(bounds) != 2 {
			return "", nil, startIndex, fmt.Errorf("operator DATE_BETWEEN on field %q requires a 2-element array value", c.Field)
		}
		frag := fmt.Sprintf("%s BETWEEN $%d::timestamptz AND $%d::timestamptz", col, idx, idx+1)
		return frag, bounds, idx + 2, nil

	case OpDaysAgo:
		// "Field is within the last N days". The integer is bound like every
		// other value; the interval arithmetic stays in trusted SQL text.
		days, ok := asInt(c.Value)
		if !ok {
			return "", nil, startIndex, fmt.Errorf("operator DAYS_AGO on field %q requires an integer value", c.Field)
		}
		frag := fmt.Sprintf("%s >= now() - ($%d * interval '1 day')", col, idx)
		return frag, []any{days}, idx + 1, nil

	case OpHasTag:
		return fmt.Sprintf("$%d = ANY(%s)", idx, col), []any{c.Value}, idx + 1, nil

	case OpNotHasTag:
		// COALESCE keeps rows with a NULL tag array in the "does not have
		// the tag" set instead of dropping them via three-valued logic.
		frag := fmt.Sprintf("NOT ($%d = ANY(COALESCE(%s, '{}')))", idx, col)
		return frag, []any{c.Value}, idx + 1, nil

	default:
		return "", nil, startIndex, fmt.Errorf("%w: %q on field %q", ErrUnsupportedOperator, c.Operator, c.Field)
	}
}

// stringValue renders a scalar value for LIKE-pattern construction. The
// result is still passed as a bound parameter, never spliced into SQL.
func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// asSlice normalizes array-shaped values. JSON decoding yields []any;
// internal callers may pass typed slices.
func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	default:
		return nil, false
	}
}

// asInt accepts the numeric representations JSON decoding can produce for a
// whole number.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
