package criteria

import (
	"fmt"
	"strings"
)

// Predicate is the compiled, parameterized equivalent of a criteria list plus
// connective. Where is a SQL boolean expression with positional placeholders;
// Args holds the bound values in placeholder order.
type Predicate struct {
	Where string
	Args  []any
}

// Compile folds an ordered criteria list and a connective into one predicate.
// A single invalid criterion aborts the whole compilation: a segment with a
// bad rule must not silently evaluate a weaker query.
//
// An empty list compiles to TRUE (all customers). Segment-level validation
// forbids persisting zero-criteria definitions.
func Compile(list List, connective Connective) (*Predicate, error) {
	if !connective.Valid() {
		return nil, fmt.Errorf("invalid connective %q", connective)
	}

	if len(list) == 0 {
		return &Predicate{Where: "TRUE", Args: nil}, nil
	}

	fragments := make([]string, 0, len(list))
	args := make([]any, 0, len(list))
	idx := 1

	for i, c := range list {
		frag, fragArgs, next, err := Fragment(c, idx)
		if err != nil {
			return nil, fmt.Errorf("criterion %d: %w", i, err)
		}
		fragments = append(fragments, "("+frag+")")
		args = append(args, fragArgs...)
		idx = next
	}

	return &Predicate{
		Where: strings.Join(fragments, " "+string(connective)+" "),
		Args:  args,
	}, nil
}

// SelectMembers returns the full query selecting the ids of customers that
// match the predicate. No ordering is imposed; that is the caller's concern.
func (p *Predicate) SelectMembers() string {
	return "SELECT id FROM customers WHERE " + p.Where
}
