package criteria

import "fmt"

// Issue describes one validation failure, addressed to the criterion that
// caused it. Ref is a JSON-pointer-ish path ("criteria[2].value") so API
// clients can highlight the offending row in the segment builder.
type Issue struct {
	Ref     string
	Message string
}

// ValidateList checks every criterion in the list and returns all issues
// found, not just the first. An empty result means the list is valid.
func ValidateList(list List) []Issue {
	var issues []Issue
	for i, c := range list {
		issues = append(issues, validateCriterion(c, i)...)
	}
	return issues
}

func validateCriterion(c Criterion, index int) []Issue {
	ref := func(part string) string {
		return fmt.Sprintf("criteria[%d].%s", index, part)
	}

	var issues []Issue

	if c.Field == "" {
		issues = append(issues, Issue{Ref: ref("field"), Message: "field is required"})
	}

	field, fieldKnown := LookupField(c.Field)
	if c.Field != "" && !fieldKnown {
		issues = append(issues, Issue{
			Ref:     ref("field"),
			Message: fmt.Sprintf("unknown field %q", c.Field),
		})
	}

	if !c.Operator.Known() {
		issues = append(issues, Issue{
			Ref:     ref("operator"),
			Message: fmt.Sprintf("unknown operator %q", c.Operator),
		})
		// Value-shape rules are operator-specific; nothing more to check.
		return issues
	}

	if fieldKnown {
		if c.DataType != "" && c.DataType != field.DataType {
			issues = append(issues, Issue{
				Ref:     ref("dataType"),
				Message: fmt.Sprintf("field %q is %s, not %s", c.Field, field.DataType, c.DataType),
			})
		}
		if !operatorAllowed(field.DataType, c.Operator) {
			issues = append(issues, Issue{
				Ref:     ref("operator"),
				Message: fmt.Sprintf("operator %s is not valid for %s field %q", c.Operator, field.DataType, c.Field),
			})
		}
	}

	issues = append(issues, validateValueShape(c, ref)...)
	return issues
}

// validateValueShape enforces the operator's expectation on the value:
// absent for null checks, 2-element array for ranges, non-empty array for set
// membership, integer for DAYS_AGO, scalar otherwise.
func validateValueShape(c Criterion, ref func(string) string) []Issue {
	switch c.Operator {
	case OpIsNull, OpIsNotNull:
		if c.Value != nil {
			return []Issue{{Ref: ref("value"), Message: fmt.Sprintf("operator %s takes no value", c.Operator)}}
		}

	case OpBetween, OpDateBetween:
		bounds, ok := asSlice(c.Value)
		if !ok || len(bounds) != 2 {
			return []Issue{{Ref: ref("value"), Message: fmt.Sprintf("operator %s requires a 2-element array value", c.Operator)}}
		}

	case OpIn, OpNotIn:
		items, ok := asSlice(c.Value)
		if !ok {
			return []Issue{{Ref: ref("value"), Message: fmt.Sprintf("operator %s requires an array value", c.Operator)}}
		}
		if len(items) == 0 {
			return []Issue{{Ref: ref("value"), Message: fmt.Sprintf("operator %s requires at least one value", c.Operator)}}
		}

	case OpDaysAgo:
		if _, ok := asInt(c.Value); !ok {
			return []Issue{{Ref: ref("value"), Message: "operator DAYS_AGO requires an integer value"}}
		}

	default:
		if c.Value == nil {
			return []Issue{{Ref: ref("value"), Message: fmt.Sprintf("operator %s requires a value", c.Operator)}}
		}
		if _, isArray := asSlice(c.Value); isArray {
			return []Issue{{Ref: ref("value"), Message: fmt.Sprintf("operator %s requires a scalar value", c.Operator)}}
		}
	}

	return nil
}

func operatorAllowed(dt DataType, op Operator) bool {
	for _, allowed := range operatorsByType[dt] {
		if allowed == op {
			return true
		}
	}
	return false
}
