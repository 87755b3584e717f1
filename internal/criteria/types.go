// Package criteria implements the segmentation rule engine. It translates
// user-authored criteria (field/operator/value tuples joined by a single
// AND/OR connective) into parameterized SQL predicates over the customers
// table. Syntax fragments are generated exclusively from the closed operator
// enum and the field whitelist; user-supplied values are always passed as
// bound parameters.
package criteria

import "encoding/json"

// Operator is the closed set of comparison operators a criterion may use.
// Anything outside this set is rejected at validation time and treated as an
// internal-consistency error if it ever reaches the compiler.
type Operator string

const (
	OpEquals             Operator = "EQUALS"
	OpNotEquals          Operator = "NOT_EQUALS"
	OpContains           Operator = "CONTAINS"
	OpNotContains        Operator = "NOT_CONTAINS"
	OpStartsWith         Operator = "STARTS_WITH"
	OpEndsWith           Operator = "ENDS_WITH"
	OpGreaterThan        Operator = "GREATER_THAN"
	OpGreaterThanOrEqual Operator = "GREATER_THAN_OR_EQUAL"
	OpLessThan           Operator = "LESS_THAN"
	OpLessThanOrEqual    Operator = "LESS_THAN_OR_EQUAL"
	OpIn                 Operator = "IN"
	OpNotIn              Operator = "NOT_IN"
	OpIsNull             Operator = "IS_NULL"
	OpIsNotNull          Operator = "IS_NOT_NULL"
	OpBetween            Operator = "BETWEEN"
	OpRegex              Operator = "REGEX"
	OpDateBefore         Operator = "DATE_BEFORE"
	OpDateAfter          Operator = "DATE_AFTER"
	OpDateBetween        Operator = "DATE_BETWEEN"
	OpDaysAgo            Operator = "DAYS_AGO"
	OpHasTag             Operator = "HAS_TAG"
	OpNotHasTag          Operator = "NOT_HAS_TAG"
)

// DataType is the declared semantic type of a criterion's field. It drives
// the field catalog and value-shape validation, not the SQL layer.
type DataType string

const (
	TypeString  DataType = "string"
	TypeNumber  DataType = "number"
	TypeBoolean DataType = "boolean"
	TypeDate    DataType = "date"
	TypeArray   DataType = "array"
	TypeEnum    DataType = "enum"
)

// Connective is the single boolean operator joining all criteria in a
// segment. The engine deliberately supports a fixed binary choice, not
// arbitrary boolean trees.
type Connective string

const (
	ConnectiveAnd Connective = "AND"
	ConnectiveOr  Connective = "OR"
)

// Valid reports whether the connective is one of the two supported values.
func (c Connective) Valid() bool {
	return c == ConnectiveAnd || c == ConnectiveOr
}

// Criterion is one field/operator/value rule within a segment. Value is kept
// loosely typed because its shape depends on the operator: scalar for
// comparisons, 2-element array for ranges, array for set membership, absent
// for null checks.
type Criterion struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
	DataType DataType `json:"dataType"`
}

// List is an ordered criteria list as persisted in the segments table
// (jsonb column). Order is preserved for round-tripping but does not affect
// the predicate's result value.
type List []Criterion

// DecodeList parses the serialized criteria column back into a List.
func DecodeList(raw []byte) (List, error) {
	if len(raw) == 0 {
		return List{}, nil
	}
	var list List
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Encode serializes the list for storage. An empty list encodes as "[]"
// rather than "null" so the jsonb column stays a JSON array.
func (l List) Encode() ([]byte, error) {
	if l == nil {
		l = List{}
	}
	return json.Marshal(l)
}

// knownOperators indexes the closed operator set for O(1) membership checks.
var knownOperators = map[Operator]struct{}{
	OpEquals:             {},
	OpNotEquals:          {},
	OpContains:           {},
	OpNotContains:        {},
	OpStartsWith:         {},
	OpEndsWith:           {},
	OpGreaterThan:        {},
	OpGreaterThanOrEqual: {},
	OpLessThan:           {},
	OpLessThanOrEqual:    {},
	OpIn:                 {},
	OpNotIn:              {},
	OpIsNull:             {},
	OpIsNotNull:          {},
	OpBetween:            {},
	OpRegex:              {},
	OpDateBefore:         {},
	OpDateAfter:          {},
	OpDateBetween:        {},
	OpDaysAgo:            {},
	OpHasTag:             {},
	OpNotHasTag:          {},
}

// Known reports whether the operator belongs to the closed enumerated set.
func (o Operator) Known() bool {
	_, ok := knownOperators[o]
	return ok
}
