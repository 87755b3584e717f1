// Package validation provides small assertion helpers for constructor
// invariants.
package validation

import (
	"fmt"
	"reflect"
)

// AssertNotNil panics when v is nil, including typed nil pointers and
// interfaces. Constructors use it to fail fast on wiring mistakes instead of
// deferring the nil dereference to first use.
func AssertNotNil(v any, name string) {
	if isNil(v) {
		panic(fmt.Sprintf("%s cannot be nil", name))
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
