package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertNotNil(t *testing.T) {
	t.Parallel()

	t.Run("passes for non-nil value", func(t *testing.T) {
		t.Parallel()

		assert.NotPanics(t, func() {
			AssertNotNil("value", "field")
		})
	})

	t.Run("panics for nil interface", func(t *testing.T) {
		t.Parallel()

		assert.PanicsWithValue(t, "client cannot be nil", func() {
			AssertNotNil(nil, "client")
		})
	})

	t.Run("panics for typed nil pointer", func(t *testing.T) {
		t.Parallel()

		var p *struct{ x int }

		assert.PanicsWithValue(t, "pointer cannot be nil", func() {
			AssertNotNil(p, "pointer")
		})
	})

	t.Run("panics for nil map", func(t *testing.T) {
		t.Parallel()

		var m map[string]int

		assert.PanicsWithValue(t, "index cannot be nil", func() {
			AssertNotNil(m, "index")
		})
	})

	t.Run("passes for zero-value struct", func(t *testing.T) {
		t.Parallel()

		assert.NotPanics(t, func() {
			AssertNotNil(struct{}{}, "config")
		})
	})
}
