// internal/driver/driver_test.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testElement struct{ name string }

func (e *testElement) Describe() string { return e.name }

func TestSplitElementArg(t *testing.T) {
	el := &testElement{name: "button"}

	t.Run("NoArgs", func(t *testing.T) {
		got, rest, err := SplitElementArg(nil)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Empty(t, rest)
	})

	t.Run("LeadingElement", func(t *testing.T) {
		got, rest, err := SplitElementArg([]any{el, "1px solid red"})
		require.NoError(t, err)
		assert.Same(t, el, got)
		assert.Equal(t, []any{"1px solid red"}, rest)
	})

	t.Run("PlainValues", func(t *testing.T) {
		got, rest, err := SplitElementArg([]any{"a", 2.0})
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, []any{"a", 2.0}, rest)
	})

	t.Run("ElementInSecondPosition", func(t *testing.T) {
		_, _, err := SplitElementArg([]any{"a", el})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrScriptExecution)

		var argErr *ArgumentError
		require.ErrorAs(t, err, &argErr)
		assert.Equal(t, 1, argErr.Index)
	})
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("op", nil))

	stale := Classify("execute", errors.New("Could not find node with given id (-32000)"))
	assert.ErrorIs(t, stale, ErrStaleElement)
	assert.NotErrorIs(t, stale, ErrScriptExecution)

	pwStale := Classify("execute", errors.New("Element is not attached to the DOM"))
	assert.ErrorIs(t, pwStale, ErrStaleElement)

	generic := Classify("execute", errors.New("SyntaxError: Unexpected token"))
	assert.ErrorIs(t, generic, ErrScriptExecution)
	assert.Contains(t, generic.Error(), "Unexpected token")

	// Already classified errors pass through untouched.
	already := fmt.Errorf("wrapped: %w", ErrStaleElement)
	assert.Same(t, already, Classify("execute", already))

	ctxErr := Classify("execute", context.DeadlineExceeded)
	assert.ErrorIs(t, ctxErr, context.DeadlineExceeded)
	assert.NotErrorIs(t, ctxErr, ErrScriptExecution)
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{"", false},
		{"x", true},
		{0.0, false},
		{1.0, true},
		{math.NaN(), false},
		{map[string]any{}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Truthy(tt.in), "Truthy(%#v)", tt.in)
	}
}

func TestAsString(t *testing.T) {
	assert.Equal(t, "", AsString(nil))
	assert.Equal(t, "2px solid red", AsString("2px solid red"))
	assert.Equal(t, "true", AsString(true))
	assert.Equal(t, "1.5", AsString(1.5))
}

func TestDecodeResult(t *testing.T) {
	v, err := DecodeResult([]byte(`{"ok":true,"n":2}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true, "n": float64(2)}, v)

	v, err = DecodeResult([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = DecodeResult(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = DecodeResult([]byte(`{`))
	assert.ErrorIs(t, err, ErrScriptExecution)
}
