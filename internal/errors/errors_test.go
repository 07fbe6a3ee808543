package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_ClassifiesWrappedErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect Kind
	}{
		{
			name:   "direct KBError",
			err:    New(KindNotFound, "no such document"),
			expect: KindNotFound,
		},
		{
			name:   "KBError behind fmt.Errorf %w",
			err:    fmt.Errorf("while serving: %w", New(KindConflict, "duplicate")),
			expect: KindConflict,
		},
		{
			name:   "plain error falls back to Internal",
			err:    errors.New("boom"),
			expect: KindInternal,
		},
		{
			name:   "nil has no kind",
			err:    nil,
			expect: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, KindOf(tt.err))
		})
	}
}

func TestRetryable_OnlyTransientKinds(t *testing.T) {
	assert.True(t, IsRetryable(New(KindBackendUnavailable, "qdrant down")))
	assert.True(t, IsRetryable(New(KindEmbeddingFailure, "provider timeout")))
	assert.False(t, IsRetryable(New(KindInvalidInput, "bad filter")))
	assert.False(t, IsRetryable(New(KindNotFound, "missing")))
	assert.False(t, IsRetryable(errors.New("unclassified")))
}

func TestWrap_NilErrorStaysNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, KindInternal, "ignored"))
	assert.Nil(t, Wrapf(nil, KindInternal, "ignored %d", 1))
}

func TestWrap_PreservesCauseChain(t *testing.T) {
	// Given: a sentinel wrapped with a kind
	cause := errors.New("connection refused")
	err := Wrap(cause, KindBackendUnavailable, "upsert failed")

	// Then: errors.Is still finds the cause and the kind survives
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindBackendUnavailable, KindOf(err))
	assert.Contains(t, err.Error(), "upsert failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIs_MatchesByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(KindIndexRequired, "field category not indexed"))
	assert.ErrorIs(t, err, New(KindIndexRequired, ""))
	assert.NotErrorIs(t, err, New(KindNotFound, ""))
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := New(KindInvalidInput, "filters are required").
		WithDetail("field", "filters").
		WithSuggestion("use clear_all to wipe a collection")

	assert.Equal(t, "filters", err.Details["field"])
	assert.Equal(t, "use clear_all to wipe a collection", err.Suggestion)
}

func TestKind_Valid(t *testing.T) {
	for _, k := range []Kind{
		KindInvalidInput, KindInvalidMetadata, KindIndexRequired,
		KindNotFound, KindConflict, KindBackendUnavailable,
		KindEmbeddingFailure, KindIntegrityMismatch, KindInternal,
	} {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, Kind("Unknown").Valid())
}
