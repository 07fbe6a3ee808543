package embed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
)

func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	// Given: a provider failing twice with a retryable error
	inner := newCountingEmbedder(384)
	inner.failNext(2, kberrors.New(kberrors.KindEmbeddingFailure, "model loading"))
	r := NewRetry(inner, 3, time.Millisecond)

	// When: embedding
	vec, err := r.Embed(context.Background(), "text")

	// Then: the third attempt succeeds
	require.NoError(t, err)
	assert.NotNil(t, vec)
	assert.Equal(t, int64(3), inner.embedCalls.Load())
}

func TestRetry_NonRetryableFailsImmediately(t *testing.T) {
	// Given: a provider rejecting the input outright
	inner := newCountingEmbedder(384)
	inner.failNext(1, kberrors.New(kberrors.KindInvalidInput, "text too long"))
	r := NewRetry(inner, 5, time.Millisecond)

	// When: embedding
	_, err := r.Embed(context.Background(), "text")

	// Then: no retries happen
	require.Error(t, err)
	assert.Equal(t, kberrors.KindInvalidInput, kberrors.KindOf(err))
	assert.Equal(t, int64(1), inner.embedCalls.Load())
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	// Given: a provider that never recovers
	inner := newCountingEmbedder(384)
	inner.failNext(10, kberrors.New(kberrors.KindBackendUnavailable, "connection refused"))
	r := NewRetry(inner, 3, time.Millisecond)

	// When: embedding
	_, err := r.Embed(context.Background(), "text")

	// Then: exactly attempts calls, last error surfaces
	require.Error(t, err)
	assert.Equal(t, kberrors.KindBackendUnavailable, kberrors.KindOf(err))
	assert.Equal(t, int64(3), inner.embedCalls.Load())
}

func TestRetry_BatchRetriesToo(t *testing.T) {
	inner := newCountingEmbedder(384)
	inner.failNext(1, kberrors.New(kberrors.KindEmbeddingFailure, "hiccup"))
	r := NewRetry(inner, 2, time.Millisecond)

	vecs, err := r.EmbedBatch(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, int64(2), inner.batchCalls.Load())
}

func TestRetry_CanceledDuringBackoff(t *testing.T) {
	// Given: a permanently failing provider and a context canceled
	// before the backoff elapses
	inner := newCountingEmbedder(384)
	inner.failNext(10, kberrors.New(kberrors.KindEmbeddingFailure, "down"))
	r := NewRetry(inner, 3, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	// When: embedding
	start := time.Now()
	_, err := r.Embed(ctx, "text")

	// Then: the call returns promptly with a classified error
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, kberrors.KindEmbeddingFailure, kberrors.KindOf(err))
	assert.Equal(t, int64(1), inner.embedCalls.Load(), "no second attempt after cancel")
}

func TestNewRetry_DefaultsForBadArguments(t *testing.T) {
	inner := newCountingEmbedder(384)
	r := NewRetry(inner, 0, 0)

	assert.Equal(t, DefaultRetryAttempts, r.attempts)
	assert.Equal(t, DefaultRetryDelay, r.delay)
}
