package embed

import (
	"context"
	"time"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
)

// Retry defaults.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 500 * time.Millisecond
)

// Retry re-issues failed provider calls with exponential backoff. Only
// errors the taxonomy marks retryable are retried; contract errors
// surface immediately.
type Retry struct {
	inner    Embedder
	attempts int
	delay    time.Duration
}

// NewRetry wraps inner with up to attempts tries, doubling the delay
// between each.
func NewRetry(inner Embedder, attempts int, delay time.Duration) *Retry {
	if attempts < 1 {
		attempts = DefaultRetryAttempts
	}
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &Retry{inner: inner, attempts: attempts, delay: delay}
}

func (r *Retry) do(ctx context.Context, fn func() error) error {
	delay := r.delay
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = fn()
		if err == nil || !kberrors.IsRetryable(err) {
			return err
		}
		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return kberrors.Wrap(ctx.Err(), kberrors.KindEmbeddingFailure, "embedding canceled during retry backoff")
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (r *Retry) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := r.do(ctx, func() error {
		var err error
		vec, err = r.inner.Embed(ctx, text)
		return err
	})
	return vec, err
}

func (r *Retry) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := r.do(ctx, func() error {
		var err error
		vecs, err = r.inner.EmbedBatch(ctx, texts)
		return err
	})
	return vecs, err
}

func (r *Retry) Dimensions() int { return r.inner.Dimensions() }

func (r *Retry) ModelName() string { return r.inner.ModelName() }

func (r *Retry) Available() bool { return r.inner.Available() }

func (r *Retry) Close() error { return r.inner.Close() }

var _ Embedder = (*Retry)(nil)
