package embed

import (
	"context"
	"sync"
)

// Locked serializes provider calls. Local inference servers commonly
// degrade or error under parallel requests, so the factory wraps the
// ollama provider with it. Cache lookups stay outside the lock because
// Locked sits beneath Cached in the stack.
type Locked struct {
	mu    sync.Mutex
	inner Embedder
}

// NewLocked wraps inner so at most one call runs at a time.
func NewLocked(inner Embedder) *Locked {
	return &Locked{inner: inner}
}

func (l *Locked) Embed(ctx context.Context, text string) ([]float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Embed(ctx, text)
}

func (l *Locked) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.EmbedBatch(ctx, texts)
}

func (l *Locked) Dimensions() int { return l.inner.Dimensions() }

func (l *Locked) ModelName() string { return l.inner.ModelName() }

func (l *Locked) Available() bool { return l.inner.Available() }

func (l *Locked) Close() error { return l.inner.Close() }

var _ Embedder = (*Locked)(nil)
