package embed

import (
	"context"
	"sync/atomic"
)

// countingEmbedder is a test double that counts calls and can fail a
// configured number of times before succeeding.
type countingEmbedder struct {
	embedCalls atomic.Int64
	batchCalls atomic.Int64
	failures   atomic.Int64
	failWith   error
	dims       int
	model      string
	vector     []float32
}

func newCountingEmbedder(dims int) *countingEmbedder {
	vec := make([]float32, dims)
	for i := range vec {
		vec[i] = float32(i+1) * 0.01
	}
	return &countingEmbedder{dims: dims, model: "counting-model", vector: vec}
}

// failNext makes the next n calls return err.
func (m *countingEmbedder) failNext(n int, err error) {
	m.failures.Store(int64(n))
	m.failWith = err
}

func (m *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.embedCalls.Add(1)
	if m.failures.Load() > 0 {
		m.failures.Add(-1)
		return nil, m.failWith
	}
	return m.vector, nil
}

func (m *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.batchCalls.Add(1)
	if m.failures.Load() > 0 {
		m.failures.Add(-1)
		return nil, m.failWith
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = m.vector
	}
	return out, nil
}

func (m *countingEmbedder) Dimensions() int { return m.dims }

func (m *countingEmbedder) ModelName() string { return m.model }

func (m *countingEmbedder) Available() bool { return true }

func (m *countingEmbedder) Close() error { return nil }

var _ Embedder = (*countingEmbedder)(nil)
