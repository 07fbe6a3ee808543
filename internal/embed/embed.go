// Package embed turns text into dense vectors. Providers implement the
// Embedder interface; decorators add caching, call serialization, and
// retries. Compose them with New.
package embed

import (
	"context"
)

// Embedder converts text into fixed-size dense vectors. Implementations
// must be safe for concurrent use and must return vectors of exactly
// Dimensions() length.
type Embedder interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the vector length this embedder produces.
	Dimensions() int

	// ModelName identifies the model, for cache keys and diagnostics.
	ModelName() string

	// Available reports whether the provider can serve requests now.
	Available() bool

	// Close releases provider resources.
	Close() error
}

// Provider names accepted by New.
const (
	ProviderStatic = "static"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)
