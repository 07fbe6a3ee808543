package embed

import (
	"time"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
)

// Options selects and tunes an embedder stack.
type Options struct {
	// Provider is one of static, openai, ollama.
	Provider string

	Model      string
	Dimensions int

	// APIKey and BaseURL apply to the openai provider.
	APIKey  string
	BaseURL string

	// Host applies to the ollama provider.
	Host string

	CacheSize int
	Timeout   time.Duration

	RetryAttempts int
	RetryDelay    time.Duration
}

// New builds the embedder stack for opts: the provider, serialized when
// it is a local server, wrapped in retries, wrapped in the cache. Cache
// hits therefore skip locking and retry entirely.
func New(opts Options) (Embedder, error) {
	var (
		provider Embedder
		err      error
	)
	switch opts.Provider {
	case ProviderStatic, "":
		provider, err = NewStatic(opts.Dimensions)
	case ProviderOpenAI:
		provider, err = NewOpenAI(OpenAIConfig{
			APIKey:     opts.APIKey,
			BaseURL:    opts.BaseURL,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
		})
	case ProviderOllama:
		var o *Ollama
		o, err = NewOllama(OllamaConfig{
			Host:       opts.Host,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			Timeout:    opts.Timeout,
		})
		if err == nil {
			provider = NewLocked(o)
		}
	default:
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "unknown embedding provider %q", opts.Provider).
			WithDetail("allowed", []string{ProviderStatic, ProviderOpenAI, ProviderOllama})
	}
	if err != nil {
		return nil, err
	}

	stack := Embedder(NewRetry(provider, opts.RetryAttempts, opts.RetryDelay))
	return NewCached(stack, opts.CacheSize)
}
