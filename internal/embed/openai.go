package embed

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAI embeds text through the OpenAI embeddings API, or any
// compatible endpoint reachable through a custom base URL.
type OpenAI struct {
	client openai.Client
	model  string
	dims   int
	apiKey string
}

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions requests reduced-size vectors from text-embedding-3
	// models and declares the expected vector length for all others.
	Dimensions int
}

// NewOpenAI validates cfg and builds the client. The API key is
// required; requests without one fail at the server with no useful
// message, so reject early.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, kberrors.New(kberrors.KindInvalidInput, "openai embedder requires an API key").
			WithSuggestion("set OPENAI_API_KEY or switch the embedding provider")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "embedding dimensions must be positive, got %d", dims)
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		dims:   dims,
		apiKey: cfg.APIKey,
	}, nil
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	// Only the text-embedding-3 family accepts a dimensions override.
	if strings.HasPrefix(o.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(o.dims))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, kberrors.Wrapf(err, kberrors.KindEmbeddingFailure, "openai embedding request failed for model %s", o.model)
	}
	if len(resp.Data) != len(texts) {
		return nil, kberrors.Newf(kberrors.KindEmbeddingFailure, "openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, kberrors.Newf(kberrors.KindEmbeddingFailure, "openai returned embedding for unknown index %d", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		if len(vec) != o.dims {
			return nil, kberrors.Newf(kberrors.KindEmbeddingFailure, "openai returned %d dimensions, expected %d", len(vec), o.dims)
		}
		out[d.Index] = vec
	}
	return out, nil
}

func (o *OpenAI) Dimensions() int { return o.dims }

func (o *OpenAI) ModelName() string { return o.model }

func (o *OpenAI) Available() bool { return o.apiKey != "" }

func (o *OpenAI) Close() error { return nil }

var _ Embedder = (*OpenAI)(nil)
