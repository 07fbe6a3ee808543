package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
)

// Ollama defaults.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

// Ollama embeds text through a local Ollama server's /api/embed
// endpoint.
type Ollama struct {
	host   string
	model  string
	dims   int
	client *http.Client
}

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// NewOllama builds the embedder. The server is not contacted until the
// first call; use Available to probe it.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.Dimensions <= 0 {
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "embedding dimensions must be positive, got %d", cfg.Dimensions)
	}
	host := cfg.Host
	if host == "" {
		host = DefaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Ollama{
		host:   host,
		model:  model,
		dims:   cfg.Dimensions,
		client: &http.Client{Timeout: timeout},
	}, nil
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return nil, kberrors.Wrap(err, kberrors.KindInternal, "marshal ollama request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, kberrors.Wrap(err, kberrors.KindInternal, "build ollama request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, kberrors.Wrapf(err, kberrors.KindEmbeddingFailure, "ollama request to %s failed", o.host).
			WithSuggestion("check that ollama is running and OLLAMA_HOST is correct")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, kberrors.Wrap(err, kberrors.KindEmbeddingFailure, "read ollama response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, kberrors.Newf(kberrors.KindEmbeddingFailure, "ollama returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, kberrors.Wrap(err, kberrors.KindEmbeddingFailure, "decode ollama response")
	}
	if parsed.Error != "" {
		return nil, kberrors.Newf(kberrors.KindEmbeddingFailure, "ollama error: %s", parsed.Error)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, kberrors.Newf(kberrors.KindEmbeddingFailure, "ollama returned %d embeddings for %d inputs", len(parsed.Embeddings), len(texts))
	}
	for i, vec := range parsed.Embeddings {
		if len(vec) != o.dims {
			return nil, kberrors.Newf(kberrors.KindEmbeddingFailure, "ollama returned %d dimensions for input %d, expected %d", len(vec), i, o.dims)
		}
	}
	return parsed.Embeddings, nil
}

func (o *Ollama) Dimensions() int { return o.dims }

func (o *Ollama) ModelName() string { return o.model }

// Available probes the server version endpoint with a short timeout.
func (o *Ollama) Available() bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(o.host + "/api/version")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (o *Ollama) Close() error {
	o.client.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}

var _ Embedder = (*Ollama)(nil)
