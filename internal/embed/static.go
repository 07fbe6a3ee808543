package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
)

// Feature weights for the hashed representation. Tokens carry most of
// the signal; character trigrams keep near-identical texts close even
// when tokenization differs.
const (
	tokenWeight   = 0.7
	trigramWeight = 0.3
)

// Static is a deterministic, dependency-free embedder. It hashes word
// tokens and character trigrams into a fixed number of buckets and
// L2-normalizes the result. Quality is far below a learned model, but
// identical text always maps to the identical vector, which is all the
// duplicate pipeline and the tests need. It also backs the memory
// driver in development.
type Static struct {
	dims int
}

// NewStatic returns a static embedder emitting vectors of dims length.
func NewStatic(dims int) (*Static, error) {
	if dims <= 0 {
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "embedding dimensions must be positive, got %d", dims)
	}
	return &Static{dims: dims}, nil
}

func (s *Static) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, kberrors.Wrap(err, kberrors.KindEmbeddingFailure, "embedding canceled")
	}

	vec := make([]float32, s.dims)
	lower := strings.ToLower(text)

	for _, tok := range strings.Fields(lower) {
		vec[s.bucket(tok)] += tokenWeight
	}

	runes := []rune(lower)
	for i := 0; i+3 <= len(runes); i++ {
		vec[s.bucket(string(runes[i:i+3]))] += trigramWeight
	}

	normalize(vec)
	return vec, nil
}

func (s *Static) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *Static) Dimensions() int { return s.dims }

func (s *Static) ModelName() string { return "static-hash" }

func (s *Static) Available() bool { return true }

func (s *Static) Close() error { return nil }

func (s *Static) bucket(feature string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	return int(h.Sum32() % uint32(s.dims))
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}

var _ Embedder = (*Static)(nil)
