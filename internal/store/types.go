// Package store persists embedded records in a vector database. The
// Store interface is implemented by the qdrant driver for production
// and by an in-memory driver for development and tests.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/vaultmcp/vaultmcp/internal/meta"
)

// Record is one stored point: content, vector, and metadata envelope.
// Chunk is nil for whole documents.
type Record struct {
	Point   string
	Content string
	Vector  []float32
	Env     meta.Envelope
	Chunk   *meta.ChunkInfo
}

// Hit is a search result with its similarity score.
type Hit struct {
	Record
	Score float32
}

// IndexReport says which payload indexes EnsureIndexes created and
// which already existed.
type IndexReport struct {
	Created  []string
	Existing []string
}

// Store is the persistence contract. Implementations classify their
// failures with the shared error taxonomy so callers never inspect
// driver errors.
type Store interface {
	// EnsureCollection creates the collection with the given vector size
	// if it does not exist, and verifies the size if it does.
	EnsureCollection(ctx context.Context, collection string, dims int) error

	// EnsureIndexes creates the keyword payload indexes every filterable
	// field needs. Idempotent.
	EnsureIndexes(ctx context.Context, collection string) (IndexReport, error)

	// Upsert writes records, overwriting points with the same id.
	Upsert(ctx context.Context, collection string, recs []Record) error

	// Get fetches one point by id. Returns NotFound if absent.
	Get(ctx context.Context, collection, point string, withVector bool) (*Record, error)

	// Search returns the limit nearest records to vector, filtered.
	Search(ctx context.Context, collection string, vector []float32, filter *Filter, limit int) ([]Hit, error)

	// Scroll streams every record matching filter to fn in stable order.
	// A non-nil error from fn aborts the scroll and is returned.
	Scroll(ctx context.Context, collection string, filter *Filter, withVectors bool, fn func(Record) error) error

	// SetPayload merges patch into the metadata of every record matching
	// filter and reports how many were touched.
	SetPayload(ctx context.Context, collection string, filter *Filter, patch map[string]any) (int, error)

	// DeleteByFilter removes every record matching filter and reports
	// how many were removed.
	DeleteByFilter(ctx context.Context, collection string, filter *Filter) (int, error)

	// Count reports how many records match filter; nil counts all.
	Count(ctx context.Context, collection string, filter *Filter) (uint64, error)

	// Close releases client resources.
	Close() error
}

// pointNamespace seeds deterministic point ids. Never change it;
// changing it orphans every stored point.
var pointNamespace = uuid.MustParse("b4e6d1a2-58c3-47fb-9a02-d16f2cfad9e1")

// PointID derives the stable point id for an envelope from its
// identity triple. The same document version always maps to the same
// point, so replays overwrite instead of duplicating.
func PointID(env meta.Envelope) string {
	seed := env.DocID + "\x00" + env.HashContent + "\x00" + env.Version
	return uuid.NewSHA1(pointNamespace, []byte(seed)).String()
}
