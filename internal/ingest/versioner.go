package ingest

import (
	"context"
	"log/slog"
	"time"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/meta"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

// DeprecateTarget selects the active records to deprecate. HashContent
// is mandatory: deprecation always targets records by their content
// fingerprint, never by id alone. DocID, ChunkID, and ExcludeVersion
// narrow the match.
type DeprecateTarget struct {
	HashContent    string
	DocID          string
	ChunkID        string
	ExcludeVersion string
}

// Versioner flips active records to deprecated. It never deletes and
// never touches fingerprints; only status and updated_at change.
type Versioner struct {
	store store.Store
	now   func() time.Time
	log   *slog.Logger
}

// NewVersioner builds a Versioner over st.
func NewVersioner(st store.Store, log *slog.Logger) *Versioner {
	if log == nil {
		log = slog.Default()
	}
	return &Versioner{store: st, now: time.Now, log: log}
}

// Deprecate marks every active record matching target as deprecated and
// reports how many changed. Matching zero records is a success: the
// operation is idempotent.
func (v *Versioner) Deprecate(ctx context.Context, collection string, target DeprecateTarget) (int, error) {
	if target.HashContent == "" {
		return 0, kberrors.New(kberrors.KindInvalidInput, "deprecation requires a content hash").
			WithSuggestion("pass the hash_content of the version to deprecate")
	}

	conds := []*store.Filter{
		store.Eq("meta.hash_content", target.HashContent),
		store.Eq("meta.status", string(meta.StatusActive)),
	}
	if target.DocID != "" {
		conds = append(conds, store.Eq("meta.doc_id", target.DocID))
	}
	if target.ChunkID != "" {
		conds = append(conds, store.Eq("meta.chunk_id", target.ChunkID))
	}
	if target.ExcludeVersion != "" {
		conds = append(conds, &store.Filter{Field: "meta.version", Op: store.OpNe, Value: target.ExcludeVersion})
	}

	patch := map[string]any{
		"status":     string(meta.StatusDeprecated),
		"updated_at": meta.FormatTime(v.now().UTC()),
	}
	n, err := v.store.SetPayload(ctx, collection, store.And(conds...), patch)
	if err != nil {
		return 0, err
	}
	v.log.Debug("deprecated records",
		"collection", collection,
		"hash_content", target.HashContent,
		"doc_id", target.DocID,
		"chunk_id", target.ChunkID,
		"count", n)
	return n, nil
}
