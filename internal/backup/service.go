// Package backup round-trips collections through JSON: filtered export
// and import with per-record duplicate policies, and directory backups
// with checksum manifests that restore refuses to apply when stale.
package backup

import (
	"context"
	"log/slog"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/ingest"
	"github.com/vaultmcp/vaultmcp/internal/meta"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

// DefaultRoot is where backups land when no directory is configured.
const DefaultRoot = "./backups"

// Duplicate policies for import and restore.
const (
	PolicySkip   = "skip"
	PolicyUpdate = "update"
	PolicyError  = "error"
)

// Document is one exported record: the stored content, the flat
// metadata map, and optionally the stored vector.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Meta      map[string]any `json:"meta"`
	Embedding []float32      `json:"embedding,omitempty"`
}

// Service exports, imports, and archives collections.
type Service struct {
	store store.Store
	ctrl  *ingest.Controller
	root  string
	log   *slog.Logger
}

// NewService builds the backup service writing under root.
func NewService(st store.Store, ctrl *ingest.Controller, root string, log *slog.Logger) *Service {
	if root == "" {
		root = DefaultRoot
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, ctrl: ctrl, root: root, log: log}
}

// ExportInput selects what to materialize.
type ExportInput struct {
	Scope             ingest.Scope
	Filter            *store.Filter
	IncludeEmbeddings bool
}

// Export materializes every matching record. With scope all the
// document collection comes first, then code.
func (s *Service) Export(ctx context.Context, in ExportInput) ([]Document, error) {
	collections, err := s.ctrl.Collections(in.Scope)
	if err != nil {
		return nil, err
	}
	if in.Filter != nil {
		if err := store.ValidateFilter(in.Filter); err != nil {
			return nil, err
		}
	}

	docs := []Document{}
	for _, collection := range collections {
		err := s.store.Scroll(ctx, collection, in.Filter, in.IncludeEmbeddings, func(rec store.Record) error {
			doc := Document{
				ID:      rec.Point,
				Content: rec.Content,
				Meta:    meta.Flatten(rec.Env, rec.Chunk),
			}
			if in.IncludeEmbeddings {
				doc.Embedding = rec.Vector
			}
			docs = append(docs, doc)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	s.log.Info("documents exported",
		"scope", string(in.Scope),
		"count", len(docs),
		"embeddings", in.IncludeEmbeddings)
	return docs, nil
}

// ImportInput replays exported documents into one collection.
type ImportInput struct {
	Scope     ingest.Scope
	Documents []Document
	Policy    string
}

// ImportError records one document the import could not apply.
type ImportError struct {
	Index int    `json:"index"`
	DocID string `json:"doc_id,omitempty"`
	Error string `json:"error"`
}

// ImportResult tallies what the import did.
type ImportResult struct {
	Total    int           `json:"total"`
	Imported int           `json:"imported"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Errors   []ImportError `json:"errors,omitempty"`
}

// Import applies documents under a duplicate policy. Existence is
// judged against the store as it was before the import began, so one
// import can carry several versions of a document without tripping
// over itself. Active records run through the ingestion pipeline;
// historical records and chunks are preserved verbatim.
func (s *Service) Import(ctx context.Context, in ImportInput) (*ImportResult, error) {
	policy := in.Policy
	if policy == "" {
		policy = PolicySkip
	}
	switch policy {
	case PolicySkip, PolicyUpdate, PolicyError:
	default:
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "unknown duplicate policy %q", in.Policy).
			WithDetail("allowed", []string{PolicySkip, PolicyUpdate, PolicyError})
	}

	sink, err := s.ctrl.SinkFor(in.Scope)
	if err != nil {
		return nil, err
	}

	var existing map[string]bool
	if policy != PolicyUpdate {
		existing, err = s.existingDocIDs(ctx, sink.Collection)
		if err != nil {
			return nil, err
		}
	}

	res := &ImportResult{Total: len(in.Documents)}
	for i, doc := range in.Documents {
		if err := ctx.Err(); err != nil {
			return nil, kberrors.Wrap(err, kberrors.KindInternal, "import canceled")
		}
		if err := s.importOne(ctx, in.Scope, sink, doc, policy, existing, res); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, ImportError{
				Index: i,
				DocID: docID(doc),
				Error: err.Error(),
			})
		}
	}

	s.log.Info("documents imported",
		"collection", sink.Collection,
		"policy", policy,
		"total", res.Total,
		"imported", res.Imported,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"failed", res.Failed)
	return res, nil
}

func (s *Service) importOne(ctx context.Context, scope ingest.Scope, sink ingest.Sink, doc Document, policy string, existing map[string]bool, res *ImportResult) error {
	env, chunkInfo, err := meta.FromPayload(doc.Meta)
	if err != nil {
		return kberrors.Wrap(err, kberrors.KindInvalidMetadata, "unusable document metadata")
	}

	if existing != nil && existing[env.DocID] {
		switch policy {
		case PolicySkip:
			res.Skipped++
			return nil
		case PolicyError:
			return kberrors.Newf(kberrors.KindConflict, "document %s already exists", env.DocID)
		}
	}

	// Chunks and historical versions bypass the classifier: they are
	// records to preserve, not new truth to deduplicate.
	if chunkInfo != nil || env.Status != meta.StatusActive {
		if err := s.upsertVerbatim(ctx, sink, doc, env, chunkInfo); err != nil {
			return err
		}
		res.Imported++
		return nil
	}

	out, err := s.ctrl.Add(ctx, scope, ingest.AddInput{
		Content: doc.Content,
		Meta: meta.Input{
			DocID:    env.DocID,
			Version:  env.Version,
			Category: string(env.Category),
			Status:   string(env.Status),
			FilePath: env.FilePath,
			FileHash: env.FileHash,
			Source:   string(env.Source),
			Repo:     env.Repo,
			Tags:     env.Tags,
		},
	})
	if err != nil {
		return err
	}
	switch out.Action {
	case ingest.ActionUpdated:
		res.Updated++
	case ingest.ActionSkipped:
		res.Skipped++
	default:
		res.Imported++
	}
	return nil
}

// upsertVerbatim writes one record exactly as exported, embedding the
// content only when the export carried no vector.
func (s *Service) upsertVerbatim(ctx context.Context, sink ingest.Sink, doc Document, env meta.Envelope, chunkInfo *meta.ChunkInfo) error {
	vector := doc.Embedding
	if len(vector) == 0 {
		var err error
		vector, err = sink.Embedder.Embed(ctx, doc.Content)
		if err != nil {
			return err
		}
	}

	point := doc.ID
	if point == "" {
		point = store.PointID(env)
	}
	return s.store.Upsert(ctx, sink.Collection, []store.Record{{
		Point:   point,
		Content: doc.Content,
		Vector:  vector,
		Env:     env,
		Chunk:   chunkInfo,
	}})
}

// existingDocIDs snapshots the ids stored before the import so policy
// decisions never see records the import itself wrote.
func (s *Service) existingDocIDs(ctx context.Context, collection string) (map[string]bool, error) {
	ids := make(map[string]bool)
	err := s.store.Scroll(ctx, collection, nil, false, func(rec store.Record) error {
		ids[rec.Env.DocID] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func docID(doc Document) string {
	if doc.Meta == nil {
		return ""
	}
	id, _ := doc.Meta["doc_id"].(string)
	return id
}
