// Package search is the read side: semantic queries over the document
// and code collections, path lookups, and collection statistics.
package search

import (
	"context"
	"log/slog"
	"sort"

	"github.com/vaultmcp/vaultmcp/internal/embed"
	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/meta"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

// TopK limits.
const (
	DefaultTopK = 5
	MaxTopK     = 50
)

// Content types selecting which collections a query touches.
const (
	ContentAll  = "all"
	ContentDocs = "docs"
	ContentCode = "code"
)

// Target pairs a collection with the embedder that produced its
// vectors. Queries against a collection must embed with the same model.
type Target struct {
	Collection string
	Embedder   embed.Embedder
}

// Service answers queries.
type Service struct {
	store store.Store
	docs  Target
	code  Target
	log   *slog.Logger
}

// NewService builds the read service over both collections.
func NewService(st store.Store, docs, code Target, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, docs: docs, code: code, log: log}
}

// Query is one semantic search request.
type Query struct {
	Text        string
	TopK        int
	ContentType string
	Filter      *store.Filter
}

// Result is one search hit, flattened for the tool surface.
type Result struct {
	DocID       string   `json:"doc_id"`
	Score       float32  `json:"score"`
	Content     string   `json:"content"`
	Category    string   `json:"category"`
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	Source      string   `json:"source,omitempty"`
	Repo        string   `json:"repo,omitempty"`
	FilePath    string   `json:"file_path,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ChunkID     string   `json:"chunk_id,omitempty"`
	ChunkIndex  int      `json:"chunk_index,omitempty"`
	ParentDocID string   `json:"parent_doc_id,omitempty"`
	TotalChunks int      `json:"total_chunks,omitempty"`
	Collection  string   `json:"collection"`
	Point       string   `json:"point_reference"`
}

// Search embeds the query text and returns the nearest records across
// the selected collections, best first. Unless the caller's filter
// mentions meta.status, only active records are searched.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.Text == "" {
		return nil, kberrors.New(kberrors.KindInvalidInput, "query text is required")
	}
	topK := q.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	if topK < 1 || topK > MaxTopK {
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "top_k %d out of range [1, %d]", topK, MaxTopK)
	}
	targets, err := s.targets(q.ContentType)
	if err != nil {
		return nil, err
	}
	filter := defaultActive(q.Filter)

	var all []Result
	for _, t := range targets {
		vec, err := t.Embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, err
		}
		hits, err := s.store.Search(ctx, t.Collection, vec, filter, topK)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			all = append(all, toResult(h.Record, h.Score, t.Collection))
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Point < all[j].Point
	})
	if len(all) > topK {
		all = all[:topK]
	}
	s.log.Debug("search", "content_type", q.ContentType, "top_k", topK, "results", len(all))
	return all, nil
}

// ByPath returns the newest record stored for a file path, checking
// the document collection before code. Status defaults to active.
func (s *Service) ByPath(ctx context.Context, path, status string) (*Result, error) {
	if path == "" {
		return nil, kberrors.New(kberrors.KindInvalidInput, "file path is required")
	}
	if status == "" {
		status = string(meta.StatusActive)
	}
	if !meta.Status(status).Valid() {
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "unknown status %q", status)
	}
	filter := store.And(
		store.Eq("meta.file_path", path),
		store.Eq("meta.status", status),
	)
	for _, t := range []Target{s.docs, s.code} {
		var best *store.Record
		err := s.store.Scroll(ctx, t.Collection, filter, false, func(rec store.Record) error {
			if best == nil || rec.Env.UpdatedAt.After(best.Env.UpdatedAt) {
				r := rec
				best = &r
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if best != nil {
			res := toResult(*best, 0, t.Collection)
			return &res, nil
		}
	}
	return nil, kberrors.Newf(kberrors.KindNotFound, "no %s document stored for path %s", status, path)
}

func (s *Service) targets(contentType string) ([]Target, error) {
	switch contentType {
	case "", ContentAll:
		return []Target{s.docs, s.code}, nil
	case ContentDocs:
		return []Target{s.docs}, nil
	case ContentCode:
		return []Target{s.code}, nil
	default:
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "unknown content type %q", contentType).
			WithDetail("allowed", []string{ContentAll, ContentDocs, ContentCode})
	}
}

// defaultActive narrows a query to active records unless the caller's
// filter already takes a position on status.
func defaultActive(f *store.Filter) *store.Filter {
	active := store.Eq("meta.status", string(meta.StatusActive))
	if f == nil {
		return active
	}
	if mentionsStatus(f) {
		return f
	}
	return store.And(active, f)
}

func mentionsStatus(f *store.Filter) bool {
	if f == nil {
		return false
	}
	if f.Field == "meta.status" {
		return true
	}
	for _, c := range f.Conditions {
		if mentionsStatus(c) {
			return true
		}
	}
	return false
}

func toResult(rec store.Record, score float32, collection string) Result {
	res := Result{
		DocID:      rec.Env.DocID,
		Score:      score,
		Content:    rec.Content,
		Category:   string(rec.Env.Category),
		Status:     string(rec.Env.Status),
		Version:    rec.Env.Version,
		Source:     string(rec.Env.Source),
		Repo:       rec.Env.Repo,
		FilePath:   rec.Env.FilePath,
		Tags:       rec.Env.Tags,
		Collection: collection,
		Point:      rec.Point,
	}
	if rec.Chunk != nil {
		res.ChunkID = rec.Chunk.ChunkID
		res.ChunkIndex = rec.Chunk.Index
		res.ParentDocID = rec.Chunk.ParentDocID
		res.TotalChunks = rec.Chunk.Total
	}
	return res
}
