// Package ingest runs the write path: fingerprint, classify against
// what is stored, deprecate what the write replaces, embed only what
// changed, and upsert. All writes for one document are serialized.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vaultmcp/vaultmcp/internal/chunk"
	"github.com/vaultmcp/vaultmcp/internal/dedup"
	"github.com/vaultmcp/vaultmcp/internal/embed"
	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/fingerprint"
	"github.com/vaultmcp/vaultmcp/internal/meta"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

// Scope selects which collections an operation touches.
type Scope string

const (
	ScopeDocs Scope = "docs"
	ScopeCode Scope = "code"
	ScopeAll  Scope = "all"
)

// Actions reported in results.
const (
	ActionStored  = "stored"
	ActionUpdated = "updated"
	ActionSkipped = "skipped"
)

// Sink pairs a collection with the embedder that fills it. Documents
// and code use separate collections because their models differ.
type Sink struct {
	Collection string
	Embedder   embed.Embedder
}

// Options configures a Controller.
type Options struct {
	Store      store.Store
	Docs       Sink
	Code       Sink
	Splitter   *chunk.Splitter
	Classifier *dedup.Classifier
	Builder    *meta.Builder

	// SimilarityEnabled turns on the level 3 near-duplicate probe for
	// whole-document adds.
	SimilarityEnabled bool

	Logger *slog.Logger
}

// Controller coordinates the write path.
type Controller struct {
	store      store.Store
	docs       Sink
	code       Sink
	splitter   *chunk.Splitter
	classifier *dedup.Classifier
	versioner  *Versioner
	builder    *meta.Builder
	locks      *keyedMutex
	similarity bool
	log        *slog.Logger
}

// NewController validates opts and builds the controller.
func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, kberrors.New(kberrors.KindInternal, "ingest controller requires a store")
	}
	if opts.Docs.Collection == "" || opts.Docs.Embedder == nil {
		return nil, kberrors.New(kberrors.KindInternal, "ingest controller requires a document sink")
	}
	if opts.Code.Collection == "" || opts.Code.Embedder == nil {
		return nil, kberrors.New(kberrors.KindInternal, "ingest controller requires a code sink")
	}
	if opts.Splitter == nil {
		return nil, kberrors.New(kberrors.KindInternal, "ingest controller requires a splitter")
	}
	if opts.Classifier == nil {
		opts.Classifier = dedup.NewClassifier(dedup.DefaultThreshold)
	}
	if opts.Builder == nil {
		opts.Builder = meta.NewBuilder("")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Controller{
		store:      opts.Store,
		docs:       opts.Docs,
		code:       opts.Code,
		splitter:   opts.Splitter,
		classifier: opts.Classifier,
		versioner:  NewVersioner(opts.Store, opts.Logger),
		builder:    opts.Builder,
		locks:      newKeyedMutex(64),
		similarity: opts.SimilarityEnabled,
		log:        opts.Logger,
	}, nil
}

// Collections resolves a scope to collection names.
func (c *Controller) Collections(scope Scope) ([]string, error) {
	switch scope {
	case "", ScopeDocs:
		return []string{c.docs.Collection}, nil
	case ScopeCode:
		return []string{c.code.Collection}, nil
	case ScopeAll:
		return []string{c.docs.Collection, c.code.Collection}, nil
	default:
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "unknown scope %q", scope).
			WithDetail("allowed", []string{string(ScopeDocs), string(ScopeCode), string(ScopeAll)})
	}
}

// SinkFor resolves a scope to its collection and embedder. Only the
// single-collection scopes are write targets.
func (c *Controller) SinkFor(scope Scope) (Sink, error) {
	switch scope {
	case "", ScopeDocs:
		return c.docs, nil
	case ScopeCode:
		return c.code, nil
	default:
		return Sink{}, kberrors.Newf(kberrors.KindInvalidInput, "scope %q is not a write target", scope).
			WithDetail("allowed", []string{string(ScopeDocs), string(ScopeCode)})
	}
}

// AddInput is one document to ingest.
type AddInput struct {
	Content string
	Meta    meta.Input

	// Chunk splits the document and stores chunk records instead of one
	// whole record.
	Chunk bool

	// ChunkSize and ChunkOverlap override the configured splitter for
	// this write. A zero size keeps the configured size; a nil overlap
	// keeps the configured overlap, so an explicit zero still means no
	// overlap.
	ChunkSize    int
	ChunkOverlap *int
}

// AddResult reports what the pipeline did with a document.
type AddResult struct {
	DocID          string   `json:"doc_id"`
	Action         string   `json:"action"`
	DuplicateLevel int      `json:"duplicate_level"`
	Reason         string   `json:"reason"`
	Version        string   `json:"version,omitempty"`
	Category       string   `json:"category,omitempty"`
	HashContent    string   `json:"hash_content,omitempty"`
	Points         []string `json:"points,omitempty"`
	Deprecated     int      `json:"deprecated,omitempty"`
	Chunked        bool     `json:"chunked,omitempty"`
	TotalChunks    int      `json:"total_chunks,omitempty"`
	EmbeddedChunks int      `json:"embedded_chunks,omitempty"`
	Unchanged      int      `json:"unchanged,omitempty"`
	Changed        int      `json:"changed,omitempty"`
	Added          int      `json:"added,omitempty"`
	Removed        int      `json:"removed,omitempty"`
	ChunkIDs       []string `json:"chunk_ids,omitempty"`
	Warning        string   `json:"warning,omitempty"`
	SimilarDocID   string   `json:"similar_doc_id,omitempty"`
	Similarity     float64  `json:"similarity,omitempty"`
	Language       string   `json:"language,omitempty"`
}

// AddDocument ingests a text document into the document collection.
func (c *Controller) AddDocument(ctx context.Context, in AddInput) (*AddResult, error) {
	return c.add(ctx, c.docs, in)
}

// Add ingests one document into the collection a scope names. The
// import path uses it to route restored records through the same
// pipeline as live writes.
func (c *Controller) Add(ctx context.Context, scope Scope, in AddInput) (*AddResult, error) {
	sink, err := c.SinkFor(scope)
	if err != nil {
		return nil, err
	}
	return c.add(ctx, sink, in)
}

func (c *Controller) add(ctx context.Context, sink Sink, in AddInput) (*AddResult, error) {
	content := fingerprint.Normalize(in.Content)
	if content == "" {
		return nil, kberrors.New(kberrors.KindInvalidInput, "content is empty")
	}
	hash := fingerprint.Hash(content)

	env, err := c.builder.Build(in.Meta, hash)
	if err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(sink.Collection + "\x00" + env.DocID)
	defer unlock()

	if in.Chunk {
		splitter, err := c.splitterFor(in)
		if err != nil {
			return nil, err
		}
		return c.addChunked(ctx, sink, splitter, env, content)
	}
	return c.addWhole(ctx, sink, env, content)
}

// splitterFor applies per-write chunk size overrides to the configured
// splitter.
func (c *Controller) splitterFor(in AddInput) (*chunk.Splitter, error) {
	if in.ChunkSize == 0 && in.ChunkOverlap == nil {
		return c.splitter, nil
	}
	size, overlap := c.splitter.Size, c.splitter.Overlap
	if in.ChunkSize != 0 {
		size = in.ChunkSize
	}
	if in.ChunkOverlap != nil {
		overlap = *in.ChunkOverlap
	}
	return chunk.NewSplitter(size, overlap)
}

func (c *Controller) addWhole(ctx context.Context, sink Sink, env meta.Envelope, content string) (*AddResult, error) {
	existing, err := c.loadIdentity(ctx, sink.Collection, env)
	if err != nil {
		return nil, err
	}

	cand := dedup.Candidate{
		DocID:        env.DocID,
		HashContent:  env.HashContent,
		MetadataHash: env.MetadataHash,
	}
	var sim dedup.SimilarityFunc
	if c.similarity {
		sim = c.similarityProbe(sink, content)
	}
	decision, err := c.classifier.Classify(ctx, cand, existing, sim)
	if err != nil {
		return nil, err
	}

	res := &AddResult{
		DocID:          env.DocID,
		DuplicateLevel: decision.Level,
		Reason:         decision.Reason,
		Version:        env.Version,
		Category:       string(env.Category),
		HashContent:    env.HashContent,
	}

	switch decision.Action {
	case dedup.ActionSkip:
		res.Action = ActionSkipped
		if decision.Match != nil {
			res.Version = decision.Match.Version
			res.Points = []string{decision.Match.Point}
		}
		c.log.Info("skipped duplicate document", "doc_id", env.DocID, "level", decision.Level)
		return res, nil

	case dedup.ActionUpdate:
		// Deprecate the replaced version before anything new is written.
		n, err := c.versioner.Deprecate(ctx, sink.Collection, DeprecateTarget{
			HashContent: decision.Match.HashContent,
			DocID:       decision.Match.DocID,
		})
		if err != nil {
			return nil, err
		}
		res.Deprecated = n
		res.Action = ActionUpdated

	case dedup.ActionWarn:
		res.Action = ActionStored
		res.Warning = decision.Reason
		if decision.Similar != nil {
			res.SimilarDocID = decision.Similar.DocID
			res.Similarity = decision.Similarity
		}

	default:
		res.Action = ActionStored
	}

	vec, err := sink.Embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}
	rec := store.Record{
		Point:   store.PointID(env),
		Content: content,
		Vector:  vec,
		Env:     env,
	}
	if err := c.store.Upsert(ctx, sink.Collection, []store.Record{rec}); err != nil {
		return nil, err
	}
	res.Points = []string{rec.Point}

	if err := c.ensureSingleActive(ctx, sink.Collection, env); err != nil {
		return nil, err
	}
	// A document that used to be chunked is now whole; retire the
	// leftover chunk family.
	n, err := c.retireChunks(ctx, sink.Collection, env.DocID)
	if err != nil {
		return nil, err
	}
	res.Deprecated += n

	c.log.Info("stored document",
		"doc_id", env.DocID,
		"action", res.Action,
		"level", decision.Level,
		"version", env.Version)
	return res, nil
}

func (c *Controller) addChunked(ctx context.Context, sink Sink, splitter *chunk.Splitter, parent meta.Envelope, content string) (*AddResult, error) {
	fresh := splitter.Split(content)
	if len(fresh) == 0 {
		return nil, kberrors.New(kberrors.KindInvalidInput, "content is empty")
	}

	old, prevTotal, err := c.loadChunks(ctx, sink.Collection, parent.DocID)
	if err != nil {
		return nil, err
	}
	diff := chunk.Compare(old, fresh)

	res := &AddResult{
		DocID:          parent.DocID,
		Version:        parent.Version,
		Category:       string(parent.Category),
		HashContent:    parent.HashContent,
		Chunked:        true,
		TotalChunks:    len(fresh),
		EmbeddedChunks: len(diff.Changed) + len(diff.Added),
		Unchanged:      len(diff.Unchanged),
		Changed:        len(diff.Changed),
		Added:          len(diff.Added),
		Removed:        len(diff.Removed),
	}
	for i := range fresh {
		res.ChunkIDs = append(res.ChunkIDs, meta.ChunkID(parent.DocID, i))
	}
	switch {
	case len(old) == 0:
		res.Action = ActionStored
		res.DuplicateLevel = dedup.LevelNew
		res.Reason = "no duplicate found"
	case len(diff.Changed) == 0 && len(diff.Added) == 0 && len(diff.Removed) == 0:
		res.Action = ActionSkipped
		res.DuplicateLevel = dedup.LevelExact
		res.Reason = fmt.Sprintf("all %d chunks unchanged", len(old))
		return res, nil
	default:
		res.Action = ActionUpdated
		res.DuplicateLevel = dedup.LevelUpdate
		res.Reason = fmt.Sprintf("%d changed, %d added, %d removed of %d chunks",
			len(diff.Changed), len(diff.Added), len(diff.Removed), len(fresh))
	}

	// Deprecate replaced and removed chunks before writing replacements.
	for _, e := range diff.ChangedOld {
		n, err := c.versioner.Deprecate(ctx, sink.Collection, DeprecateTarget{HashContent: e.Hash, ChunkID: e.ChunkID})
		if err != nil {
			return nil, err
		}
		res.Deprecated += n
	}
	for _, e := range diff.Removed {
		n, err := c.versioner.Deprecate(ctx, sink.Collection, DeprecateTarget{HashContent: e.Hash, ChunkID: e.ChunkID})
		if err != nil {
			return nil, err
		}
		res.Deprecated += n
	}

	toEmbed := diff.Embed()
	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for i, ch := range toEmbed {
			texts[i] = ch.Content
		}
		vecs, err := sink.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		recs := make([]store.Record, len(toEmbed))
		for i, ch := range toEmbed {
			env, info := c.builder.BuildChunk(parent, ch.Index, len(fresh), ch.Hash)
			recs[i] = store.Record{
				Point:   store.PointID(env),
				Content: ch.Content,
				Vector:  vecs[i],
				Env:     env,
				Chunk:   &info,
			}
			res.Points = append(res.Points, recs[i].Point)
		}
		if err := c.store.Upsert(ctx, sink.Collection, recs); err != nil {
			return nil, err
		}
	}

	// When the chunk count changed, surviving chunks still carry the old
	// total; patch it so the active family stays contiguous and counted.
	if prevTotal != len(fresh) && len(diff.Unchanged) > 0 {
		ids := make([]string, len(diff.Unchanged))
		for i, e := range diff.Unchanged {
			ids[i] = e.ChunkID
		}
		_, err := c.store.SetPayload(ctx, sink.Collection, store.And(
			store.Eq("meta.parent_doc_id", parent.DocID),
			store.Eq("meta.status", string(meta.StatusActive)),
			store.In("meta.chunk_id", ids...),
		), map[string]any{"total_chunks": len(fresh)})
		if err != nil {
			return nil, err
		}
	}

	// The document used to be stored whole; retire that record.
	n, err := c.retireWhole(ctx, sink.Collection, parent.DocID, parent.Version)
	if err != nil {
		return nil, err
	}
	res.Deprecated += n

	c.log.Info("stored chunked document",
		"doc_id", parent.DocID,
		"action", res.Action,
		"total_chunks", len(fresh),
		"embedded", res.EmbeddedChunks,
		"deprecated", res.Deprecated)
	return res, nil
}

// loadIdentity fetches the active records sharing the candidate's
// doc_id, content hash, or metadata fingerprint. Chunk records are
// excluded; their fingerprints are inherited and classified through the
// chunk diff instead.
func (c *Controller) loadIdentity(ctx context.Context, collection string, env meta.Envelope) ([]dedup.Existing, error) {
	filter := store.And(
		store.Eq("meta.status", string(meta.StatusActive)),
		store.Or(
			store.Eq("meta.doc_id", env.DocID),
			store.Eq("meta.hash_content", env.HashContent),
			store.Eq("meta.metadata_hash", env.MetadataHash),
		),
	)
	var out []dedup.Existing
	err := c.store.Scroll(ctx, collection, filter, false, func(rec store.Record) error {
		if rec.Chunk != nil {
			return nil
		}
		out = append(out, dedup.Existing{
			Point:        rec.Point,
			DocID:        rec.Env.DocID,
			Version:      rec.Env.Version,
			HashContent:  rec.Env.HashContent,
			MetadataHash: rec.Env.MetadataHash,
			Status:       rec.Env.Status,
			UpdatedAt:    rec.Env.UpdatedAt,
		})
		return nil
	})
	return out, err
}

func (c *Controller) loadChunks(ctx context.Context, collection, docID string) ([]chunk.Existing, int, error) {
	filter := store.And(
		store.Eq("meta.parent_doc_id", docID),
		store.Eq("meta.status", string(meta.StatusActive)),
	)
	var out []chunk.Existing
	total := 0
	err := c.store.Scroll(ctx, collection, filter, false, func(rec store.Record) error {
		if rec.Chunk == nil {
			return nil
		}
		out = append(out, chunk.Existing{
			Index:   rec.Chunk.Index,
			Hash:    rec.Env.HashContent,
			ChunkID: rec.Chunk.ChunkID,
			Point:   rec.Point,
		})
		if rec.Chunk.Total > total {
			total = rec.Chunk.Total
		}
		return nil
	})
	return out, total, err
}

func (c *Controller) similarityProbe(sink Sink, content string) dedup.SimilarityFunc {
	return func(ctx context.Context) (*dedup.Neighbor, error) {
		vec, err := sink.Embedder.Embed(ctx, content)
		if err != nil {
			return nil, err
		}
		hits, err := c.store.Search(ctx, sink.Collection, vec,
			store.Eq("meta.status", string(meta.StatusActive)), 1)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			return nil, nil
		}
		return &dedup.Neighbor{
			Point: hits[0].Point,
			DocID: hits[0].Env.DocID,
			Score: float64(hits[0].Score),
		}, nil
	}
}

// ensureSingleActive deprecates any active whole record of keep's
// doc_id other than keep itself. Normally a no-op; it heals states left
// by writers that died between deprecate and upsert.
func (c *Controller) ensureSingleActive(ctx context.Context, collection string, keep meta.Envelope) error {
	filter := store.And(
		store.Eq("meta.doc_id", keep.DocID),
		store.Eq("meta.status", string(meta.StatusActive)),
	)
	var extras []store.Record
	err := c.store.Scroll(ctx, collection, filter, false, func(rec store.Record) error {
		if rec.Chunk != nil || rec.Env.Version == keep.Version {
			return nil
		}
		extras = append(extras, rec)
		return nil
	})
	if err != nil {
		return err
	}
	for _, rec := range extras {
		if _, err := c.versioner.Deprecate(ctx, collection, DeprecateTarget{
			HashContent:    rec.Env.HashContent,
			DocID:          keep.DocID,
			ExcludeVersion: keep.Version,
		}); err != nil {
			return err
		}
	}
	return nil
}

// retireChunks deprecates the active chunk family of docID.
func (c *Controller) retireChunks(ctx context.Context, collection, docID string) (int, error) {
	chunks, _, err := c.loadChunks(ctx, collection, docID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range chunks {
		n, err := c.versioner.Deprecate(ctx, collection, DeprecateTarget{HashContent: e.Hash, ChunkID: e.ChunkID})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// retireWhole deprecates active whole records of docID except the given
// version.
func (c *Controller) retireWhole(ctx context.Context, collection, docID, excludeVersion string) (int, error) {
	filter := store.And(
		store.Eq("meta.doc_id", docID),
		store.Eq("meta.status", string(meta.StatusActive)),
	)
	var whole []store.Record
	err := c.store.Scroll(ctx, collection, filter, false, func(rec store.Record) error {
		if rec.Chunk != nil || rec.Env.Version == excludeVersion {
			return nil
		}
		whole = append(whole, rec)
		return nil
	})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, rec := range whole {
		n, err := c.versioner.Deprecate(ctx, collection, DeprecateTarget{
			HashContent:    rec.Env.HashContent,
			DocID:          docID,
			ExcludeVersion: excludeVersion,
		})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
