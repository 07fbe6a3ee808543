package ingest

import (
	"context"
	"sort"

	"github.com/google/uuid"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/meta"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

// DocumentView is the read-side shape of one document: either a whole
// record or its active chunk family in index order.
type DocumentView struct {
	Collection string
	Record     *store.Record
	Chunks     []store.Record
}

// Chunked reports whether the document is stored as chunks.
func (v *DocumentView) Chunked() bool { return len(v.Chunks) > 0 }

// Env returns the envelope describing the document. For chunked
// documents it is synthesized from the first chunk with the parent's
// doc_id; its HashContent is empty because parents of chunked documents
// are not stored.
func (v *DocumentView) Env() meta.Envelope {
	if v.Record != nil {
		return v.Record.Env
	}
	env := v.Chunks[0].Env
	env.DocID = v.Chunks[0].Chunk.ParentDocID
	env.HashContent = ""
	return env
}

// GetDocument resolves docID in one collection: the newest active whole
// record first, then the active chunk family, then the newest record of
// any status. Returns NotFound when nothing matches.
func (c *Controller) GetDocument(ctx context.Context, collection, docID string) (*DocumentView, error) {
	if docID == "" {
		return nil, kberrors.New(kberrors.KindInvalidInput, "doc_id is required")
	}

	if rec := newestWhole(c.pickRecords(ctx, collection, store.And(
		store.Eq("meta.doc_id", docID),
		store.Eq("meta.status", string(meta.StatusActive)),
	))); rec != nil {
		return &DocumentView{Collection: collection, Record: rec}, nil
	}

	chunks := c.pickRecords(ctx, collection, store.And(
		store.Eq("meta.parent_doc_id", docID),
		store.Eq("meta.status", string(meta.StatusActive)),
	))
	if family := newestChunkFamily(chunks); len(family) > 0 {
		return &DocumentView{Collection: collection, Chunks: family}, nil
	}

	if rec := newestWhole(c.pickRecords(ctx, collection, store.Eq("meta.doc_id", docID))); rec != nil {
		return &DocumentView{Collection: collection, Record: rec}, nil
	}
	return nil, kberrors.Newf(kberrors.KindNotFound, "document %s not found", docID)
}

// FindDocument resolves docID across the document and code collections,
// documents first.
func (c *Controller) FindDocument(ctx context.Context, docID string) (*DocumentView, Sink, error) {
	view, err := c.GetDocument(ctx, c.docs.Collection, docID)
	if err == nil {
		return view, c.docs, nil
	}
	if !kberrors.IsKind(err, kberrors.KindNotFound) {
		return nil, Sink{}, err
	}
	view, err = c.GetDocument(ctx, c.code.Collection, docID)
	if err != nil {
		return nil, Sink{}, err
	}
	return view, c.code, nil
}

// ResolveDocID turns a caller-supplied reference into a document id.
// The reference may be a doc_id, a chunk id, or a stored point id;
// chunk references resolve to their parent document.
func (c *Controller) ResolveDocID(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", kberrors.New(kberrors.KindInvalidInput, "point_reference is required")
	}

	view, _, err := c.FindDocument(ctx, ref)
	if err == nil {
		if view.Record != nil && view.Record.Chunk != nil {
			return view.Record.Chunk.ParentDocID, nil
		}
		return view.Env().DocID, nil
	}
	if !kberrors.IsKind(err, kberrors.KindNotFound) {
		return "", err
	}

	// Point ids are UUIDs; anything else cannot name a stored point.
	if uuid.Validate(ref) == nil {
		for _, collection := range []string{c.docs.Collection, c.code.Collection} {
			rec, err := c.store.Get(ctx, collection, ref, false)
			if err != nil {
				if kberrors.IsKind(err, kberrors.KindNotFound) {
					continue
				}
				return "", err
			}
			if rec.Chunk != nil {
				return rec.Chunk.ParentDocID, nil
			}
			return rec.Env.DocID, nil
		}
	}
	return "", kberrors.Newf(kberrors.KindNotFound, "no document or point %q", ref)
}

func (c *Controller) pickRecords(ctx context.Context, collection string, filter *store.Filter) []store.Record {
	var recs []store.Record
	_ = c.store.Scroll(ctx, collection, filter, false, func(rec store.Record) error {
		recs = append(recs, rec)
		return nil
	})
	return recs
}

func newestWhole(recs []store.Record) *store.Record {
	var best *store.Record
	for i := range recs {
		rec := &recs[i]
		if rec.Chunk != nil {
			// The id named a chunk directly; return it so callers can
			// tell the difference.
			if best == nil {
				best = rec
			}
			continue
		}
		if best == nil || best.Chunk != nil || rec.Env.UpdatedAt.After(best.Env.UpdatedAt) {
			best = rec
		}
	}
	return best
}

// newestChunkFamily keeps the newest record per chunk index and returns
// them in index order.
func newestChunkFamily(recs []store.Record) []store.Record {
	byIndex := make(map[int]store.Record)
	for _, rec := range recs {
		if rec.Chunk == nil {
			continue
		}
		cur, ok := byIndex[rec.Chunk.Index]
		if !ok || rec.Env.UpdatedAt.After(cur.Env.UpdatedAt) {
			byIndex[rec.Chunk.Index] = rec
		}
	}
	family := make([]store.Record, 0, len(byIndex))
	for _, rec := range byIndex {
		family = append(family, rec)
	}
	sort.Slice(family, func(i, j int) bool { return family[i].Chunk.Index < family[j].Chunk.Index })
	return family
}

// UpdateInput is a content update for an existing document.
type UpdateInput struct {
	DocID   string
	Content string

	// Meta fields override the stored envelope; empty fields inherit.
	Meta meta.Input
}

// UpdateDocument re-runs the ingest pipeline for an existing document.
// Envelope fields not overridden are inherited from the stored record,
// chunked documents stay chunked, and the classifier turns the write
// into a versioned update.
func (c *Controller) UpdateDocument(ctx context.Context, in UpdateInput) (*AddResult, error) {
	if in.DocID == "" {
		return nil, kberrors.New(kberrors.KindInvalidInput, "doc_id is required")
	}
	view, sink, err := c.FindDocument(ctx, in.DocID)
	if err != nil {
		return nil, err
	}
	if view.Record != nil && view.Record.Chunk != nil {
		return nil, kberrors.Newf(kberrors.KindInvalidInput,
			"%s is a chunk; update its parent document %s", in.DocID, view.Record.Chunk.ParentDocID)
	}

	merged := mergeMetaInput(in.Meta, view.Env())
	merged.DocID = in.DocID
	return c.add(ctx, sink, AddInput{
		Content: in.Content,
		Meta:    merged,
		Chunk:   view.Chunked(),
	})
}

// mergeMetaInput fills empty override fields from the stored envelope.
// Status is not inherited: an update always produces an active version
// unless the caller says otherwise.
func mergeMetaInput(over meta.Input, base meta.Envelope) meta.Input {
	if over.Category == "" {
		over.Category = string(base.Category)
	}
	if over.Source == "" {
		over.Source = string(base.Source)
	}
	if over.Repo == "" {
		over.Repo = base.Repo
	}
	if over.FilePath == "" {
		over.FilePath = base.FilePath
	}
	if over.FileHash == "" {
		over.FileHash = base.FileHash
	}
	if over.Tags == nil {
		over.Tags = base.Tags
	}
	return over
}

// Metadata patching. Identity and lifecycle fields can never be patched
// directly; everything else is validated and the metadata fingerprint
// is recomputed.
var protectedFields = map[string]bool{
	"doc_id":        true,
	"version":       true,
	"hash_content":  true,
	"metadata_hash": true,
	"created_at":    true,
	"updated_at":    true,
	"chunk_id":      true,
	"chunk_index":   true,
	"parent_doc_id": true,
	"is_chunk":      true,
	"total_chunks":  true,
}

var patchableFields = map[string]bool{
	"category":  true,
	"status":    true,
	"source":    true,
	"repo":      true,
	"tags":      true,
	"file_path": true,
	"file_hash": true,
}

func validatePatch(patch map[string]any) error {
	if len(patch) == 0 {
		return kberrors.New(kberrors.KindInvalidInput, "metadata patch is empty")
	}
	for k := range patch {
		if protectedFields[k] {
			return kberrors.Newf(kberrors.KindInvalidInput, "field %q is protected and cannot be patched", k)
		}
		if !patchableFields[k] {
			return kberrors.Newf(kberrors.KindInvalidInput, "unknown metadata field %q", k).
				WithDetail("allowed", sortedKeys(patchableFields))
		}
	}
	return nil
}

// applyPatch returns base with patch applied and the envelope
// re-validated.
func applyPatch(base meta.Envelope, patch map[string]any) (meta.Envelope, error) {
	env := base
	for k, v := range patch {
		switch k {
		case "tags":
			tags, ok := stringList(v)
			if !ok {
				return env, kberrors.New(kberrors.KindInvalidInput, "tags must be a list of strings")
			}
			env.Tags = tags
		default:
			s, ok := v.(string)
			if !ok {
				return env, kberrors.Newf(kberrors.KindInvalidInput, "field %q must be a string", k)
			}
			switch k {
			case "category":
				env.Category = meta.Category(s)
			case "status":
				env.Status = meta.Status(s)
			case "source":
				env.Source = meta.Source(s)
			case "repo":
				env.Repo = s
			case "file_path":
				env.FilePath = s
			case "file_hash":
				env.FileHash = s
			}
		}
	}
	if !env.Category.Valid() {
		return env, kberrors.Newf(kberrors.KindInvalidMetadata, "invalid category %q", env.Category)
	}
	if !env.Status.Valid() {
		return env, kberrors.Newf(kberrors.KindInvalidMetadata, "invalid status %q", env.Status)
	}
	if !env.Source.Valid() {
		return env, kberrors.Newf(kberrors.KindInvalidMetadata, "invalid source %q", env.Source)
	}
	return env, nil
}

func stringList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return append([]string{}, t...), true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MetadataResult reports a metadata patch.
type MetadataResult struct {
	DocID        string   `json:"doc_id"`
	Updated      int      `json:"updated"`
	Fields       []string `json:"fields"`
	MetadataHash string   `json:"metadata_hash,omitempty"`
}

// UpdateMetadata patches the envelope of one document and recomputes
// its metadata fingerprint. Chunked documents have the patch applied to
// every active chunk.
func (c *Controller) UpdateMetadata(ctx context.Context, docID string, patch map[string]any) (*MetadataResult, error) {
	if docID == "" {
		return nil, kberrors.New(kberrors.KindInvalidInput, "doc_id is required")
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	view, sink, err := c.FindDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if view.Record != nil && view.Record.Chunk != nil {
		return nil, kberrors.Newf(kberrors.KindInvalidInput,
			"%s is a chunk; patch its parent document %s", docID, view.Record.Chunk.ParentDocID)
	}

	unlock := c.locks.Lock(sink.Collection + "\x00" + docID)
	defer unlock()

	res := &MetadataResult{DocID: docID, Fields: patchKeys(patch)}

	targets := view.Chunks
	if view.Record != nil {
		targets = []store.Record{*view.Record}
	}
	for _, rec := range targets {
		env, err := applyPatch(rec.Env, patch)
		if err != nil {
			return nil, err
		}
		env.MetadataHash = meta.MetadataHash(env)
		env.UpdatedAt = c.versioner.now().UTC()

		wire := wirePatch(patch, env)
		target := store.And(
			store.Eq("meta.doc_id", rec.Env.DocID),
			store.Eq("meta.version", rec.Env.Version),
		)
		n, err := c.store.SetPayload(ctx, view.Collection, target, wire)
		if err != nil {
			return nil, err
		}
		res.Updated += n
		res.MetadataHash = env.MetadataHash
	}
	if res.Updated == 0 {
		return nil, kberrors.Newf(kberrors.KindNotFound, "document %s changed while patching", docID)
	}

	// Re-activating a record must not leave two actives behind.
	if s, ok := patch["status"].(string); ok && s == string(meta.StatusActive) && view.Record != nil {
		if err := c.ensureSingleActive(ctx, view.Collection, view.Env()); err != nil {
			return nil, err
		}
	}
	c.log.Info("patched metadata", "doc_id", docID, "fields", res.Fields, "updated", res.Updated)
	return res, nil
}

// wirePatch builds the payload patch for one record from the applied
// envelope, so stored values always match the recomputed fingerprint.
func wirePatch(patch map[string]any, env meta.Envelope) map[string]any {
	wire := map[string]any{
		"metadata_hash": env.MetadataHash,
		"updated_at":    meta.FormatTime(env.UpdatedAt),
	}
	for k := range patch {
		switch k {
		case "category":
			wire["category"] = string(env.Category)
		case "status":
			wire["status"] = string(env.Status)
		case "source":
			wire["source"] = string(env.Source)
		case "repo":
			wire["repo"] = env.Repo
		case "file_path":
			wire["file_path"] = env.FilePath
		case "file_hash":
			wire["file_hash"] = env.FileHash
		case "tags":
			wire["tags"] = env.Tags
		}
	}
	return wire
}

func patchKeys(patch map[string]any) []string {
	out := make([]string, 0, len(patch))
	for k := range patch {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// BulkResult reports a bulk operation per collection.
type BulkResult struct {
	Collection string `json:"collection"`
	Matched    int    `json:"matched"`
	Updated    int    `json:"updated"`
}

// BulkUpdateMetadata patches every record matching filter. Each record
// is patched individually so its metadata fingerprint stays consistent
// with its stored fields.
func (c *Controller) BulkUpdateMetadata(ctx context.Context, scope Scope, filter *store.Filter, patch map[string]any) ([]BulkResult, error) {
	if filter == nil {
		return nil, kberrors.New(kberrors.KindInvalidInput, "bulk metadata updates require a filter")
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	collections, err := c.Collections(scope)
	if err != nil {
		return nil, err
	}

	var results []BulkResult
	for _, collection := range collections {
		res := BulkResult{Collection: collection}
		var recs []store.Record
		if err := c.store.Scroll(ctx, collection, filter, false, func(rec store.Record) error {
			recs = append(recs, rec)
			return nil
		}); err != nil {
			return results, err
		}
		res.Matched = len(recs)

		for _, rec := range recs {
			env, err := applyPatch(rec.Env, patch)
			if err != nil {
				return results, err
			}
			env.MetadataHash = meta.MetadataHash(env)
			env.UpdatedAt = c.versioner.now().UTC()

			target := store.And(
				store.Eq("meta.doc_id", rec.Env.DocID),
				store.Eq("meta.version", rec.Env.Version),
			)
			n, err := c.store.SetPayload(ctx, collection, target, wirePatch(patch, env))
			if err != nil {
				return results, err
			}
			res.Updated += n
		}
		results = append(results, res)
	}
	return results, nil
}

// DeleteDocument hard-deletes every record of docID, chunks included.
// Deletion is for operator cleanup; normal lifecycle uses deprecation.
func (c *Controller) DeleteDocument(ctx context.Context, scope Scope, docID string) (int, error) {
	if docID == "" {
		return 0, kberrors.New(kberrors.KindInvalidInput, "doc_id is required")
	}
	collections, err := c.Collections(scope)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, collection := range collections {
		n, err := c.store.DeleteByFilter(ctx, collection, store.Eq("meta.doc_id", docID))
		if err != nil {
			return total, err
		}
		total += n
		n, err = c.store.DeleteByFilter(ctx, collection, store.Eq("meta.parent_doc_id", docID))
		if err != nil {
			return total, err
		}
		total += n
	}
	if total == 0 {
		return 0, kberrors.Newf(kberrors.KindNotFound, "document %s not found", docID)
	}
	c.log.Info("deleted document", "doc_id", docID, "records", total)
	return total, nil
}

// DeleteByFilter hard-deletes every record matching filter.
func (c *Controller) DeleteByFilter(ctx context.Context, scope Scope, filter *store.Filter) ([]BulkResult, error) {
	if filter == nil {
		return nil, kberrors.New(kberrors.KindInvalidInput, "bulk deletes require a filter").
			WithSuggestion("use clear_all to empty a collection")
	}
	collections, err := c.Collections(scope)
	if err != nil {
		return nil, err
	}
	var results []BulkResult
	for _, collection := range collections {
		n, err := c.store.DeleteByFilter(ctx, collection, filter)
		if err != nil {
			return results, err
		}
		results = append(results, BulkResult{Collection: collection, Matched: n, Updated: n})
	}
	return results, nil
}

// ClearAll hard-deletes everything in the scoped collections. The
// caller must pass confirm; nothing else guards it.
func (c *Controller) ClearAll(ctx context.Context, scope Scope, confirm bool) ([]BulkResult, error) {
	if !confirm {
		return nil, kberrors.New(kberrors.KindInvalidInput, "clearing a collection requires confirm=true")
	}
	collections, err := c.Collections(scope)
	if err != nil {
		return nil, err
	}
	var results []BulkResult
	for _, collection := range collections {
		n, err := c.store.DeleteByFilter(ctx, collection, nil)
		if err != nil {
			return results, err
		}
		results = append(results, BulkResult{Collection: collection, Matched: n, Updated: n})
		c.log.Warn("cleared collection", "collection", collection, "deleted", n)
	}
	return results, nil
}

// VersionEntry is one record in a document's history.
type VersionEntry struct {
	Version     string `json:"version"`
	Status      string `json:"status"`
	Category    string `json:"category"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	HashContent string `json:"hash_content"`
	ChunkID     string `json:"chunk_id,omitempty"`
	ChunkIndex  int    `json:"chunk_index,omitempty"`
	Point       string `json:"point_reference"`
}

// VersionHistory lists every stored record of docID, whole and chunked,
// oldest first. A non-empty category narrows the history to matching
// records; includeDeprecated=false hides retired versions.
func (c *Controller) VersionHistory(ctx context.Context, docID, category string, includeDeprecated bool) ([]VersionEntry, error) {
	if docID == "" {
		return nil, kberrors.New(kberrors.KindInvalidInput, "doc_id is required")
	}

	var entries []VersionEntry
	collect := func(rec store.Record) error {
		if category != "" && string(rec.Env.Category) != category {
			return nil
		}
		if !includeDeprecated && rec.Env.Status == meta.StatusDeprecated {
			return nil
		}
		e := VersionEntry{
			Version:     rec.Env.Version,
			Status:      string(rec.Env.Status),
			Category:    string(rec.Env.Category),
			CreatedAt:   meta.FormatTime(rec.Env.CreatedAt),
			UpdatedAt:   meta.FormatTime(rec.Env.UpdatedAt),
			HashContent: rec.Env.HashContent,
			Point:       rec.Point,
		}
		if rec.Chunk != nil {
			e.ChunkID = rec.Chunk.ChunkID
			e.ChunkIndex = rec.Chunk.Index
		}
		entries = append(entries, e)
		return nil
	}

	for _, collection := range []string{c.docs.Collection, c.code.Collection} {
		if err := c.store.Scroll(ctx, collection, store.Eq("meta.doc_id", docID), false, collect); err != nil {
			return nil, err
		}
		if err := c.store.Scroll(ctx, collection, store.Eq("meta.parent_doc_id", docID), false, collect); err != nil {
			return nil, err
		}
	}
	if len(entries) == 0 {
		return nil, kberrors.Newf(kberrors.KindNotFound, "document %s not found", docID)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		if entries[i].Version != entries[j].Version {
			return entries[i].Version < entries[j].Version
		}
		return entries[i].ChunkIndex < entries[j].ChunkIndex
	})
	return entries, nil
}

// Deprecate marks active records carrying hashContent as deprecated,
// optionally narrowed to one doc_id, across the scoped collections.
func (c *Controller) Deprecate(ctx context.Context, scope Scope, hashContent, docID string) (int, error) {
	collections, err := c.Collections(scope)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, collection := range collections {
		n, err := c.versioner.Deprecate(ctx, collection, DeprecateTarget{
			HashContent: hashContent,
			DocID:       docID,
		})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
