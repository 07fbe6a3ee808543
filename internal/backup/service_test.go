package backup

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmcp/vaultmcp/internal/chunk"
	"github.com/vaultmcp/vaultmcp/internal/dedup"
	"github.com/vaultmcp/vaultmcp/internal/embed"
	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/fingerprint"
	"github.com/vaultmcp/vaultmcp/internal/ingest"
	"github.com/vaultmcp/vaultmcp/internal/meta"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

const (
	backupDocs = "backup_docs"
	backupCode = "backup_code"
	backupDims = 8
)

type backupHarness struct {
	svc  *Service
	ctrl *ingest.Controller
	mem  *store.Memory
	root string
}

// newBackupHarness wires the backup service over a fresh in-memory
// store with a real ingest pipeline, rooted in a temp directory.
func newBackupHarness(t *testing.T) *backupHarness {
	t.Helper()
	return newBackupHarnessAt(t, filepath.Join(t.TempDir(), "backups"))
}

// newBackupHarnessAt shares a backup root between harnesses so one
// store's backup can be restored into another.
func newBackupHarnessAt(t *testing.T, root string) *backupHarness {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.EnsureCollection(ctx, backupDocs, backupDims))
	require.NoError(t, mem.EnsureCollection(ctx, backupCode, backupDims))

	emb, err := embed.NewStatic(backupDims)
	require.NoError(t, err)
	splitter, err := chunk.NewSplitter(chunk.MinSize, 0)
	require.NoError(t, err)
	quiet := slog.New(slog.DiscardHandler)

	ctrl, err := ingest.NewController(ingest.Options{
		Store:      mem,
		Docs:       ingest.Sink{Collection: backupDocs, Embedder: emb},
		Code:       ingest.Sink{Collection: backupCode, Embedder: emb},
		Splitter:   splitter,
		Classifier: dedup.NewClassifier(0),
		Logger:     quiet,
	})
	require.NoError(t, err)

	return &backupHarness{
		svc:  NewService(mem, ctrl, root, quiet),
		ctrl: ctrl,
		mem:  mem,
		root: root,
	}
}

// addDoc stores one whole document in the document collection.
func (h *backupHarness) addDoc(t *testing.T, docID, content string, mutate func(*meta.Input)) *ingest.AddResult {
	t.Helper()
	in := meta.Input{DocID: docID}
	if mutate != nil {
		mutate(&in)
	}
	res, err := h.ctrl.AddDocument(context.Background(), ingest.AddInput{Content: content, Meta: in})
	require.NoError(t, err)
	return res
}

func (h *backupHarness) count(t *testing.T, collection string, filter *store.Filter) int {
	t.Helper()
	n, err := h.mem.Count(context.Background(), collection, filter)
	require.NoError(t, err)
	return int(n)
}

// docByID picks one document out of an unordered export.
func docByID(t *testing.T, docs []Document, docID string) Document {
	t.Helper()
	for _, d := range docs {
		if d.Meta["doc_id"] == docID {
			return d
		}
	}
	t.Fatalf("no exported document %s", docID)
	return Document{}
}

// ============================================================================
// Export
// ============================================================================

func TestExport_CarriesContentAndFlatMetadata(t *testing.T) {
	// Given: one stored document with explicit metadata
	h := newBackupHarness(t)
	ctx := context.Background()
	added := h.addDoc(t, "doc_notes", "Retry budgets live in the gateway config.", func(in *meta.Input) {
		in.Category = string(meta.CategoryDesignDoc)
		in.Tags = []string{"gateway", "retries"}
	})

	// When: exporting the document collection
	docs, err := h.svc.Export(ctx, ExportInput{Scope: ingest.ScopeDocs})

	// Then: the record round-trips as a flat payload without vectors
	require.NoError(t, err)
	require.Len(t, docs, 1)
	doc := docs[0]
	assert.Equal(t, added.Points[0], doc.ID)
	assert.Equal(t, "Retry budgets live in the gateway config.", doc.Content)
	assert.Equal(t, "doc_notes", doc.Meta["doc_id"])
	assert.Equal(t, string(meta.CategoryDesignDoc), doc.Meta["category"])
	assert.Equal(t, string(meta.StatusActive), doc.Meta["status"])
	assert.Equal(t, []string{"gateway", "retries"}, doc.Meta["tags"])
	assert.Empty(t, doc.Embedding)
}

func TestExport_ScopeAllListsDocsThenCode(t *testing.T) {
	// Given: one record in each collection
	h := newBackupHarness(t)
	ctx := context.Background()
	h.addDoc(t, "doc_guide", "Documents collection entry.", nil)
	_, err := h.ctrl.Add(ctx, ingest.ScopeCode, ingest.AddInput{
		Content: "func main() {}",
		Meta:    meta.Input{DocID: "code_main"},
	})
	require.NoError(t, err)

	// When: exporting everything
	docs, err := h.svc.Export(ctx, ExportInput{Scope: ingest.ScopeAll})

	// Then: the document collection comes first
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc_guide", docs[0].Meta["doc_id"])
	assert.Equal(t, "code_main", docs[1].Meta["doc_id"])
}

func TestExport_FilterNarrowsRecords(t *testing.T) {
	// Given: two documents in different categories
	h := newBackupHarness(t)
	ctx := context.Background()
	h.addDoc(t, "doc_design", "Connection pooling design.", func(in *meta.Input) {
		in.Category = string(meta.CategoryDesignDoc)
	})
	h.addDoc(t, "doc_other", "Meeting notes.", nil)

	// When: exporting with a category filter
	docs, err := h.svc.Export(ctx, ExportInput{
		Scope:  ingest.ScopeDocs,
		Filter: store.Eq("meta.category", string(meta.CategoryDesignDoc)),
	})

	// Then: only the matching record is materialized
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc_design", docs[0].Meta["doc_id"])
}

func TestExport_RejectsUnindexedFilter(t *testing.T) {
	// Given: a filter on a field with no payload index
	h := newBackupHarness(t)

	// When: exporting with it
	_, err := h.svc.Export(context.Background(), ExportInput{
		Scope:  ingest.ScopeDocs,
		Filter: store.Eq("meta.tags", "gateway"),
	})

	// Then: the export refuses instead of scanning
	require.Error(t, err)
	assert.True(t, kberrors.IsKind(err, kberrors.KindIndexRequired))
}

func TestExport_IncludeEmbeddingsCarriesVectors(t *testing.T) {
	// Given: one stored document
	h := newBackupHarness(t)
	ctx := context.Background()
	h.addDoc(t, "doc_vec", "Vector goes along for the ride.", nil)

	// When: exporting with embeddings
	docs, err := h.svc.Export(ctx, ExportInput{Scope: ingest.ScopeDocs, IncludeEmbeddings: true})

	// Then: the stored vector is attached
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Len(t, docs[0].Embedding, backupDims)
}

// ============================================================================
// Import
// ============================================================================

func TestImport_UnknownPolicyRejected(t *testing.T) {
	// Given: an import with a policy outside the known set
	h := newBackupHarness(t)

	// When: importing
	_, err := h.svc.Import(context.Background(), ImportInput{
		Scope:  ingest.ScopeDocs,
		Policy: "merge",
	})

	// Then: invalid input naming the allowed policies
	require.Error(t, err)
	kbe, ok := kberrors.As(err)
	require.True(t, ok)
	assert.Equal(t, kberrors.KindInvalidInput, kbe.Kind)
	assert.Equal(t, []string{PolicySkip, PolicyUpdate, PolicyError}, kbe.Details["allowed"])
}

func TestImport_NewDocumentsRunThroughPipeline(t *testing.T) {
	// Given: an export from one store and an empty second store
	src := newBackupHarness(t)
	ctx := context.Background()
	src.addDoc(t, "doc_pipeline", "Importable content.", func(in *meta.Input) {
		in.Tags = []string{"imported"}
	})
	docs, err := src.svc.Export(ctx, ExportInput{Scope: ingest.ScopeDocs})
	require.NoError(t, err)

	dst := newBackupHarness(t)

	// When: importing into the empty store
	res, err := dst.svc.Import(ctx, ImportInput{Scope: ingest.ScopeDocs, Documents: docs})

	// Then: the document lands as a fresh active record
	require.NoError(t, err)
	assert.Equal(t, &ImportResult{Total: 1, Imported: 1}, res)

	view, err := dst.ctrl.GetDocument(ctx, backupDocs, "doc_pipeline")
	require.NoError(t, err)
	assert.Equal(t, "Importable content.", view.Record.Content)
	assert.Equal(t, meta.StatusActive, view.Record.Env.Status)
	assert.Equal(t, []string{"imported"}, view.Record.Env.Tags)
	// Same doc, content, and version derive the same point id.
	assert.Equal(t, docs[0].ID, view.Record.Point)
}

func TestImport_SkipPolicyKeepsExistingRecords(t *testing.T) {
	// Given: a destination that already holds one of two exported documents
	src := newBackupHarness(t)
	ctx := context.Background()
	src.addDoc(t, "doc_shared", "Fresh wording from the source store.", nil)
	src.addDoc(t, "doc_only_src", "Only the source has this one.", nil)
	docs, err := src.svc.Export(ctx, ExportInput{Scope: ingest.ScopeDocs})
	require.NoError(t, err)

	dst := newBackupHarness(t)
	dst.addDoc(t, "doc_shared", "Original wording in the destination.", nil)

	// When: importing under the default policy
	res, err := dst.svc.Import(ctx, ImportInput{Scope: ingest.ScopeDocs, Documents: docs})

	// Then: the preexisting document is skipped untouched, the new one lands
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Imported)
	assert.Zero(t, res.Failed)

	view, err := dst.ctrl.GetDocument(ctx, backupDocs, "doc_shared")
	require.NoError(t, err)
	assert.Equal(t, "Original wording in the destination.", view.Record.Content)
	assert.Equal(t, 2, dst.count(t, backupDocs, nil))
}

func TestImport_ExistenceJudgedBeforeImportBegins(t *testing.T) {
	// Given: an export holding two versions of one document
	src := newBackupHarness(t)
	ctx := context.Background()
	src.addDoc(t, "doc_versioned", "First draft.", nil)
	updated := src.addDoc(t, "doc_versioned", "Second draft.", nil)
	require.Equal(t, ingest.ActionUpdated, updated.Action)
	docs, err := src.svc.Export(ctx, ExportInput{Scope: ingest.ScopeDocs})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	dst := newBackupHarness(t)

	// When: importing both versions under the skip policy
	res, err := dst.svc.Import(ctx, ImportInput{Scope: ingest.ScopeDocs, Documents: docs})

	// Then: the import does not trip over the version it wrote itself
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Zero(t, res.Skipped)

	assert.Equal(t, 2, dst.count(t, backupDocs, store.Eq("meta.doc_id", "doc_versioned")))
	assert.Equal(t, 1, dst.count(t, backupDocs, store.And(
		store.Eq("meta.doc_id", "doc_versioned"),
		store.Eq("meta.status", string(meta.StatusActive)),
	)))
	view, err := dst.ctrl.GetDocument(ctx, backupDocs, "doc_versioned")
	require.NoError(t, err)
	assert.Equal(t, "Second draft.", view.Record.Content)
}

func TestImport_UpdatePolicyReplaysPipeline(t *testing.T) {
	// Given: a destination holding stale content for one document and
	// identical content for another
	src := newBackupHarness(t)
	ctx := context.Background()
	src.addDoc(t, "doc_stale", "Rewritten guidance from the source.", nil)
	src.addDoc(t, "doc_current", "Identical in both stores.", nil)
	docs, err := src.svc.Export(ctx, ExportInput{Scope: ingest.ScopeDocs})
	require.NoError(t, err)

	dst := newBackupHarness(t)
	dst.addDoc(t, "doc_stale", "Old guidance in the destination.", nil)
	dst.addDoc(t, "doc_current", "Identical in both stores.", nil)

	// When: importing under the update policy
	res, err := dst.svc.Import(ctx, ImportInput{
		Scope:     ingest.ScopeDocs,
		Documents: docs,
		Policy:    PolicyUpdate,
	})

	// Then: changed content updates, identical content dedupes to a skip
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Failed)

	view, err := dst.ctrl.GetDocument(ctx, backupDocs, "doc_stale")
	require.NoError(t, err)
	assert.Equal(t, "Rewritten guidance from the source.", view.Record.Content)
	assert.Equal(t, 1, dst.count(t, backupDocs, store.And(
		store.Eq("meta.doc_id", "doc_stale"),
		store.Eq("meta.status", string(meta.StatusDeprecated)),
	)))
}

func TestImport_ErrorPolicyReportsConflicts(t *testing.T) {
	// Given: one conflicting and one new document
	src := newBackupHarness(t)
	ctx := context.Background()
	src.addDoc(t, "doc_clash", "Conflicting entry.", nil)
	src.addDoc(t, "doc_new", "New entry.", nil)
	exported, err := src.svc.Export(ctx, ExportInput{Scope: ingest.ScopeDocs})
	require.NoError(t, err)
	batch := []Document{docByID(t, exported, "doc_clash"), docByID(t, exported, "doc_new")}

	dst := newBackupHarness(t)
	dst.addDoc(t, "doc_clash", "Already here.", nil)

	// When: importing under the error policy
	res, err := dst.svc.Import(ctx, ImportInput{
		Scope:     ingest.ScopeDocs,
		Documents: batch,
		Policy:    PolicyError,
	})

	// Then: the conflict is recorded per document, the rest proceeds
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	require.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 0, res.Errors[0].Index)
	assert.Equal(t, "doc_clash", res.Errors[0].DocID)
	assert.Contains(t, res.Errors[0].Error, "already exists")

	view, err := dst.ctrl.GetDocument(ctx, backupDocs, "doc_clash")
	require.NoError(t, err)
	assert.Equal(t, "Already here.", view.Record.Content)
}

func TestImport_ChunkRecordsRestoredVerbatim(t *testing.T) {
	// Given: an export of a chunked document
	src := newBackupHarness(t)
	ctx := context.Background()
	added, err := src.ctrl.AddDocument(ctx, ingest.AddInput{
		Content: strings.Repeat("x", 3*chunk.MinSize),
		Meta:    meta.Input{DocID: "doc_wall"},
		Chunk:   true,
	})
	require.NoError(t, err)
	require.Equal(t, 3, added.TotalChunks)
	docs, err := src.svc.Export(ctx, ExportInput{Scope: ingest.ScopeDocs})
	require.NoError(t, err)
	require.Len(t, docs, 3)

	dst := newBackupHarness(t)

	// When: importing into an empty store
	res, err := dst.svc.Import(ctx, ImportInput{Scope: ingest.ScopeDocs, Documents: docs})

	// Then: every chunk is preserved with its original point id
	require.NoError(t, err)
	assert.Equal(t, 3, res.Imported)

	var points []string
	require.NoError(t, dst.mem.Scroll(ctx, backupDocs, nil, false, func(rec store.Record) error {
		require.NotNil(t, rec.Chunk)
		points = append(points, rec.Point)
		return nil
	}))
	assert.ElementsMatch(t, []string{docs[0].ID, docs[1].ID, docs[2].ID}, points)

	view, err := dst.ctrl.GetDocument(ctx, backupDocs, "doc_wall")
	require.NoError(t, err)
	assert.True(t, view.Chunked())
	assert.Len(t, view.Chunks, 3)
}

func TestImport_VerbatimReusesExportedEmbedding(t *testing.T) {
	// Given: a deprecated record exported with its vector
	h := newBackupHarness(t)
	ctx := context.Background()
	content := "Historical version retained for audits."
	env, err := meta.NewBuilder("").Build(meta.Input{
		DocID:  "doc_hist",
		Status: string(meta.StatusDeprecated),
	}, fingerprint.Content(content))
	require.NoError(t, err)
	vector := []float32{9, 8, 7, 6, 5, 4, 3, 2}

	// When: importing it without a point id
	res, err := h.svc.Import(ctx, ImportInput{
		Scope: ingest.ScopeDocs,
		Documents: []Document{{
			Content:   content,
			Meta:      meta.Flatten(env, nil),
			Embedding: vector,
		}},
	})

	// Then: the record keeps the exported vector and derives its point id
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)

	rec, err := h.mem.Get(ctx, backupDocs, store.PointID(env), true)
	require.NoError(t, err)
	assert.Equal(t, vector, rec.Vector)
	assert.Equal(t, meta.StatusDeprecated, rec.Env.Status)
}

func TestImport_UnusableMetadataCollectsFailure(t *testing.T) {
	// Given: a document with no metadata payload
	h := newBackupHarness(t)

	// When: importing it
	res, err := h.svc.Import(context.Background(), ImportInput{
		Scope:     ingest.ScopeDocs,
		Documents: []Document{{ID: "p1", Content: "body"}},
	})

	// Then: the failure is recorded and the import finishes
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error, "unusable document metadata")
	assert.Equal(t, 0, h.count(t, backupDocs, nil))
}
