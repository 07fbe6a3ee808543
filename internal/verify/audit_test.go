package verify

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/ingest"
)

func writeSourceFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestAudit_AllStoredCopiesCurrent(t *testing.T) {
	// Given: two ingested files, unchanged on disk
	h := newVerifyHarness(t)
	ctx := context.Background()
	dir := t.TempDir()
	note := writeSourceFile(t, dir, "note.md", "# Note\n\n"+healthyContent)
	src := writeSourceFile(t, dir, "main.go", "package main\n\nfunc main() {}\n")
	_, err := h.ctrl.AddFile(ctx, ingest.FileInput{Path: note})
	require.NoError(t, err)
	_, err = h.ctrl.AddCode(ctx, ingest.FileInput{Path: src})
	require.NoError(t, err)

	// When: auditing the tree
	rep, err := h.svc.Audit(ctx, AuditInput{Dir: dir, Recursive: true})

	// Then: everything is accounted for
	require.NoError(t, err)
	assert.Equal(t, 2, rep.FilesChecked)
	assert.Equal(t, 2, rep.Passed)
	assert.Empty(t, rep.Missing)
	assert.Empty(t, rep.Mismatch)
	assert.Empty(t, rep.Extra)
	assert.Equal(t, 1.0, rep.IntegrityScore)
}

func TestAudit_ReportsFilesNeverIngested(t *testing.T) {
	// Given: one ingested file and one the store has never seen
	h := newVerifyHarness(t)
	ctx := context.Background()
	dir := t.TempDir()
	stored := writeSourceFile(t, dir, "stored.md", healthyContent)
	writeSourceFile(t, dir, "orphan.md", "never ingested")
	_, err := h.ctrl.AddFile(ctx, ingest.FileInput{Path: stored})
	require.NoError(t, err)

	// When: auditing
	rep, err := h.svc.Audit(ctx, AuditInput{Dir: dir, Recursive: true})

	// Then: the orphan is reported missing and drags the score
	require.NoError(t, err)
	assert.Equal(t, 2, rep.FilesChecked)
	assert.Equal(t, 1, rep.Passed)
	require.Len(t, rep.Missing, 1)
	assert.Equal(t, "orphan.md", rep.Missing[0].Path)
	assert.Equal(t, 0.5, rep.IntegrityScore)
}

func TestAudit_ReportsStaleStoredCopies(t *testing.T) {
	// Given: a file edited after ingestion
	h := newVerifyHarness(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeSourceFile(t, dir, "drifting.md", healthyContent)
	_, err := h.ctrl.AddFile(ctx, ingest.FileInput{Path: path})
	require.NoError(t, err)
	writeSourceFile(t, dir, "drifting.md", healthyContent+" plus an unindexed edit")

	// When: auditing
	rep, err := h.svc.Audit(ctx, AuditInput{Dir: dir, Recursive: true})

	// Then: the drift shows up as a fingerprint mismatch
	require.NoError(t, err)
	assert.Equal(t, 1, rep.FilesChecked)
	assert.Equal(t, 0, rep.Passed)
	require.Len(t, rep.Mismatch, 1)
	issue := rep.Mismatch[0]
	assert.Equal(t, "drifting.md", issue.Path)
	assert.Equal(t, filepath.Clean(path), issue.DocID)
	assert.NotEmpty(t, issue.StoredHash)
	assert.NotEmpty(t, issue.SourceHash)
	assert.NotEqual(t, issue.StoredHash, issue.SourceHash)
	assert.Equal(t, 0.0, rep.IntegrityScore)
}

func TestAudit_ReportsStoredExtras(t *testing.T) {
	// Given: an ingested file later removed from disk
	h := newVerifyHarness(t)
	ctx := context.Background()
	dir := t.TempDir()
	keep := writeSourceFile(t, dir, "keep.md", healthyContent)
	gone := writeSourceFile(t, dir, "gone.md", healthyContent+" removed later")
	_, err := h.ctrl.AddFile(ctx, ingest.FileInput{Path: keep})
	require.NoError(t, err)
	_, err = h.ctrl.AddFile(ctx, ingest.FileInput{Path: gone})
	require.NoError(t, err)
	require.NoError(t, os.Remove(gone))

	// When: auditing
	rep, err := h.svc.Audit(ctx, AuditInput{Dir: dir, Recursive: true})

	// Then: the stored record with no file behind it is an extra
	require.NoError(t, err)
	assert.Equal(t, 1, rep.FilesChecked)
	assert.Equal(t, 1, rep.Passed)
	require.Len(t, rep.Extra, 1)
	assert.Equal(t, gone, rep.Extra[0].Path)
	assert.Equal(t, gone, rep.Extra[0].DocID)
}

func TestAudit_ChunkedFilesCompareRawFingerprints(t *testing.T) {
	// Given: a source file large enough to be stored chunked
	h := newVerifyHarness(t)
	ctx := context.Background()
	dir := t.TempDir()
	large := strings.Repeat("func handler() {}\n\n", 30)
	path := writeSourceFile(t, dir, "handlers.go", large)
	res, err := h.ctrl.AddCode(ctx, ingest.FileInput{Path: path})
	require.NoError(t, err)
	require.True(t, res.Chunked)

	// When: auditing the unchanged file
	rep, err := h.svc.Audit(ctx, AuditInput{Dir: dir, Recursive: true})

	// Then: the raw file fingerprint still matches
	require.NoError(t, err)
	assert.Equal(t, 1, rep.FilesChecked)
	assert.Equal(t, 1, rep.Passed)
	assert.Empty(t, rep.Mismatch)
}

func TestAudit_ExtensionAndRecursionFilters(t *testing.T) {
	// Given: files of mixed extensions at two depths
	h := newVerifyHarness(t)
	ctx := context.Background()
	dir := t.TempDir()
	top := writeSourceFile(t, dir, "top.md", healthyContent)
	writeSourceFile(t, dir, "notes.txt", "text file")
	writeSourceFile(t, dir, filepath.Join("sub", "deep.md"), healthyContent)
	_, err := h.ctrl.AddFile(ctx, ingest.FileInput{Path: top})
	require.NoError(t, err)

	// When: auditing only markdown at the top level
	rep, err := h.svc.Audit(ctx, AuditInput{Dir: dir, Extensions: []string{"MD"}})

	// Then: the filter and depth limit hold
	require.NoError(t, err)
	assert.Equal(t, 1, rep.FilesChecked)
	assert.Equal(t, 1, rep.Passed)
	assert.Empty(t, rep.Missing)
}

func TestAudit_SkippedDirsStayInvisible(t *testing.T) {
	// Given: a stored file that lives under an excluded directory
	h := newVerifyHarness(t)
	ctx := context.Background()
	dir := t.TempDir()
	visible := writeSourceFile(t, dir, "visible.md", healthyContent)
	hidden := writeSourceFile(t, dir, filepath.Join("node_modules", "hidden.md"), healthyContent)
	_, err := h.ctrl.AddFile(ctx, ingest.FileInput{Path: visible})
	require.NoError(t, err)
	_, err = h.ctrl.AddFile(ctx, ingest.FileInput{Path: hidden})
	require.NoError(t, err)

	// When: auditing recursively
	rep, err := h.svc.Audit(ctx, AuditInput{Dir: dir, Recursive: true})

	// Then: the walk never visits it, and it is not an extra either
	require.NoError(t, err)
	assert.Equal(t, 1, rep.FilesChecked)
	assert.Empty(t, rep.Extra, "files under skipped directories are outside the audit contract")
}

func TestAudit_Validation(t *testing.T) {
	h := newVerifyHarness(t)
	ctx := context.Background()
	dir := t.TempDir()
	file := writeSourceFile(t, dir, "a.md", "body")

	t.Run("empty dir", func(t *testing.T) {
		_, err := h.svc.Audit(ctx, AuditInput{})
		assert.Equal(t, kberrors.KindInvalidInput, kberrors.KindOf(err))
	})

	t.Run("missing dir", func(t *testing.T) {
		_, err := h.svc.Audit(ctx, AuditInput{Dir: filepath.Join(dir, "absent")})
		assert.Equal(t, kberrors.KindNotFound, kberrors.KindOf(err))
	})

	t.Run("not a directory", func(t *testing.T) {
		_, err := h.svc.Audit(ctx, AuditInput{Dir: file})
		assert.Equal(t, kberrors.KindInvalidInput, kberrors.KindOf(err))
	})
}
