package verify

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/fingerprint"
	"github.com/vaultmcp/vaultmcp/internal/ingest"
	"github.com/vaultmcp/vaultmcp/internal/meta"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

// AuditInput selects the source tree to compare against storage.
type AuditInput struct {
	Dir        string
	Extensions []string
	Recursive  bool
}

// AuditIssue names one file whose stored copy is absent or stale.
type AuditIssue struct {
	Path       string `json:"path"`
	DocID      string `json:"doc_id,omitempty"`
	StoredHash string `json:"stored_hash,omitempty"`
	SourceHash string `json:"source_hash,omitempty"`
}

// AuditReport is the outcome of comparing a source tree with storage.
// Missing files exist on disk but not in storage, mismatches are stored
// with a stale fingerprint, and extras are stored under the audited
// tree but gone from disk.
type AuditReport struct {
	Dir            string       `json:"directory"`
	FilesChecked   int          `json:"files_checked"`
	Passed         int          `json:"passed"`
	Missing        []AuditIssue `json:"missing,omitempty"`
	Mismatch       []AuditIssue `json:"mismatch,omitempty"`
	Extra          []AuditIssue `json:"extra,omitempty"`
	IntegrityScore float64      `json:"integrity_score"`
}

// storedFile is the comparable identity of one stored file_path.
type storedFile struct {
	docID    string
	hash     string // hash_content of a whole record
	fileHash string // raw file fingerprint when recorded
	chunk    bool
	updated  time.Time
	matched  bool
}

// compare returns the stored and recomputed fingerprints for one source
// file. Whole records compare normalized content hashes; chunked files
// carry only the raw file fingerprint.
func (f *storedFile) compare(data []byte) (stored, source string) {
	if f.hash != "" {
		return f.hash, fingerprint.Content(string(data))
	}
	return f.fileHash, fingerprint.Bytes(data)
}

// better prefers whole records over chunks, then newer updates.
func better(a, b *storedFile) bool {
	if a.chunk != b.chunk {
		return !a.chunk
	}
	return a.updated.After(b.updated)
}

// Audit walks a source tree and compares each file's fingerprint with
// the active record stored under its path, reporting missing files,
// content mismatches, and stored extras the tree no longer contains.
// The integrity score is the fraction of on-disk files whose stored
// copy is current.
func (s *Service) Audit(ctx context.Context, in AuditInput) (*AuditReport, error) {
	if in.Dir == "" {
		return nil, kberrors.New(kberrors.KindInvalidInput, "source directory is required")
	}
	info, err := os.Stat(in.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, kberrors.Newf(kberrors.KindNotFound, "directory %s does not exist", in.Dir)
		}
		return nil, kberrors.Wrapf(err, kberrors.KindInvalidInput, "stat %s", in.Dir)
	}
	if !info.IsDir() {
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "%s is not a directory", in.Dir)
	}
	root, err := filepath.Abs(in.Dir)
	if err != nil {
		return nil, kberrors.Wrapf(err, kberrors.KindInvalidInput, "resolve %s", in.Dir)
	}

	exts := normalizeExts(in.Extensions)
	stored, err := s.storedFiles(ctx)
	if err != nil {
		return nil, err
	}
	files, err := listFiles(root, in.Recursive, exts)
	if err != nil {
		return nil, err
	}

	rep := &AuditReport{Dir: in.Dir}
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, kberrors.Wrap(err, kberrors.KindInternal, "audit canceled")
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}

		entry := lookupStored(stored, path, rel)
		if entry == nil {
			rep.FilesChecked++
			rep.Missing = append(rep.Missing, AuditIssue{Path: rel})
			continue
		}
		entry.matched = true

		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("audit skipped unreadable file", "path", path, "error", err)
			continue
		}
		rep.FilesChecked++

		want, got := entry.compare(data)
		if want != "" && want == got {
			rep.Passed++
			continue
		}
		rep.Mismatch = append(rep.Mismatch, AuditIssue{
			Path:       rel,
			DocID:      entry.docID,
			StoredHash: want,
			SourceHash: got,
		})
	}

	for path, entry := range stored {
		if entry.matched || !underTree(path, root, in.Recursive, exts) {
			continue
		}
		rep.Extra = append(rep.Extra, AuditIssue{Path: path, DocID: entry.docID})
	}
	sort.Slice(rep.Extra, func(i, j int) bool { return rep.Extra[i].Path < rep.Extra[j].Path })

	rep.IntegrityScore = 1
	if rep.FilesChecked > 0 {
		rep.IntegrityScore = round3(float64(rep.Passed) / float64(rep.FilesChecked))
	}

	s.log.Info("audit finished",
		"dir", in.Dir,
		"checked", rep.FilesChecked,
		"passed", rep.Passed,
		"missing", len(rep.Missing),
		"mismatch", len(rep.Mismatch),
		"extra", len(rep.Extra))
	return rep, nil
}

// storedFiles indexes the active records carrying a file_path, keyed by
// the stored path verbatim. One entry survives per path.
func (s *Service) storedFiles(ctx context.Context) (map[string]*storedFile, error) {
	index := make(map[string]*storedFile)
	collect := func(rec store.Record) error {
		path := rec.Env.FilePath
		if path == "" {
			return nil
		}
		entry := &storedFile{
			docID:    rec.Env.DocID,
			hash:     rec.Env.HashContent,
			fileHash: rec.Env.FileHash,
			chunk:    rec.Chunk != nil,
			updated:  rec.Env.UpdatedAt,
		}
		if entry.chunk {
			entry.docID = rec.Chunk.ParentDocID
			// A chunk's content hash covers the chunk, not the file.
			entry.hash = ""
		}
		if cur, ok := index[path]; !ok || better(entry, cur) {
			index[path] = entry
		}
		return nil
	}

	active := store.Eq("meta.status", string(meta.StatusActive))
	for _, collection := range []string{s.docs, s.code} {
		if err := s.store.Scroll(ctx, collection, active, false, collect); err != nil {
			return nil, err
		}
	}
	return index, nil
}

// lookupStored matches one on-disk file against the stored index by its
// absolute path and its path relative to the audit root.
func lookupStored(stored map[string]*storedFile, abs, rel string) *storedFile {
	if entry, ok := stored[abs]; ok {
		return entry
	}
	if entry, ok := stored[rel]; ok {
		return entry
	}
	return nil
}

// underTree reports whether a stored path would have been visited by
// the audit walk, so its absence from disk counts as an extra. Relative
// stored paths are interpreted against the audit root.
func underTree(stored, root string, recursive bool, exts []string) bool {
	p := stored
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	rel, err := filepath.Rel(root, filepath.Clean(p))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	if !recursive && strings.Contains(rel, string(filepath.Separator)) {
		return false
	}
	for _, seg := range strings.Split(filepath.Dir(rel), string(filepath.Separator)) {
		if ingest.SkippedDir(seg) {
			return false
		}
	}
	return matchExt(rel, exts)
}

// listFiles collects the regular files under root in lexical order,
// honoring the recursive flag and the extension filter.
func listFiles(root string, recursive bool, exts []string) ([]string, error) {
	var files []string
	if !recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, kberrors.Wrap(err, kberrors.KindInternal, "read source directory")
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || !matchExt(e.Name(), exts) {
				continue
			}
			files = append(files, filepath.Join(root, e.Name()))
		}
		return files, nil
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && ingest.SkippedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && matchExt(path, exts) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, kberrors.Wrap(err, kberrors.KindInternal, "walk source directory")
	}
	return files, nil
}

// matchExt reports whether path passes the normalized extension filter.
// An empty filter passes everything.
func matchExt(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	got := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if got == e {
			return true
		}
	}
	return false
}

// normalizeExts lowercases extensions and ensures the leading dot, so
// "md" and ".MD" both select markdown files.
func normalizeExts(exts []string) []string {
	var out []string
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
