package backup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/fingerprint"
	"github.com/vaultmcp/vaultmcp/internal/ingest"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

// Backup directory artifacts.
const (
	documentsFile = "documents.json"
	metadataFile  = "metadata.json"
	manifestFile  = "manifest.json"

	backupVersion = "1.0"
	dirPrefix     = "backup_"
	stampLayout   = "20060102_150405"
)

// Metadata identifies one backup and what it holds.
type Metadata struct {
	BackupID          string        `json:"backup_id"`
	Collection        string        `json:"collection"`
	Timestamp         time.Time     `json:"timestamp"`
	DocumentCount     int           `json:"document_count"`
	IncludeEmbeddings bool          `json:"include_embeddings"`
	Filters           *store.Filter `json:"filters,omitempty"`
	BackupVersion     string        `json:"backup_version"`
}

// ManifestFile is one checksummed backup artifact.
type ManifestFile struct {
	Filename string `json:"filename"`
	Checksum string `json:"checksum"`
	Size     int64  `json:"size"`
}

// Manifest inventories a backup directory. Restore trusts nothing that
// is not listed here with a matching checksum.
type Manifest struct {
	BackupID  string         `json:"backup_id"`
	CreatedAt time.Time      `json:"created_at"`
	Files     []ManifestFile `json:"files"`
}

// CreateInput selects what one backup captures.
type CreateInput struct {
	Scope             ingest.Scope
	Filter            *store.Filter
	IncludeEmbeddings bool
}

// CreateResult describes a finished backup.
type CreateResult struct {
	BackupID      string         `json:"backup_id"`
	Name          string         `json:"name"`
	Path          string         `json:"path"`
	Collection    string         `json:"collection"`
	DocumentCount int            `json:"document_count"`
	Files         []ManifestFile `json:"files"`
}

// Create exports one collection into a timestamped directory under the
// backup root: documents.json, metadata.json, and a checksum manifest.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	sink, err := s.ctrl.SinkFor(in.Scope)
	if err != nil {
		return nil, err
	}

	lock, err := newDirLock(s.root)
	if err != nil {
		return nil, err
	}
	if err := lock.lock(ctx); err != nil {
		return nil, err
	}
	defer lock.unlock()

	docs, err := s.Export(ctx, ExportInput{
		Scope:             in.Scope,
		Filter:            in.Filter,
		IncludeEmbeddings: in.IncludeEmbeddings,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	name := dirPrefix + sink.Collection + "_" + now.Format(stampLayout)
	dir := filepath.Join(s.root, name)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			return nil, kberrors.Newf(kberrors.KindConflict, "backup %s already exists", name)
		}
		return nil, kberrors.Wrapf(err, kberrors.KindInternal, "create backup directory %s", name)
	}

	md := Metadata{
		BackupID:          uuid.NewString(),
		Collection:        sink.Collection,
		Timestamp:         now,
		DocumentCount:     len(docs),
		IncludeEmbeddings: in.IncludeEmbeddings,
		Filters:           in.Filter,
		BackupVersion:     backupVersion,
	}

	docsEntry, err := writeArtifact(dir, documentsFile, docs)
	if err != nil {
		return nil, err
	}
	metaEntry, err := writeArtifact(dir, metadataFile, md)
	if err != nil {
		return nil, err
	}
	manifest := Manifest{
		BackupID:  md.BackupID,
		CreatedAt: now,
		Files:     []ManifestFile{docsEntry, metaEntry},
	}
	if _, err := writeArtifact(dir, manifestFile, manifest); err != nil {
		return nil, err
	}

	s.log.Info("backup created",
		"backup_id", md.BackupID,
		"name", name,
		"collection", sink.Collection,
		"documents", len(docs))
	return &CreateResult{
		BackupID:      md.BackupID,
		Name:          name,
		Path:          dir,
		Collection:    sink.Collection,
		DocumentCount: len(docs),
		Files:         manifest.Files,
	}, nil
}

// RestoreInput replays one backup. Backup is a directory name under
// the root or a full path; Scope overrides the target collection and
// defaults to the one the backup came from.
type RestoreInput struct {
	Backup string
	Scope  ingest.Scope
	Policy string
}

// RestoreResult describes a finished restore.
type RestoreResult struct {
	BackupID   string        `json:"backup_id"`
	Name       string        `json:"name"`
	Collection string        `json:"collection"`
	Import     *ImportResult `json:"import"`
}

// Restore verifies every manifest checksum and only then replays the
// backup through the import path. A single stale artifact fails the
// restore before anything is written.
func (s *Service) Restore(ctx context.Context, in RestoreInput) (*RestoreResult, error) {
	if in.Backup == "" {
		return nil, kberrors.New(kberrors.KindInvalidInput, "backup name or path is required")
	}

	lock, err := newDirLock(s.root)
	if err != nil {
		return nil, err
	}
	if err := lock.lock(ctx); err != nil {
		return nil, err
	}
	defer lock.unlock()

	dir := in.Backup
	if !filepath.IsAbs(dir) && !strings.ContainsRune(dir, os.PathSeparator) {
		dir = filepath.Join(s.root, dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, kberrors.Newf(kberrors.KindNotFound, "backup %s not found", in.Backup)
	}

	var manifest Manifest
	if err := readArtifact(dir, manifestFile, &manifest); err != nil {
		return nil, err
	}
	if err := verifyManifest(dir, manifest); err != nil {
		return nil, err
	}

	var md Metadata
	if err := readArtifact(dir, metadataFile, &md); err != nil {
		return nil, err
	}
	var docs []Document
	if err := readArtifact(dir, documentsFile, &docs); err != nil {
		return nil, err
	}

	scope := in.Scope
	if scope == "" {
		scope = s.scopeOf(md.Collection)
	}
	sink, err := s.ctrl.SinkFor(scope)
	if err != nil {
		return nil, err
	}

	res, err := s.Import(ctx, ImportInput{Scope: scope, Documents: docs, Policy: in.Policy})
	if err != nil {
		return nil, err
	}

	s.log.Info("backup restored",
		"backup_id", md.BackupID,
		"name", filepath.Base(dir),
		"collection", sink.Collection,
		"imported", res.Imported,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"failed", res.Failed)
	return &RestoreResult{
		BackupID:   md.BackupID,
		Name:       filepath.Base(dir),
		Collection: sink.Collection,
		Import:     res,
	}, nil
}

// scopeOf maps a stored collection name back to its scope, defaulting
// to the document collection for foreign names.
func (s *Service) scopeOf(collection string) ingest.Scope {
	if names, err := s.ctrl.Collections(ingest.ScopeCode); err == nil && len(names) == 1 && names[0] == collection {
		return ingest.ScopeCode
	}
	return ingest.ScopeDocs
}

// BackupInfo summarizes one backup found under the root.
type BackupInfo struct {
	BackupID          string    `json:"backup_id"`
	Name              string    `json:"name"`
	Path              string    `json:"path"`
	Collection        string    `json:"collection"`
	Timestamp         time.Time `json:"timestamp"`
	DocumentCount     int       `json:"document_count"`
	IncludeEmbeddings bool      `json:"include_embeddings"`
}

// List scans the backup root for manifest-bearing directories, newest
// first. Corrupt entries are skipped, not fatal.
func (s *Service) List() ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []BackupInfo{}, nil
		}
		return nil, kberrors.Wrap(err, kberrors.KindInternal, "read backup root")
	}

	backups := []BackupInfo{}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		var manifest Manifest
		if err := readArtifact(dir, manifestFile, &manifest); err != nil {
			s.log.Debug("backup skipped", "name", e.Name(), "error", err)
			continue
		}
		var md Metadata
		if err := readArtifact(dir, metadataFile, &md); err != nil {
			s.log.Debug("backup skipped", "name", e.Name(), "error", err)
			continue
		}
		backups = append(backups, BackupInfo{
			BackupID:          md.BackupID,
			Name:              e.Name(),
			Path:              dir,
			Collection:        md.Collection,
			Timestamp:         md.Timestamp,
			DocumentCount:     md.DocumentCount,
			IncludeEmbeddings: md.IncludeEmbeddings,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].Timestamp.Equal(backups[j].Timestamp) {
			return backups[i].Timestamp.After(backups[j].Timestamp)
		}
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

// writeArtifact writes one JSON artifact and returns its manifest
// entry with the checksum of the bytes on disk.
func writeArtifact(dir, name string, v any) (ManifestFile, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ManifestFile{}, kberrors.Wrapf(err, kberrors.KindInternal, "encode %s", name)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return ManifestFile{}, kberrors.Wrapf(err, kberrors.KindInternal, "write %s", name)
	}
	return ManifestFile{
		Filename: name,
		Checksum: fingerprint.Bytes(data),
		Size:     int64(len(data)),
	}, nil
}

func readArtifact(dir, name string, v any) error {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return kberrors.Newf(kberrors.KindNotFound, "backup is missing %s", name)
		}
		return kberrors.Wrapf(err, kberrors.KindInternal, "read %s", name)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return kberrors.Wrapf(err, kberrors.KindIntegrityMismatch, "backup %s is corrupt", name)
	}
	return nil
}

// verifyManifest recomputes every listed checksum. It runs before any
// record is written so a damaged backup never half-applies.
func verifyManifest(dir string, manifest Manifest) error {
	for _, f := range manifest.Files {
		data, err := os.ReadFile(filepath.Join(dir, f.Filename))
		if err != nil {
			return kberrors.Wrapf(err, kberrors.KindIntegrityMismatch, "backup file %s unreadable", f.Filename)
		}
		if got := fingerprint.Bytes(data); got != f.Checksum {
			return kberrors.Newf(kberrors.KindIntegrityMismatch, "checksum mismatch for %s", f.Filename).
				WithDetail("expected", f.Checksum).
				WithDetail("actual", got)
		}
	}
	return nil
}
