package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/fingerprint"
	"github.com/vaultmcp/vaultmcp/internal/meta"
)

// File ingestion limits.
const (
	// maxFileBytes rejects files too large to be a sensible knowledge
	// base entry; anything bigger is almost certainly generated or
	// binary.
	maxFileBytes = 1 << 20

	defaultWalkers = 4
)

// codeLanguages maps file extensions to the language tag recorded on
// code records.
var codeLanguages = map[string]string{
	".go":     "go",
	".py":     "python",
	".js":     "javascript",
	".jsx":    "javascript",
	".ts":     "typescript",
	".tsx":    "typescript",
	".java":   "java",
	".rb":     "ruby",
	".rs":     "rust",
	".c":      "c",
	".h":      "c",
	".cpp":    "cpp",
	".cc":     "cpp",
	".hpp":    "cpp",
	".cs":     "csharp",
	".php":    "php",
	".swift":  "swift",
	".kt":     "kotlin",
	".scala":  "scala",
	".sh":     "shell",
	".bash":   "shell",
	".zsh":    "shell",
	".ps1":    "powershell",
	".r":      "r",
	".m":      "matlab",
	".sql":    "sql",
	".proto":  "protobuf",
	".tf":     "terraform",
	".html":   "html",
	".css":    "css",
	".scss":   "scss",
	".less":   "less",
	".vue":    "vue",
	".svelte": "svelte",
	".xml":    "xml",
	".json":   "json",
	".yaml":   "yaml",
	".yml":    "yaml",
	".toml":   "toml",
	".md":     "markdown",
}

// languageFor detects the language tag for a file. Files outside the
// extension map still ingest, tagged as plain text.
func languageFor(path string) string {
	if lang, ok := codeLanguages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "text"
}

// excludedDirs are skipped during directory walks.
var excludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".idea":        true,
	".vscode":      true,
}

// SkippedDir reports whether a directory name is excluded from walks.
// The audit walker uses the same exclusions so it never flags files the
// ingester would not have stored.
func SkippedDir(name string) bool { return excludedDirs[name] }

// FileInput ingests one file from disk.
type FileInput struct {
	Path string
	Meta FileMeta

	// Language overrides extension detection for code files.
	Language string

	// Chunk splits the file content into chunk records. When nil,
	// AddFile stores whole and AddCode chunks content larger than the
	// chunk size.
	Chunk *bool

	// ChunkSize and ChunkOverlap override the configured splitter, as
	// in AddInput.
	ChunkSize    int
	ChunkOverlap *int
}

// FileMeta is the caller-controllable part of a file envelope.
type FileMeta struct {
	DocID    string
	Category string
	Source   string
	Repo     string
	Tags     []string
}

// AddFile reads a file and ingests it as a document. The document id
// defaults to the cleaned path, and the raw file bytes are fingerprinted
// separately from the normalized content.
func (c *Controller) AddFile(ctx context.Context, in FileInput) (*AddResult, error) {
	content, path, fileHash, err := readFile(in.Path)
	if err != nil {
		return nil, err
	}
	metaIn := fileMetaInput(in.Meta, path, fileHash)
	return c.add(ctx, c.docs, AddInput{
		Content:      content,
		Meta:         metaIn,
		Chunk:        in.Chunk != nil && *in.Chunk,
		ChunkSize:    in.ChunkSize,
		ChunkOverlap: in.ChunkOverlap,
	})
}

// AddCode reads a source file and ingests it into the code collection,
// tagging it with the detected language. Unless the caller decides,
// files larger than the chunk size are chunked.
func (c *Controller) AddCode(ctx context.Context, in FileInput) (*AddResult, error) {
	content, path, fileHash, err := readFile(in.Path)
	if err != nil {
		return nil, err
	}
	metaIn := fileMetaInput(in.Meta, path, fileHash)

	lang := in.Language
	if lang == "" {
		lang = languageFor(path)
	}
	if !contains(metaIn.Tags, lang) {
		metaIn.Tags = append(append([]string{}, metaIn.Tags...), lang)
	}

	chunked := false
	if in.Chunk != nil {
		chunked = *in.Chunk
	} else {
		size := c.splitter.Size
		if in.ChunkSize != 0 {
			size = in.ChunkSize
		}
		chunked = utf8.RuneCountInString(fingerprint.Normalize(content)) > size
	}

	res, err := c.add(ctx, c.code, AddInput{
		Content:      content,
		Meta:         metaIn,
		Chunk:        chunked,
		ChunkSize:    in.ChunkSize,
		ChunkOverlap: in.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}
	res.Language = lang
	return res, nil
}

// DirInput ingests a source tree.
type DirInput struct {
	Dir  string
	Meta FileMeta

	// Extensions narrows the walk to specific file extensions. Empty
	// means every extension in the language map.
	Extensions []string

	// Recursive walks subdirectories. The tool layer defaults it on.
	Recursive bool

	// Chunk applies to every file, as in FileInput.
	Chunk *bool

	// Concurrency bounds parallel file ingestion. Defaults to 4.
	Concurrency int
}

// FileFailure records one file the walk could not ingest.
type FileFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// DirResult summarizes a directory ingestion.
type DirResult struct {
	Dir      string        `json:"dir"`
	Scanned  int           `json:"scanned"`
	Stored   int           `json:"stored"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Chunks   int           `json:"chunks,omitempty"`
	Failures []FileFailure `json:"failures,omitempty"`
}

// AddCodeDirectory walks dir and ingests every recognized source file
// into the code collection. Files are processed concurrently; per-file
// failures are collected instead of aborting the walk.
func (c *Controller) AddCodeDirectory(ctx context.Context, in DirInput) (*DirResult, error) {
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

	wanted, err := wantedExts(in.Extensions)
	if err != nil {
		return nil, err
	}
	var paths []string
	err = filepath.WalkDir(in.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if SkippedDir(d.Name()) {
				return filepath.SkipDir
			}
			if !in.Recursive && filepath.Clean(path) != filepath.Clean(in.Dir) {
				return filepath.SkipDir
			}
			return nil
		}
		if wanted[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, kberrors.Wrapf(err, kberrors.KindInvalidInput, "walk %s", in.Dir)
	}
	sort.Strings(paths)

	res := &DirResult{Dir: in.Dir, Scanned: len(paths)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := in.Concurrency
	if limit <= 0 {
		limit = defaultWalkers
	}
	g.SetLimit(limit)

	for _, path := range paths {
		g.Go(func() error {
			fileRes, err := c.AddCode(gctx, FileInput{
				Path:  path,
				Meta:  FileMeta{Category: in.Meta.Category, Source: in.Meta.Source, Repo: in.Meta.Repo, Tags: in.Meta.Tags},
				Chunk: in.Chunk,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures = append(res.Failures, FileFailure{Path: path, Error: err.Error()})
				return nil
			}
			res.Chunks += fileRes.EmbeddedChunks
			switch fileRes.Action {
			case ActionStored:
				res.Stored++
			case ActionUpdated:
				res.Updated++
			default:
				res.Skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Path < res.Failures[j].Path })

	c.log.Info("ingested directory",
		"dir", in.Dir,
		"scanned", res.Scanned,
		"stored", res.Stored,
		"updated", res.Updated,
		"skipped", res.Skipped,
		"failed", len(res.Failures))
	return res, nil
}

// wantedExts normalizes the caller's extension filter; empty selects
// everything in the language map.
func wantedExts(exts []string) (map[string]bool, error) {
	if len(exts) == 0 {
		wanted := make(map[string]bool, len(codeLanguages))
		for ext := range codeLanguages {
			wanted[ext] = true
		}
		return wanted, nil
	}
	wanted := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			return nil, kberrors.New(kberrors.KindInvalidInput, "extensions must be non-empty")
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		wanted[ext] = true
	}
	return wanted, nil
}

func readFile(path string) (content, cleaned, fileHash string, err error) {
	if path == "" {
		return "", "", "", kberrors.New(kberrors.KindInvalidInput, "file path is required")
	}
	cleaned = filepath.Clean(path)

	info, err := os.Stat(cleaned)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", "", kberrors.Newf(kberrors.KindNotFound, "file %s does not exist", cleaned)
		}
		return "", "", "", kberrors.Wrapf(err, kberrors.KindInvalidInput, "stat %s", cleaned)
	}
	if info.IsDir() {
		return "", "", "", kberrors.Newf(kberrors.KindInvalidInput, "%s is a directory", cleaned)
	}
	if info.Size() > maxFileBytes {
		return "", "", "", kberrors.Newf(kberrors.KindInvalidInput, "%s is %d bytes, over the %d byte limit", cleaned, info.Size(), maxFileBytes)
	}

	data, err := os.ReadFile(cleaned)
	if err != nil {
		return "", "", "", kberrors.Wrapf(err, kberrors.KindInvalidInput, "read %s", cleaned)
	}
	return string(data), cleaned, fingerprint.Bytes(data), nil
}

func fileMetaInput(m FileMeta, path, fileHash string) meta.Input {
	docID := m.DocID
	if docID == "" {
		docID = path
	}
	return meta.Input{
		DocID:    docID,
		Category: m.Category,
		Source:   m.Source,
		Repo:     m.Repo,
		Tags:     m.Tags,
		FilePath: path,
		FileHash: fileHash,
	}
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
