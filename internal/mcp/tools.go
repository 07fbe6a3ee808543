package mcp

import (
	"encoding/json"

	"github.com/vaultmcp/vaultmcp/internal/backup"
	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/ingest"
	"github.com/vaultmcp/vaultmcp/internal/meta"
	"github.com/vaultmcp/vaultmcp/internal/search"
	"github.com/vaultmcp/vaultmcp/internal/store"
	"github.com/vaultmcp/vaultmcp/internal/verify"
)

// MetadataInput is the caller-controllable part of a document envelope.
// Everything is optional; missing fields are derived or defaulted by
// the envelope builder.
type MetadataInput struct {
	DocID    string   `json:"doc_id,omitempty" jsonschema:"logical document id; derived from the content hash or file path when omitted"`
	Version  string   `json:"version,omitempty" jsonschema:"explicit version label; RFC3339 UTC now when omitted"`
	Category string   `json:"category,omitempty" jsonschema:"one of user_rule, project_rule, project_command, design_doc, debug_summary, test_pattern, other; default other"`
	Status   string   `json:"status,omitempty" jsonschema:"one of active, deprecated, draft; default active"`
	FilePath string   `json:"file_path,omitempty" jsonschema:"source file path recorded on the envelope"`
	FileHash string   `json:"file_hash,omitempty" jsonschema:"sha256 of the raw file bytes, when known"`
	Source   string   `json:"source,omitempty" jsonschema:"one of manual, generated, imported; default manual"`
	Repo     string   `json:"repo,omitempty" jsonschema:"repository or project the document belongs to"`
	Tags     []string `json:"tags,omitempty" jsonschema:"free-form labels, stored sorted"`
}

func (m MetadataInput) meta() meta.Input {
	return meta.Input{
		DocID:    m.DocID,
		Version:  m.Version,
		Category: m.Category,
		Status:   m.Status,
		FilePath: m.FilePath,
		FileHash: m.FileHash,
		Source:   m.Source,
		Repo:     m.Repo,
		Tags:     m.Tags,
	}
}

func (m MetadataInput) fileMeta() ingest.FileMeta {
	return ingest.FileMeta{
		DocID:    m.DocID,
		Category: m.Category,
		Source:   m.Source,
		Repo:     m.Repo,
		Tags:     m.Tags,
	}
}

// WriteOutput reports what the ingestion pipeline did with one write.
type WriteOutput struct {
	ToolStatus
	Action         string   `json:"action,omitempty" jsonschema:"stored, updated, or skipped"`
	DuplicateLevel int      `json:"duplicate_level" jsonschema:"0 new, 1 exact duplicate, 2 content update, 3 near duplicate"`
	Reason         string   `json:"reason,omitempty" jsonschema:"why the pipeline chose the action"`
	DocID          string   `json:"doc_id,omitempty"`
	Version        string   `json:"version,omitempty"`
	Category       string   `json:"category,omitempty"`
	PointReference string   `json:"point_reference,omitempty" jsonschema:"stored point id for whole-document writes"`
	Deprecated     int      `json:"deprecated,omitempty" jsonschema:"records retired by this write"`
	Warning        string   `json:"warning,omitempty"`
	SimilarDocID   string   `json:"similar_doc_id,omitempty"`
	Similarity     float64  `json:"similarity,omitempty"`
	Language       string   `json:"language,omitempty"`
	Chunked        bool     `json:"chunked,omitempty"`
	TotalChunks    int      `json:"total_chunks,omitempty"`
	Unchanged      int      `json:"unchanged,omitempty"`
	Changed        int      `json:"changed,omitempty"`
	Added          int      `json:"added,omitempty"`
	Removed        int      `json:"removed,omitempty"`
	ChunkIDs       []string `json:"chunk_ids,omitempty"`
}

func writeOutput(res *ingest.AddResult) WriteOutput {
	out := WriteOutput{
		ToolStatus:     succeed(),
		Action:         res.Action,
		DuplicateLevel: res.DuplicateLevel,
		Reason:         res.Reason,
		DocID:          res.DocID,
		Version:        res.Version,
		Category:       res.Category,
		Deprecated:     res.Deprecated,
		Warning:        res.Warning,
		SimilarDocID:   res.SimilarDocID,
		Similarity:     res.Similarity,
		Language:       res.Language,
		Chunked:        res.Chunked,
		TotalChunks:    res.TotalChunks,
		Unchanged:      res.Unchanged,
		Changed:        res.Changed,
		Added:          res.Added,
		Removed:        res.Removed,
		ChunkIDs:       res.ChunkIDs,
	}
	if !res.Chunked && len(res.Points) > 0 {
		out.PointReference = res.Points[0]
	}
	return out
}

// AddDocumentInput defines the input schema for the add_document tool.
type AddDocumentInput struct {
	Content        string        `json:"content" jsonschema:"the text content to store"`
	Metadata       MetadataInput `json:"metadata,omitempty" jsonschema:"partial envelope for the document"`
	EnableChunking bool          `json:"enable_chunking,omitempty" jsonschema:"split the document into chunk records"`
	ChunkSize      int           `json:"chunk_size,omitempty" jsonschema:"chunk size in characters, 128 to 2048, default 512"`
	ChunkOverlap   *int          `json:"chunk_overlap,omitempty" jsonschema:"overlap carried between chunks, 0 to 256, default 50"`
}

// AddFileInput defines the input schema for the add_file tool.
type AddFileInput struct {
	FilePath string        `json:"file_path" jsonschema:"path of the file to ingest"`
	Metadata MetadataInput `json:"metadata,omitempty" jsonschema:"partial envelope applied to the file"`
}

// AddCodeInput defines the input schema for the add_code tool.
type AddCodeInput struct {
	FilePath       string        `json:"file_path" jsonschema:"path of the source file to ingest"`
	Language       string        `json:"language,omitempty" jsonschema:"programming language; detected from the extension when omitted"`
	Metadata       MetadataInput `json:"metadata,omitempty" jsonschema:"partial envelope applied to the file"`
	EnableChunking *bool         `json:"enable_chunking,omitempty" jsonschema:"split into chunk records; defaults to chunking files larger than the chunk size"`
	ChunkSize      int           `json:"chunk_size,omitempty" jsonschema:"chunk size in characters, 128 to 2048, default 512"`
	ChunkOverlap   *int          `json:"chunk_overlap,omitempty" jsonschema:"overlap carried between chunks, 0 to 256, default 50"`
}

// AddCodeDirectoryInput defines the input schema for the
// add_code_directory tool.
type AddCodeDirectoryInput struct {
	Directory  string        `json:"directory" jsonschema:"directory to walk for source files"`
	Extensions []string      `json:"extensions,omitempty" jsonschema:"file extensions to include, e.g. ['.go', '.py']; defaults to all recognized code extensions"`
	Recursive  *bool         `json:"recursive,omitempty" jsonschema:"walk subdirectories, default true"`
	Metadata   MetadataInput `json:"metadata,omitempty" jsonschema:"partial envelope applied to every file"`
}

// AddCodeDirectoryOutput defines the output schema for the
// add_code_directory tool.
type AddCodeDirectoryOutput struct {
	ToolStatus
	Directory      string               `json:"directory,omitempty"`
	FilesScanned   int                  `json:"files_scanned"`
	FilesProcessed int                  `json:"files_processed"`
	FilesFailed    int                  `json:"files_failed"`
	ChunksCreated  int                  `json:"chunks_created"`
	Stored         int                  `json:"stored"`
	Updated        int                  `json:"updated"`
	Skipped        int                  `json:"skipped"`
	Failures       []ingest.FileFailure `json:"failures,omitempty"`
}

// SearchDocumentsInput defines the input schema for the
// search_documents tool.
type SearchDocumentsInput struct {
	Query           string         `json:"query" jsonschema:"the search query"`
	TopK            int            `json:"top_k,omitempty" jsonschema:"number of results, 1 to 50, default 5"`
	ContentType     string         `json:"content_type,omitempty" jsonschema:"which collections to search: all, docs, or code; default all"`
	MetadataFilters map[string]any `json:"metadata_filters,omitempty" jsonschema:"filter tree: leaves are {field, operator, value}, nodes are {operator: AND|OR|NOT, conditions: [...]}"`
}

// SearchDocumentsOutput defines the output schema for the
// search_documents tool.
type SearchDocumentsOutput struct {
	ToolStatus
	Results []search.Result `json:"results,omitempty"`
	Count   int             `json:"count"`
}

// GetDocumentByPathInput defines the input schema for the
// get_document_by_path tool.
type GetDocumentByPathInput struct {
	FilePath string `json:"file_path" jsonschema:"file path to look up"`
	Status   string `json:"status,omitempty" jsonschema:"lifecycle status to match: active, deprecated, or draft; default active"`
}

// GetDocumentByPathOutput defines the output schema for the
// get_document_by_path tool.
type GetDocumentByPathOutput struct {
	ToolStatus
	Document *search.Result `json:"document,omitempty"`
}

// GetMetadataStatsInput defines the input schema for the
// get_metadata_stats tool.
type GetMetadataStatsInput struct {
	Filters       map[string]any `json:"filters,omitempty" jsonschema:"optional filter tree narrowing the tally"`
	GroupByFields []string       `json:"group_by_fields,omitempty" jsonschema:"metadata fields to group by; default category, status, source"`
	Scope         string         `json:"scope,omitempty" jsonschema:"collection to tally: docs or code; default docs"`
}

// GetMetadataStatsOutput defines the output schema for the
// get_metadata_stats tool.
type GetMetadataStatsOutput struct {
	ToolStatus
	Stats *search.MetadataStats `json:"stats,omitempty"`
}

// GetStatsInput defines the input schema for the get_stats tool (no
// parameters).
type GetStatsInput struct{}

// GetStatsOutput defines the output schema for the get_stats tool.
type GetStatsOutput struct {
	ToolStatus
	Collections   []search.CollectionStats `json:"collections,omitempty"`
	IndexedFields []string                 `json:"indexed_fields,omitempty"`
}

// UpdateDocumentInput defines the input schema for the update_document
// tool.
type UpdateDocumentInput struct {
	PointReference  string         `json:"point_reference" jsonschema:"doc_id or stored point id of the document to update"`
	Content         string         `json:"content" jsonschema:"the replacement content"`
	MetadataUpdates map[string]any `json:"metadata_updates,omitempty" jsonschema:"envelope fields to override: category, status, source, repo, tags, file_path, file_hash"`
}

// UpdateMetadataInput defines the input schema for the update_metadata
// tool.
type UpdateMetadataInput struct {
	PointReference  string         `json:"point_reference" jsonschema:"doc_id or stored point id of the document to patch"`
	MetadataUpdates map[string]any `json:"metadata_updates" jsonschema:"envelope fields to patch: category, status, source, repo, tags, file_path, file_hash"`
}

// UpdateMetadataOutput defines the output schema for the
// update_metadata tool.
type UpdateMetadataOutput struct {
	ToolStatus
	DocID        string   `json:"doc_id,omitempty"`
	Updated      int      `json:"updated"`
	Fields       []string `json:"fields,omitempty"`
	MetadataHash string   `json:"metadata_hash,omitempty"`
}

// DeleteDocumentInput defines the input schema for the delete_document
// tool.
type DeleteDocumentInput struct {
	PointReference string `json:"point_reference" jsonschema:"doc_id or stored point id of the document to delete"`
	Scope          string `json:"scope,omitempty" jsonschema:"collections to touch: docs, code, or all; default all"`
}

// DeleteDocumentOutput defines the output schema for the
// delete_document tool.
type DeleteDocumentOutput struct {
	ToolStatus
	DocID   string `json:"doc_id,omitempty"`
	Deleted int    `json:"deleted"`
}

// DeleteByFilterInput defines the input schema for the delete_by_filter
// tool.
type DeleteByFilterInput struct {
	Filters map[string]any `json:"filters" jsonschema:"filter tree selecting the records to delete"`
	Scope   string         `json:"scope,omitempty" jsonschema:"collections to touch: docs, code, or all; default all"`
}

// BulkOutput reports a bulk mutation per collection.
type BulkOutput struct {
	ToolStatus
	Results []ingest.BulkResult `json:"results,omitempty"`
}

// BulkUpdateMetadataInput defines the input schema for the
// bulk_update_metadata tool.
type BulkUpdateMetadataInput struct {
	Filters         map[string]any `json:"filters" jsonschema:"filter tree selecting the records to patch"`
	MetadataUpdates map[string]any `json:"metadata_updates" jsonschema:"envelope fields to patch on every match"`
	Scope           string         `json:"scope,omitempty" jsonschema:"collections to touch: docs, code, or all; default all"`
}

// ClearAllInput defines the input schema for the clear_all tool.
type ClearAllInput struct {
	Confirm bool   `json:"confirm" jsonschema:"must be true; guards against accidental wipes"`
	Scope   string `json:"scope,omitempty" jsonschema:"collections to clear: docs, code, or all; default all"`
}

// GetVersionHistoryInput defines the input schema for the
// get_version_history tool.
type GetVersionHistoryInput struct {
	DocID             string `json:"doc_id" jsonschema:"logical document id"`
	Category          string `json:"category,omitempty" jsonschema:"only report versions in this category"`
	IncludeDeprecated *bool  `json:"include_deprecated,omitempty" jsonschema:"include retired versions, default true"`
}

// GetVersionHistoryOutput defines the output schema for the
// get_version_history tool.
type GetVersionHistoryOutput struct {
	ToolStatus
	DocID    string                `json:"doc_id,omitempty"`
	Versions []ingest.VersionEntry `json:"versions,omitempty"`
	Count    int                   `json:"count"`
}

// VerifyDocumentInput defines the input schema for the verify_document
// tool.
type VerifyDocumentInput struct {
	DocID string `json:"doc_id" jsonschema:"doc_id or stored point id of the document to verify"`
}

// VerifyDocumentOutput defines the output schema for the
// verify_document tool.
type VerifyDocumentOutput struct {
	ToolStatus
	Report *verify.DocumentReport `json:"report,omitempty"`
}

// VerifyCategoryInput defines the input schema for the verify_category
// tool.
type VerifyCategoryInput struct {
	Category     string `json:"category" jsonschema:"category to verify"`
	MaxDocuments int    `json:"max_documents,omitempty" jsonschema:"stop after grading this many records; default all"`
}

// VerifyCategoryOutput defines the output schema for the
// verify_category tool.
type VerifyCategoryOutput struct {
	ToolStatus
	Summary *verify.CategorySummary `json:"summary,omitempty"`
}

// AuditStorageIntegrityInput defines the input schema for the
// audit_storage_integrity tool.
type AuditStorageIntegrityInput struct {
	SourceDirectory string   `json:"source_directory" jsonschema:"directory whose files are compared against stored records"`
	Recursive       *bool    `json:"recursive,omitempty" jsonschema:"scan subdirectories, default true"`
	FileExtensions  []string `json:"file_extensions,omitempty" jsonschema:"extensions to include, e.g. ['.md', '.txt']; default all files"`
}

// AuditStorageIntegrityOutput defines the output schema for the
// audit_storage_integrity tool.
type AuditStorageIntegrityOutput struct {
	ToolStatus
	Report *verify.AuditReport `json:"report,omitempty"`
}

// ExportDocumentsInput defines the input schema for the
// export_documents tool.
type ExportDocumentsInput struct {
	Scope             string         `json:"scope,omitempty" jsonschema:"collections to export: docs, code, or all; default docs"`
	Filters           map[string]any `json:"filters,omitempty" jsonschema:"optional filter tree narrowing the export"`
	IncludeEmbeddings bool           `json:"include_embeddings,omitempty" jsonschema:"include vectors in the export, default false"`
}

// ExportDocumentsOutput defines the output schema for the
// export_documents tool.
type ExportDocumentsOutput struct {
	ToolStatus
	Documents []backup.Document `json:"documents,omitempty"`
	Count     int               `json:"count"`
}

// ImportDocumentsInput defines the input schema for the
// import_documents tool.
type ImportDocumentsInput struct {
	Documents []backup.Document `json:"documents" jsonschema:"records to import, each {id?, content, meta, embedding?}"`
	Policy    string            `json:"policy,omitempty" jsonschema:"duplicate handling: skip, update, or error; default skip"`
	Scope     string            `json:"scope,omitempty" jsonschema:"collection to import into: docs or code; default docs"`
}

// ImportDocumentsOutput defines the output schema for the
// import_documents tool.
type ImportDocumentsOutput struct {
	ToolStatus
	Total    int                  `json:"total"`
	Imported int                  `json:"imported"`
	Updated  int                  `json:"updated"`
	Skipped  int                  `json:"skipped"`
	Failed   int                  `json:"failed"`
	Errors   []backup.ImportError `json:"errors,omitempty"`
}

// CreateBackupInput defines the input schema for the create_backup
// tool.
type CreateBackupInput struct {
	Scope             string         `json:"scope,omitempty" jsonschema:"collection to back up: docs or code; default docs"`
	IncludeEmbeddings bool           `json:"include_embeddings,omitempty" jsonschema:"include vectors in the backup, default false"`
	Filters           map[string]any `json:"filters,omitempty" jsonschema:"optional filter tree narrowing the backup"`
}

// CreateBackupOutput defines the output schema for the create_backup
// tool.
type CreateBackupOutput struct {
	ToolStatus
	BackupID      string                `json:"backup_id,omitempty"`
	Name          string                `json:"name,omitempty"`
	Path          string                `json:"path,omitempty"`
	Collection    string                `json:"collection,omitempty"`
	DocumentCount int                   `json:"document_count"`
	Files         []backup.ManifestFile `json:"files,omitempty"`
}

// RestoreBackupInput defines the input schema for the restore_backup
// tool.
type RestoreBackupInput struct {
	Backup string `json:"backup" jsonschema:"backup name or path to restore"`
	Scope  string `json:"scope,omitempty" jsonschema:"collection to restore into: docs or code; defaults to the backup's own collection"`
	Policy string `json:"policy,omitempty" jsonschema:"duplicate handling: skip, update, or error; default skip"`
}

// RestoreBackupOutput defines the output schema for the restore_backup
// tool.
type RestoreBackupOutput struct {
	ToolStatus
	BackupID   string               `json:"backup_id,omitempty"`
	Name       string               `json:"name,omitempty"`
	Collection string               `json:"collection,omitempty"`
	Import     *backup.ImportResult `json:"import,omitempty"`
}

// ListBackupsInput defines the input schema for the list_backups tool
// (no parameters).
type ListBackupsInput struct{}

// ListBackupsOutput defines the output schema for the list_backups
// tool.
type ListBackupsOutput struct {
	ToolStatus
	Backups []backup.BackupInfo `json:"backups,omitempty"`
	Count   int                 `json:"count"`
}

// decodeFilter converts a wire filter object into the store's filter
// tree. Nil and empty objects mean no filter.
func decodeFilter(m map[string]any) (*store.Filter, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, kberrors.Wrap(err, kberrors.KindInvalidInput, "filter is not valid JSON")
	}
	var f store.Filter
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, kberrors.Wrap(err, kberrors.KindInvalidInput, "filter does not match the predicate grammar")
	}
	if err := store.ValidateFilter(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// metaFromUpdates converts a metadata_updates object into the typed
// envelope overrides a content update accepts. The allowed keys mirror
// the metadata patch surface.
func metaFromUpdates(m map[string]any) (meta.Input, error) {
	var in meta.Input
	for k, v := range m {
		if k == "tags" {
			tags, ok := toStringList(v)
			if !ok {
				return in, kberrors.New(kberrors.KindInvalidInput, "tags must be a list of strings")
			}
			in.Tags = tags
			continue
		}
		s, ok := v.(string)
		if !ok {
			return in, kberrors.Newf(kberrors.KindInvalidInput, "field %q must be a string", k)
		}
		switch k {
		case "category":
			in.Category = s
		case "status":
			in.Status = s
		case "source":
			in.Source = s
		case "repo":
			in.Repo = s
		case "file_path":
			in.FilePath = s
		case "file_hash":
			in.FileHash = s
		default:
			return in, kberrors.Newf(kberrors.KindInvalidInput, "unknown metadata field %q", k).
				WithDetail("allowed", []string{"category", "status", "source", "repo", "tags", "file_path", "file_hash"})
		}
	}
	return in, nil
}

func toStringList(v any) ([]string, bool) {
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
