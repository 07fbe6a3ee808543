package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vaultmcp/vaultmcp/internal/backup"
	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/ingest"
	"github.com/vaultmcp/vaultmcp/internal/search"
	"github.com/vaultmcp/vaultmcp/internal/verify"
)

// fail logs a failed call and converts the error to its wire envelope.
func (s *Server) fail(tool, requestID string, start time.Time, err error) ToolStatus {
	s.logCall(tool, requestID, start, err)
	return MapError(err)
}

// scopeOr applies the tool's default scope when the caller omits one.
func scopeOr(scope string, def ingest.Scope) ingest.Scope {
	if scope == "" {
		return def
	}
	return ingest.Scope(scope)
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// collectionFor resolves a single-collection scope for tools that
// operate on one collection at a time.
func (s *Server) collectionFor(scope string, def ingest.Scope) (string, error) {
	resolved := scopeOr(scope, def)
	if resolved == ingest.ScopeAll {
		return "", kberrors.New(kberrors.KindInvalidInput, "scope must be docs or code").
			WithDetail("allowed", []string{string(ingest.ScopeDocs), string(ingest.ScopeCode)})
	}
	collections, err := s.ctrl.Collections(resolved)
	if err != nil {
		return "", err
	}
	return collections[0], nil
}

func (s *Server) mcpAddDocumentHandler(ctx context.Context, req *mcp.CallToolRequest, input AddDocumentInput) (
	*mcp.CallToolResult,
	WriteOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	res, err := s.ctrl.AddDocument(ctx, ingest.AddInput{
		Content:      input.Content,
		Meta:         input.Metadata.meta(),
		Chunk:        input.EnableChunking,
		ChunkSize:    input.ChunkSize,
		ChunkOverlap: input.ChunkOverlap,
	})
	if err != nil {
		return nil, WriteOutput{ToolStatus: s.fail("add_document", requestID, start, err)}, nil
	}

	s.logCall("add_document", requestID, start, nil)
	return nil, writeOutput(res), nil
}

func (s *Server) mcpAddFileHandler(ctx context.Context, req *mcp.CallToolRequest, input AddFileInput) (
	*mcp.CallToolResult,
	WriteOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	res, err := s.ctrl.AddFile(ctx, ingest.FileInput{
		Path: input.FilePath,
		Meta: input.Metadata.fileMeta(),
	})
	if err != nil {
		return nil, WriteOutput{ToolStatus: s.fail("add_file", requestID, start, err)}, nil
	}

	s.logCall("add_file", requestID, start, nil)
	return nil, writeOutput(res), nil
}

func (s *Server) mcpAddCodeHandler(ctx context.Context, req *mcp.CallToolRequest, input AddCodeInput) (
	*mcp.CallToolResult,
	WriteOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	res, err := s.ctrl.AddCode(ctx, ingest.FileInput{
		Path:         input.FilePath,
		Meta:         input.Metadata.fileMeta(),
		Language:     input.Language,
		Chunk:        input.EnableChunking,
		ChunkSize:    input.ChunkSize,
		ChunkOverlap: input.ChunkOverlap,
	})
	if err != nil {
		return nil, WriteOutput{ToolStatus: s.fail("add_code", requestID, start, err)}, nil
	}

	s.logCall("add_code", requestID, start, nil)
	return nil, writeOutput(res), nil
}

func (s *Server) mcpAddCodeDirectoryHandler(ctx context.Context, req *mcp.CallToolRequest, input AddCodeDirectoryInput) (
	*mcp.CallToolResult,
	AddCodeDirectoryOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	res, err := s.ctrl.AddCodeDirectory(ctx, ingest.DirInput{
		Dir:        input.Directory,
		Meta:       input.Metadata.fileMeta(),
		Extensions: input.Extensions,
		Recursive:  boolOr(input.Recursive, true),
	})
	if err != nil {
		return nil, AddCodeDirectoryOutput{ToolStatus: s.fail("add_code_directory", requestID, start, err)}, nil
	}

	s.logCall("add_code_directory", requestID, start, nil)
	return nil, AddCodeDirectoryOutput{
		ToolStatus:     succeed(),
		Directory:      res.Dir,
		FilesScanned:   res.Scanned,
		FilesProcessed: res.Stored + res.Updated + res.Skipped,
		FilesFailed:    len(res.Failures),
		ChunksCreated:  res.Chunks,
		Stored:         res.Stored,
		Updated:        res.Updated,
		Skipped:        res.Skipped,
		Failures:       res.Failures,
	}, nil
}

func (s *Server) mcpSearchDocumentsHandler(ctx context.Context, req *mcp.CallToolRequest, input SearchDocumentsInput) (
	*mcp.CallToolResult,
	SearchDocumentsOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	filter, err := decodeFilter(input.MetadataFilters)
	if err != nil {
		return nil, SearchDocumentsOutput{ToolStatus: s.fail("search_documents", requestID, start, err)}, nil
	}

	results, err := s.search.Search(ctx, search.Query{
		Text:        input.Query,
		TopK:        input.TopK,
		ContentType: input.ContentType,
		Filter:      filter,
	})
	if err != nil {
		return nil, SearchDocumentsOutput{ToolStatus: s.fail("search_documents", requestID, start, err)}, nil
	}

	s.logCall("search_documents", requestID, start, nil)
	return nil, SearchDocumentsOutput{
		ToolStatus: succeed(),
		Results:    results,
		Count:      len(results),
	}, nil
}

func (s *Server) mcpGetDocumentByPathHandler(ctx context.Context, req *mcp.CallToolRequest, input GetDocumentByPathInput) (
	*mcp.CallToolResult,
	GetDocumentByPathOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	doc, err := s.search.ByPath(ctx, input.FilePath, input.Status)
	if err != nil {
		return nil, GetDocumentByPathOutput{ToolStatus: s.fail("get_document_by_path", requestID, start, err)}, nil
	}

	s.logCall("get_document_by_path", requestID, start, nil)
	return nil, GetDocumentByPathOutput{ToolStatus: succeed(), Document: doc}, nil
}

func (s *Server) mcpGetMetadataStatsHandler(ctx context.Context, req *mcp.CallToolRequest, input GetMetadataStatsInput) (
	*mcp.CallToolResult,
	GetMetadataStatsOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	collection, err := s.collectionFor(input.Scope, ingest.ScopeDocs)
	if err != nil {
		return nil, GetMetadataStatsOutput{ToolStatus: s.fail("get_metadata_stats", requestID, start, err)}, nil
	}
	filter, err := decodeFilter(input.Filters)
	if err != nil {
		return nil, GetMetadataStatsOutput{ToolStatus: s.fail("get_metadata_stats", requestID, start, err)}, nil
	}

	stats, err := s.search.GroupBy(ctx, collection, filter, input.GroupByFields)
	if err != nil {
		return nil, GetMetadataStatsOutput{ToolStatus: s.fail("get_metadata_stats", requestID, start, err)}, nil
	}

	s.logCall("get_metadata_stats", requestID, start, nil)
	return nil, GetMetadataStatsOutput{ToolStatus: succeed(), Stats: stats}, nil
}

func (s *Server) mcpGetStatsHandler(ctx context.Context, req *mcp.CallToolRequest, input GetStatsInput) (
	*mcp.CallToolResult,
	GetStatsOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	stats, err := s.search.Stats(ctx)
	if err != nil {
		return nil, GetStatsOutput{ToolStatus: s.fail("get_stats", requestID, start, err)}, nil
	}

	s.logCall("get_stats", requestID, start, nil)
	return nil, GetStatsOutput{
		ToolStatus:    succeed(),
		Collections:   stats.Collections,
		IndexedFields: stats.IndexedFields,
	}, nil
}

func (s *Server) mcpGetVersionHistoryHandler(ctx context.Context, req *mcp.CallToolRequest, input GetVersionHistoryInput) (
	*mcp.CallToolResult,
	GetVersionHistoryOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	versions, err := s.ctrl.VersionHistory(ctx, input.DocID, input.Category, boolOr(input.IncludeDeprecated, true))
	if err != nil {
		return nil, GetVersionHistoryOutput{ToolStatus: s.fail("get_version_history", requestID, start, err)}, nil
	}

	s.logCall("get_version_history", requestID, start, nil)
	return nil, GetVersionHistoryOutput{
		ToolStatus: succeed(),
		DocID:      input.DocID,
		Versions:   versions,
		Count:      len(versions),
	}, nil
}

func (s *Server) mcpUpdateDocumentHandler(ctx context.Context, req *mcp.CallToolRequest, input UpdateDocumentInput) (
	*mcp.CallToolResult,
	WriteOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	docID, err := s.ctrl.ResolveDocID(ctx, input.PointReference)
	if err != nil {
		return nil, WriteOutput{ToolStatus: s.fail("update_document", requestID, start, err)}, nil
	}
	overrides, err := metaFromUpdates(input.MetadataUpdates)
	if err != nil {
		return nil, WriteOutput{ToolStatus: s.fail("update_document", requestID, start, err)}, nil
	}

	res, err := s.ctrl.UpdateDocument(ctx, ingest.UpdateInput{
		DocID:   docID,
		Content: input.Content,
		Meta:    overrides,
	})
	if err != nil {
		return nil, WriteOutput{ToolStatus: s.fail("update_document", requestID, start, err)}, nil
	}

	s.logCall("update_document", requestID, start, nil)
	return nil, writeOutput(res), nil
}

func (s *Server) mcpUpdateMetadataHandler(ctx context.Context, req *mcp.CallToolRequest, input UpdateMetadataInput) (
	*mcp.CallToolResult,
	UpdateMetadataOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	docID, err := s.ctrl.ResolveDocID(ctx, input.PointReference)
	if err != nil {
		return nil, UpdateMetadataOutput{ToolStatus: s.fail("update_metadata", requestID, start, err)}, nil
	}

	res, err := s.ctrl.UpdateMetadata(ctx, docID, input.MetadataUpdates)
	if err != nil {
		return nil, UpdateMetadataOutput{ToolStatus: s.fail("update_metadata", requestID, start, err)}, nil
	}

	s.logCall("update_metadata", requestID, start, nil)
	return nil, UpdateMetadataOutput{
		ToolStatus:   succeed(),
		DocID:        res.DocID,
		Updated:      res.Updated,
		Fields:       res.Fields,
		MetadataHash: res.MetadataHash,
	}, nil
}

func (s *Server) mcpDeleteDocumentHandler(ctx context.Context, req *mcp.CallToolRequest, input DeleteDocumentInput) (
	*mcp.CallToolResult,
	DeleteDocumentOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	docID, err := s.ctrl.ResolveDocID(ctx, input.PointReference)
	if err != nil {
		return nil, DeleteDocumentOutput{ToolStatus: s.fail("delete_document", requestID, start, err)}, nil
	}

	deleted, err := s.ctrl.DeleteDocument(ctx, scopeOr(input.Scope, ingest.ScopeAll), docID)
	if err != nil {
		return nil, DeleteDocumentOutput{ToolStatus: s.fail("delete_document", requestID, start, err)}, nil
	}

	s.logCall("delete_document", requestID, start, nil)
	return nil, DeleteDocumentOutput{ToolStatus: succeed(), DocID: docID, Deleted: deleted}, nil
}

func (s *Server) mcpDeleteByFilterHandler(ctx context.Context, req *mcp.CallToolRequest, input DeleteByFilterInput) (
	*mcp.CallToolResult,
	BulkOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	if len(input.Filters) == 0 {
		err := kberrors.New(kberrors.KindInvalidInput, "delete_by_filter requires a filter").
			WithSuggestion("use clear_all to wipe a collection")
		return nil, BulkOutput{ToolStatus: s.fail("delete_by_filter", requestID, start, err)}, nil
	}
	filter, err := decodeFilter(input.Filters)
	if err != nil {
		return nil, BulkOutput{ToolStatus: s.fail("delete_by_filter", requestID, start, err)}, nil
	}

	results, err := s.ctrl.DeleteByFilter(ctx, scopeOr(input.Scope, ingest.ScopeAll), filter)
	if err != nil {
		return nil, BulkOutput{ToolStatus: s.fail("delete_by_filter", requestID, start, err)}, nil
	}

	s.logCall("delete_by_filter", requestID, start, nil)
	return nil, BulkOutput{ToolStatus: succeed(), Results: results}, nil
}

func (s *Server) mcpBulkUpdateMetadataHandler(ctx context.Context, req *mcp.CallToolRequest, input BulkUpdateMetadataInput) (
	*mcp.CallToolResult,
	BulkOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	filter, err := decodeFilter(input.Filters)
	if err != nil {
		return nil, BulkOutput{ToolStatus: s.fail("bulk_update_metadata", requestID, start, err)}, nil
	}

	results, err := s.ctrl.BulkUpdateMetadata(ctx, scopeOr(input.Scope, ingest.ScopeAll), filter, input.MetadataUpdates)
	if err != nil {
		return nil, BulkOutput{ToolStatus: s.fail("bulk_update_metadata", requestID, start, err)}, nil
	}

	s.logCall("bulk_update_metadata", requestID, start, nil)
	return nil, BulkOutput{ToolStatus: succeed(), Results: results}, nil
}

func (s *Server) mcpClearAllHandler(ctx context.Context, req *mcp.CallToolRequest, input ClearAllInput) (
	*mcp.CallToolResult,
	BulkOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	results, err := s.ctrl.ClearAll(ctx, scopeOr(input.Scope, ingest.ScopeAll), input.Confirm)
	if err != nil {
		return nil, BulkOutput{ToolStatus: s.fail("clear_all", requestID, start, err)}, nil
	}

	s.logCall("clear_all", requestID, start, nil)
	return nil, BulkOutput{ToolStatus: succeed(), Results: results}, nil
}

func (s *Server) mcpVerifyDocumentHandler(ctx context.Context, req *mcp.CallToolRequest, input VerifyDocumentInput) (
	*mcp.CallToolResult,
	VerifyDocumentOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	docID, err := s.ctrl.ResolveDocID(ctx, input.DocID)
	if err != nil {
		return nil, VerifyDocumentOutput{ToolStatus: s.fail("verify_document", requestID, start, err)}, nil
	}

	report, err := s.verify.Document(ctx, docID)
	if err != nil {
		return nil, VerifyDocumentOutput{ToolStatus: s.fail("verify_document", requestID, start, err)}, nil
	}

	s.logCall("verify_document", requestID, start, nil)
	return nil, VerifyDocumentOutput{ToolStatus: succeed(), Report: report}, nil
}

func (s *Server) mcpVerifyCategoryHandler(ctx context.Context, req *mcp.CallToolRequest, input VerifyCategoryInput) (
	*mcp.CallToolResult,
	VerifyCategoryOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	summary, err := s.verify.Category(ctx, input.Category, input.MaxDocuments)
	if err != nil {
		return nil, VerifyCategoryOutput{ToolStatus: s.fail("verify_category", requestID, start, err)}, nil
	}

	s.logCall("verify_category", requestID, start, nil)
	return nil, VerifyCategoryOutput{ToolStatus: succeed(), Summary: summary}, nil
}

func (s *Server) mcpAuditStorageIntegrityHandler(ctx context.Context, req *mcp.CallToolRequest, input AuditStorageIntegrityInput) (
	*mcp.CallToolResult,
	AuditStorageIntegrityOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	report, err := s.verify.Audit(ctx, verify.AuditInput{
		Dir:        input.SourceDirectory,
		Extensions: input.FileExtensions,
		Recursive:  boolOr(input.Recursive, true),
	})
	if err != nil {
		return nil, AuditStorageIntegrityOutput{ToolStatus: s.fail("audit_storage_integrity", requestID, start, err)}, nil
	}

	s.logCall("audit_storage_integrity", requestID, start, nil)
	return nil, AuditStorageIntegrityOutput{ToolStatus: succeed(), Report: report}, nil
}

func (s *Server) mcpExportDocumentsHandler(ctx context.Context, req *mcp.CallToolRequest, input ExportDocumentsInput) (
	*mcp.CallToolResult,
	ExportDocumentsOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	filter, err := decodeFilter(input.Filters)
	if err != nil {
		return nil, ExportDocumentsOutput{ToolStatus: s.fail("export_documents", requestID, start, err)}, nil
	}

	docs, err := s.archiver.Export(ctx, backup.ExportInput{
		Scope:             scopeOr(input.Scope, ingest.ScopeDocs),
		Filter:            filter,
		IncludeEmbeddings: input.IncludeEmbeddings,
	})
	if err != nil {
		return nil, ExportDocumentsOutput{ToolStatus: s.fail("export_documents", requestID, start, err)}, nil
	}

	s.logCall("export_documents", requestID, start, nil)
	return nil, ExportDocumentsOutput{
		ToolStatus: succeed(),
		Documents:  docs,
		Count:      len(docs),
	}, nil
}

func (s *Server) mcpImportDocumentsHandler(ctx context.Context, req *mcp.CallToolRequest, input ImportDocumentsInput) (
	*mcp.CallToolResult,
	ImportDocumentsOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	if len(input.Documents) == 0 {
		err := kberrors.New(kberrors.KindInvalidInput, "no documents to import")
		return nil, ImportDocumentsOutput{ToolStatus: s.fail("import_documents", requestID, start, err)}, nil
	}

	res, err := s.archiver.Import(ctx, backup.ImportInput{
		Scope:     scopeOr(input.Scope, ingest.ScopeDocs),
		Documents: input.Documents,
		Policy:    input.Policy,
	})
	if err != nil {
		return nil, ImportDocumentsOutput{ToolStatus: s.fail("import_documents", requestID, start, err)}, nil
	}

	s.logCall("import_documents", requestID, start, nil)
	return nil, ImportDocumentsOutput{
		ToolStatus: succeed(),
		Total:      res.Total,
		Imported:   res.Imported,
		Updated:    res.Updated,
		Skipped:    res.Skipped,
		Failed:     res.Failed,
		Errors:     res.Errors,
	}, nil
}

func (s *Server) mcpCreateBackupHandler(ctx context.Context, req *mcp.CallToolRequest, input CreateBackupInput) (
	*mcp.CallToolResult,
	CreateBackupOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	filter, err := decodeFilter(input.Filters)
	if err != nil {
		return nil, CreateBackupOutput{ToolStatus: s.fail("create_backup", requestID, start, err)}, nil
	}

	res, err := s.archiver.Create(ctx, backup.CreateInput{
		Scope:             scopeOr(input.Scope, ingest.ScopeDocs),
		Filter:            filter,
		IncludeEmbeddings: input.IncludeEmbeddings,
	})
	if err != nil {
		return nil, CreateBackupOutput{ToolStatus: s.fail("create_backup", requestID, start, err)}, nil
	}

	s.logCall("create_backup", requestID, start, nil)
	return nil, CreateBackupOutput{
		ToolStatus:    succeed(),
		BackupID:      res.BackupID,
		Name:          res.Name,
		Path:          res.Path,
		Collection:    res.Collection,
		DocumentCount: res.DocumentCount,
		Files:         res.Files,
	}, nil
}

func (s *Server) mcpRestoreBackupHandler(ctx context.Context, req *mcp.CallToolRequest, input RestoreBackupInput) (
	*mcp.CallToolResult,
	RestoreBackupOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	res, err := s.archiver.Restore(ctx, backup.RestoreInput{
		Backup: input.Backup,
		Scope:  ingest.Scope(input.Scope),
		Policy: input.Policy,
	})
	if err != nil {
		return nil, RestoreBackupOutput{ToolStatus: s.fail("restore_backup", requestID, start, err)}, nil
	}

	s.logCall("restore_backup", requestID, start, nil)
	return nil, RestoreBackupOutput{
		ToolStatus: succeed(),
		BackupID:   res.BackupID,
		Name:       res.Name,
		Collection: res.Collection,
		Import:     res.Import,
	}, nil
}

func (s *Server) mcpListBackupsHandler(ctx context.Context, req *mcp.CallToolRequest, input ListBackupsInput) (
	*mcp.CallToolResult,
	ListBackupsOutput,
	error,
) {
	requestID := generateRequestID()
	start := time.Now()

	backups, err := s.archiver.List()
	if err != nil {
		return nil, ListBackupsOutput{ToolStatus: s.fail("list_backups", requestID, start, err)}, nil
	}

	s.logCall("list_backups", requestID, start, nil)
	return nil, ListBackupsOutput{
		ToolStatus: succeed(),
		Backups:    backups,
		Count:      len(backups),
	}, nil
}
