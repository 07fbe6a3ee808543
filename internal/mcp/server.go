package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vaultmcp/vaultmcp/internal/backup"
	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/ingest"
	"github.com/vaultmcp/vaultmcp/internal/search"
	"github.com/vaultmcp/vaultmcp/internal/verify"
	"github.com/vaultmcp/vaultmcp/pkg/version"
)

// Server is the MCP server for vaultmcp. It exposes the ingestion,
// search, verification, and backup services as typed tools for AI
// clients.
type Server struct {
	mcp      *mcp.Server
	ctrl     *ingest.Controller
	search   *search.Service
	verify   *verify.Service
	archiver *backup.Service
	log      *slog.Logger
}

// NewServer wires the services into an MCP server and registers every
// tool.
func NewServer(ctrl *ingest.Controller, searcher *search.Service, verifier *verify.Service, archiver *backup.Service, log *slog.Logger) (*Server, error) {
	if ctrl == nil {
		return nil, errors.New("ingest controller is required")
	}
	if searcher == nil {
		return nil, errors.New("search service is required")
	}
	if verifier == nil {
		return nil, errors.New("verify service is required")
	}
	if archiver == nil {
		return nil, errors.New("backup service is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		ctrl:     ctrl,
		search:   searcher,
		verify:   verifier,
		archiver: archiver,
		log:      log,
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "vaultmcp",
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools
	)
	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// registerTools registers the full tool surface. Every tool reports
// its outcome in the response body, so a handler error never reaches
// the protocol layer.
func (s *Server) registerTools() {
	// Write paths.
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_document",
		Description: "Store a text document with deduplication and versioning. Identical content is skipped, changed content becomes a new version and the old one is deprecated.",
	}, s.mcpAddDocumentHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_file",
		Description: "Read a file from disk and store it as a document. The cleaned file path becomes the document id unless metadata overrides it.",
	}, s.mcpAddFileHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_code",
		Description: "Store a source file in the code collection with language detection. Files larger than the chunk size are split unless enable_chunking says otherwise.",
	}, s.mcpAddCodeHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_code_directory",
		Description: "Walk a directory and ingest every recognized source file into the code collection. Per-file failures are collected, not fatal.",
	}, s.mcpAddCodeDirectoryHandler)

	// Read paths.
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over stored documents and code. Results carry the full metadata envelope, a similarity score, and the stored point reference.",
	}, s.mcpSearchDocumentsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_document_by_path",
		Description: "Fetch the stored document for a file path, newest matching version first. Defaults to active records.",
	}, s.mcpGetDocumentByPathHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_metadata_stats",
		Description: "Tally metadata field values over one collection, optionally narrowed by a filter.",
	}, s.mcpGetMetadataStatsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_stats",
		Description: "Report per-collection record counts by lifecycle status and the set of indexed metadata fields.",
	}, s.mcpGetStatsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_version_history",
		Description: "List the stored versions of a document, newest first, including deprecated ones by default.",
	}, s.mcpGetVersionHistoryHandler)

	// Mutations.
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "update_document",
		Description: "Replace a document's content. The stored version is deprecated and the new content embedded; unchanged content is skipped.",
	}, s.mcpUpdateDocumentHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "update_metadata",
		Description: "Patch envelope fields on a document without touching its content or embedding.",
	}, s.mcpUpdateMetadataHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_document",
		Description: "Delete every record of a document: all versions and all chunks.",
	}, s.mcpDeleteDocumentHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_by_filter",
		Description: "Delete every record matching a metadata filter. The filter is required.",
	}, s.mcpDeleteByFilterHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "bulk_update_metadata",
		Description: "Patch envelope fields on every record matching a metadata filter.",
	}, s.mcpBulkUpdateMetadataHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_all",
		Description: "Delete every record in the selected collections. Requires confirm=true.",
	}, s.mcpClearAllHandler)

	// Verification.
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "verify_document",
		Description: "Grade one document's stored records: placeholder content, metadata consistency, and retrievability.",
	}, s.mcpVerifyDocumentHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "verify_category",
		Description: "Grade every active document in a category and summarize pass rates and failures.",
	}, s.mcpVerifyCategoryHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "audit_storage_integrity",
		Description: "Compare files on disk against stored records and report missing, stale, and orphaned documents.",
	}, s.mcpAuditStorageIntegrityHandler)

	// Portability.
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "export_documents",
		Description: "Materialize matching records as portable JSON documents, optionally with their embeddings.",
	}, s.mcpExportDocumentsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "import_documents",
		Description: "Replay exported documents into a collection under a duplicate policy: skip, update, or error.",
	}, s.mcpImportDocumentsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_backup",
		Description: "Export one collection into a timestamped, checksummed backup directory under the backup root.",
	}, s.mcpCreateBackupHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "restore_backup",
		Description: "Verify a backup's checksums and replay it through the import path under a duplicate policy.",
	}, s.mcpRestoreBackupHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_backups",
		Description: "List backups found under the backup root, newest first.",
	}, s.mcpListBackupsHandler)

	s.log.Info("MCP tools registered", slog.Int("count", 23))
}

// Serve runs the server on the given transport until ctx is canceled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.log.Info("starting MCP server",
		slog.String("transport", transport),
		slog.String("version", version.Version))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.log.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.log.Info("MCP server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// logCall records one tool invocation. Failures travel in the response
// body, so this log line is where operators see them.
func (s *Server) logCall(tool, requestID string, start time.Time, err error) {
	if err != nil {
		s.log.Warn("tool failed",
			slog.String("tool", tool),
			slog.String("request_id", requestID),
			slog.String("kind", string(kberrors.KindOf(err))),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		return
	}
	s.log.Info("tool completed",
		slog.String("tool", tool),
		slog.String("request_id", requestID),
		slog.Duration("elapsed", time.Since(start)))
}

// generateRequestID creates a short random ID for correlating log lines
// of one tool call.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
