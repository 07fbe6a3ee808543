package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultmcp/vaultmcp/internal/cli"
	"github.com/vaultmcp/vaultmcp/internal/config"
	"github.com/vaultmcp/vaultmcp/internal/search"
	"github.com/vaultmcp/vaultmcp/pkg/version"
)

// statusTimeout caps how long the status command waits on Qdrant.
const statusTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store health and collection counts",
		Long: `Display the effective connection settings, whether Qdrant is
reachable, per-collection record counts by lifecycle status, and the
backups found under the backup root.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// statusInfo is the machine-readable shape behind --json.
type statusInfo struct {
	Version       string                   `json:"version"`
	QdrantURL     string                   `json:"qdrant_url"`
	Reachable     bool                     `json:"reachable"`
	Error         string                   `json:"error,omitempty"`
	Provider      string                   `json:"embedding_provider"`
	DocsModel     string                   `json:"docs_model"`
	CodeModel     string                   `json:"code_model"`
	Collections   []search.CollectionStats `json:"collections,omitempty"`
	IndexedFields []string                 `json:"indexed_fields,omitempty"`
	BackupDir     string                   `json:"backup_dir"`
	BackupCount   int                      `json:"backup_count"`
	LatestBackup  string                   `json:"latest_backup,omitempty"`
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Status is a diagnostic; service logs would drown its output.
	stack, err := buildStack(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	defer stack.Close()

	info := collectStatus(ctx, stack)

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	renderStatus(cli.NewWriter(cmd.OutOrStdout()), info)
	return nil
}

func collectStatus(ctx context.Context, stack *stack) statusInfo {
	info := statusInfo{
		Version:   version.Version,
		QdrantURL: stack.cfg.Qdrant.URL,
		Provider:  stack.cfg.Embed.Provider,
		DocsModel: stack.docsEmb.ModelName(),
		CodeModel: stack.codeEmb.ModelName(),
		BackupDir: stack.cfg.Backup.Dir,
	}

	cctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	stats, err := stack.search.Stats(cctx)
	if err != nil {
		info.Error = err.Error()
	} else {
		info.Reachable = true
		info.Collections = stats.Collections
		info.IndexedFields = stats.IndexedFields
	}

	// A missing backup root just means no backups yet.
	if backups, err := stack.archiver.List(); err == nil {
		info.BackupCount = len(backups)
		if len(backups) > 0 {
			info.LatestBackup = backups[0].Name
		}
	}

	return info
}

func renderStatus(w *cli.Writer, info statusInfo) {
	w.Header("vaultmcp " + info.Version)
	w.Field("Qdrant", info.QdrantURL)
	w.Field("Provider", info.Provider)
	w.Field("Docs model", info.DocsModel)
	w.Field("Code model", info.CodeModel)
	w.Newline()

	if !info.Reachable {
		w.Errorf("Qdrant unreachable: %s", info.Error)
		return
	}
	w.Success("Qdrant reachable")
	for _, cs := range info.Collections {
		w.Field(cs.Collection, fmt.Sprintf("%d records (%d active, %d deprecated, %d draft)",
			cs.Total, cs.Active, cs.Deprecated, cs.Draft))
	}
	w.Newline()

	w.Field("Backup dir", info.BackupDir)
	if info.BackupCount == 0 {
		w.Field("Backups", "none")
		return
	}
	w.Fieldf("Backups", "%d (latest %s)", info.BackupCount, info.LatestBackup)
}
