package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmcp/vaultmcp/internal/cli"
	"github.com/vaultmcp/vaultmcp/internal/search"
)

func TestStatusCmd_HasJSONFlag(t *testing.T) {
	cmd := newStatusCmd()

	flag := cmd.Flags().Lookup("json")

	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestStatus_ReportsUnreachableStore(t *testing.T) {
	// Given: a store endpoint nothing listens on
	setTestEnv(t, "http://127.0.0.1:1")
	resetConfigPath(t)
	t.Setenv("VAULTMCP_BACKUP_DIR", t.TempDir())

	buf := new(bytes.Buffer)
	cmd := NewRootCmd()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"status", "--json"})

	// When: collecting status
	err := cmd.Execute()

	// Then: the command still succeeds and reports the outage
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	assert.Equal(t, "dev", info["version"])
	assert.Equal(t, "http://127.0.0.1:1", info["qdrant_url"])
	assert.Equal(t, false, info["reachable"])
	assert.NotEmpty(t, info["error"])
	assert.Equal(t, "static", info["embedding_provider"])
	assert.Equal(t, "static-hash", info["docs_model"])
	assert.Equal(t, float64(0), info["backup_count"])
}

func TestRenderStatus_HealthyStore(t *testing.T) {
	buf := new(bytes.Buffer)
	info := statusInfo{
		Version:       "dev",
		QdrantURL:     "http://localhost:6334",
		Reachable:     true,
		Provider:      "static",
		DocsModel:     "static-hash",
		CodeModel:     "static-hash",
		Collections:   []search.CollectionStats{{Collection: "vault_docs", Total: 12, Active: 10, Deprecated: 2}},
		IndexedFields: []string{"meta.doc_id"},
		BackupDir:     "/tmp/backups",
		BackupCount:   2,
		LatestBackup:  "backup_vault_docs_20250102_030405",
	}

	renderStatus(cli.NewPlainWriter(buf), info)

	output := buf.String()
	assert.Contains(t, output, "vaultmcp dev")
	assert.Contains(t, output, "Qdrant reachable")
	assert.Contains(t, output, "12 records (10 active, 2 deprecated, 0 draft)")
	assert.Contains(t, output, "2 (latest backup_vault_docs_20250102_030405)")
}

func TestRenderStatus_UnreachableStore(t *testing.T) {
	buf := new(bytes.Buffer)
	info := statusInfo{
		Version:   "dev",
		QdrantURL: "http://localhost:6334",
		Error:     "connection refused",
	}

	renderStatus(cli.NewPlainWriter(buf), info)

	output := buf.String()
	assert.Contains(t, output, "Qdrant unreachable: connection refused")
	assert.NotContains(t, output, "Backup dir")
}
