package meta

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/fingerprint"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	b := NewBuilder("testrepo")
	b.Now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	}
	return b
}

// ============================================================================
// Defaults
// ============================================================================

func TestBuild_FillsDefaults(t *testing.T) {
	// Given: a bare input with only a content hash
	b := testBuilder(t)
	hash := fingerprint.Content("some document body")

	// When: building the envelope
	env, err := b.Build(Input{}, hash)

	// Then: every optional field has its default
	require.NoError(t, err)
	assert.Equal(t, "doc_"+hash[:16], env.DocID)
	assert.Equal(t, CategoryOther, env.Category)
	assert.Equal(t, StatusActive, env.Status)
	assert.Equal(t, SourceManual, env.Source)
	assert.Equal(t, "testrepo", env.Repo)
	assert.Equal(t, hash, env.HashContent)
	assert.Equal(t, FormatTime(env.CreatedAt), env.Version, "version defaults to the creation timestamp")
	assert.NotNil(t, env.Tags)
	assert.Empty(t, env.Tags)
	assert.NotEmpty(t, env.MetadataHash)
	assert.Equal(t, env.CreatedAt, env.UpdatedAt)
}

func TestNewBuilder_EmptyRepoUsesDefault(t *testing.T) {
	b := NewBuilder("")
	env, err := b.Build(Input{}, fingerprint.Content("x"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRepo, env.Repo)
}

func TestBuild_ExplicitFieldsPreserved(t *testing.T) {
	b := testBuilder(t)

	env, err := b.Build(Input{
		DocID:    "doc_custom",
		Version:  "v7",
		Category: "design_doc",
		Status:   "draft",
		FilePath: "docs/arch.md",
		FileHash: "aa11",
		Source:   "imported",
		Repo:     "other",
		Tags:     []string{"go", "auth"},
	}, fingerprint.Content("body"))

	require.NoError(t, err)
	assert.Equal(t, "doc_custom", env.DocID)
	assert.Equal(t, "v7", env.Version)
	assert.Equal(t, CategoryDesignDoc, env.Category)
	assert.Equal(t, StatusDraft, env.Status)
	assert.Equal(t, "docs/arch.md", env.FilePath)
	assert.Equal(t, "aa11", env.FileHash)
	assert.Equal(t, SourceImported, env.Source)
	assert.Equal(t, "other", env.Repo)
	assert.Equal(t, []string{"go", "auth"}, env.Tags)
}

// ============================================================================
// Validation
// ============================================================================

func TestBuild_RejectsInvalidEnums(t *testing.T) {
	tests := []struct {
		name  string
		input Input
	}{
		{name: "unknown category", input: Input{Category: "blog_post"}},
		{name: "unknown status", input: Input{Status: "archived"}},
		{name: "unknown source", input: Input{Source: "scraped"}},
	}

	b := testBuilder(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(tt.input, fingerprint.Content("body"))
			require.Error(t, err)
			assert.Equal(t, kberrors.KindInvalidMetadata, kberrors.KindOf(err))
		})
	}
}

func TestBuild_RequiresContentHash(t *testing.T) {
	b := testBuilder(t)
	_, err := b.Build(Input{}, "")
	require.Error(t, err)
	assert.Equal(t, kberrors.KindInvalidMetadata, kberrors.KindOf(err))
}

func TestBuild_RejectsChunkNamespaceDocID(t *testing.T) {
	// Given: a caller-chosen id shaped like a derived chunk id
	b := testBuilder(t)

	// When: building with it
	_, err := b.Build(Input{DocID: "doc_abc_chunk_3"}, fingerprint.Content("body"))

	// Then: the id is rejected, the namespace stays reserved
	require.Error(t, err)
	assert.Equal(t, kberrors.KindInvalidMetadata, kberrors.KindOf(err))
}

// ============================================================================
// Chunk envelopes
// ============================================================================

func TestBuildChunk_InheritsParentIdentity(t *testing.T) {
	// Given: a built parent envelope
	b := testBuilder(t)
	parentHash := fingerprint.Content("parent body")
	parent, err := b.Build(Input{Category: "test_pattern", Tags: []string{"t"}}, parentHash)
	require.NoError(t, err)

	// When: deriving chunk 2 of 5
	chunkHash := fingerprint.Content("chunk body")
	env, info := b.BuildChunk(parent, 2, 5, chunkHash)

	// Then: identity fields are the chunk's own
	assert.Equal(t, ChunkID(parent.DocID, 2), env.DocID)
	assert.Equal(t, chunkHash, env.HashContent)
	assert.Equal(t, 2, info.Index)
	assert.Equal(t, 5, info.Total)
	assert.Equal(t, parent.DocID, info.ParentDocID)

	// And: lifecycle and fingerprint come from the parent
	assert.Equal(t, parent.Status, env.Status)
	assert.Equal(t, parent.Category, env.Category)
	assert.Equal(t, parent.MetadataHash, env.MetadataHash)
	assert.Equal(t, parent.Version, env.Version)
}

func TestChunkID_RoundTrip(t *testing.T) {
	id := ChunkID("doc_abc", 7)
	assert.Equal(t, "doc_abc_chunk_7", id)
	assert.True(t, IsChunkID(id))
}

func TestIsChunkID(t *testing.T) {
	tests := []struct {
		id     string
		expect bool
	}{
		{id: "doc_abc_chunk_0", expect: true},
		{id: "doc_abc_chunk_12", expect: true},
		{id: "doc_abc", expect: false},
		{id: "doc_abc_chunk_", expect: false},
		{id: "doc_abc_chunk_x", expect: false},
		{id: "chunky", expect: false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.expect, IsChunkID(tt.id))
		})
	}
}

// ============================================================================
// Metadata fingerprint stability
// ============================================================================

func TestMetadataHash_IgnoresLifecycleChurn(t *testing.T) {
	// Given: one envelope before and after a status flip plus new
	// timestamps
	b := testBuilder(t)
	env, err := b.Build(Input{Category: "design_doc"}, fingerprint.Content("body"))
	require.NoError(t, err)

	churned := env
	churned.Status = StatusDeprecated
	churned.Version = "v99"
	churned.CreatedAt = env.CreatedAt.Add(48 * time.Hour)
	churned.UpdatedAt = env.UpdatedAt.Add(48 * time.Hour)

	// Then: the metadata fingerprint is unchanged
	assert.Equal(t, MetadataHash(env), MetadataHash(churned))
}

func TestMetadataHash_SensitiveToStableFields(t *testing.T) {
	b := testBuilder(t)
	env, err := b.Build(Input{Category: "design_doc"}, fingerprint.Content("body"))
	require.NoError(t, err)

	changed := env
	changed.Tags = []string{"new-tag"}

	assert.NotEqual(t, MetadataHash(env), MetadataHash(changed))
}

// ============================================================================
// Payload round trip
// ============================================================================

func TestFlatten_FromPayload_RoundTrip(t *testing.T) {
	// Given: a full envelope with chunk identity
	b := testBuilder(t)
	env, err := b.Build(Input{
		Category: "debug_summary",
		FilePath: "notes/debug.md",
		FileHash: "ff00",
		Tags:     []string{"session"},
	}, fingerprint.Content("body"))
	require.NoError(t, err)
	chunkEnv, info := b.BuildChunk(env, 1, 3, fingerprint.Content("chunk"))

	// When: flattening and parsing back
	payload := Flatten(chunkEnv, &info)
	got, gotChunk, err := FromPayload(payload)

	// Then: the envelope and chunk identity survive
	require.NoError(t, err)
	require.NotNil(t, gotChunk)
	assert.Equal(t, chunkEnv.DocID, got.DocID)
	assert.Equal(t, chunkEnv.Category, got.Category)
	assert.Equal(t, chunkEnv.HashContent, got.HashContent)
	assert.Equal(t, chunkEnv.MetadataHash, got.MetadataHash)
	assert.Equal(t, chunkEnv.FilePath, got.FilePath)
	assert.Equal(t, chunkEnv.Tags, got.Tags)
	assert.True(t, chunkEnv.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, info, *gotChunk)
}

func TestFlatten_OmitsEmptyOptionalFields(t *testing.T) {
	b := testBuilder(t)
	env, err := b.Build(Input{}, fingerprint.Content("body"))
	require.NoError(t, err)

	payload := Flatten(env, nil)

	_, hasPath := payload["file_path"]
	_, hasFileHash := payload["file_hash"]
	_, hasChunk := payload["is_chunk"]
	assert.False(t, hasPath)
	assert.False(t, hasFileHash)
	assert.False(t, hasChunk)
}

func TestFromPayload_JSONNumericTypes(t *testing.T) {
	// Given: a payload decoded from JSON, where ints arrive as float64
	// and tags as []any
	payload := map[string]any{
		"doc_id":        "doc_json",
		"category":      "other",
		"status":        "active",
		"hash_content":  "aa",
		"metadata_hash": "bb",
		"source":        "manual",
		"repo":          "vaultmcp",
		"tags":          []any{"x", "y"},
		"is_chunk":      true,
		"chunk_id":      "doc_json_chunk_4",
		"chunk_index":   float64(4),
		"parent_doc_id": "doc_json",
		"total_chunks":  float64(9),
	}

	env, chunk, err := FromPayload(payload)

	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, []string{"x", "y"}, env.Tags)
	assert.Equal(t, 4, chunk.Index)
	assert.Equal(t, 9, chunk.Total)
}

func TestFromPayload_MissingDocID(t *testing.T) {
	_, _, err := FromPayload(map[string]any{"category": "other"})
	require.Error(t, err)
	assert.Equal(t, kberrors.KindInternal, kberrors.KindOf(err))
}

func TestFromPayload_MalformedTimestamp(t *testing.T) {
	_, _, err := FromPayload(map[string]any{
		"doc_id":     "doc_bad",
		"created_at": "yesterday",
	})
	require.Error(t, err)
}

func TestFromPayload_NilMap(t *testing.T) {
	_, _, err := FromPayload(nil)
	require.Error(t, err)
}
