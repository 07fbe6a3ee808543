package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Normalization
// ============================================================================

func TestNormalize_LineEndings(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{
			name:   "CRLF becomes LF",
			input:  "line one\r\nline two",
			expect: "line one\nline two",
		},
		{
			name:   "bare CR becomes LF",
			input:  "line one\rline two",
			expect: "line one\nline two",
		},
		{
			name:   "mixed endings",
			input:  "a\r\nb\rc\nd",
			expect: "a\nb\nc\nd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Normalize(tt.input))
		})
	}
}

func TestNormalize_TrailingWhitespace(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{
			name:   "trailing spaces stripped per line",
			input:  "hello   \nworld  ",
			expect: "hello\nworld",
		},
		{
			name:   "trailing tabs stripped",
			input:  "hello\t\nworld\t\t",
			expect: "hello\nworld",
		},
		{
			name:   "leading whitespace preserved",
			input:  "  indented",
			expect: "  indented",
		},
		{
			name:   "trailing newlines removed",
			input:  "content\n\n\n",
			expect: "content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, Normalize(tt.input))
		})
	}
}

func TestNormalize_UnicodeNFC(t *testing.T) {
	// Given: é as a single code point and as e + combining accent
	composed := "café"
	decomposed := "café"

	// Then: both normalize to the same string
	assert.Equal(t, Normalize(composed), Normalize(decomposed))
}

// ============================================================================
// Content fingerprint
// ============================================================================

func TestContent_StableAcrossPlatformVariants(t *testing.T) {
	// Given: one document saved with different line endings and
	// trailing whitespace
	unix := "first line\nsecond line\n"
	windows := "first line\r\nsecond line\r\n"
	sloppy := "first line  \nsecond line\t\n\n"

	// Then: all three share a fingerprint
	assert.Equal(t, Content(unix), Content(windows))
	assert.Equal(t, Content(unix), Content(sloppy))
}

func TestContent_DiffersForDifferentText(t *testing.T) {
	assert.NotEqual(t, Content("alpha"), Content("beta"))
}

func TestHash_KnownVector(t *testing.T) {
	// SHA-256 of the empty string is a published constant.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Hash(""))
}

// ============================================================================
// Envelope fingerprint
// ============================================================================

func TestEnvelope_ExcludesVolatileFields(t *testing.T) {
	// Given: two envelopes differing only in lifecycle fields
	base := map[string]any{
		"doc_id":       "doc_abc",
		"category":     "design_doc",
		"hash_content": "deadbeef",
		"created_at":   "2025-01-01T00:00:00Z",
		"updated_at":   "2025-01-01T00:00:00Z",
		"status":       "active",
		"version":      "2025-01-01T00:00:00Z",
	}
	churned := map[string]any{
		"doc_id":       "doc_abc",
		"category":     "design_doc",
		"hash_content": "deadbeef",
		"created_at":   "2026-06-15T12:30:00Z",
		"updated_at":   "2026-06-15T12:30:00Z",
		"status":       "deprecated",
		"version":      "2026-06-15T12:30:00Z",
	}

	// Then: the fingerprint ignores the churn
	assert.Equal(t, Envelope(base), Envelope(churned))
}

func TestEnvelope_SensitiveToStableFields(t *testing.T) {
	base := map[string]any{
		"doc_id":   "doc_abc",
		"category": "design_doc",
	}
	changed := map[string]any{
		"doc_id":   "doc_abc",
		"category": "test_pattern",
	}

	assert.NotEqual(t, Envelope(base), Envelope(changed))
}

func TestEnvelope_TagOrderIrrelevant(t *testing.T) {
	// Given: identical tag sets in different order
	a := map[string]any{"doc_id": "d", "tags": []string{"go", "testing", "auth"}}
	b := map[string]any{"doc_id": "d", "tags": []string{"auth", "go", "testing"}}

	assert.Equal(t, Envelope(a), Envelope(b))
}

func TestEnvelope_TagOrderIrrelevantForAnySlice(t *testing.T) {
	// Payloads decoded from JSON carry []any rather than []string.
	a := map[string]any{"doc_id": "d", "tags": []any{"go", "auth"}}
	b := map[string]any{"doc_id": "d", "tags": []any{"auth", "go"}}

	assert.Equal(t, Envelope(a), Envelope(b))
}

func TestEnvelope_Deterministic(t *testing.T) {
	fields := map[string]any{
		"doc_id":       "doc_xyz",
		"category":     "other",
		"hash_content": "cafe",
		"tags":         []string{"one", "two"},
		"repo":         "vaultmcp",
	}

	first := Envelope(fields)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Envelope(fields), "fingerprint must not depend on map iteration order")
	}
}

// ============================================================================
// Raw byte and file hashing
// ============================================================================

func TestBytes_NoNormalization(t *testing.T) {
	// Raw hashing must see CRLF and LF as different bytes.
	assert.NotEqual(t, Bytes([]byte("a\r\nb")), Bytes([]byte("a\nb")))
}

func TestFile_HashesRawContents(t *testing.T) {
	// Given: a file on disk
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	data := []byte("# Title\r\nBody\r\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	// When: hashing the file
	got, err := File(path)

	// Then: it matches the raw byte hash
	require.NoError(t, err)
	assert.Equal(t, Bytes(data), got)
}

func TestFile_MissingFileReturnsError(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "absent.md"))
	require.Error(t, err)
}
