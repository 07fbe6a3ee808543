package verify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmcp/vaultmcp/internal/fingerprint"
	"github.com/vaultmcp/vaultmcp/internal/meta"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

// healthyContent comfortably clears the default minimum length.
var healthyContent = strings.Repeat("The retry queue drains before the cache warms up again. ", 4)

// gradable builds a stored record whose fingerprint matches content.
func gradable(t *testing.T, content string, mutate func(*store.Record)) store.Record {
	t.Helper()
	env, err := meta.NewBuilder("").Build(meta.Input{DocID: "doc_graded"}, fingerprint.Content(content))
	require.NoError(t, err)
	rec := store.Record{
		Point:   store.PointID(env),
		Content: content,
		Env:     env,
	}
	if mutate != nil {
		mutate(&rec)
	}
	return rec
}

// ============================================================================
// Placeholder detection
// ============================================================================

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "empty", content: "", want: nil},
		{name: "clean prose", content: "The deploy pipeline promotes green builds.", want: nil},
		{name: "full content stub", content: "[FULL CONTENT of the design doc]", want: []string{"full-content stub"}},
		{name: "ellipsis stub", content: "intro [...] outro", want: []string{"ellipsis stub"}},
		{name: "todo tag", content: "[TODO: write the rollback steps]", want: []string{"todo tag"}},
		{name: "tbd tag", content: "[tbd: decide on quotas]", want: []string{"tbd tag"}},
		{name: "todo at line start", content: "notes\nTODO: finish this\n", want: []string{"todo marker"}},
		{name: "fixme at line start", content: "FIXME: races on shutdown", want: []string{"todo marker"}},
		{name: "inline todo comment is fine", content: "x := 1 // TODO: tighten bounds", want: nil},
		{name: "lorem ipsum", content: "Lorem ipsum dolor sit amet.", want: []string{"lorem ipsum"}},
		{name: "coming soon", content: "Docs coming soon.", want: []string{"coming soon"}},
		{name: "deferred content", content: "The schema will be stored here later.", want: []string{"deferred content"}},
		{name: "placeholder word", content: "This is placeholder text.", want: []string{"placeholder text"}},
		{
			name:    "multiple markers in table order",
			content: "[...] and lorem ipsum filler",
			want:    []string{"ellipsis stub", "lorem ipsum"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Placeholders(tt.content))
		})
	}
}

// ============================================================================
// Record grading
// ============================================================================

func TestChecker_Record_HealthyRecordPasses(t *testing.T) {
	rec := gradable(t, healthyContent, nil)

	rep := Checker{}.Record(rec)

	assert.Equal(t, 1.0, rep.Score)
	assert.True(t, rep.Passed)
	assert.Empty(t, rep.Issues)
	assert.Empty(t, rep.Failed())
	assert.Equal(t, "doc_graded", rep.DocID)
	assert.Equal(t, rec.Point, rep.Point)
}

func TestChecker_Record_ShortContent(t *testing.T) {
	rec := gradable(t, "too short", nil)

	rep := Checker{}.Record(rec)

	assert.False(t, rep.Passed)
	assert.Equal(t, []string{CheckMinLength}, rep.Failed())
	assert.InDelta(t, 5.0/6.0, rep.Score, 1e-9)
	require.Len(t, rep.Issues, 1)
	assert.Contains(t, rep.Issues[0], "content too short")
}

func TestChecker_Record_PlaceholderContent(t *testing.T) {
	rec := gradable(t, healthyContent+" [...] ", nil)

	rep := Checker{}.Record(rec)

	assert.False(t, rep.Passed)
	assert.Contains(t, rep.Failed(), CheckNoPlaceholder)
	assert.Contains(t, strings.Join(rep.Issues, "; "), "ellipsis stub")
}

func TestChecker_Record_HashMismatch(t *testing.T) {
	rec := gradable(t, healthyContent, func(rec *store.Record) {
		rec.Env.HashContent = fingerprint.Content("something else entirely")
	})

	rep := Checker{}.Record(rec)

	assert.False(t, rep.Passed)
	assert.Equal(t, []string{CheckHashValid}, rep.Failed())
	assert.Contains(t, strings.Join(rep.Issues, "; "), "content hash mismatch")
}

func TestChecker_Record_MissingHash(t *testing.T) {
	rec := gradable(t, healthyContent, func(rec *store.Record) {
		rec.Env.HashContent = ""
	})

	rep := Checker{}.Record(rec)

	// Both the required-fields check and the hash check fail.
	assert.Equal(t, []string{CheckRequiredFields, CheckHashValid}, rep.Failed())
	assert.InDelta(t, 4.0/6.0, rep.Score, 1e-9)
}

func TestChecker_Record_EmptyContent(t *testing.T) {
	rec := gradable(t, healthyContent, func(rec *store.Record) {
		rec.Content = ""
	})

	rep := Checker{}.Record(rec)

	assert.False(t, rep.Passed)
	assert.Equal(t, []string{CheckHasContent, CheckMinLength, CheckHashValid}, rep.Failed())
	assert.InDelta(t, 0.5, rep.Score, 1e-9)
}

func TestChecker_Record_InvalidStatus(t *testing.T) {
	rec := gradable(t, healthyContent, func(rec *store.Record) {
		rec.Env.Status = "paused"
	})

	rep := Checker{}.Record(rec)

	assert.Equal(t, []string{CheckHasStatus}, rep.Failed())
	assert.Contains(t, strings.Join(rep.Issues, "; "), `invalid status "paused"`)
}

func TestChecker_Record_ChunkReportsChunkID(t *testing.T) {
	rec := gradable(t, healthyContent, func(rec *store.Record) {
		rec.Chunk = &meta.ChunkInfo{ChunkID: "doc_graded_chunk_0", Index: 0, ParentDocID: "doc_graded", Total: 2}
	})

	rep := Checker{}.Record(rec)

	assert.Equal(t, "doc_graded_chunk_0", rep.ChunkID)
}

func TestChecker_CustomLimits(t *testing.T) {
	short := gradable(t, "tiny but fine", nil)

	// A relaxed minimum length lets short records pass.
	rep := Checker{MinContentLength: 5}.Record(short)
	assert.True(t, rep.Passed)

	// A relaxed threshold tolerates one failed check.
	tooShort := gradable(t, "too short", nil)
	rep = Checker{PassThreshold: 0.8}.Record(tooShort)
	assert.False(t, rep.Checks[CheckMinLength])
	assert.True(t, rep.Passed, "5/6 clears a 0.8 threshold")
}
