package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
)

func newTestSplitter(t *testing.T, size, overlap int) *Splitter {
	t.Helper()
	s, err := NewSplitter(size, overlap)
	require.NoError(t, err)
	return s
}

// ============================================================================
// Constructor validation
// ============================================================================

func TestNewSplitter_ValidatesRanges(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{name: "defaults", size: DefaultSize, overlap: DefaultOverlap, wantErr: false},
		{name: "min size", size: MinSize, overlap: 0, wantErr: false},
		{name: "max size", size: MaxSize, overlap: MaxOverlap, wantErr: false},
		{name: "size below min", size: MinSize - 1, overlap: 0, wantErr: true},
		{name: "size above max", size: MaxSize + 1, overlap: 0, wantErr: true},
		{name: "negative overlap", size: DefaultSize, overlap: -1, wantErr: true},
		{name: "overlap above max", size: DefaultSize, overlap: MaxOverlap + 1, wantErr: true},
		{name: "overlap equals size", size: MinSize, overlap: MinSize, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSplitter(tt.size, tt.overlap)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, kberrors.KindInvalidInput, kberrors.KindOf(err))
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.size, s.Size)
			assert.Equal(t, tt.overlap, s.Overlap)
		})
	}
}

// ============================================================================
// Splitting
// ============================================================================

func TestSplit_ShortTextYieldsSingleChunk(t *testing.T) {
	// Given: text that fits comfortably in one chunk
	s := newTestSplitter(t, DefaultSize, DefaultOverlap)
	text := "A short note about retry semantics."

	// When: splitting
	chunks := s.Split(text)

	// Then: one chunk, no overlap prefix, index zero
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, text, chunks[0].Content)
	assert.NotEmpty(t, chunks[0].Hash)
}

func TestSplit_EmptyAndWhitespaceYieldNothing(t *testing.T) {
	s := newTestSplitter(t, DefaultSize, DefaultOverlap)

	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split("   \n\t\n  "))
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	// Given: two paragraphs that cannot share a chunk
	s := newTestSplitter(t, MinSize, 0)
	para1 := strings.Repeat("alpha ", 18) // ~108 runes
	para2 := strings.Repeat("beta ", 18)  // ~90 runes
	text := para1 + "\n\n" + para2

	// When: splitting
	chunks := s.Split(text)

	// Then: the cut lands on the paragraph break, not mid-sentence
	require.Len(t, chunks, 2)
	assert.True(t, strings.HasSuffix(strings.TrimRight(chunks[0].Content, "\n"), "alpha"),
		"first chunk should end at the paragraph boundary, got %q", chunks[0].Content)
	assert.NotContains(t, chunks[0].Content, "beta")
	assert.NotContains(t, chunks[1].Content, "alpha", "no overlap requested")
}

func TestSplit_IndicesContiguousFromZero(t *testing.T) {
	s := newTestSplitter(t, MinSize, 0)
	text := strings.Repeat("some sentence here. ", 60)

	chunks := s.Split(text)

	require.Greater(t, len(chunks), 2)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

func TestSplit_ChunksRespectSizeLimit(t *testing.T) {
	// Overlap inflates content beyond the body budget, so the ceiling
	// is size+overlap runes.
	s := newTestSplitter(t, MinSize, 32)
	text := strings.Repeat("word ", 400)

	chunks := s.Split(text)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), MinSize+32,
			"chunk %d exceeds size+overlap", c.Index)
	}
}

func TestSplit_OverlapCarriesPreviousTail(t *testing.T) {
	// Given: text long enough for several chunks
	s := newTestSplitter(t, MinSize, 40)
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 20)

	// When: splitting with overlap
	chunks := s.Split(text)

	// Then: every chunk after the first starts with a suffix of its
	// predecessor
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		cur := chunks[i].Content
		// The prefix is at most 40 runes of prev, trimmed to a word
		// boundary.
		boundary := strings.IndexAny(cur, " .")
		require.Greater(t, boundary, -1)
		prefix := cur[:boundary]
		assert.Contains(t, prev, prefix, "chunk %d should open with context from chunk %d", i, i-1)
	}
}

func TestSplit_HardCutWhenNoSeparators(t *testing.T) {
	// Given: one unbroken token longer than the chunk size
	s := newTestSplitter(t, MinSize, 0)
	text := strings.Repeat("x", MinSize*3)

	// When: splitting
	chunks := s.Split(text)

	// Then: exact rune-boundary cuts, nothing lost
	require.Len(t, chunks, 3)
	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c.Content)
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestSplit_NormalizesBeforeSplitting(t *testing.T) {
	// CRLF and LF variants of the same text must produce identical
	// chunk hashes, or dedup would re-embed on every platform hop.
	s := newTestSplitter(t, MinSize, 0)
	body := strings.Repeat("line one\nline two\n\n", 20)
	crlf := strings.ReplaceAll(body, "\n", "\r\n")

	a := s.Split(body)
	b := s.Split(crlf)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Hash, b[i].Hash, "chunk %d hash differs across line endings", i)
	}
}

func TestSplit_MultibyteRunesNeverSplit(t *testing.T) {
	// Given: text of multibyte runes close to the size boundary
	s := newTestSplitter(t, MinSize, 0)
	text := strings.Repeat("日本語", MinSize) // 3 runes, 9 bytes each

	// When: splitting
	chunks := s.Split(text)

	// Then: every chunk is valid UTF-8
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c.Content), "chunk %d contains a torn rune", c.Index)
	}
}
