// Package chunk splits document text into retrieval-sized pieces and
// diffs a new split against the stored one so updates re-embed only the
// pieces that changed.
package chunk

import (
	"strings"
	"unicode/utf8"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/fingerprint"
)

// Splitter size limits. Sizes are measured in runes of normalized text.
const (
	DefaultSize    = 512
	DefaultOverlap = 50

	MinSize    = 128
	MaxSize    = 2048
	MaxOverlap = 256
)

// separators are tried in order; each level splits only pieces still
// larger than the chunk size after the previous level.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunk is one piece of a split document. Content carries the overlap
// prefix from the preceding chunk, so consecutive chunks embed with
// shared context. Hash fingerprints the full content, prefix included.
type Chunk struct {
	Index   int
	Content string
	Hash    string
}

// Splitter splits text into chunks of at most Size runes with an
// Overlap-rune context prefix carried over from the previous chunk.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter validates the requested sizes.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size < MinSize || size > MaxSize {
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "chunk size %d out of range [%d, %d]", size, MinSize, MaxSize)
	}
	if overlap < 0 || overlap > MaxOverlap {
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "chunk overlap %d out of range [0, %d]", overlap, MaxOverlap)
	}
	if overlap >= size {
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}
	return &Splitter{Size: size, Overlap: overlap}, nil
}

// Split breaks text into chunks. Empty or whitespace-only text yields
// no chunks. Indices are contiguous from zero.
func (s *Splitter) Split(text string) []Chunk {
	text = fingerprint.Normalize(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	segments := segment(text, separators, s.Size)
	bodies := pack(segments, s.Size)

	chunks := make([]Chunk, 0, len(bodies))
	for i, body := range bodies {
		content := body
		if i > 0 {
			content = tail(bodies[i-1], s.Overlap) + body
		}
		chunks = append(chunks, Chunk{
			Index:   i,
			Content: content,
			Hash:    fingerprint.Content(content),
		})
	}
	return chunks
}

// segment recursively splits text until every piece fits in size runes.
// Separators stay attached to the piece they terminate, so adjacent
// pieces concatenate back to the original text.
func segment(text string, seps []string, size int) []string {
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	for i, sep := range seps {
		parts := strings.SplitAfter(text, sep)
		if len(parts) < 2 {
			continue
		}
		var out []string
		for _, part := range parts {
			if part == "" {
				continue
			}
			if utf8.RuneCountInString(part) <= size {
				out = append(out, part)
			} else {
				out = append(out, segment(part, seps[i+1:], size)...)
			}
		}
		return out
	}
	return hardCut(text, size)
}

// hardCut slices text at exact rune boundaries when no separator level
// produced pieces small enough.
func hardCut(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > size {
		out = append(out, string(runes[:size]))
		runes = runes[size:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// pack greedily merges consecutive segments while the sum stays within
// size. Segments keep their separators, so merging is concatenation.
func pack(segments []string, size int) []string {
	var bodies []string
	var cur strings.Builder
	curLen := 0
	for _, seg := range segments {
		segLen := utf8.RuneCountInString(seg)
		if curLen > 0 && curLen+segLen > size {
			bodies = append(bodies, cur.String())
			cur.Reset()
			curLen = 0
		}
		cur.WriteString(seg)
		curLen += segLen
	}
	if curLen > 0 {
		bodies = append(bodies, cur.String())
	}
	return bodies
}

// tail returns the last overlap runes of s, advanced to the next word
// boundary so the prefix never starts mid-word. The prefix is a literal
// suffix of the previous chunk, so prefix+body remains contiguous
// source text.
func tail(s string, overlap int) string {
	if overlap <= 0 || s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= overlap {
		return s
	}
	t := string(runes[len(runes)-overlap:])
	if i := strings.IndexAny(t, " \n"); i >= 0 {
		t = t[i+1:]
	}
	return t
}
