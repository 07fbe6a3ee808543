// Package fingerprint computes the content and metadata hashes used for
// duplicate detection. Hashing is deterministic: the same logical
// document produces the same fingerprint regardless of platform line
// endings, trailing whitespace, or Unicode normalization form.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// volatileFields are excluded from the metadata fingerprint so that
// lifecycle churn (timestamps, status flips, version bumps) never
// changes a document's metadata identity.
var volatileFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"status":     true,
	"version":    true,
}

// Normalize canonicalizes text before hashing: Unicode NFC, CRLF and CR
// converted to LF, trailing spaces and tabs stripped per line, and
// trailing newlines removed.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimRight(s, "\n")
}

// Hash returns the lowercase hex SHA-256 of s.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Content returns the content fingerprint: SHA-256 over the normalized
// text.
func Content(s string) string {
	return Hash(Normalize(s))
}

// Envelope returns the metadata fingerprint for a flattened envelope.
// Volatile fields (created_at, updated_at, status, version) are
// excluded; everything else is serialized as sorted-key JSON and
// hashed. String slices are sorted so tag order never changes the
// fingerprint.
func Envelope(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if volatileFields[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		writeJSON(&b, k)
		b.WriteByte(':')
		writeJSON(&b, canonicalValue(fields[k]))
	}
	b.WriteByte('}')
	return Hash(b.String())
}

// canonicalValue sorts string slices so the serialization is stable.
func canonicalValue(v any) any {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		sort.Strings(out)
		return out
	case []any:
		all := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return t
			}
			all = append(all, s)
		}
		sort.Strings(all)
		return all
	default:
		return v
	}
}

func writeJSON(b *strings.Builder, v any) {
	enc, err := json.Marshal(v)
	if err != nil {
		// Envelope fields are strings, numbers, and string slices at
		// this point; marshal cannot fail for those.
		enc = []byte(fmt.Sprintf("%q", fmt.Sprint(v)))
	}
	b.Write(enc)
}

// Bytes returns the SHA-256 of raw bytes without normalization, for
// tracking on-disk artifacts exactly.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// File returns the SHA-256 of the raw bytes at path.
func File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Bytes(data), nil
}
