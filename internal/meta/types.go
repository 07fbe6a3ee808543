// Package meta defines the metadata envelope stored alongside every
// document and chunk, and the builder that validates and fingerprints
// it.
package meta

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies what a document is for.
type Category string

const (
	CategoryUserRule       Category = "user_rule"
	CategoryProjectRule    Category = "project_rule"
	CategoryProjectCommand Category = "project_command"
	CategoryDesignDoc      Category = "design_doc"
	CategoryDebugSummary   Category = "debug_summary"
	CategoryTestPattern    Category = "test_pattern"
	CategoryOther          Category = "other"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryUserRule, CategoryProjectRule, CategoryProjectCommand,
		CategoryDesignDoc, CategoryDebugSummary, CategoryTestPattern,
		CategoryOther:
		return true
	}
	return false
}

// Categories lists every valid category, for tool descriptions and
// validation messages.
func Categories() []string {
	return []string{
		string(CategoryUserRule), string(CategoryProjectRule),
		string(CategoryProjectCommand), string(CategoryDesignDoc),
		string(CategoryDebugSummary), string(CategoryTestPattern),
		string(CategoryOther),
	}
}

// Status is the lifecycle state of a stored record.
type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusDraft      Status = "draft"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDeprecated, StatusDraft:
		return true
	}
	return false
}

// Source records how a document entered the store.
type Source string

const (
	SourceManual    Source = "manual"
	SourceGenerated Source = "generated"
	SourceImported  Source = "imported"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceGenerated, SourceImported:
		return true
	}
	return false
}

// Envelope is the metadata stored with every record. Two fingerprints
// identify it: HashContent over the normalized text and MetadataHash
// over the stable envelope fields.
type Envelope struct {
	DocID        string
	Version      string
	Category     Category
	Status       Status
	HashContent  string
	MetadataHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	FilePath     string
	FileHash     string
	Source       Source
	Repo         string
	Tags         []string
}

// ChunkInfo identifies one chunk within a chunked document.
type ChunkInfo struct {
	ChunkID     string
	Index       int
	ParentDocID string
	Total       int
}

// ChunkID returns the derived identifier for chunk index of docID.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, index)
}

// IsChunkID reports whether id sits in the derived chunk id namespace.
// Document ids may not use it; Build rejects them.
func IsChunkID(id string) bool {
	i := strings.LastIndex(id, "_chunk_")
	if i < 0 {
		return false
	}
	rest := id[i+len("_chunk_"):]
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// TimeFormat is the wire format for envelope timestamps: RFC 3339 in
// UTC with nanosecond precision.
const TimeFormat = time.RFC3339Nano

// FormatTime renders t in the envelope wire format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses an envelope timestamp. It accepts any RFC 3339
// string; the zero time and an error come back for anything else.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
