// Package verify grades stored records against a fixed quality vector:
// content presence and length, placeholder markers, required metadata,
// hash integrity, and status validity. It also audits stored records
// against the source files they were ingested from.
package verify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vaultmcp/vaultmcp/internal/fingerprint"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

// Check names, in report order.
const (
	CheckHasContent     = "has_content"
	CheckMinLength      = "min_length"
	CheckNoPlaceholder  = "no_placeholder"
	CheckRequiredFields = "has_required_fields"
	CheckHashValid      = "hash_valid"
	CheckHasStatus      = "has_status"
)

// checkOrder fixes iteration order for scoring and issue tallies.
var checkOrder = []string{
	CheckHasContent,
	CheckMinLength,
	CheckNoPlaceholder,
	CheckRequiredFields,
	CheckHashValid,
	CheckHasStatus,
}

// Checker defaults.
const (
	DefaultMinContentLength = 100
	DefaultPassThreshold    = 1.0
)

// placeholders are the stub markers that flag incomplete content. Bare
// TODO/FIXME/XXX markers count only at the start of a line so ordinary
// code comments do not trip the check.
var placeholders = []struct {
	label string
	re    *regexp.Regexp
}{
	{"full-content stub", regexp.MustCompile(`(?i)\[full content[^\]]*\]`)},
	{"ellipsis stub", regexp.MustCompile(`\[\.\.\.\]`)},
	{"todo tag", regexp.MustCompile(`(?i)\[todo:[^\]]*\]`)},
	{"tbd tag", regexp.MustCompile(`(?i)\[tbd:[^\]]*\]`)},
	{"placeholder tag", regexp.MustCompile(`(?i)\[placeholder:[^\]]*\]`)},
	{"write-here tag", regexp.MustCompile(`(?i)\[(?:write here|content to be added)\]`)},
	{"todo marker", regexp.MustCompile(`(?im)^(?:todo|fixme|xxx):`)},
	{"placeholder text", regexp.MustCompile(`(?i)\bplaceholders?\b`)},
	{"lorem ipsum", regexp.MustCompile(`(?i)\blorem ipsum\b`)},
	{"coming soon", regexp.MustCompile(`(?i)\bcoming soon\b`)},
	{"deferred content", regexp.MustCompile(`(?i)\b(?:will be stored|content will be|to be (?:filled|added|completed))\b`)},
}

// Placeholders returns the label of every placeholder marker found in
// content, in table order.
func Placeholders(content string) []string {
	if content == "" {
		return nil
	}
	var found []string
	for _, p := range placeholders {
		if p.re.MatchString(content) {
			found = append(found, p.label)
		}
	}
	return found
}

// Report is the quality verdict for one stored record.
type Report struct {
	DocID   string          `json:"doc_id"`
	Point   string          `json:"point_reference"`
	ChunkID string          `json:"chunk_id,omitempty"`
	Score   float64         `json:"quality_score"`
	Passed  bool            `json:"passed"`
	Checks  map[string]bool `json:"checks"`
	Issues  []string        `json:"issues,omitempty"`
}

// Failed lists the names of failed checks in report order.
func (r Report) Failed() []string {
	var names []string
	for _, name := range checkOrder {
		if !r.Checks[name] {
			names = append(names, name)
		}
	}
	return names
}

// Checker grades records. Zero fields fall back to the defaults.
type Checker struct {
	// MinContentLength is the smallest acceptable normalized content
	// size in bytes.
	MinContentLength int

	// PassThreshold is the lowest quality score that counts as a pass.
	PassThreshold float64
}

func (c Checker) minLength() int {
	if c.MinContentLength > 0 {
		return c.MinContentLength
	}
	return DefaultMinContentLength
}

func (c Checker) threshold() float64 {
	if c.PassThreshold > 0 {
		return c.PassThreshold
	}
	return DefaultPassThreshold
}

// Record runs the full quality vector against one stored record. The
// score is the fraction of passing checks.
func (c Checker) Record(rec store.Record) Report {
	checks := make(map[string]bool, len(checkOrder))
	var issues []string

	content := rec.Content
	checks[CheckHasContent] = content != ""
	if !checks[CheckHasContent] {
		issues = append(issues, "record has no content")
	}

	minLen := c.minLength()
	checks[CheckMinLength] = len(content) >= minLen
	if !checks[CheckMinLength] {
		issues = append(issues, fmt.Sprintf("content too short: %d bytes (minimum %d)", len(content), minLen))
	}

	marks := Placeholders(content)
	checks[CheckNoPlaceholder] = len(marks) == 0
	if len(marks) > 0 {
		issues = append(issues, "placeholder markers found: "+strings.Join(marks, ", "))
	}

	missing := missingFields(rec.Env.DocID, rec.Env.Version, string(rec.Env.Category), rec.Env.HashContent)
	checks[CheckRequiredFields] = len(missing) == 0
	if len(missing) > 0 {
		issues = append(issues, "missing required fields: "+strings.Join(missing, ", "))
	}

	switch {
	case rec.Env.HashContent == "":
		checks[CheckHashValid] = false
		issues = append(issues, "no stored content hash")
	case fingerprint.Content(content) != rec.Env.HashContent:
		checks[CheckHashValid] = false
		issues = append(issues, "content hash mismatch")
	default:
		checks[CheckHashValid] = true
	}

	switch {
	case rec.Env.Status == "":
		checks[CheckHasStatus] = false
		issues = append(issues, "missing status")
	case !rec.Env.Status.Valid():
		checks[CheckHasStatus] = false
		issues = append(issues, fmt.Sprintf("invalid status %q", rec.Env.Status))
	default:
		checks[CheckHasStatus] = true
	}

	passed := 0
	for _, name := range checkOrder {
		if checks[name] {
			passed++
		}
	}
	score := float64(passed) / float64(len(checkOrder))

	rep := Report{
		DocID:  rec.Env.DocID,
		Point:  rec.Point,
		Score:  score,
		Passed: score >= c.threshold(),
		Checks: checks,
		Issues: issues,
	}
	if rec.Chunk != nil {
		rep.ChunkID = rec.Chunk.ChunkID
	}
	return rep
}

func missingFields(docID, version, category, hashContent string) []string {
	var missing []string
	if docID == "" {
		missing = append(missing, "doc_id")
	}
	if version == "" {
		missing = append(missing, "version")
	}
	if category == "" {
		missing = append(missing, "category")
	}
	if hashContent == "" {
		missing = append(missing, "hash_content")
	}
	return missing
}
