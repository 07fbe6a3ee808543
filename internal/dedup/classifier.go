// Package dedup decides what to do with an incoming document given what
// the store already holds. Classification runs four levels in order and
// stops at the first hit: exact duplicate, content update, semantic
// near-duplicate, new document.
package dedup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vaultmcp/vaultmcp/internal/meta"
)

// Classification levels, checked in order.
const (
	LevelExact   = 1 // same content hash and same metadata hash
	LevelUpdate  = 2 // same identity, different content
	LevelSimilar = 3 // nearest neighbor at or above the threshold
	LevelNew     = 4 // nothing matched
)

// Action tells the ingest pipeline what to do with the candidate.
type Action string

const (
	// ActionSkip drops the write; the store already has this document.
	ActionSkip Action = "skip"

	// ActionUpdate writes the candidate as a new version and deprecates
	// the matched record first.
	ActionUpdate Action = "update"

	// ActionWarn stores the candidate but reports the near-duplicate to
	// the caller. Nothing is persisted about the warning.
	ActionWarn Action = "warn"

	// ActionStore writes the candidate as a brand-new document.
	ActionStore Action = "store"
)

// Candidate is the incoming document's identity.
type Candidate struct {
	DocID        string
	HashContent  string
	MetadataHash string
}

// Existing is the identity of one stored record, as loaded from the
// store by the ingest pipeline.
type Existing struct {
	Point        string
	DocID        string
	Version      string
	HashContent  string
	MetadataHash string
	Status       meta.Status
	UpdatedAt    time.Time
}

// Neighbor is a semantic near-duplicate found by the similarity hook.
type Neighbor struct {
	Point string
	DocID string
	Score float64
}

// SimilarityFunc finds the nearest stored neighbor of the candidate.
// It runs only when levels 1 and 2 found nothing, so implementations
// may embed lazily. A nil result means no neighbor worth reporting.
type SimilarityFunc func(ctx context.Context) (*Neighbor, error)

// Decision is the classifier verdict.
type Decision struct {
	Level      int
	Action     Action
	Reason     string
	Match      *Existing // set for levels 1 and 2
	Similar    *Neighbor // set for level 3
	Similarity float64   // score of Similar, 0 otherwise
}

// Classifier applies the duplicate-detection contract.
type Classifier struct {
	// Threshold is the cosine score at or above which a neighbor counts
	// as a near-duplicate. Zero disables level 3 entirely.
	Threshold float64
}

// DefaultThreshold is the near-duplicate cutoff used when similarity
// checking is enabled without an explicit threshold.
const DefaultThreshold = 0.85

// NewClassifier returns a classifier with the given level 3 threshold.
func NewClassifier(threshold float64) *Classifier {
	return &Classifier{Threshold: threshold}
}

// Classify runs the four levels against the stored records that share
// the candidate's doc_id, content hash, or metadata hash. existing may
// contain the same record more than once; it is deduplicated by point.
// sim may be nil to skip level 3.
func (c *Classifier) Classify(ctx context.Context, cand Candidate, existing []Existing, sim SimilarityFunc) (Decision, error) {
	existing = dedupeByPoint(existing)

	// Level 1: an identical record exists in both fingerprints.
	var exact []Existing
	for _, e := range existing {
		if e.HashContent == cand.HashContent && e.MetadataHash == cand.MetadataHash {
			exact = append(exact, e)
		}
	}
	if m := pickBest(exact); m != nil {
		return Decision{
			Level:  LevelExact,
			Action: ActionSkip,
			Reason: fmt.Sprintf("identical document already stored as %s", m.DocID),
			Match:  m,
		}, nil
	}

	// Level 2a: the same doc_id holds different content. This is the
	// normal update path and takes priority over the fingerprint match.
	var sameID []Existing
	for _, e := range existing {
		if e.DocID == cand.DocID && e.HashContent != cand.HashContent {
			sameID = append(sameID, e)
		}
	}
	if m := pickBest(sameID); m != nil {
		return Decision{
			Level:  LevelUpdate,
			Action: ActionUpdate,
			Reason: fmt.Sprintf("document %s exists with different content", m.DocID),
			Match:  m,
		}, nil
	}

	// Level 2b: a record with the same metadata fingerprint holds
	// different content. The fingerprint covers the content hash, so
	// this only fires for records written by older builds.
	var sameMeta []Existing
	for _, e := range existing {
		if e.MetadataHash == cand.MetadataHash && e.HashContent != cand.HashContent {
			sameMeta = append(sameMeta, e)
		}
	}
	if m := pickBest(sameMeta); m != nil {
		return Decision{
			Level:  LevelUpdate,
			Action: ActionUpdate,
			Reason: fmt.Sprintf("metadata fingerprint matches %s with different content", m.DocID),
			Match:  m,
		}, nil
	}

	// Level 3: semantic near-duplicate, report-only.
	if sim != nil && c.Threshold > 0 {
		neighbor, err := sim(ctx)
		if err != nil {
			return Decision{}, err
		}
		if neighbor != nil && neighbor.Score >= c.Threshold {
			return Decision{
				Level:      LevelSimilar,
				Action:     ActionWarn,
				Reason:     fmt.Sprintf("similar to %s (score %.3f)", neighbor.DocID, neighbor.Score),
				Similar:    neighbor,
				Similarity: neighbor.Score,
			}, nil
		}
	}

	return Decision{Level: LevelNew, Action: ActionStore, Reason: "no duplicate found"}, nil
}

// pickBest chooses the record to act on when several match: newest
// updated_at wins, then active status, then the lexicographically
// smallest point id so the choice is deterministic.
func pickBest(matches []Existing) *Existing {
	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		aActive := a.Status == meta.StatusActive
		bActive := b.Status == meta.StatusActive
		if aActive != bActive {
			return aActive
		}
		return a.Point < b.Point
	})
	best := matches[0]
	return &best
}

func dedupeByPoint(existing []Existing) []Existing {
	seen := make(map[string]bool, len(existing))
	out := existing[:0:0]
	for _, e := range existing {
		if seen[e.Point] {
			continue
		}
		seen[e.Point] = true
		out = append(out, e)
	}
	return out
}
