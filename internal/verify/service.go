package verify

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/ingest"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

// topIssueCount caps the issue leaderboard in category summaries.
const topIssueCount = 5

// Service runs quality checks over stored records.
type Service struct {
	store   store.Store
	ctrl    *ingest.Controller
	docs    string
	code    string
	checker Checker
	log     *slog.Logger
}

// NewService builds the verification service over both collections. The
// controller is used only to resolve document ids the same way reads do.
func NewService(st store.Store, ctrl *ingest.Controller, docs, code string, checker Checker, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, ctrl: ctrl, docs: docs, code: code, checker: checker, log: log}
}

// DocumentReport is the verdict for one document: a single record
// report for whole documents, one per chunk for chunked documents.
type DocumentReport struct {
	DocID      string   `json:"doc_id"`
	Collection string   `json:"collection"`
	Chunked    bool     `json:"chunked"`
	Score      float64  `json:"quality_score"`
	Passed     bool     `json:"passed"`
	Records    []Report `json:"records"`
}

// Document verifies the current version of one document. A chunked
// document passes only when every chunk passes; its score is the mean
// chunk score.
func (s *Service) Document(ctx context.Context, docID string) (*DocumentReport, error) {
	view, _, err := s.ctrl.FindDocument(ctx, docID)
	if err != nil {
		return nil, err
	}

	recs := view.Chunks
	if view.Record != nil {
		recs = []store.Record{*view.Record}
	}

	rep := &DocumentReport{
		DocID:      docID,
		Collection: view.Collection,
		Chunked:    view.Chunked(),
		Passed:     true,
	}
	for _, rec := range recs {
		r := s.checker.Record(rec)
		rep.Records = append(rep.Records, r)
		rep.Score += r.Score
		rep.Passed = rep.Passed && r.Passed
	}
	rep.Score = round3(rep.Score / float64(len(rep.Records)))

	s.log.Debug("document verified",
		"doc_id", docID,
		"collection", rep.Collection,
		"records", len(rep.Records),
		"score", rep.Score,
		"passed", rep.Passed)
	return rep, nil
}

// CategorySummary aggregates verification over every record in one
// category across both collections.
type CategorySummary struct {
	Category     string       `json:"category"`
	Total        int          `json:"total"`
	Passed       int          `json:"passed"`
	Failed       int          `json:"failed"`
	PassRate     float64      `json:"pass_rate"`
	AverageScore float64      `json:"average_quality_score"`
	TopIssues    []IssueCount `json:"top_issues,omitempty"`
	Failures     []Report     `json:"failures,omitempty"`
}

// IssueCount tallies how many records failed one named check.
type IssueCount struct {
	Check string `json:"check"`
	Count int    `json:"count"`
}

// errLimit aborts a scroll once maxDocuments records were graded.
var errLimit = errors.New("record limit reached")

// Category verifies every record whose category matches, documentation
// collection first, then code. maxDocuments caps how many records are
// graded; zero grades everything. Category values are not validated so
// records carrying legacy or foreign categories stay reachable.
func (s *Service) Category(ctx context.Context, category string, maxDocuments int) (*CategorySummary, error) {
	if category == "" {
		return nil, kberrors.New(kberrors.KindInvalidInput, "category is required")
	}

	sum := &CategorySummary{Category: category}
	issues := make(map[string]int)
	var scoreTotal float64

	grade := func(rec store.Record) error {
		if maxDocuments > 0 && sum.Total >= maxDocuments {
			return errLimit
		}
		rep := s.checker.Record(rec)
		sum.Total++
		scoreTotal += rep.Score
		if rep.Passed {
			sum.Passed++
			return nil
		}
		sum.Failed++
		sum.Failures = append(sum.Failures, rep)
		for _, name := range rep.Failed() {
			issues[name]++
		}
		return nil
	}

	filter := store.Eq("meta.category", category)
	if err := s.store.Scroll(ctx, s.docs, filter, false, grade); err != nil && !errors.Is(err, errLimit) {
		return nil, err
	}
	if err := s.store.Scroll(ctx, s.code, filter, false, grade); err != nil && !errors.Is(err, errLimit) {
		// A broken code collection should not hide the documentation
		// summary; report what was graded.
		s.log.Warn("code collection skipped during category verification",
			"collection", s.code, "error", err)
	}

	if sum.Total > 0 {
		sum.PassRate = round2(float64(sum.Passed) / float64(sum.Total) * 100)
		sum.AverageScore = round3(scoreTotal / float64(sum.Total))
	}

	for name, n := range issues {
		sum.TopIssues = append(sum.TopIssues, IssueCount{Check: name, Count: n})
	}
	sort.Slice(sum.TopIssues, func(i, j int) bool {
		if sum.TopIssues[i].Count != sum.TopIssues[j].Count {
			return sum.TopIssues[i].Count > sum.TopIssues[j].Count
		}
		return sum.TopIssues[i].Check < sum.TopIssues[j].Check
	})
	if len(sum.TopIssues) > topIssueCount {
		sum.TopIssues = sum.TopIssues[:topIssueCount]
	}

	s.log.Info("category verified",
		"category", category,
		"total", sum.Total,
		"passed", sum.Passed,
		"failed", sum.Failed)
	return sum, nil
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
