package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/meta"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

func TestStats_CountsByStatusPerCollection(t *testing.T) {
	// Given: a mixed population in both collections
	svc, mem := newTestService(t)
	seedRecord(t, mem, searchDocs, "doc_a", []float32{1, 0, 0, 0}, nil)
	seedRecord(t, mem, searchDocs, "doc_b", []float32{1, 0, 0, 0}, nil)
	seedRecord(t, mem, searchDocs, "doc_c", []float32{1, 0, 0, 0}, func(env *meta.Envelope) {
		env.Status = meta.StatusDeprecated
	})
	seedRecord(t, mem, searchCode, "doc_d", []float32{1, 0, 0, 0}, func(env *meta.Envelope) {
		env.Status = meta.StatusDraft
	})

	// When: collecting stats
	stats, err := svc.Stats(context.Background())

	// Then: each collection is counted by lifecycle status
	require.NoError(t, err)
	require.Len(t, stats.Collections, 2)

	docs := stats.Collections[0]
	assert.Equal(t, searchDocs, docs.Collection)
	assert.Equal(t, uint64(3), docs.Total)
	assert.Equal(t, uint64(2), docs.Active)
	assert.Equal(t, uint64(1), docs.Deprecated)
	assert.Equal(t, uint64(0), docs.Draft)

	code := stats.Collections[1]
	assert.Equal(t, searchCode, code.Collection)
	assert.Equal(t, uint64(1), code.Total)
	assert.Equal(t, uint64(1), code.Draft)

	assert.Equal(t, store.IndexedFields(), stats.IndexedFields)
}

func TestGroupBy_DefaultFields(t *testing.T) {
	// Given: records with a category split
	svc, mem := newTestService(t)
	seedRecord(t, mem, searchDocs, "doc_a", []float32{1, 0, 0, 0}, func(env *meta.Envelope) {
		env.Category = meta.CategoryDesignDoc
	})
	seedRecord(t, mem, searchDocs, "doc_b", []float32{1, 0, 0, 0}, func(env *meta.Envelope) {
		env.Category = meta.CategoryDesignDoc
	})
	seedRecord(t, mem, searchDocs, "doc_c", []float32{1, 0, 0, 0}, nil)

	// When: grouping with the default fields
	stats, err := svc.GroupBy(context.Background(), searchDocs, nil, nil)

	// Then: category, status, and source are tallied, most common first
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	require.Len(t, stats.Groups, 3)

	category := stats.Groups[0]
	assert.Equal(t, "category", category.Field)
	require.Len(t, category.Values, 2)
	assert.Equal(t, ValueCount{Value: "design_doc", Count: 2}, category.Values[0])
	assert.Equal(t, ValueCount{Value: "other", Count: 1}, category.Values[1])

	status := stats.Groups[1]
	assert.Equal(t, "status", status.Field)
	require.Len(t, status.Values, 1)
	assert.Equal(t, ValueCount{Value: "active", Count: 3}, status.Values[0])
}

func TestGroupBy_TiesBreakByValue(t *testing.T) {
	svc, mem := newTestService(t)
	seedRecord(t, mem, searchDocs, "doc_a", []float32{1, 0, 0, 0}, func(env *meta.Envelope) {
		env.Repo = "zeta"
	})
	seedRecord(t, mem, searchDocs, "doc_b", []float32{1, 0, 0, 0}, func(env *meta.Envelope) {
		env.Repo = "alpha"
	})

	stats, err := svc.GroupBy(context.Background(), searchDocs, nil, []string{"repo"})

	require.NoError(t, err)
	require.Len(t, stats.Groups, 1)
	require.Len(t, stats.Groups[0].Values, 2)
	assert.Equal(t, "alpha", stats.Groups[0].Values[0].Value)
	assert.Equal(t, "zeta", stats.Groups[0].Values[1].Value)
}

func TestGroupBy_FilterNarrowsTally(t *testing.T) {
	svc, mem := newTestService(t)
	seedRecord(t, mem, searchDocs, "doc_a", []float32{1, 0, 0, 0}, func(env *meta.Envelope) {
		env.Category = meta.CategoryDesignDoc
	})
	seedRecord(t, mem, searchDocs, "doc_b", []float32{1, 0, 0, 0}, nil)

	stats, err := svc.GroupBy(context.Background(), searchDocs,
		store.Eq("meta.category", string(meta.CategoryDesignDoc)), []string{"status"})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestGroupBy_RejectsBlankField(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GroupBy(context.Background(), searchDocs, nil, []string{"category", ""})

	require.Error(t, err)
	assert.Equal(t, kberrors.KindInvalidInput, kberrors.KindOf(err))
}
