package search

import (
	"context"
	"fmt"
	"sort"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/meta"
	"github.com/vaultmcp/vaultmcp/internal/store"
)

// defaultGroupFields are tallied by MetadataStats when the caller does
// not name any.
var defaultGroupFields = []string{"category", "status", "source"}

// CollectionStats counts one collection by lifecycle status.
type CollectionStats struct {
	Collection string `json:"collection"`
	Total      uint64 `json:"total"`
	Active     uint64 `json:"active"`
	Deprecated uint64 `json:"deprecated"`
	Draft      uint64 `json:"draft"`
}

// Stats describes the whole store.
type Stats struct {
	Collections   []CollectionStats `json:"collections"`
	IndexedFields []string          `json:"indexed_fields"`
}

// Stats counts both collections by status.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{IndexedFields: store.IndexedFields()}
	for _, t := range []Target{s.docs, s.code} {
		cs := CollectionStats{Collection: t.Collection}
		var err error
		if cs.Total, err = s.store.Count(ctx, t.Collection, nil); err != nil {
			return nil, err
		}
		for status, dst := range map[meta.Status]*uint64{
			meta.StatusActive:     &cs.Active,
			meta.StatusDeprecated: &cs.Deprecated,
			meta.StatusDraft:      &cs.Draft,
		} {
			n, err := s.store.Count(ctx, t.Collection, store.Eq("meta.status", string(status)))
			if err != nil {
				return nil, err
			}
			*dst = n
		}
		out.Collections = append(out.Collections, cs)
	}
	return out, nil
}

// ValueCount is one tallied metadata value.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// GroupStat is the tally of one metadata field.
type GroupStat struct {
	Field  string       `json:"field"`
	Values []ValueCount `json:"values"`
}

// MetadataStats tallies metadata values in one collection.
type MetadataStats struct {
	Collection string      `json:"collection"`
	Total      int         `json:"total"`
	Groups     []GroupStat `json:"groups"`
}

// GroupBy tallies the given metadata fields over every record matching
// filter, most common value first. Fields default to category, status,
// and source. Tallying scans records, so any metadata key works, not
// just indexed ones.
func (s *Service) GroupBy(ctx context.Context, collection string, filter *store.Filter, fields []string) (*MetadataStats, error) {
	if len(fields) == 0 {
		fields = defaultGroupFields
	}
	for _, f := range fields {
		if f == "" {
			return nil, kberrors.New(kberrors.KindInvalidInput, "group_by fields must be non-empty")
		}
	}

	tallies := make(map[string]map[string]int, len(fields))
	for _, f := range fields {
		tallies[f] = make(map[string]int)
	}

	total := 0
	err := s.store.Scroll(ctx, collection, filter, false, func(rec store.Record) error {
		total++
		flat := meta.Flatten(rec.Env, rec.Chunk)
		for _, f := range fields {
			v, ok := flat[f]
			if !ok {
				continue
			}
			tallies[f][stringify(v)]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &MetadataStats{Collection: collection, Total: total}
	for _, f := range fields {
		group := GroupStat{Field: f}
		for v, n := range tallies[f] {
			group.Values = append(group.Values, ValueCount{Value: v, Count: n})
		}
		sort.Slice(group.Values, func(i, j int) bool {
			if group.Values[i].Count != group.Values[j].Count {
				return group.Values[i].Count > group.Values[j].Count
			}
			return group.Values[i].Value < group.Values[j].Value
		})
		out.Groups = append(out.Groups, group)
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", v)
	}
}
