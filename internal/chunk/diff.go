package chunk

import "sort"

// Existing describes a stored chunk: its index, content hash, derived
// identifier, and the backing point id in the vector store.
type Existing struct {
	Index   int
	Hash    string
	ChunkID string
	Point   string
}

// Diff is the plan for bringing stored chunks in line with a new split.
// Unchanged chunks keep their stored embeddings; Changed and Added need
// embedding; Removed and ChangedOld get deprecated. ChangedOld holds
// the stored chunk each Changed entry replaces, in the same order.
type Diff struct {
	Unchanged  []Existing
	Changed    []Chunk
	ChangedOld []Existing
	Added      []Chunk
	Removed    []Existing
}

// Embed returns the chunks that need an embedding, changed first then
// added, each group in index order.
func (d Diff) Embed() []Chunk {
	out := make([]Chunk, 0, len(d.Changed)+len(d.Added))
	out = append(out, d.Changed...)
	out = append(out, d.Added...)
	return out
}

// Compare aligns stored chunks with a fresh split by index. A stored
// chunk whose hash matches the new chunk at the same index is
// unchanged; a hash mismatch marks the new chunk changed; new indices
// beyond the stored range are added; stored indices beyond the new
// range are removed.
func Compare(old []Existing, fresh []Chunk) Diff {
	byIndex := make(map[int]Existing, len(old))
	for _, e := range old {
		if _, seen := byIndex[e.Index]; !seen {
			byIndex[e.Index] = e
		}
	}

	var d Diff
	for _, c := range fresh {
		e, ok := byIndex[c.Index]
		if !ok {
			d.Added = append(d.Added, c)
			continue
		}
		delete(byIndex, c.Index)
		if e.Hash == c.Hash {
			d.Unchanged = append(d.Unchanged, e)
		} else {
			d.Changed = append(d.Changed, c)
			d.ChangedOld = append(d.ChangedOld, e)
		}
	}
	for _, e := range byIndex {
		d.Removed = append(d.Removed, e)
	}

	sort.Slice(d.Unchanged, func(i, j int) bool { return d.Unchanged[i].Index < d.Unchanged[j].Index })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Index < d.Removed[j].Index })
	return d
}
