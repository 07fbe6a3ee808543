package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/meta"
)

// Memory implements Store in process memory. It backs the memory
// backend driver for local development and every store-facing test.
// Points are held in payload form, the same shape the qdrant driver
// writes, so both drivers round-trip records identically.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dims    int
	indexed bool
	points  map[string]*memPoint
}

type memPoint struct {
	content string
	vector  []float32
	meta    map[string]any
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memCollection)}
}

func (m *Memory) EnsureCollection(ctx context.Context, collection string, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.collections[collection]; ok {
		if c.dims != dims {
			return kberrors.Newf(kberrors.KindInternal,
				"collection %s stores %d-dimension vectors but the embedder produces %d", collection, c.dims, dims)
		}
		return nil
	}
	m.collections[collection] = &memCollection{dims: dims, points: make(map[string]*memPoint)}
	return nil
}

func (m *Memory) EnsureIndexes(ctx context.Context, collection string) (IndexReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report IndexReport
	c, ok := m.collections[collection]
	if !ok {
		return report, missingCollection(collection)
	}
	if c.indexed {
		report.Existing = IndexedFields()
	} else {
		report.Created = IndexedFields()
		c.indexed = true
	}
	return report, nil
}

func (m *Memory) Upsert(ctx context.Context, collection string, recs []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return missingCollection(collection)
	}
	for _, rec := range recs {
		if len(rec.Vector) != c.dims {
			return kberrors.Newf(kberrors.KindInternal,
				"record %s has a %d-dimension vector, collection %s expects %d",
				rec.Env.DocID, len(rec.Vector), collection, c.dims)
		}
		id := rec.Point
		if id == "" {
			id = PointID(rec.Env)
		}
		vec := make([]float32, len(rec.Vector))
		copy(vec, rec.Vector)
		c.points[id] = &memPoint{
			content: rec.Content,
			vector:  vec,
			meta:    toPayload(meta.Flatten(rec.Env, rec.Chunk)),
		}
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, collection, point string, withVector bool) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, missingCollection(collection)
	}
	p, ok := c.points[point]
	if !ok {
		return nil, kberrors.Newf(kberrors.KindNotFound, "point %s not found in %s", point, collection)
	}
	rec, err := p.record(point, withVector)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *Memory) Search(ctx context.Context, collection string, vector []float32, filter *Filter, limit int) ([]Hit, error) {
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, missingCollection(collection)
	}
	if len(vector) != c.dims {
		return nil, kberrors.Newf(kberrors.KindInternal, "query vector has %d dimensions, collection %s expects %d", len(vector), collection, c.dims)
	}

	var hits []Hit
	for id, p := range c.points {
		if !eval(filter, p.meta) {
			continue
		}
		rec, err := p.record(id, false)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Record: rec, Score: cosine(vector, p.vector)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Point < hits[j].Point
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) Scroll(ctx context.Context, collection string, filter *Filter, withVectors bool, fn func(Record) error) error {
	if err := ValidateFilter(filter); err != nil {
		return err
	}

	m.mu.RLock()
	c, ok := m.collections[collection]
	if !ok {
		m.mu.RUnlock()
		return missingCollection(collection)
	}

	// Snapshot matching records so fn may call back into the store.
	var recs []Record
	var err error
	for _, id := range c.sortedIDs() {
		p := c.points[id]
		if !eval(filter, p.meta) {
			continue
		}
		var rec Record
		rec, err = p.record(id, withVectors)
		if err != nil {
			break
		}
		recs = append(recs, rec)
	}
	m.mu.RUnlock()
	if err != nil {
		return err
	}

	for _, rec := range recs {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) SetPayload(ctx context.Context, collection string, filter *Filter, patch map[string]any) (int, error) {
	if err := ValidateFilter(filter); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return 0, missingCollection(collection)
	}
	converted := toPayload(patch)
	count := 0
	for _, p := range c.points {
		if !eval(filter, p.meta) {
			continue
		}
		for k, v := range converted {
			p.meta[k] = v
		}
		count++
	}
	return count, nil
}

func (m *Memory) DeleteByFilter(ctx context.Context, collection string, filter *Filter) (int, error) {
	if err := ValidateFilter(filter); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return 0, missingCollection(collection)
	}
	var doomed []string
	for id, p := range c.points {
		if eval(filter, p.meta) {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		delete(c.points, id)
	}
	return len(doomed), nil
}

func (m *Memory) Count(ctx context.Context, collection string, filter *Filter) (uint64, error) {
	if err := ValidateFilter(filter); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return 0, missingCollection(collection)
	}
	var n uint64
	for _, p := range c.points {
		if eval(filter, p.meta) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }

func (c *memCollection) sortedIDs() []string {
	ids := make([]string, 0, len(c.points))
	for id := range c.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *memPoint) record(id string, withVector bool) (Record, error) {
	env, chunk, err := meta.FromPayload(p.meta)
	if err != nil {
		return Record{}, err
	}
	rec := Record{Point: id, Content: p.content, Env: env, Chunk: chunk}
	if withVector {
		rec.Vector = make([]float32, len(p.vector))
		copy(rec.Vector, p.vector)
	}
	return rec, nil
}

func missingCollection(name string) error {
	return kberrors.Newf(kberrors.KindNotFound, "collection %s does not exist", name)
}

// eval applies the filter grammar to one point's metadata.
func eval(f *Filter, metaMap map[string]any) bool {
	if f == nil {
		return true
	}
	switch f.Op {
	case OpAnd:
		for _, c := range f.Conditions {
			if !eval(c, metaMap) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range f.Conditions {
			if eval(c, metaMap) {
				return true
			}
		}
		return false
	case OpNot:
		for _, c := range f.Conditions {
			if eval(c, metaMap) {
				return false
			}
		}
		return true
	default:
		return evalLeaf(f, metaMap)
	}
}

func evalLeaf(f *Filter, metaMap map[string]any) bool {
	val, ok := fieldValue(f.Field, metaMap)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEq:
		return looseEqual(val, f.Value)
	case OpNe:
		return !looseEqual(val, f.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, ok1 := toFloat(val)
		b, ok2 := toFloat(f.Value)
		if !ok1 || !ok2 {
			return false
		}
		switch f.Op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpIn, OpNotIn:
		vals, err := filterValues(f.Value)
		if err != nil {
			return false
		}
		found := false
		for _, v := range vals {
			if looseEqual(val, v) {
				found = true
				break
			}
		}
		if f.Op == OpIn {
			return found
		}
		return !found
	default:
		return false
	}
}

// fieldValue resolves a payload path like meta.status against the flat
// metadata map.
func fieldValue(field string, metaMap map[string]any) (any, bool) {
	key, ok := strings.CutPrefix(field, "meta.")
	if !ok {
		return nil, false
	}
	v, ok := metaMap[key]
	return v, ok
}

// looseEqual compares payload and filter values across the numeric
// types JSON decoding produces.
func looseEqual(a, b any) bool {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	if ab, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ab == bb
	}
	af, ok1 := toFloat(a)
	bf, ok2 := toFloat(b)
	return ok1 && ok2 && af == bf
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ Store = (*Memory)(nil)
