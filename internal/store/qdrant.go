package store

import (
	"context"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
	"github.com/vaultmcp/vaultmcp/internal/meta"
)

const (
	// scrollBatch is the page size for scroll and the batch size for
	// id-based deletes and payload patches.
	scrollBatch = 100

	defaultGRPCPort = 6334

	// maxRecvBytes raises the gRPC receive cap; scroll pages with
	// vectors routinely exceed the 4 MiB default.
	maxRecvBytes = 64 << 20
)

// Qdrant implements Store against a qdrant server over gRPC.
type Qdrant struct {
	client *qdrant.Client

	mu   sync.Mutex
	dims map[string]int
}

// QdrantConfig carries the connection settings.
type QdrantConfig struct {
	// URL is the gRPC endpoint, e.g. http://localhost:6334 or
	// https://xyz.cloud.qdrant.io:6334. https enables TLS.
	URL    string
	APIKey string
}

// NewQdrant dials the server. The connection is lazy; the first call
// reports connectivity problems.
func NewQdrant(cfg QdrantConfig) (*Qdrant, error) {
	host, port, useTLS, err := parseEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvBytes)),
		},
	})
	if err != nil {
		return nil, kberrors.Wrap(err, kberrors.KindBackendUnavailable, "create qdrant client")
	}
	return &Qdrant{client: client, dims: make(map[string]int)}, nil
}

func parseEndpoint(raw string) (host string, port int, useTLS bool, err error) {
	if raw == "" {
		return "", 0, false, kberrors.New(kberrors.KindInvalidInput, "qdrant url is required").
			WithSuggestion("set QDRANT_URL, e.g. http://localhost:6334")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, kberrors.Wrapf(err, kberrors.KindInvalidInput, "parse qdrant url %q", raw)
	}
	host = u.Hostname()
	if host == "" {
		return "", 0, false, kberrors.Newf(kberrors.KindInvalidInput, "qdrant url %q has no host", raw)
	}
	port = defaultGRPCPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, kberrors.Wrapf(err, kberrors.KindInvalidInput, "qdrant url %q has a bad port", raw)
		}
	}
	return host, port, u.Scheme == "https", nil
}

func (q *Qdrant) EnsureCollection(ctx context.Context, collection string, dims int) error {
	exists, err := q.client.CollectionExists(ctx, collection)
	if err != nil {
		return wrapQdrant(err, "check collection "+collection)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dims),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return wrapQdrant(err, "create collection "+collection)
		}
	} else {
		info, err := q.client.GetCollectionInfo(ctx, collection)
		if err != nil {
			return wrapQdrant(err, "inspect collection "+collection)
		}
		size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && size != uint64(dims) {
			return kberrors.Newf(kberrors.KindInternal,
				"collection %s stores %d-dimension vectors but the embedder produces %d", collection, size, dims).
				WithSuggestion("change the embedding model or use a fresh collection")
		}
	}

	q.mu.Lock()
	q.dims[collection] = dims
	q.mu.Unlock()
	return nil
}

func (q *Qdrant) EnsureIndexes(ctx context.Context, collection string) (IndexReport, error) {
	var report IndexReport

	info, err := q.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return report, wrapQdrant(err, "inspect collection "+collection)
	}
	schema := info.GetPayloadSchema()

	for _, field := range IndexedFields() {
		if _, ok := schema[field]; ok {
			report.Existing = append(report.Existing, field)
			continue
		}
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return report, wrapQdrant(err, "create index on "+field)
		}
		report.Created = append(report.Created, field)
	}
	return report, nil
}

func (q *Qdrant) Upsert(ctx context.Context, collection string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	q.mu.Lock()
	dims := q.dims[collection]
	q.mu.Unlock()

	points := make([]*qdrant.PointStruct, 0, len(recs))
	for _, rec := range recs {
		if dims > 0 && len(rec.Vector) != dims {
			return kberrors.Newf(kberrors.KindInternal,
				"record %s has a %d-dimension vector, collection %s expects %d",
				rec.Env.DocID, len(rec.Vector), collection, dims)
		}
		id := rec.Point
		if id == "" {
			id = PointID(rec.Env)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(id),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: qdrant.NewValueMap(toPayload(map[string]any{
				"content": rec.Content,
				"meta":    meta.Flatten(rec.Env, rec.Chunk),
			})),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	return wrapQdrant(err, "upsert points")
}

func (q *Qdrant) Get(ctx context.Context, collection, point string, withVector bool) (*Record, error) {
	pts, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(point)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(withVector),
	})
	if err != nil {
		return nil, wrapQdrant(err, "get point")
	}
	if len(pts) == 0 {
		return nil, kberrors.Newf(kberrors.KindNotFound, "point %s not found in %s", point, collection)
	}
	rec, err := recordFrom(pts[0].GetId(), pts[0].GetPayload(), pts[0].GetVectors())
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (q *Qdrant) Search(ctx context.Context, collection string, vector []float32, filter *Filter, limit int) ([]Hit, error) {
	qf, err := toQdrantFilter(filter)
	if err != nil {
		return nil, err
	}
	pts, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         qf,
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, wrapQdrant(err, "query points")
	}

	hits := make([]Hit, 0, len(pts))
	for _, pt := range pts {
		rec, err := recordFrom(pt.GetId(), pt.GetPayload(), nil)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Record: rec, Score: pt.GetScore()})
	}
	return hits, nil
}

func (q *Qdrant) Scroll(ctx context.Context, collection string, filter *Filter, withVectors bool, fn func(Record) error) error {
	qf, err := toQdrantFilter(filter)
	if err != nil {
		return err
	}

	// The high-level client drops the pagination cursor, so page through
	// the points service directly.
	points := q.client.GetPointsClient()
	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         qf,
		Limit:          qdrant.PtrOf(uint32(scrollBatch)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(withVectors),
	}
	for {
		resp, err := points.Scroll(ctx, req)
		if err != nil {
			return wrapQdrant(err, "scroll points")
		}
		for _, pt := range resp.GetResult() {
			rec, err := recordFrom(pt.GetId(), pt.GetPayload(), pt.GetVectors())
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		next := resp.GetNextPageOffset()
		if next == nil {
			return nil
		}
		req.Offset = next
	}
}

func (q *Qdrant) SetPayload(ctx context.Context, collection string, filter *Filter, patch map[string]any) (int, error) {
	ids, err := q.collectIDs(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	payload := qdrant.NewValueMap(toPayload(patch))
	for start := 0; start < len(ids); start += scrollBatch {
		end := min(start+scrollBatch, len(ids))
		_, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: collection,
			Payload:        payload,
			PointsSelector: qdrant.NewPointsSelector(ids[start:end]...),
			Key:            qdrant.PtrOf("meta"),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return start, wrapQdrant(err, "set payload")
		}
	}
	return len(ids), nil
}

func (q *Qdrant) DeleteByFilter(ctx context.Context, collection string, filter *Filter) (int, error) {
	ids, err := q.collectIDs(ctx, collection, filter)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	for start := 0; start < len(ids); start += scrollBatch {
		end := min(start+scrollBatch, len(ids))
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         qdrant.NewPointsSelector(ids[start:end]...),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return start, wrapQdrant(err, "delete points")
		}
	}
	return len(ids), nil
}

func (q *Qdrant) Count(ctx context.Context, collection string, filter *Filter) (uint64, error) {
	qf, err := toQdrantFilter(filter)
	if err != nil {
		return 0, err
	}
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         qf,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, wrapQdrant(err, "count points")
	}
	return n, nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

// collectIDs pages through the ids matching filter. Deletes and payload
// patches run on explicit ids so the returned counts are exact.
func (q *Qdrant) collectIDs(ctx context.Context, collection string, filter *Filter) ([]*qdrant.PointId, error) {
	qf, err := toQdrantFilter(filter)
	if err != nil {
		return nil, err
	}

	points := q.client.GetPointsClient()
	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         qf,
		Limit:          qdrant.PtrOf(uint32(scrollBatch)),
		WithPayload:    qdrant.NewWithPayload(false),
		WithVectors:    qdrant.NewWithVectors(false),
	}
	var ids []*qdrant.PointId
	for {
		resp, err := points.Scroll(ctx, req)
		if err != nil {
			return nil, wrapQdrant(err, "scroll point ids")
		}
		for _, pt := range resp.GetResult() {
			ids = append(ids, pt.GetId())
		}
		next := resp.GetNextPageOffset()
		if next == nil {
			return ids, nil
		}
		req.Offset = next
	}
}

// recordFrom rebuilds a Record from a point's wire payload.
func recordFrom(id *qdrant.PointId, payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) (Record, error) {
	m := mapToAny(payload)
	content, _ := m["content"].(string)
	metaMap, _ := m["meta"].(map[string]any)

	env, chunk, err := meta.FromPayload(metaMap)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		Point:   pointIDString(id),
		Content: content,
		Env:     env,
		Chunk:   chunk,
	}
	if v := vectors.GetVector(); v != nil {
		rec.Vector = v.GetData()
	}
	return rec, nil
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

// toPayload converts Go-typed maps into shapes qdrant.NewValueMap
// accepts: string slices become any slices, ints become int64.
func toPayload(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = toPayloadValue(v)
	}
	return out
}

func toPayloadValue(v any) any {
	switch t := v.(type) {
	case []string:
		vals := make([]any, len(t))
		for i, s := range t {
			vals[i] = s
		}
		return vals
	case []any:
		vals := make([]any, len(t))
		for i, e := range t {
			vals[i] = toPayloadValue(e)
		}
		return vals
	case map[string]any:
		return toPayload(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	default:
		return v
	}
}

func mapToAny(fields map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, e := range vals {
			out[i] = valueToAny(e)
		}
		return out
	case *qdrant.Value_StructValue:
		return mapToAny(k.StructValue.GetFields())
	default:
		return nil
	}
}

// toQdrantFilter validates and converts the service filter grammar to
// qdrant conditions.
func toQdrantFilter(f *Filter) (*qdrant.Filter, error) {
	if f == nil {
		return nil, nil
	}
	if err := ValidateFilter(f); err != nil {
		return nil, err
	}
	return buildFilter(f)
}

func buildFilter(f *Filter) (*qdrant.Filter, error) {
	switch f.Op {
	case OpAnd, OpOr, OpNot:
		out := &qdrant.Filter{}
		for _, c := range f.Conditions {
			cond, err := buildCondition(c)
			if err != nil {
				return nil, err
			}
			switch f.Op {
			case OpAnd:
				out.Must = append(out.Must, cond)
			case OpOr:
				out.Should = append(out.Should, cond)
			case OpNot:
				out.MustNot = append(out.MustNot, cond)
			}
		}
		return out, nil
	default:
		cond, err := leafCondition(f)
		if err != nil {
			return nil, err
		}
		return &qdrant.Filter{Must: []*qdrant.Condition{cond}}, nil
	}
}

func buildCondition(f *Filter) (*qdrant.Condition, error) {
	switch f.Op {
	case OpAnd, OpOr, OpNot:
		sub, err := buildFilter(f)
		if err != nil {
			return nil, err
		}
		return nestFilter(sub), nil
	default:
		return leafCondition(f)
	}
}

// nestFilter wraps a filter so it can sit inside another filter's
// condition list.
func nestFilter(f *qdrant.Filter) *qdrant.Condition {
	return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Filter{Filter: f}}
}

func leafCondition(f *Filter) (*qdrant.Condition, error) {
	switch f.Op {
	case OpEq:
		return matchCondition(f.Field, f.Value)

	case OpNe:
		cond, err := matchCondition(f.Field, f.Value)
		if err != nil {
			return nil, err
		}
		return nestFilter(&qdrant.Filter{MustNot: []*qdrant.Condition{cond}}), nil

	case OpGt, OpGte, OpLt, OpLte:
		n, ok := toFloat(f.Value)
		if !ok {
			return nil, kberrors.Newf(kberrors.KindInvalidInput, "filter op %q on %s requires a numeric value", f.Op, f.Field)
		}
		rng := &qdrant.Range{}
		switch f.Op {
		case OpGt:
			rng.Gt = &n
		case OpGte:
			rng.Gte = &n
		case OpLt:
			rng.Lt = &n
		case OpLte:
			rng.Lte = &n
		}
		return qdrant.NewRange(f.Field, rng), nil

	case OpIn:
		keywords, err := keywordList(f)
		if err != nil {
			return nil, err
		}
		return qdrant.NewMatchKeywords(f.Field, keywords...), nil

	case OpNotIn:
		keywords, err := keywordList(f)
		if err != nil {
			return nil, err
		}
		in := qdrant.NewMatchKeywords(f.Field, keywords...)
		return nestFilter(&qdrant.Filter{MustNot: []*qdrant.Condition{in}}), nil

	default:
		return nil, kberrors.Newf(kberrors.KindInvalidInput, "unknown filter op %q", f.Op)
	}
}

func matchCondition(field string, value any) (*qdrant.Condition, error) {
	switch v := value.(type) {
	case string:
		return qdrant.NewMatchKeyword(field, v), nil
	case bool:
		return qdrant.NewMatchBool(field, v), nil
	default:
		n, ok := toFloat(value)
		if !ok || n != math.Trunc(n) {
			return nil, kberrors.Newf(kberrors.KindInvalidInput, "cannot exact-match %T on %s", value, field)
		}
		return qdrant.NewMatchInt(field, int64(n)), nil
	}
}

func keywordList(f *Filter) ([]string, error) {
	vals, err := filterValues(f.Value)
	if err != nil {
		return nil, kberrors.Wrapf(err, kberrors.KindInvalidInput, "filter op %q on %s", f.Op, f.Field)
	}
	keywords := make([]string, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			return nil, kberrors.Newf(kberrors.KindInvalidInput, "filter op %q on %s requires string values", f.Op, f.Field)
		}
		keywords = append(keywords, s)
	}
	return keywords, nil
}

func wrapQdrant(err error, op string) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return kberrors.Wrap(err, kberrors.KindNotFound, op)
	case codes.InvalidArgument:
		return kberrors.Wrap(err, kberrors.KindInternal, op)
	default:
		return kberrors.Wrap(err, kberrors.KindBackendUnavailable, op).
			WithSuggestion("check that qdrant is reachable at QDRANT_URL")
	}
}

var _ Store = (*Qdrant)(nil)
