package store

import (
	"fmt"
	"sort"
	"strings"

	kberrors "github.com/vaultmcp/vaultmcp/internal/errors"
)

// Filter operators. Leaves compare one field; nodes combine conditions.
const (
	OpEq    = "=="
	OpNe    = "!="
	OpGt    = ">"
	OpGte   = ">="
	OpLt    = "<"
	OpLte   = "<="
	OpIn    = "in"
	OpNotIn = "not in"

	OpAnd = "and"
	OpOr  = "or"
	OpNot = "not"
)

// Filter is one node of the filter tree callers send to query tools.
// A leaf sets Field, Op, and Value; a node sets Op to and/or/not with
// Conditions. The zero filter is invalid; a nil *Filter matches
// everything.
type Filter struct {
	Field      string    `json:"field,omitempty"`
	Op         string    `json:"operator,omitempty"`
	Value      any       `json:"value,omitempty"`
	Conditions []*Filter `json:"conditions,omitempty"`
}

// Leaf constructors used throughout the service.

// Eq matches records whose field equals value.
func Eq(field string, value any) *Filter {
	return &Filter{Field: field, Op: OpEq, Value: value}
}

// In matches records whose field equals any of values.
func In(field string, values ...string) *Filter {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return &Filter{Field: field, Op: OpIn, Value: vals}
}

// And requires every condition.
func And(conds ...*Filter) *Filter {
	return &Filter{Op: OpAnd, Conditions: conds}
}

// Or requires at least one condition.
func Or(conds ...*Filter) *Filter {
	return &Filter{Op: OpOr, Conditions: conds}
}

// Not inverts its conditions.
func Not(conds ...*Filter) *Filter {
	return &Filter{Op: OpNot, Conditions: conds}
}

// indexedFields are the payload paths with keyword indexes. Filters may
// only reference these; anything else fails validation with
// IndexRequired before reaching the backend.
var indexedFields = map[string]bool{
	"meta.doc_id":        true,
	"meta.category":      true,
	"meta.status":        true,
	"meta.repo":          true,
	"meta.version":       true,
	"meta.file_path":     true,
	"meta.hash_content":  true,
	"meta.metadata_hash": true,
	"meta.chunk_id":      true,
	"meta.parent_doc_id": true,
}

// IndexedFields lists the filterable payload paths in sorted order.
func IndexedFields() []string {
	out := make([]string, 0, len(indexedFields))
	for f := range indexedFields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ValidateFilter checks the whole tree: known operators, conditions
// only on node ops, values shaped for the operator, and every field
// indexed. A nil filter is valid. Operators arrive from the wire in
// either case and are canonicalized in place, so the backends only see
// lowercase ops.
func ValidateFilter(f *Filter) error {
	if f == nil {
		return nil
	}
	f.Op = strings.ToLower(f.Op)
	switch f.Op {
	case OpAnd, OpOr, OpNot:
		if f.Field != "" || f.Value != nil {
			return kberrors.Newf(kberrors.KindInvalidInput, "filter op %q takes conditions, not a field", f.Op)
		}
		if len(f.Conditions) == 0 {
			return kberrors.Newf(kberrors.KindInvalidInput, "filter op %q requires at least one condition", f.Op)
		}
		for _, c := range f.Conditions {
			if err := ValidateFilter(c); err != nil {
				return err
			}
		}
		return nil

	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn:
		if len(f.Conditions) > 0 {
			return kberrors.Newf(kberrors.KindInvalidInput, "filter op %q takes a field, not conditions", f.Op)
		}
		if f.Field == "" {
			return kberrors.Newf(kberrors.KindInvalidInput, "filter op %q requires a field", f.Op)
		}
		if !indexedFields[f.Field] {
			return kberrors.Newf(kberrors.KindIndexRequired, "field %q has no payload index", f.Field).
				WithDetail("field", f.Field).
				WithDetail("indexed", IndexedFields())
		}
		return validateValue(f)

	case "":
		return kberrors.New(kberrors.KindInvalidInput, "filter is missing an op")
	default:
		return kberrors.Newf(kberrors.KindInvalidInput, "unknown filter op %q", f.Op)
	}
}

func validateValue(f *Filter) error {
	switch f.Op {
	case OpIn, OpNotIn:
		vals, err := filterValues(f.Value)
		if err != nil {
			return kberrors.Wrapf(err, kberrors.KindInvalidInput, "filter op %q on %s", f.Op, f.Field)
		}
		if len(vals) == 0 {
			return kberrors.Newf(kberrors.KindInvalidInput, "filter op %q on %s requires a non-empty list", f.Op, f.Field)
		}
		return nil
	case OpGt, OpGte, OpLt, OpLte:
		if _, ok := toFloat(f.Value); !ok {
			return kberrors.Newf(kberrors.KindInvalidInput, "filter op %q on %s requires a numeric value", f.Op, f.Field)
		}
		return nil
	default:
		if f.Value == nil {
			return kberrors.Newf(kberrors.KindInvalidInput, "filter op %q on %s requires a value", f.Op, f.Field)
		}
		return nil
	}
}

// filterValues normalizes an in/not-in operand to a flat value list.
func filterValues(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("requires a list value")
	default:
		// A scalar is treated as a single-element list.
		return []any{v}, nil
	}
}

// toFloat coerces the numeric types JSON decoding and Go callers
// produce.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}
