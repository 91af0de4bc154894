package query

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Kind tags the variant of a Clause.
type Kind int

const (
	KindUnknown Kind = iota
	KindTerm
	KindTerms
	KindMatch
	KindRange
	KindQueryString
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindTerm:
		return "term"
	case KindTerms:
		return "terms"
	case KindMatch:
		return "match"
	case KindRange:
		return "range"
	case KindQueryString:
		return "query_string"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Filter is either a Clause or a Group.
type Filter interface {
	// Source returns the Elasticsearch query DSL for the filter.
	Source() map[string]any
	isZero() bool
}

// Clause is a single immutable filter condition.
type Clause struct {
	kind   Kind
	field  string
	value  any
	values []any
	text   string
	bounds Bounds
	raw    map[string]any
}

// Bounds holds the limits of a range clause. Nil means unset.
type Bounds struct {
	GTE any
	GT  any
	LTE any
	LT  any
}

// Term matches documents whose field equals value exactly.
func Term(field string, value any) (Clause, error) {
	if err := checkField(field); err != nil {
		return Clause{}, err
	}
	v, err := scalar(field, value)
	if err != nil {
		return Clause{}, err
	}
	return Clause{kind: KindTerm, field: field, value: v}, nil
}

// Terms matches documents whose field equals any of values.
// Duplicate values are dropped, first occurrence wins.
func Terms(field string, values ...any) (Clause, error) {
	if err := checkField(field); err != nil {
		return Clause{}, err
	}
	if len(values) == 0 {
		return Clause{}, clauseErr(field, "terms requires at least one value")
	}

	seen := make(map[string]struct{}, len(values))
	set := make([]any, 0, len(values))
	for _, value := range values {
		v, err := scalar(field, value)
		if err != nil {
			return Clause{}, err
		}
		key := canonical(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		set = append(set, v)
	}
	return Clause{kind: KindTerms, field: field, values: set}, nil
}

// Match runs an analyzed full text match of text against field.
func Match(field, text string) (Clause, error) {
	if err := checkField(field); err != nil {
		return Clause{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Clause{}, clauseErr(field, "match text is required")
	}
	return Clause{kind: KindMatch, field: field, text: text}, nil
}

// Range matches documents whose field lies within b.
// A lower (GTE or GT) and an upper (LTE or LT) bound are both required;
// GTE/GT and LTE/LT are mutually exclusive.
func Range(field string, b Bounds) (Clause, error) {
	if err := checkField(field); err != nil {
		return Clause{}, err
	}

	switch {
	case b.GTE == nil && b.GT == nil:
		return Clause{}, clauseErr(field, "range requires gte or gt")
	case b.LTE == nil && b.LT == nil:
		return Clause{}, clauseErr(field, "range requires lte or lt")
	case b.GTE != nil && b.GT != nil:
		return Clause{}, clauseErr(field, "cannot specify both gt and gte")
	case b.LTE != nil && b.LT != nil:
		return Clause{}, clauseErr(field, "cannot specify both lt and lte")
	}

	var (
		out Bounds
		err error
	)
	if b.GTE != nil {
		if out.GTE, err = scalar(field, b.GTE); err != nil {
			return Clause{}, err
		}
	}
	if b.GT != nil {
		if out.GT, err = scalar(field, b.GT); err != nil {
			return Clause{}, err
		}
	}
	if b.LTE != nil {
		if out.LTE, err = scalar(field, b.LTE); err != nil {
			return Clause{}, err
		}
	}
	if b.LT != nil {
		if out.LT, err = scalar(field, b.LT); err != nil {
			return Clause{}, err
		}
	}
	return Clause{kind: KindRange, field: field, bounds: out}, nil
}

// QueryString is a Lucene query like the one typed into the Kibana search bar.
func QueryString(query string) (Clause, error) {
	if strings.TrimSpace(query) == "" {
		return Clause{}, clauseErr("", "query string is required")
	}
	return Clause{kind: KindQueryString, text: query}, nil
}

// Raw wraps a pre-built query object such as {"match_phrase": {...}}.
func Raw(source string) (Clause, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(source), &m); err != nil {
		return Clause{}, clauseErr("", "raw query is not a JSON object: %v", err)
	}
	if len(m) != 1 {
		return Clause{}, clauseErr("", "raw query must have exactly one top level key, got %d", len(m))
	}
	return Clause{kind: KindRaw, text: source, raw: m}, nil
}

// Kind returns the clause variant.
func (c Clause) Kind() Kind { return c.kind }

// Field returns the target field. Empty for query string and raw clauses.
func (c Clause) Field() string { return c.field }

// Value returns the operand of a term clause.
func (c Clause) Value() any { return c.value }

// Values returns a copy of the operands of a terms clause.
func (c Clause) Values() []any { return append([]any(nil), c.values...) }

// Text returns the match text, the query string or the raw source.
func (c Clause) Text() string { return c.text }

// Bounds returns the limits of a range clause.
func (c Clause) Bounds() Bounds { return c.bounds }

func (c Clause) isZero() bool { return c.kind == KindUnknown }

// Source returns the Elasticsearch query DSL for the clause.
func (c Clause) Source() map[string]any {
	switch c.kind {
	case KindTerm:
		return map[string]any{"term": map[string]any{c.field: c.value}}
	case KindTerms:
		return map[string]any{"terms": map[string]any{c.field: c.Values()}}
	case KindMatch:
		return map[string]any{"match": map[string]any{c.field: map[string]any{"query": c.text}}}
	case KindRange:
		r := make(map[string]any, 2)
		if c.bounds.GTE != nil {
			r["gte"] = c.bounds.GTE
		}
		if c.bounds.GT != nil {
			r["gt"] = c.bounds.GT
		}
		if c.bounds.LTE != nil {
			r["lte"] = c.bounds.LTE
		}
		if c.bounds.LT != nil {
			r["lt"] = c.bounds.LT
		}
		return map[string]any{"range": map[string]any{c.field: r}}
	case KindQueryString:
		return map[string]any{"query_string": map[string]any{"query": c.text}}
	case KindRaw:
		return copyMap(c.raw)
	default:
		return map[string]any{"match_all": map[string]any{}}
	}
}

func checkField(field string) error {
	if strings.TrimSpace(field) == "" {
		return clauseErr("", "field name is required")
	}
	return nil
}

// scalar validates v and normalizes time values to RFC 3339 strings.
func scalar(field string, v any) (any, error) {
	switch x := v.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, nil
	case float32:
		return checkFloat(field, v, float64(x))
	case float64:
		return checkFloat(field, v, x)
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case nil:
		return nil, clauseErr(field, "value is required")
	default:
		return nil, clauseErr(field, "unsupported value type %T", v)
	}
}

func checkFloat(field string, v any, f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, clauseErr(field, "value %v cannot be encoded", f)
	}
	return v, nil
}

// canonical renders a scalar the way it goes over the wire, so 42, int64(42)
// and 42.0 compare equal.
func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = copyMap(sub)
			continue
		}
		out[k] = v
	}
	return out
}
