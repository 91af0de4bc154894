package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ParseFilter decodes a query DSL object back into a Filter. It returns a nil
// Filter for match_all. Bool lists may be a single object or an array, filter
// lists are read as must, and both the current and the legacy
// (from/to/include_lower/include_upper) range syntax are understood. Query
// types without a Clause kind, and ranges bounded on one side only, are kept
// as Raw clauses.
func ParseFilter(src map[string]any) (Filter, error) {
	if len(src) != 1 {
		return nil, specErr("", "query object must have exactly one key, got %d", len(src))
	}

	for typ, body := range src {
		switch typ {
		case "match_all":
			return nil, nil
		case "bool":
			return parseBool(body)
		case "term":
			return parseTerm(body)
		case "terms":
			return parseTerms(body)
		case "match":
			return parseMatch(body)
		case "range":
			return parseRange(body)
		case "query_string":
			obj, ok := body.(map[string]any)
			if !ok {
				return nil, specErr("", "query_string must be an object")
			}
			q, _ := obj["query"].(string)
			return QueryString(q)
		default:
			raw, err := json.Marshal(src)
			if err != nil {
				return nil, specErr("", "cannot encode %s query: %v", typ, err)
			}
			return Raw(string(raw))
		}
	}
	return nil, nil
}

func parseBool(body any) (Filter, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, specErr("", "bool must be an object")
	}

	var must, should, mustNot []Filter
	for key, v := range obj {
		var list *[]Filter
		switch key {
		case "must", "filter":
			list = &must
		case "should":
			list = &should
		case "must_not":
			list = &mustNot
		default:
			continue
		}

		items, err := clauseList(v)
		if err != nil {
			return nil, fmt.Errorf("bool %s: %w", key, err)
		}
		for _, item := range items {
			f, err := ParseFilter(item)
			if err != nil {
				return nil, err
			}
			if f == nil {
				if key == "must" || key == "filter" {
					continue
				}
				return nil, specErr("", "match_all is only supported inside must")
			}
			*list = append(*list, f)
		}
	}
	return NewGroup(must, should, mustNot)
}

func clauseList(v any) ([]map[string]any, error) {
	switch x := v.(type) {
	case map[string]any:
		return []map[string]any{x}, nil
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, item := range x {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, specErr("", "clause must be an object, got %T", item)
			}
			out = append(out, obj)
		}
		return out, nil
	default:
		return nil, specErr("", "clause list must be an object or array, got %T", v)
	}
}

// fieldBody returns the single field entry of a term level query, skipping
// boost and _name options.
func fieldBody(typ string, body any) (string, any, error) {
	obj, ok := body.(map[string]any)
	if !ok {
		return "", nil, specErr("", "%s must be an object", typ)
	}
	var (
		field string
		value any
		n     int
	)
	for k, v := range obj {
		if k == "boost" || k == "_name" {
			continue
		}
		field, value = k, v
		n++
	}
	if n != 1 {
		return "", nil, specErr("", "%s must name exactly one field, got %d", typ, n)
	}
	return field, value, nil
}

func parseTerm(body any) (Filter, error) {
	field, v, err := fieldBody("term", body)
	if err != nil {
		return nil, err
	}
	if obj, ok := v.(map[string]any); ok {
		v = obj["value"]
	}
	return Term(field, v)
}

func parseTerms(body any) (Filter, error) {
	field, v, err := fieldBody("terms", body)
	if err != nil {
		return nil, err
	}
	values, ok := v.([]any)
	if !ok {
		return nil, clauseErr(field, "terms values must be an array")
	}
	return Terms(field, values...)
}

func parseMatch(body any) (Filter, error) {
	field, v, err := fieldBody("match", body)
	if err != nil {
		return nil, err
	}
	if obj, ok := v.(map[string]any); ok {
		v = obj["query"]
	}
	text, ok := v.(string)
	if !ok {
		return nil, clauseErr(field, "match query must be a string")
	}
	return Match(field, text)
}

func parseRange(body any) (Filter, error) {
	field, v, err := fieldBody("range", body)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, clauseErr(field, "range must be an object")
	}

	var b Bounds
	b.GTE, b.GT, b.LTE, b.LT = obj["gte"], obj["gt"], obj["lte"], obj["lt"]

	if from, ok := obj["from"]; ok && from != nil {
		if inclusive(obj, "include_lower") {
			b.GTE = from
		} else {
			b.GT = from
		}
	}
	if to, ok := obj["to"]; ok && to != nil {
		if inclusive(obj, "include_upper") {
			b.LTE = to
		} else {
			b.LT = to
		}
	}

	lower, upper := b.GTE != nil || b.GT != nil, b.LTE != nil || b.LT != nil
	if lower != upper {
		return openRange(field, b)
	}
	return Range(field, b)
}

// openRange keeps a range with a single side as a Raw clause in the current
// syntax, since Range requires both sides.
func openRange(field string, b Bounds) (Filter, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	if b.GTE != nil && b.GT != nil {
		return nil, clauseErr(field, "cannot specify both gt and gte")
	}
	if b.LTE != nil && b.LT != nil {
		return nil, clauseErr(field, "cannot specify both lt and lte")
	}

	bounds := map[string]any{}
	for key, v := range map[string]any{"gte": b.GTE, "gt": b.GT, "lte": b.LTE, "lt": b.LT} {
		if v != nil {
			bounds[key] = v
		}
	}
	data, err := json.Marshal(map[string]any{"range": map[string]any{field: bounds}})
	if err != nil {
		return nil, clauseErr(field, "encoding range: %v", err)
	}
	return Raw(string(data))
}

func inclusive(obj map[string]any, key string) bool {
	v, ok := obj[key].(bool)
	return !ok || v
}

// Equivalent reports whether a and b describe the same boolean structure.
// Order within must, should and must_not lists, and within terms values, is
// ignored.
func Equivalent(a, b Filter) bool {
	return fingerprint(a) == fingerprint(b)
}

func fingerprint(f Filter) string {
	switch x := f.(type) {
	case nil:
		return "match_all"
	case Clause:
		return clausePrint(x)
	case Group:
		var sb strings.Builder
		sb.WriteString("bool{")
		for _, part := range []struct {
			name string
			list []Filter
		}{{"must", x.must}, {"should", x.should}, {"must_not", x.mustNot}} {
			prints := make([]string, 0, len(part.list))
			for _, sub := range part.list {
				prints = append(prints, fingerprint(sub))
			}
			sort.Strings(prints)
			sb.WriteString(part.name + "[" + strings.Join(prints, ",") + "]")
		}
		sb.WriteString("}")
		return sb.String()
	default:
		return canonical(f.Source())
	}
}

func clausePrint(c Clause) string {
	switch c.kind {
	case KindTerm:
		return "term(" + c.field + "=" + canonical(c.value) + ")"
	case KindTerms:
		values := make([]string, 0, len(c.values))
		for _, v := range c.values {
			values = append(values, canonical(v))
		}
		sort.Strings(values)
		return "terms(" + c.field + "=" + strings.Join(values, "|") + ")"
	case KindRange:
		return "range(" + c.field + ":" + canonical(c.Source()) + ")"
	default:
		return c.kind.String() + "(" + c.field + ":" + canonical(c.Source()) + ")"
	}
}
