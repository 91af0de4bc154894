package query

// FilterSource returns the query part of a request body for f. A nil filter
// matches all documents.
func FilterSource(f Filter) map[string]any {
	if isEmpty(f) {
		return map[string]any{"match_all": map[string]any{}}
	}
	return f.Source()
}

// Source returns the Elasticsearch request body for s.
func Source(s Spec) map[string]any {
	body := map[string]any{
		"query":            FilterSource(s.filter),
		"from":             s.page.Offset,
		"size":             s.page.Limit,
		"track_total_hits": true,
	}

	if sorts := SortSource(s.sort); len(sorts) > 0 {
		body["sort"] = sorts
	}
	if len(s.projection) > 0 {
		body["_source"] = s.Projection()
	}
	if len(s.aggregations) > 0 {
		aggs := make(map[string]any, len(s.aggregations))
		for _, a := range s.aggregations {
			aggs[a.Name] = AggregationSource(a)
		}
		body["aggs"] = aggs
	}
	return body
}

// SortSource returns the sort list of a request body.
func SortSource(sorts []Sort) []any {
	out := make([]any, 0, len(sorts))
	for _, o := range sorts {
		order := "asc"
		if o.Descending {
			order = "desc"
		}
		out = append(out, map[string]any{o.Field: map[string]any{"order": order}})
	}
	return out
}

// AggregationSource returns the body of a single aggregation.
func AggregationSource(a Aggregation) map[string]any {
	terms := map[string]any{"field": a.Field}
	if a.Size > 0 {
		terms["size"] = a.Size
	}
	if key, dir, ok := a.Order.source(); ok {
		terms["order"] = map[string]any{key: dir}
	}
	return map[string]any{"terms": terms}
}

func (o BucketOrder) source() (key, dir string, ok bool) {
	switch o {
	case OrderCountDesc:
		return "_count", "desc", true
	case OrderCountAsc:
		return "_count", "asc", true
	case OrderKeyAsc:
		return "_key", "asc", true
	case OrderKeyDesc:
		return "_key", "desc", true
	default:
		return "", "", false
	}
}
