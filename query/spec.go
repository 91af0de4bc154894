package query

import (
	"sort"
	"strings"
)

// Search window limits.
const (
	// DefaultMaxPageSize mirrors index.max_result_window of a stock index.
	DefaultMaxPageSize = 10000
	DefaultLimit       = 10
)

// Sort orders hits by field. Earlier directives win ties.
type Sort struct {
	Field      string
	Descending bool
}

// Page is the result window.
type Page struct {
	Offset int
	Limit  int
}

// AggregationKind tags the aggregation variant.
type AggregationKind int

const (
	TermsBucket AggregationKind = iota
)

func (k AggregationKind) String() string {
	if k == TermsBucket {
		return "terms"
	}
	return "unknown"
}

// BucketOrder selects how the backend orders aggregation buckets.
type BucketOrder int

const (
	// OrderDefault keeps the backend order, descending by document count.
	OrderDefault BucketOrder = iota
	OrderCountDesc
	OrderCountAsc
	OrderKeyAsc
	OrderKeyDesc
)

// Aggregation requests named buckets of {key, count} over field.
type Aggregation struct {
	Name  string
	Field string
	Kind  AggregationKind
	// Size caps the number of buckets, 0 uses the backend default.
	Size  int
	Order BucketOrder
}

// NewTermsAggregation returns a terms bucket aggregation with backend defaults.
func NewTermsAggregation(name, field string) Aggregation {
	return Aggregation{Name: name, Field: field, Kind: TermsBucket}
}

// Spec is an immutable search request descriptor. Every With method returns
// a new Spec and leaves the receiver untouched, so a base Spec can be shared
// to derive variants.
type Spec struct {
	filter       Filter
	sort         []Sort
	page         Page
	projection   []string
	aggregations []Aggregation
	maxPageSize  int
}

// New returns an empty Spec matching all documents. A non-positive
// maxPageSize selects DefaultMaxPageSize.
func New(maxPageSize int) Spec {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	return Spec{
		page:        Page{Offset: 0, Limit: min(DefaultLimit, maxPageSize)},
		maxPageSize: maxPageSize,
	}
}

// WithFilter replaces the filter.
func (s Spec) WithFilter(f Filter) (Spec, error) {
	if isEmpty(f) {
		return Spec{}, specErr("", "filter is empty")
	}
	out := s.clone()
	out.filter = f
	return out, nil
}

// WithSort appends a sort directive. A field may be sorted on only once.
func (s Spec) WithSort(field string, descending bool) (Spec, error) {
	if strings.TrimSpace(field) == "" {
		return Spec{}, specErr("", "sort field is required")
	}
	for _, existing := range s.sort {
		if existing.Field == field {
			return Spec{}, specErr(field, "duplicate sort field")
		}
	}
	out := s.clone()
	out.sort = append(out.sort, Sort{Field: field, Descending: descending})
	return out, nil
}

// WithPage overwrites the result window.
func (s Spec) WithPage(offset, limit int) (Spec, error) {
	p := Page{Offset: offset, Limit: limit}
	if err := checkPage(p, s.maxSize()); err != nil {
		return Spec{}, err
	}
	out := s.clone()
	out.page = p
	return out, nil
}

// WithProjection replaces the set of returned source fields. No fields
// returns the whole document.
func (s Spec) WithProjection(fields ...string) (Spec, error) {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return Spec{}, specErr("", "projection field name is required")
		}
		set[f] = struct{}{}
	}
	projection := make([]string, 0, len(set))
	for f := range set {
		projection = append(projection, f)
	}
	sort.Strings(projection)

	out := s.clone()
	out.projection = projection
	return out, nil
}

// WithAggregation appends an aggregation. Names are unique within a Spec.
func (s Spec) WithAggregation(a Aggregation) (Spec, error) {
	if err := checkAggregation(a); err != nil {
		return Spec{}, err
	}
	for _, existing := range s.aggregations {
		if existing.Name == a.Name {
			return Spec{}, specErr(a.Name, "duplicate aggregation name")
		}
	}
	out := s.clone()
	out.aggregations = append(out.aggregations, a)
	return out, nil
}

// Validate checks the whole spec against maxPageSize.
func (s Spec) Validate(maxPageSize int) error {
	if maxPageSize <= 0 {
		maxPageSize = s.maxSize()
	}
	if s.filter != nil && s.filter.isZero() {
		return specErr("", "filter is empty")
	}
	if g, ok := s.filter.(Group); ok {
		if err := validateGroup(g); err != nil {
			return err
		}
	}
	if err := checkPage(s.page, maxPageSize); err != nil {
		return err
	}

	sorted := make(map[string]struct{}, len(s.sort))
	for _, o := range s.sort {
		if _, ok := sorted[o.Field]; ok || o.Field == "" {
			return specErr(o.Field, "invalid or duplicate sort field")
		}
		sorted[o.Field] = struct{}{}
	}

	names := make(map[string]struct{}, len(s.aggregations))
	for _, a := range s.aggregations {
		if err := checkAggregation(a); err != nil {
			return err
		}
		if _, ok := names[a.Name]; ok {
			return specErr(a.Name, "duplicate aggregation name")
		}
		names[a.Name] = struct{}{}
	}
	return nil
}

// Filter returns the filter, nil when all documents match.
func (s Spec) Filter() Filter { return s.filter }

// Sort returns a copy of the sort directives in precedence order.
func (s Spec) Sort() []Sort { return append([]Sort(nil), s.sort...) }

// Page returns the result window.
func (s Spec) Page() Page { return s.page }

// Projection returns a sorted copy of the projected fields.
func (s Spec) Projection() []string { return append([]string(nil), s.projection...) }

// Aggregations returns a copy of the requested aggregations.
func (s Spec) Aggregations() []Aggregation {
	return append([]Aggregation(nil), s.aggregations...)
}

// MaxPageSize returns the page ceiling the spec validates against.
func (s Spec) MaxPageSize() int { return s.maxSize() }

func (s Spec) maxSize() int {
	if s.maxPageSize <= 0 {
		return DefaultMaxPageSize
	}
	return s.maxPageSize
}

func (s Spec) clone() Spec {
	return Spec{
		filter:       s.filter,
		sort:         append([]Sort(nil), s.sort...),
		page:         s.page,
		projection:   append([]string(nil), s.projection...),
		aggregations: append([]Aggregation(nil), s.aggregations...),
		maxPageSize:  s.maxPageSize,
	}
}

func checkPage(p Page, maxPageSize int) error {
	if p.Offset < 0 {
		return specErr("offset", "offset must not be negative, got %d", p.Offset)
	}
	if p.Limit < 0 {
		return specErr("limit", "limit must not be negative, got %d", p.Limit)
	}
	if p.Limit > maxPageSize {
		return specErr("limit", "limit %d exceeds max page size %d", p.Limit, maxPageSize)
	}
	return nil
}

func checkAggregation(a Aggregation) error {
	if strings.TrimSpace(a.Name) == "" {
		return specErr("", "aggregation name is required")
	}
	if strings.TrimSpace(a.Field) == "" {
		return specErr(a.Name, "aggregation field is required")
	}
	if a.Kind != TermsBucket {
		return specErr(a.Name, "unsupported aggregation kind %d", a.Kind)
	}
	if a.Size < 0 {
		return specErr(a.Name, "aggregation size must not be negative")
	}
	if a.Order < OrderDefault || a.Order > OrderKeyDesc {
		return specErr(a.Name, "unsupported bucket order %d", a.Order)
	}
	return nil
}

func validateGroup(g Group) error {
	if g.isZero() {
		return specErr("", "group needs at least one must, should or must_not filter")
	}
	for _, list := range [][]Filter{g.must, g.should, g.mustNot} {
		for _, f := range list {
			if isEmpty(f) {
				return specErr("", "group contains an empty filter")
			}
			if sub, ok := f.(Group); ok {
				if err := validateGroup(sub); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
