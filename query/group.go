package query

// Group composes filters with boolean logic: must (AND), should (OR) and
// must_not (NOT). Groups nest to any depth.
type Group struct {
	must    []Filter
	should  []Filter
	mustNot []Filter
}

// NewGroup validates and creates a Group. At least one list must be non-empty.
func NewGroup(must, should, mustNot []Filter) (Group, error) {
	if len(must) == 0 && len(should) == 0 && len(mustNot) == 0 {
		return Group{}, specErr("", "group needs at least one must, should or must_not filter")
	}
	for _, list := range [][]Filter{must, should, mustNot} {
		for _, f := range list {
			if isEmpty(f) {
				return Group{}, specErr("", "group contains an empty filter")
			}
		}
	}
	return Group{
		must:    clone(must),
		should:  clone(should),
		mustNot: clone(mustNot),
	}, nil
}

// And returns a group requiring every filter to match.
func And(filters ...Filter) (Group, error) { return NewGroup(filters, nil, nil) }

// Or returns a group requiring at least one filter to match.
func Or(filters ...Filter) (Group, error) { return NewGroup(nil, filters, nil) }

// Not returns a group excluding documents matching any filter.
func Not(filters ...Filter) (Group, error) { return NewGroup(nil, nil, filters) }

// And returns a copy of g with filters appended to the must list.
func (g Group) And(filters ...Filter) (Group, error) {
	return NewGroup(append(clone(g.must), filters...), g.should, g.mustNot)
}

// Or returns a copy of g with filters appended to the should list.
func (g Group) Or(filters ...Filter) (Group, error) {
	return NewGroup(g.must, append(clone(g.should), filters...), g.mustNot)
}

// Not returns a copy of g with filters appended to the must_not list.
func (g Group) Not(filters ...Filter) (Group, error) {
	return NewGroup(g.must, g.should, append(clone(g.mustNot), filters...))
}

// Must returns a copy of the must filters.
func (g Group) Must() []Filter { return clone(g.must) }

// Should returns a copy of the should filters.
func (g Group) Should() []Filter { return clone(g.should) }

// MustNot returns a copy of the must_not filters.
func (g Group) MustNot() []Filter { return clone(g.mustNot) }

func (g Group) isZero() bool {
	return len(g.must) == 0 && len(g.should) == 0 && len(g.mustNot) == 0
}

// Source returns the bool query for the group. Should clauses carry
// minimum_should_match 1 so they keep filtering next to must clauses.
func (g Group) Source() map[string]any {
	b := make(map[string]any, 4)
	if len(g.must) > 0 {
		b["must"] = sources(g.must)
	}
	if len(g.should) > 0 {
		b["should"] = sources(g.should)
		b["minimum_should_match"] = 1
	}
	if len(g.mustNot) > 0 {
		b["must_not"] = sources(g.mustNot)
	}
	return map[string]any{"bool": b}
}

func sources(filters []Filter) []any {
	out := make([]any, 0, len(filters))
	for _, f := range filters {
		out = append(out, f.Source())
	}
	return out
}

func isEmpty(f Filter) bool {
	return f == nil || f.isZero()
}

func clone(filters []Filter) []Filter {
	if len(filters) == 0 {
		return nil
	}
	return append([]Filter(nil), filters...)
}
