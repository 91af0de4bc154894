package query

import (
	"errors"
	"reflect"
	"testing"
)

func mustTerm(t *testing.T, field string, value any) Clause {
	t.Helper()
	c, err := Term(field, value)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewGroup_Empty(t *testing.T) {
	if _, err := NewGroup(nil, nil, nil); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
	if _, err := And(); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("And(): expected ErrInvalidSpec, got %v", err)
	}
	if _, err := Or(Clause{}); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("Or(zero clause): expected ErrInvalidSpec, got %v", err)
	}
	if _, err := Not(nil); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("Not(nil): expected ErrInvalidSpec, got %v", err)
	}
}

func TestGroupSource(t *testing.T) {
	user := mustTerm(t, "user_id", 42)
	created := mustTerm(t, "action", "created")
	deleted := mustTerm(t, "action", "deleted")

	inner, err := Or(created, deleted)
	if err != nil {
		t.Fatal(err)
	}
	g, err := And(user, inner)
	if err != nil {
		t.Fatal(err)
	}
	g, err = g.Not(mustTerm(t, "bot", true))
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]any{
		"bool": map[string]any{
			"must": []any{
				map[string]any{"term": map[string]any{"user_id": 42}},
				map[string]any{"bool": map[string]any{
					"should": []any{
						map[string]any{"term": map[string]any{"action": "created"}},
						map[string]any{"term": map[string]any{"action": "deleted"}},
					},
					"minimum_should_match": 1,
				}},
			},
			"must_not": []any{
				map[string]any{"term": map[string]any{"bot": true}},
			},
		},
	}
	if got := g.Source(); !reflect.DeepEqual(got, want) {
		t.Errorf("Source() = %v\nwant %v", got, want)
	}
}

func TestGroupCombinatorsDoNotMutate(t *testing.T) {
	a := mustTerm(t, "a", 1)
	b := mustTerm(t, "b", 2)

	base, err := And(a)
	if err != nil {
		t.Fatal(err)
	}
	derived, err := base.And(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(base.Must()) != 1 {
		t.Errorf("base modified: %d must filters", len(base.Must()))
	}
	if len(derived.Must()) != 2 {
		t.Errorf("derived has %d must filters, want 2", len(derived.Must()))
	}

	withOr, err := base.Or(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(withOr.Should()) != 1 || len(withOr.Must()) != 1 || len(base.Should()) != 0 {
		t.Error("Or() did not produce an independent group")
	}
}

func TestGroupAssociative(t *testing.T) {
	a := mustTerm(t, "a", 1)
	b := mustTerm(t, "b", 2)
	c := mustTerm(t, "c", 3)

	ab, _ := And(a, b)
	left, _ := ab.And(c)
	right, _ := And(a, b, c)
	if !Equivalent(left, right) {
		t.Errorf("(a AND b) AND c is not equivalent to AND(a, b, c)")
	}
}
