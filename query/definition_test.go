package query

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const definitionYAML = `
filter:
  must:
    - term: {field: user_id, value: 42}
    - terms: {field: action, values: [created, updated]}
    - range: {field: timestamp, gte: "2024-01-01", lte: now}
  must_not:
    - match: {field: message, text: debug}
sort:
  - field: timestamp
    desc: true
page: {offset: 10, limit: 50}
fields: [user_id, action]
aggregations:
  - name: actions_count
    field: action
    size: 5
    order: count_desc
`

func TestDefinitionBuild(t *testing.T) {
	def, err := ParseDefinition([]byte(definitionYAML))
	if err != nil {
		t.Fatal(err)
	}
	spec, err := def.Build(0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	user := mustTerm(t, "user_id", 42)
	actions, _ := Terms("action", "created", "updated")
	since, _ := Range("timestamp", Bounds{GTE: "2024-01-01", LTE: "now"})
	debug, _ := Match("message", "debug")
	want, _ := NewGroup([]Filter{user, actions, since}, nil, []Filter{debug})

	if !Equivalent(spec.Filter(), want) {
		t.Errorf("filter = %v\nwant %v", spec.Filter().Source(), want.Source())
	}
	if got := spec.Page(); got != (Page{Offset: 10, Limit: 50}) {
		t.Errorf("Page() = %v", got)
	}
	if got := spec.Sort(); !reflect.DeepEqual(got, []Sort{{Field: "timestamp", Descending: true}}) {
		t.Errorf("Sort() = %v", got)
	}
	if got := spec.Projection(); !reflect.DeepEqual(got, []string{"action", "user_id"}) {
		t.Errorf("Projection() = %v", got)
	}
	wantAgg := []Aggregation{{Name: "actions_count", Field: "action", Kind: TermsBucket, Size: 5, Order: OrderCountDesc}}
	if got := spec.Aggregations(); !reflect.DeepEqual(got, wantAgg) {
		t.Errorf("Aggregations() = %v", got)
	}
}

func TestDefinitionBuild_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{"one sided range", "filter:\n  range: {field: ts, gte: 1}\n", ErrInvalidClause},
		{"empty node", "filter: {}\n", ErrInvalidSpec},
		{"clause and group", "filter:\n  term: {field: a, value: 1}\n  must:\n    - term: {field: b, value: 2}\n", ErrInvalidSpec},
		{"page over max", "page: {limit: 20000}\n", ErrInvalidSpec},
		{"bad order", "aggregations:\n  - {name: a, field: b, order: random}\n", ErrInvalidSpec},
		{"duplicate sort", "sort:\n  - field: a\n  - field: a\n", ErrInvalidSpec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := ParseDefinition([]byte(tt.yaml))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := def.Build(0); !errors.Is(err, tt.want) {
				t.Errorf("Build() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadDefinition_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.json")
	data := `{"filter": {"should": [{"term": {"field": "action", "value": "created"}}]}, "page": {"limit": 5}}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	def, err := LoadDefinition(path)
	if err != nil {
		t.Fatal(err)
	}
	spec, err := def.Build(0)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := Or(mustTerm(t, "action", "created"))
	if !Equivalent(spec.Filter(), want) {
		t.Errorf("filter = %v", spec.Filter().Source())
	}
	if spec.Page().Limit != 5 {
		t.Errorf("limit = %d", spec.Page().Limit)
	}

	if _, err := LoadDefinition(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
