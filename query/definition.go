package query

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is the file form of a Spec. JSON is accepted as well since it is
// valid YAML.
//
//	filter:
//	  must:
//	    - term: {field: user_id, value: 42}
//	    - range: {field: timestamp, gte: "2024-01-01", lte: now}
//	sort:
//	  - field: timestamp
//	    desc: true
//	page: {offset: 0, limit: 50}
//	fields: [user_id, action]
//	aggregations:
//	  - name: actions_count
//	    field: action
type Definition struct {
	Filter       *FilterDefinition       `yaml:"filter"`
	Sort         []SortDefinition        `yaml:"sort"`
	Page         *PageDefinition         `yaml:"page"`
	Fields       []string                `yaml:"fields"`
	Aggregations []AggregationDefinition `yaml:"aggregations"`
}

// FilterDefinition holds exactly one clause or a boolean group.
type FilterDefinition struct {
	Term        *ValueDefinition  `yaml:"term"`
	Terms       *ValuesDefinition `yaml:"terms"`
	Match       *MatchDefinition  `yaml:"match"`
	Range       *RangeDefinition  `yaml:"range"`
	QueryString string            `yaml:"query_string"`
	Raw         string            `yaml:"raw"`

	Must    []FilterDefinition `yaml:"must"`
	Should  []FilterDefinition `yaml:"should"`
	MustNot []FilterDefinition `yaml:"must_not"`
}

type ValueDefinition struct {
	Field string `yaml:"field"`
	Value any    `yaml:"value"`
}

type ValuesDefinition struct {
	Field  string `yaml:"field"`
	Values []any  `yaml:"values"`
}

type MatchDefinition struct {
	Field string `yaml:"field"`
	Text  string `yaml:"text"`
}

type RangeDefinition struct {
	Field string `yaml:"field"`
	GTE   any    `yaml:"gte"`
	GT    any    `yaml:"gt"`
	LTE   any    `yaml:"lte"`
	LT    any    `yaml:"lt"`
}

type SortDefinition struct {
	Field string `yaml:"field"`
	Desc  bool   `yaml:"desc"`
}

type PageDefinition struct {
	Offset int `yaml:"offset"`
	Limit  int `yaml:"limit"`
}

type AggregationDefinition struct {
	Name  string `yaml:"name"`
	Field string `yaml:"field"`
	Size  int    `yaml:"size"`
	// Order is one of count_desc, count_asc, key_asc, key_desc.
	Order string `yaml:"order"`
}

// LoadDefinition reads a definition file.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading query file %s: %w", path, err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("parsing query file %s: %w", path, err)
	}
	return def, nil
}

// ParseDefinition decodes a YAML or JSON definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Build validates the definition and turns it into a Spec.
func (d *Definition) Build(maxPageSize int) (Spec, error) {
	spec := New(maxPageSize)
	var err error

	if d.Filter != nil {
		f, err := d.Filter.Build()
		if err != nil {
			return Spec{}, err
		}
		if spec, err = spec.WithFilter(f); err != nil {
			return Spec{}, err
		}
	}
	for _, s := range d.Sort {
		if spec, err = spec.WithSort(s.Field, s.Desc); err != nil {
			return Spec{}, err
		}
	}
	if d.Page != nil {
		if spec, err = spec.WithPage(d.Page.Offset, d.Page.Limit); err != nil {
			return Spec{}, err
		}
	}
	if len(d.Fields) > 0 {
		if spec, err = spec.WithProjection(d.Fields...); err != nil {
			return Spec{}, err
		}
	}
	for _, a := range d.Aggregations {
		order, err := ParseBucketOrder(a.Order)
		if err != nil {
			return Spec{}, err
		}
		agg := NewTermsAggregation(a.Name, a.Field)
		agg.Size = a.Size
		agg.Order = order
		if spec, err = spec.WithAggregation(agg); err != nil {
			return Spec{}, err
		}
	}
	return spec, nil
}

// Build turns the definition node into a Clause or Group.
func (f *FilterDefinition) Build() (Filter, error) {
	var clauses []Filter
	add := func(c Clause, err error) error {
		if err != nil {
			return err
		}
		clauses = append(clauses, c)
		return nil
	}

	if f.Term != nil {
		if err := add(Term(f.Term.Field, f.Term.Value)); err != nil {
			return nil, err
		}
	}
	if f.Terms != nil {
		if err := add(Terms(f.Terms.Field, f.Terms.Values...)); err != nil {
			return nil, err
		}
	}
	if f.Match != nil {
		if err := add(Match(f.Match.Field, f.Match.Text)); err != nil {
			return nil, err
		}
	}
	if f.Range != nil {
		b := Bounds{
			GTE: f.Range.GTE,
			GT:  f.Range.GT,
			LTE: f.Range.LTE,
			LT:  f.Range.LT,
		}
		if err := add(Range(f.Range.Field, b)); err != nil {
			return nil, err
		}
	}
	if f.QueryString != "" {
		if err := add(QueryString(f.QueryString)); err != nil {
			return nil, err
		}
	}
	if f.Raw != "" {
		if err := add(Raw(f.Raw)); err != nil {
			return nil, err
		}
	}

	isGroup := len(f.Must) > 0 || len(f.Should) > 0 || len(f.MustNot) > 0
	switch {
	case len(clauses) > 1 || (len(clauses) == 1 && isGroup):
		return nil, specErr("", "a filter node holds either one clause or a must/should/must_not group")
	case len(clauses) == 1:
		return clauses[0], nil
	case !isGroup:
		return nil, specErr("", "empty filter node")
	}

	must, err := buildAll(f.Must)
	if err != nil {
		return nil, err
	}
	should, err := buildAll(f.Should)
	if err != nil {
		return nil, err
	}
	mustNot, err := buildAll(f.MustNot)
	if err != nil {
		return nil, err
	}
	return NewGroup(must, should, mustNot)
}

func buildAll(defs []FilterDefinition) ([]Filter, error) {
	out := make([]Filter, 0, len(defs))
	for i := range defs {
		f, err := defs[i].Build()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// ParseBucketOrder maps count_desc, count_asc, key_asc and key_desc to a
// BucketOrder. The empty string keeps the backend order.
func ParseBucketOrder(s string) (BucketOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return OrderDefault, nil
	case "count_desc":
		return OrderCountDesc, nil
	case "count_asc":
		return OrderCountAsc, nil
	case "key_asc":
		return OrderKeyAsc, nil
	case "key_desc":
		return OrderKeyDesc, nil
	default:
		return OrderDefault, specErr("", "unknown bucket order %q", s)
	}
}
