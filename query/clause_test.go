package query

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestRange(t *testing.T) {
	tests := []struct {
		name    string
		bounds  Bounds
		wantErr string
	}{
		{"gte+lte", Bounds{GTE: 1, LTE: 10}, ""},
		{"gt+lt", Bounds{GT: 1, LT: 10}, ""},
		{"gte+lt", Bounds{GTE: "2024-01-01", LT: "2025-01-01"}, ""},
		{"gt+lte", Bounds{GT: 0.5, LTE: 2.5}, ""},
		{"no bounds", Bounds{}, "gte or gt"},
		{"lower only", Bounds{GTE: 1}, "lte or lt"},
		{"upper only", Bounds{LT: 1}, "gte or gt"},
		{"gte and gt", Bounds{GTE: 1, GT: 1, LTE: 5}, "gt and gte"},
		{"lte and lt", Bounds{GTE: 1, LTE: 5, LT: 5}, "lt and lte"},
		{"unsupported value", Bounds{GTE: []int{1}, LTE: 5}, "unsupported value type"},
		{"nan", Bounds{GTE: math.NaN(), LTE: 5.0}, "cannot be encoded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Range("timestamp", tt.bounds)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if c.Kind() != KindRange {
					t.Errorf("Kind() = %v", c.Kind())
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidClause) {
				t.Errorf("error %v is not ErrInvalidClause", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
			var qerr *Error
			if !errors.As(err, &qerr) || qerr.Field != "timestamp" {
				t.Errorf("error does not carry the field: %#v", err)
			}
		})
	}
}

func TestRangeSource(t *testing.T) {
	c, err := Range("timestamp", Bounds{GTE: "2024-01-01", LT: "2024-02-01"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"range": map[string]any{
			"timestamp": map[string]any{"gte": "2024-01-01", "lt": "2024-02-01"},
		},
	}
	if got := c.Source(); !reflect.DeepEqual(got, want) {
		t.Errorf("Source() = %v, want %v", got, want)
	}
}

func TestTerm(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		field   string
		value   any
		want    any
		wantErr bool
	}{
		{"string", "action", "created", "created", false},
		{"int", "user_id", 42, 42, false},
		{"bool", "active", true, true, false},
		{"time", "timestamp", ts, "2024-01-01T12:00:00Z", false},
		{"empty field", "", "x", nil, true},
		{"nil value", "action", nil, nil, true},
		{"map value", "action", map[string]any{"a": 1}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Term(tt.field, tt.value)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidClause) {
					t.Fatalf("expected ErrInvalidClause, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(c.Value(), tt.want) {
				t.Errorf("Value() = %v, want %v", c.Value(), tt.want)
			}
			if c.Field() != tt.field {
				t.Errorf("Field() = %q", c.Field())
			}
		})
	}
}

func TestTerms(t *testing.T) {
	c, err := Terms("action", "created", "updated", "created")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.Values(), []any{"created", "updated"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Values() = %v, want %v", got, want)
	}

	want := map[string]any{"terms": map[string]any{"action": []any{"created", "updated"}}}
	if got := c.Source(); !reflect.DeepEqual(got, want) {
		t.Errorf("Source() = %v, want %v", got, want)
	}

	// callers must not be able to change the clause through Values
	vals := c.Values()
	vals[0] = "deleted"
	if c.Values()[0] != "created" {
		t.Error("Values() exposes internal state")
	}

	if _, err := Terms("action"); !errors.Is(err, ErrInvalidClause) {
		t.Errorf("empty terms: got %v", err)
	}
}

func TestMatch(t *testing.T) {
	c, err := Match("message", "quick brown fox")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"match": map[string]any{"message": map[string]any{"query": "quick brown fox"}}}
	if got := c.Source(); !reflect.DeepEqual(got, want) {
		t.Errorf("Source() = %v, want %v", got, want)
	}

	if _, err := Match("message", "  "); !errors.Is(err, ErrInvalidClause) {
		t.Errorf("blank text: got %v", err)
	}
}

func TestRaw(t *testing.T) {
	c, err := Raw(`{"match_phrase": {"message": "brown fox"}}`)
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind() != KindRaw {
		t.Errorf("Kind() = %v", c.Kind())
	}
	if _, ok := c.Source()["match_phrase"]; !ok {
		t.Errorf("Source() = %v", c.Source())
	}

	for _, src := range []string{`not json`, `{}`, `{"a": {}, "b": {}}`, `[1]`} {
		if _, err := Raw(src); !errors.Is(err, ErrInvalidClause) {
			t.Errorf("Raw(%q) error = %v", src, err)
		}
	}
}

func TestQueryString(t *testing.T) {
	c, err := QueryString("action:created AND user_id:42")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"query_string": map[string]any{"query": "action:created AND user_id:42"}}
	if got := c.Source(); !reflect.DeepEqual(got, want) {
		t.Errorf("Source() = %v, want %v", got, want)
	}
	if _, err := QueryString(""); !errors.Is(err, ErrInvalidClause) {
		t.Errorf("empty query: got %v", err)
	}
}
