package elastic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pteich/elastic-query-builder/query"
)

type call struct {
	op        string
	index     string
	scrollID  string
	keepAlive time.Duration
	body      map[string]any
}

type fakeRequests struct {
	pages []string
	clear int
	err   error
	calls []call
}

func (f *fakeRequests) next() (*Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	page := `{"hits": {"total": {"value": 0, "relation": "eq"}, "hits": []}}`
	if len(f.pages) > 0 {
		page, f.pages = f.pages[0], f.pages[1:]
	}
	return reply(http.StatusOK, page), nil
}

func (f *fakeRequests) Start(ctx context.Context, index string, body io.Reader, keepAlive time.Duration) (*Response, error) {
	c := call{op: "start", index: index, keepAlive: keepAlive}
	_ = json.NewDecoder(body).Decode(&c.body)
	f.calls = append(f.calls, c)
	return f.next()
}

func (f *fakeRequests) Continue(ctx context.Context, scrollID string, keepAlive time.Duration) (*Response, error) {
	f.calls = append(f.calls, call{op: "continue", scrollID: scrollID, keepAlive: keepAlive})
	return f.next()
}

func (f *fakeRequests) Clear(ctx context.Context, scrollID string) (*Response, error) {
	f.calls = append(f.calls, call{op: "clear", scrollID: scrollID})
	status := f.clear
	if status == 0 {
		status = http.StatusOK
	}
	return reply(status, `{"succeeded": true}`), nil
}

func reply(status int, body string) *Response {
	return &Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func page(scrollID string, ids ...string) string {
	hits := make([]string, 0, len(ids))
	for _, id := range ids {
		hits = append(hits, `{"_index": "events", "_id": "`+id+`", "_source": {}}`)
	}
	return `{"_scroll_id": "` + scrollID + `", "hits": {"total": {"value": 3, "relation": "eq"}, "hits": [` + strings.Join(hits, ",") + `]}}`
}

func TestScroller(t *testing.T) {
	requests := &fakeRequests{pages: []string{page("s1", "a", "b"), page("s2", "c"), page("s3")}}
	spec, _ := query.New(0).WithProjection("action")
	scroll := NewScroller(requests, "events", 2, spec)

	var ids []string
	for {
		resp, err := scroll.Do(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		for _, hit := range resp.Hits {
			ids = append(ids, hit.ID)
		}
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Errorf("ids = %v", ids)
	}
	if _, err := scroll.Do(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("exhausted scroll: expected io.EOF, got %v", err)
	}
	if err := scroll.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	want := []call{
		{op: "start", index: "events", keepAlive: ScrollKeepAlive},
		{op: "continue", scrollID: "s1", keepAlive: ScrollKeepAlive},
		{op: "continue", scrollID: "s2", keepAlive: ScrollKeepAlive},
		{op: "clear", scrollID: "s3"},
	}
	if len(requests.calls) != len(want) {
		t.Fatalf("calls = %+v", requests.calls)
	}
	for i, c := range requests.calls {
		w := want[i]
		if c.op != w.op || c.index != w.index || c.scrollID != w.scrollID || c.keepAlive != w.keepAlive {
			t.Errorf("call %d = %+v, want %+v", i, c, w)
		}
	}

	body := requests.calls[0].body
	if body["size"] != float64(2) {
		t.Errorf("size = %v", body["size"])
	}
	if got, _ := json.Marshal(body["sort"]); string(got) != `["_doc"]` {
		t.Errorf("sort = %s", got)
	}
}

func TestScrollerClear(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		started bool
		wantErr bool
		calls   int
	}{
		{"not started", http.StatusOK, false, false, 0},
		{"cleared", http.StatusOK, true, false, 2},
		{"already gone", http.StatusNotFound, true, false, 2},
		{"rejected", http.StatusInternalServerError, true, true, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requests := &fakeRequests{pages: []string{page("s1", "a")}, clear: tt.status}
			scroll := NewScroller(requests, "events", 10, query.New(0))
			if tt.started {
				if _, err := scroll.Do(context.Background()); err != nil {
					t.Fatal(err)
				}
			}

			err := scroll.Clear(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Clear error = %v, want error %v", err, tt.wantErr)
			}
			if len(requests.calls) != tt.calls {
				t.Errorf("calls = %+v", requests.calls)
			}
		})
	}
}

func TestScrollerUnreachable(t *testing.T) {
	scroll := NewScroller(&fakeRequests{err: errors.New("connection refused")}, "events", 10, query.New(0))
	if _, err := scroll.Do(context.Background()); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestDecode(t *testing.T) {
	count, err := Decode(reply(http.StatusOK, `{"count": 3}`), nil, DecodeCount)
	if err != nil || count != 3 {
		t.Errorf("Decode = %d, %v", count, err)
	}

	_, err = Decode(reply(http.StatusNotFound, `{"error": {"type": "index_not_found_exception", "reason": "no such index [events]"}, "status": 404}`), nil, DecodeCount)
	var serr *StatusError
	if !errors.As(err, &serr) || serr.StatusCode != http.StatusNotFound || serr.Type != "index_not_found_exception" {
		t.Errorf("error = %v", err)
	}

	if _, err := Decode(nil, context.DeadlineExceeded, DecodeCount); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("deadline error = %v", err)
	}
	if _, err := Decode(nil, errors.New("connection reset"), DecodeSearchResponse); !errors.Is(err, ErrUnreachable) {
		t.Errorf("transport error = %v", err)
	}
}
