package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pteich/elastic-query-builder/query"
)

// ScrollKeepAlive is how long the backend keeps a scroll context between pages.
const ScrollKeepAlive = 5 * time.Minute

var (
	// ErrUnreachable signals that no Elasticsearch node answered.
	ErrUnreachable = errors.New("elasticsearch unreachable")
	// ErrMalformedResponse signals a response body of unexpected shape.
	ErrMalformedResponse = errors.New("malformed elasticsearch response")
)

// Client is implemented by every supported Elasticsearch major version.
type Client interface {
	Search(ctx context.Context, index string, spec query.Spec) (*SearchResponse, error)
	Count(ctx context.Context, index string, spec query.Spec) (int64, error)
	Scroll(index string, size int, spec query.Spec) ScrollService
	Stop()
}

// ScrollService pages through every hit of a query. Do returns io.EOF once
// all hits were delivered.
type ScrollService interface {
	Do(ctx context.Context) (*SearchResponse, error)
	Clear(ctx context.Context) error
}

// SearchResponse is the version neutral form of a search response.
type SearchResponse struct {
	Took          int64
	TimedOut      bool
	Total         int64
	TotalRelation string
	Hits          []SearchHit
	Aggregations  map[string]json.RawMessage
	ScrollID      string
}

// SearchHit is a single document of a search response.
type SearchHit struct {
	Index  string
	ID     string
	Score  *float64
	Source json.RawMessage
}

// GetSource returns the raw document source.
func (h SearchHit) GetSource() []byte {
	return h.Source
}

// StatusError is returned when Elasticsearch answers with an error status.
type StatusError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *StatusError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("elasticsearch returned status %d: %s: %s", e.StatusCode, e.Type, e.Reason)
}

// Malformed returns an error wrapping ErrMalformedResponse.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// Unreachable wraps a transport failure with ErrUnreachable. Context errors
// are returned unchanged so callers can tell a timeout from a refused
// connection.
func Unreachable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

type wireResponse struct {
	Took     int64           `json:"took"`
	TimedOut bool            `json:"timed_out"`
	ScrollID string          `json:"_scroll_id"`
	Hits     *wireHits       `json:"hits"`
	Aggs     json.RawMessage `json:"aggregations"`
}

type wireHits struct {
	Total json.RawMessage `json:"total"`
	Hits  *[]wireHit      `json:"hits"`
}

type wireHit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  *float64        `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

type wireTotal struct {
	Value    *int64 `json:"value"`
	Relation string `json:"relation"`
}

// DecodeSearchResponse reads a search or scroll response body.
func DecodeSearchResponse(r io.Reader) (*SearchResponse, error) {
	var resp wireResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, Malformed("decoding search response: %v", err)
	}
	if resp.Hits == nil {
		return nil, Malformed("response has no hits section")
	}
	if resp.Hits.Hits == nil {
		return nil, Malformed("response has no hits.hits list")
	}

	total, relation, err := decodeTotal(resp.Hits.Total)
	if err != nil {
		return nil, err
	}

	result := &SearchResponse{
		Took:          resp.Took,
		TimedOut:      resp.TimedOut,
		Total:         total,
		TotalRelation: relation,
		ScrollID:      resp.ScrollID,
		Hits:          make([]SearchHit, 0, len(*resp.Hits.Hits)),
	}
	for _, hit := range *resp.Hits.Hits {
		result.Hits = append(result.Hits, SearchHit{
			Index:  hit.Index,
			ID:     hit.ID,
			Score:  hit.Score,
			Source: hit.Source,
		})
	}

	if len(resp.Aggs) > 0 && string(resp.Aggs) != "null" {
		if err := json.Unmarshal(resp.Aggs, &result.Aggregations); err != nil {
			return nil, Malformed("decoding aggregations: %v", err)
		}
	}
	return result, nil
}

// decodeTotal accepts {"value": n, "relation": "eq"} as well as the plain
// number older clusters return.
func decodeTotal(raw json.RawMessage) (int64, string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, "", Malformed("response has no hits.total")
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, "eq", nil
	}
	var t wireTotal
	if err := json.Unmarshal(raw, &t); err != nil {
		return 0, "", Malformed("decoding hits.total: %v", err)
	}
	if t.Value == nil {
		return 0, "", Malformed("hits.total has no value")
	}
	if t.Relation == "" {
		t.Relation = "eq"
	}
	return *t.Value, t.Relation, nil
}

// DecodeCount reads a count response body.
func DecodeCount(r io.Reader) (int64, error) {
	var resp struct {
		Count *int64 `json:"count"`
	}
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return 0, Malformed("decoding count response: %v", err)
	}
	if resp.Count == nil {
		return 0, Malformed("count response has no count")
	}
	return *resp.Count, nil
}

// DecodeError turns an error response into a StatusError.
func DecodeError(statusCode int, r io.Reader) error {
	var resp struct {
		Error json.RawMessage `json:"error"`
	}
	serr := &StatusError{StatusCode: statusCode}
	if err := json.NewDecoder(r).Decode(&resp); err != nil || len(resp.Error) == 0 {
		return serr
	}

	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(resp.Error, &detail); err != nil {
		// some errors are plain strings
		_ = json.Unmarshal(resp.Error, &serr.Reason)
		return serr
	}
	serr.Type, serr.Reason = detail.Type, detail.Reason
	return serr
}

// ScrollBody returns the body of the first scroll request for spec. Paging
// and aggregations are ignored; without sort directives hits come in _doc
// order.
func ScrollBody(spec query.Spec, size int) map[string]any {
	body := map[string]any{
		"query": query.FilterSource(spec.Filter()),
		"size":  size,
	}
	if sorts := query.SortSource(spec.Sort()); len(sorts) > 0 {
		body["sort"] = sorts
	} else {
		body["sort"] = []any{"_doc"}
	}
	if fields := spec.Projection(); len(fields) > 0 {
		body["_source"] = fields
	}
	return body
}

// CountBody returns the body of a count request for spec.
func CountBody(spec query.Spec) map[string]any {
	return map[string]any{"query": query.FilterSource(spec.Filter())}
}

// Response is the status and body of a finished request.
type Response struct {
	StatusCode int
	Body       io.ReadCloser
}

// IsError reports an error status.
func (r *Response) IsError() bool {
	return r.StatusCode > 299
}

// EncodeBody encodes a request body.
func EncodeBody(body map[string]any) (io.Reader, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	return &buf, nil
}

// Decode finishes a request. A transport error becomes Unreachable, an error
// status is decoded with DecodeError and any other body is passed to decode.
// The body is closed.
func Decode[T any](res *Response, err error, decode func(io.Reader) (T, error)) (T, error) {
	var zero T
	if err != nil {
		return zero, Unreachable(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return zero, DecodeError(res.StatusCode, res.Body)
	}
	return decode(res.Body)
}

// ScrollRequests sends the scroll requests of one client version.
type ScrollRequests interface {
	Start(ctx context.Context, index string, body io.Reader, keepAlive time.Duration) (*Response, error)
	Continue(ctx context.Context, scrollID string, keepAlive time.Duration) (*Response, error)
	Clear(ctx context.Context, scrollID string) (*Response, error)
}

// Scroller is a ScrollService on top of ScrollRequests. The first Do starts
// the scroll, later calls continue it until a page comes back empty.
type Scroller struct {
	requests ScrollRequests
	index    string
	body     map[string]any
	scrollID string
	done     bool
}

func NewScroller(requests ScrollRequests, index string, size int, spec query.Spec) *Scroller {
	return &Scroller{
		requests: requests,
		index:    index,
		body:     ScrollBody(spec, size),
	}
}

func (s *Scroller) Do(ctx context.Context) (*SearchResponse, error) {
	if s.done {
		return nil, io.EOF
	}

	var (
		res *Response
		err error
	)
	if s.scrollID == "" {
		body, encErr := EncodeBody(s.body)
		if encErr != nil {
			return nil, encErr
		}
		res, err = s.requests.Start(ctx, s.index, body, ScrollKeepAlive)
	} else {
		res, err = s.requests.Continue(ctx, s.scrollID, ScrollKeepAlive)
	}

	result, err := Decode(res, err, DecodeSearchResponse)
	if err != nil {
		return nil, err
	}
	if result.ScrollID != "" {
		s.scrollID = result.ScrollID
	}
	if len(result.Hits) == 0 {
		s.done = true
		return nil, io.EOF
	}
	return result, nil
}

// Clear releases the scroll context. A context the backend already dropped
// is not an error.
func (s *Scroller) Clear(ctx context.Context) error {
	if s.scrollID == "" {
		return nil
	}

	res, err := s.requests.Clear(ctx, s.scrollID)
	if err != nil {
		return Unreachable(err)
	}
	defer res.Body.Close()

	s.scrollID = ""
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return DecodeError(res.StatusCode, res.Body)
	}
	return nil
}
