package v7

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/olivere/elastic/v7"
	"go.uber.org/zap"

	es "github.com/pteich/elastic-query-builder/elastic"
	"github.com/pteich/elastic-query-builder/query"
)

type Client struct {
	client *elastic.Client
}

type ScrollService struct {
	scroll *elastic.ScrollService
}

// Options configures a v7 client.
type Options struct {
	URLs       []string
	Username   string
	Password   string
	HTTPClient *http.Client
	Logger     *zap.Logger
	Trace      bool
}

func NewClient(opts Options) (*Client, error) {
	esOpts := []elastic.ClientOptionFunc{
		elastic.SetURL(opts.URLs...),
		elastic.SetSniff(false),
		elastic.SetHealthcheckInterval(60 * time.Second),
		elastic.SetRetrier(elastic.NewStopRetrier()),
	}
	if opts.HTTPClient != nil {
		esOpts = append(esOpts, elastic.SetHttpClient(opts.HTTPClient))
	}
	if opts.Logger != nil {
		esOpts = append(esOpts, elastic.SetErrorLog(zap.NewStdLog(opts.Logger.Named("elastic"))))
		if opts.Trace {
			esOpts = append(esOpts, elastic.SetTraceLog(zap.NewStdLog(opts.Logger.Named("elastic.trace"))))
		}
	}
	if opts.Username != "" && opts.Password != "" {
		esOpts = append(esOpts, elastic.SetBasicAuth(opts.Username, opts.Password))
	}

	client, err := elastic.NewClient(esOpts...)
	if err != nil {
		return nil, es.Unreachable(err)
	}
	return &Client{client: client}, nil
}

func (c *Client) Search(ctx context.Context, index string, spec query.Spec) (*es.SearchResponse, error) {
	results, err := c.client.Search(index).SearchSource(SearchSource(spec)).Do(ctx)
	if err != nil {
		return nil, convertError(err)
	}
	return convertResult(results)
}

func (c *Client) Count(ctx context.Context, index string, spec query.Spec) (int64, error) {
	count, err := c.client.Count(index).Query(Query(spec.Filter())).Do(ctx)
	if err != nil {
		return 0, convertError(err)
	}
	return count, nil
}

func (c *Client) Scroll(index string, size int, spec query.Spec) es.ScrollService {
	scroll := c.client.Scroll(index).
		Size(size).
		Query(Query(spec.Filter())).
		KeepAlive(keepAlive())

	if sorts := spec.Sort(); len(sorts) > 0 {
		scroll = scroll.SortBy(sorters(sorts)...)
	} else {
		scroll = scroll.Sort("_doc", true)
	}
	if fields := spec.Projection(); len(fields) > 0 {
		scroll = scroll.FetchSourceContext(elastic.NewFetchSourceContext(true).Include(fields...))
	}
	return &ScrollService{scroll: scroll}
}

func (c *Client) Stop() {
	c.client.Stop()
}

func (s *ScrollService) Do(ctx context.Context) (*es.SearchResponse, error) {
	results, err := s.scroll.Do(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, convertError(err)
	}
	return convertResult(results)
}

func (s *ScrollService) Clear(ctx context.Context) error {
	return convertError(s.scroll.Clear(ctx))
}

// Query translates a filter into the olivere query builders.
func Query(f query.Filter) elastic.Query {
	switch x := f.(type) {
	case query.Clause:
		return clauseQuery(x)
	case query.Group:
		if len(x.Must()) == 0 && len(x.Should()) == 0 && len(x.MustNot()) == 0 {
			return elastic.NewMatchAllQuery()
		}
		bq := elastic.NewBoolQuery()
		for _, sub := range x.Must() {
			bq = bq.Must(Query(sub))
		}
		for _, sub := range x.Should() {
			bq = bq.Should(Query(sub))
		}
		for _, sub := range x.MustNot() {
			bq = bq.MustNot(Query(sub))
		}
		if len(x.Should()) > 0 {
			bq = bq.MinimumNumberShouldMatch(1)
		}
		return bq
	default:
		return elastic.NewMatchAllQuery()
	}
}

func clauseQuery(c query.Clause) elastic.Query {
	switch c.Kind() {
	case query.KindTerm:
		return elastic.NewTermQuery(c.Field(), c.Value())
	case query.KindTerms:
		return elastic.NewTermsQuery(c.Field(), c.Values()...)
	case query.KindMatch:
		return elastic.NewMatchQuery(c.Field(), c.Text())
	case query.KindRange:
		b := c.Bounds()
		rq := elastic.NewRangeQuery(c.Field())
		if b.GTE != nil {
			rq = rq.Gte(b.GTE)
		}
		if b.GT != nil {
			rq = rq.Gt(b.GT)
		}
		if b.LTE != nil {
			rq = rq.Lte(b.LTE)
		}
		if b.LT != nil {
			rq = rq.Lt(b.LT)
		}
		return rq
	case query.KindQueryString:
		return elastic.NewQueryStringQuery(c.Text())
	case query.KindRaw:
		return elastic.NewRawStringQuery(c.Text())
	default:
		return elastic.NewMatchAllQuery()
	}
}

// SearchSource translates spec into a complete search body.
func SearchSource(spec query.Spec) *elastic.SearchSource {
	page := spec.Page()
	ss := elastic.NewSearchSource().
		Query(Query(spec.Filter())).
		From(page.Offset).
		Size(page.Limit).
		TrackTotalHits(true)

	if sorts := spec.Sort(); len(sorts) > 0 {
		ss = ss.SortBy(sorters(sorts)...)
	}
	if fields := spec.Projection(); len(fields) > 0 {
		ss = ss.FetchSourceContext(elastic.NewFetchSourceContext(true).Include(fields...))
	}
	for _, a := range spec.Aggregations() {
		ss = ss.Aggregation(a.Name, termsAggregation(a))
	}
	return ss
}

func sorters(sorts []query.Sort) []elastic.Sorter {
	out := make([]elastic.Sorter, 0, len(sorts))
	for _, s := range sorts {
		fs := elastic.NewFieldSort(s.Field)
		if s.Descending {
			fs = fs.Desc()
		} else {
			fs = fs.Asc()
		}
		out = append(out, fs)
	}
	return out
}

func termsAggregation(a query.Aggregation) *elastic.TermsAggregation {
	agg := elastic.NewTermsAggregation().Field(a.Field)
	if a.Size > 0 {
		agg = agg.Size(a.Size)
	}
	switch a.Order {
	case query.OrderCountDesc:
		agg = agg.OrderByCountDesc()
	case query.OrderCountAsc:
		agg = agg.OrderByCountAsc()
	case query.OrderKeyAsc:
		agg = agg.OrderByKeyAsc()
	case query.OrderKeyDesc:
		agg = agg.OrderByKeyDesc()
	}
	return agg
}

// keepAlive renders the scroll keep alive in Elasticsearch time units.
func keepAlive() string {
	return fmt.Sprintf("%ds", int(es.ScrollKeepAlive.Seconds()))
}

func convertResult(r *elastic.SearchResult) (*es.SearchResponse, error) {
	if r == nil || r.Hits == nil {
		return nil, es.Malformed("response has no hits section")
	}
	if r.Hits.TotalHits == nil {
		return nil, es.Malformed("response has no hits.total")
	}

	relation := r.Hits.TotalHits.Relation
	if relation == "" {
		relation = "eq"
	}
	resp := &es.SearchResponse{
		Took:          r.TookInMillis,
		TimedOut:      r.TimedOut,
		Total:         r.Hits.TotalHits.Value,
		TotalRelation: relation,
		ScrollID:      r.ScrollId,
		Hits:          make([]es.SearchHit, 0, len(r.Hits.Hits)),
	}
	for _, hit := range r.Hits.Hits {
		resp.Hits = append(resp.Hits, es.SearchHit{
			Index:  hit.Index,
			ID:     hit.Id,
			Score:  hit.Score,
			Source: hit.Source,
		})
	}
	if len(r.Aggregations) > 0 {
		resp.Aggregations = r.Aggregations
	}
	return resp, nil
}

func convertError(err error) error {
	if err == nil {
		return nil
	}

	var e *elastic.Error
	if errors.As(err, &e) {
		serr := &es.StatusError{StatusCode: e.Status}
		if e.Details != nil {
			serr.Type, serr.Reason = e.Details.Type, e.Details.Reason
		}
		return serr
	}
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return es.Malformed("%v", err)
	}
	return es.Unreachable(err)
}
