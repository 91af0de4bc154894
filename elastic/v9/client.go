package v9

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v9"
	"github.com/elastic/go-elasticsearch/v9/esapi"

	"github.com/pteich/elastic-query-builder/elastic"
	"github.com/pteich/elastic-query-builder/query"
)

type Client struct {
	client *elasticsearch.Client
}

// NewConfig builds a client config. Retries are disabled, a failed request
// surfaces to the caller right away.
func NewConfig(urls []string, username, password string, httpClient *http.Client, logger elastictransport.Logger) elasticsearch.Config {
	cfg := elasticsearch.Config{
		Addresses:    urls,
		Username:     username,
		Password:     password,
		DisableRetry: true,
		Logger:       logger,
	}
	if httpClient != nil {
		cfg.Transport = httpClient.Transport
	}
	return cfg
}

func NewClient(cfg elasticsearch.Config) (*Client, error) {
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{client: client}, nil
}

func (c *Client) Search(ctx context.Context, index string, spec query.Spec) (*elastic.SearchResponse, error) {
	body, err := elastic.EncodeBody(query.Source(spec))
	if err != nil {
		return nil, err
	}

	req := esapi.SearchRequest{
		Index: []string{index},
		Body:  body,
	}
	res, err := response(req.Do(ctx, c.client))
	return elastic.Decode(res, err, elastic.DecodeSearchResponse)
}

func (c *Client) Count(ctx context.Context, index string, spec query.Spec) (int64, error) {
	body, err := elastic.EncodeBody(elastic.CountBody(spec))
	if err != nil {
		return 0, err
	}

	req := esapi.CountRequest{
		Index: []string{index},
		Body:  body,
	}
	res, err := response(req.Do(ctx, c.client))
	return elastic.Decode(res, err, elastic.DecodeCount)
}

func (c *Client) Scroll(index string, size int, spec query.Spec) elastic.ScrollService {
	return elastic.NewScroller(scrollRequests{client: c.client}, index, size, spec)
}

func (c *Client) Stop() {}

type scrollRequests struct {
	client *elasticsearch.Client
}

func (s scrollRequests) Start(ctx context.Context, index string, body io.Reader, keepAlive time.Duration) (*elastic.Response, error) {
	req := esapi.SearchRequest{
		Index:  []string{index},
		Scroll: keepAlive,
		Body:   body,
	}
	return response(req.Do(ctx, s.client))
}

func (s scrollRequests) Continue(ctx context.Context, scrollID string, keepAlive time.Duration) (*elastic.Response, error) {
	req := esapi.ScrollRequest{
		ScrollID: scrollID,
		Scroll:   keepAlive,
	}
	return response(req.Do(ctx, s.client))
}

func (s scrollRequests) Clear(ctx context.Context, scrollID string) (*elastic.Response, error) {
	req := esapi.ClearScrollRequest{
		ScrollID: []string{scrollID},
	}
	return response(req.Do(ctx, s.client))
}

func response(res *esapi.Response, err error) (*elastic.Response, error) {
	if err != nil {
		return nil, err
	}
	return &elastic.Response{StatusCode: res.StatusCode, Body: res.Body}, nil
}
