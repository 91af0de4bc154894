package search

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/pteich/elastic-query-builder/elastic"
	"github.com/pteich/elastic-query-builder/query"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultIndex     = "_all"
	DefaultBatchSize = 1000
)

const (
	opExecute = "execute"
	opCount   = "count"
	opScan    = "scan"
)

// Config is the connection and execution configuration of an Executor.
type Config struct {
	// Version is the Elasticsearch major version, 7, 8 or 9.
	Version    int
	Hosts      []string
	Username   string
	Password   string
	VerifySSL  bool
	ClientCert string
	ClientKey  string
	// Index is the index, alias or wildcard pattern queried.
	Index          string
	DefaultTimeout time.Duration
	MaxPageSize    int
	Trace          bool
}

func (c Config) withDefaults() Config {
	if c.Version == 0 {
		c.Version = 8
	}
	if c.Index == "" {
		c.Index = DefaultIndex
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = query.DefaultMaxPageSize
	}
	return c
}

type Option func(*Executor)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// Executor runs query specs against one index. It holds no mutable state
// and is safe for concurrent use.
type Executor struct {
	client  elastic.Client
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics
}

func NewExecutor(client elastic.Client, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("index", e.cfg.Index))
	return e
}

// NewSpec returns an empty spec bound to the executor's page ceiling.
func (e *Executor) NewSpec() query.Spec {
	return query.New(e.cfg.MaxPageSize)
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Close releases the underlying client.
func (e *Executor) Close() {
	e.client.Stop()
}

// Execute runs spec with the configured default timeout.
func (e *Executor) Execute(ctx context.Context, spec query.Spec) (*Result, error) {
	return e.ExecuteWithTimeout(ctx, spec, e.cfg.DefaultTimeout)
}

// ExecuteWithTimeout runs spec in a single round trip. A non positive
// timeout falls back to the default. On failure no partial result is
// returned.
func (e *Executor) ExecuteWithTimeout(ctx context.Context, spec query.Spec, timeout time.Duration) (res *Result, err error) {
	start := time.Now()
	defer func() { e.metrics.observe(opExecute, start, err) }()

	if err := spec.Validate(e.cfg.MaxPageSize); err != nil {
		return nil, e.invalid(opExecute, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout(timeout))
	defer cancel()

	resp, err := e.client.Search(ctx, e.cfg.Index, spec)
	if err != nil {
		err = e.classify(ctx, opExecute, err)
		e.logger.Warn("search failed", zap.Error(err))
		return nil, err
	}
	if resp == nil {
		err = malformed(opExecute, e.cfg.Index, errEmptyResponse)
		e.logger.Warn("decoding search response", zap.Error(err))
		return nil, err
	}
	if resp.TimedOut {
		err = timedOut(opExecute, e.cfg.Index)
		e.logger.Warn("search timed out on backend", zap.Int64("took_ms", resp.Took))
		return nil, err
	}

	res, err = newResult(resp, spec.Aggregations())
	if err != nil {
		err = malformed(opExecute, e.cfg.Index, err)
		e.logger.Warn("decoding search response", zap.Error(err))
		return nil, err
	}

	e.metrics.hits(res.TotalMatched)
	e.logger.Debug("search",
		zap.Int64("took_ms", resp.Took),
		zap.Int64("total", res.TotalMatched),
		zap.Int("hits", len(res.Documents)),
	)
	return res, nil
}

// Count returns the number of documents matching the filter of spec.
func (e *Executor) Count(ctx context.Context, spec query.Spec) (count int64, err error) {
	start := time.Now()
	defer func() { e.metrics.observe(opCount, start, err) }()

	if err := spec.Validate(e.cfg.MaxPageSize); err != nil {
		return 0, e.invalid(opCount, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()

	count, err = e.client.Count(ctx, e.cfg.Index, spec)
	if err != nil {
		err = e.classify(ctx, opCount, err)
		e.logger.Warn("count failed", zap.Error(err))
		return 0, err
	}
	e.logger.Debug("count", zap.Int64("total", count))
	return count, nil
}

// Scan scrolls through every document matching spec and calls fn for each.
// Paging and aggregations of spec are ignored. The default timeout applies
// to every round trip. Scan stops at the first error returned by fn and
// returns it unchanged. It returns the number of documents delivered.
func (e *Executor) Scan(ctx context.Context, spec query.Spec, batchSize int, fn func(Document) error) (n int64, err error) {
	start := time.Now()
	defer func() { e.metrics.observe(opScan, start, err) }()

	if err := spec.Validate(e.cfg.MaxPageSize); err != nil {
		return 0, e.invalid(opScan, err)
	}
	if batchSize <= 0 {
		batchSize = min(DefaultBatchSize, e.cfg.MaxPageSize)
	}
	if batchSize > e.cfg.MaxPageSize {
		return 0, e.invalid(opScan, &query.Error{Err: query.ErrInvalidSpec, Message: "batch size exceeds max page size"})
	}

	scroll := e.client.Scroll(e.cfg.Index, batchSize, spec)
	defer func() {
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.DefaultTimeout)
		defer cancel()
		if cerr := scroll.Clear(clearCtx); cerr != nil {
			e.logger.Warn("clearing scroll", zap.Error(cerr))
		}
	}()

	for {
		resp, err := e.page(ctx, scroll)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			e.logger.Warn("scan failed", zap.Int64("delivered", n), zap.Error(err))
			return n, err
		}

		for _, doc := range documents(resp.Hits) {
			if err := fn(doc); err != nil {
				return n, err
			}
			n++
		}
	}

	e.logger.Debug("scan", zap.Int64("delivered", n))
	return n, nil
}

func (e *Executor) page(ctx context.Context, scroll elastic.ScrollService) (*elastic.SearchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()

	resp, err := scroll.Do(ctx)
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, e.classify(ctx, opScan, err)
	}
	if resp == nil {
		return nil, malformed(opScan, e.cfg.Index, errEmptyResponse)
	}
	if resp.TimedOut {
		return nil, timedOut(opScan, e.cfg.Index)
	}
	return resp, nil
}

func (e *Executor) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return e.cfg.DefaultTimeout
	}
	return d
}
