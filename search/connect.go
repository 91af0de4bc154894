package search

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"go.uber.org/zap"

	"github.com/pteich/elastic-query-builder/elastic"
	elasticv7 "github.com/pteich/elastic-query-builder/elastic/v7"
	elasticv8 "github.com/pteich/elastic-query-builder/elastic/v8"
	elasticv9 "github.com/pteich/elastic-query-builder/elastic/v9"
)

// Connect creates the versioned client described by cfg and returns an
// Executor using it.
func Connect(cfg Config, logger *zap.Logger, opts ...Option) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	client, err := NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("connected to elasticsearch",
		zap.Int("version", cfg.Version),
		zap.Strings("hosts", cfg.Hosts),
	)
	return NewExecutor(client, cfg, append([]Option{WithLogger(logger)}, opts...)...), nil
}

// NewClient creates the Elasticsearch client matching cfg.Version.
func NewClient(cfg Config, logger *zap.Logger) (elastic.Client, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New("no elasticsearch hosts configured")
	}

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Version {
	case 7:
		client, err := elasticv7.NewClient(elasticv7.Options{
			URLs:       cfg.Hosts,
			Username:   cfg.Username,
			Password:   cfg.Password,
			HTTPClient: httpClient,
			Logger:     logger,
			Trace:      cfg.Trace,
		})
		if err != nil {
			return nil, &Error{Op: "connect", Err: ErrBackendUnreachable, Cause: err}
		}
		return client, nil

	case 8:
		client, err := elasticv8.NewClient(elasticv8.NewConfig(cfg.Hosts, cfg.Username, cfg.Password, httpClient, traceLogger(cfg, logger)))
		if err != nil {
			return nil, err
		}
		return client, nil

	case 9:
		client, err := elasticv9.NewClient(elasticv9.NewConfig(cfg.Hosts, cfg.Username, cfg.Password, httpClient, traceLogger(cfg, logger)))
		if err != nil {
			return nil, err
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unsupported elasticsearch version %d", cfg.Version)
	}
}

func newHTTPClient(cfg Config) (*http.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: !cfg.VerifySSL,
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tlsCfg
	return &http.Client{Transport: tr}, nil
}

func traceLogger(cfg Config, logger *zap.Logger) elastictransport.Logger {
	if !cfg.Trace {
		return nil
	}
	return &elastictransport.TextLogger{
		Output:             zap.NewStdLog(logger.Named("elastic.trace")).Writer(),
		EnableRequestBody:  true,
		EnableResponseBody: true,
	}
}
