package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-query-builder/flags"
	"github.com/pteich/elastic-query-builder/formats"
	"github.com/pteich/elastic-query-builder/query"
	"github.com/pteich/elastic-query-builder/search"
)

const pushJob = "elastic_query_builder"

type Formatter interface {
	Run(context.Context, <-chan search.Document) error
}

// Run executes one CLI invocation described by conf.
func Run(ctx context.Context, conf *flags.Flags, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	if conf.Fieldlist != "" {
		conf.Fields = flags.List(conf.Fieldlist)
	}

	spec, err := BuildSpec(conf)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := search.NewMetrics(reg)
	if conf.Pushgateway != "" {
		defer pushMetrics(conf.Pushgateway, reg, logger)
	}

	exec, err := search.Connect(Config(conf), logger, search.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("connecting to ElasticSearch: %w", err)
	}
	defer exec.Close()

	var outfile io.Writer
	if conf.Outfile == "-" {
		outfile = os.Stdout
	} else {
		f, err := os.Create(conf.Outfile)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		outfile = f
	}

	if conf.All {
		return exportAll(ctx, conf, exec, spec, outfile, logger)
	}
	return exportPage(ctx, conf, exec, spec, outfile, logger)
}

// Config maps the command line flags onto the executor configuration.
func Config(conf *flags.Flags) search.Config {
	return search.Config{
		Version:        conf.ElasticVersion,
		Hosts:          conf.Hosts(),
		Username:       conf.ElasticUser,
		Password:       conf.ElasticPass,
		VerifySSL:      conf.ElasticVerifySSL,
		ClientCert:     conf.ElasticClientCrt,
		ClientKey:      conf.ElasticClientKey,
		Index:          conf.Index,
		DefaultTimeout: time.Duration(conf.Timeout) * time.Second,
		MaxPageSize:    conf.MaxPageSize,
		Trace:          conf.Trace,
	}
}

func exportPage(ctx context.Context, conf *flags.Flags, exec *search.Executor, spec query.Spec, out io.Writer, logger *zap.Logger) error {
	res, err := exec.Execute(ctx, spec)
	if err != nil {
		return err
	}
	logger.Info("query executed",
		zap.Int64("total", res.TotalMatched),
		zap.String("relation", res.TotalRelation),
		zap.Int("returned", len(res.Documents)),
	)

	docs := make(chan search.Document, len(res.Documents))
	for _, doc := range res.Documents {
		docs <- doc
	}
	close(docs)

	if err := formatter(conf, out, nil, logger).Run(ctx, docs); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	writeBuckets(os.Stderr, spec, res)
	return nil
}

func exportAll(ctx context.Context, conf *flags.Flags, exec *search.Executor, spec query.Spec, out io.Writer, logger *zap.Logger) error {
	total, err := exec.Count(ctx, spec)
	if err != nil {
		return fmt.Errorf("counting ElasticSearch documents: %w", err)
	}
	bar := pb.New(int(total))
	bar.SetWriter(os.Stderr)
	bar.Start()
	defer bar.Finish()

	g, ctx := errgroup.WithContext(ctx)
	docs := make(chan search.Document)

	g.Go(func() error {
		defer close(docs)
		n, err := exec.Scan(ctx, spec, conf.ScrollSize, func(doc search.Document) error {
			select {
			case docs <- doc:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		logger.Debug("scan finished", zap.Int64("documents", n), zap.Int64("counted", total))
		return err
	})

	g.Go(func() error {
		return formatter(conf, out, bar, logger).Run(ctx, docs)
	})

	return g.Wait()
}

func formatter(conf *flags.Flags, out io.Writer, bar *pb.ProgressBar, logger *zap.Logger) Formatter {
	switch conf.OutFormat {
	case flags.FormatJSON:
		return formats.JSON{
			Outfile:     out,
			ProgressBar: bar,
		}
	case flags.FormatRAW:
		return formats.Raw{
			Outfile:     out,
			ProgressBar: bar,
			Logger:      logger,
		}
	default:
		return formats.CSV{
			Fields:      conf.Fields,
			Outfile:     out,
			Workers:     conf.Workers,
			ProgressBar: bar,
			Logger:      logger,
		}
	}
}

func writeBuckets(w io.Writer, spec query.Spec, res *search.Result) {
	for _, agg := range spec.Aggregations() {
		for _, b := range res.Aggregation(agg.Name) {
			fmt.Fprintf(w, "%s\t%s\t%d\n", agg.Name, b.Key, b.Count)
		}
	}
}

func pushMetrics(url string, reg *prometheus.Registry, logger *zap.Logger) {
	if err := push.New(url, pushJob).Gatherer(reg).Push(); err != nil {
		logger.Warn("pushing metrics", zap.String("url", url), zap.Error(err))
	}
}

// BuildSpec builds the query spec described by the command line flags. A
// query file provides the base spec; flag filters are ANDed to its filter.
func BuildSpec(conf *flags.Flags) (query.Spec, error) {
	spec := query.New(conf.MaxPageSize)
	if conf.QueryFile != "" {
		def, err := query.LoadDefinition(conf.QueryFile)
		if err != nil {
			return query.Spec{}, err
		}
		if spec, err = def.Build(conf.MaxPageSize); err != nil {
			return query.Spec{}, fmt.Errorf("query file %s: %w", conf.QueryFile, err)
		}
	}

	filters, err := flagFilters(conf)
	if err != nil {
		return query.Spec{}, err
	}
	if base := spec.Filter(); base != nil {
		filters = append([]query.Filter{base}, filters...)
	}
	switch len(filters) {
	case 0:
	case 1:
		if spec, err = spec.WithFilter(filters[0]); err != nil {
			return query.Spec{}, err
		}
	default:
		group, err := query.And(filters...)
		if err != nil {
			return query.Spec{}, err
		}
		if spec, err = spec.WithFilter(group); err != nil {
			return query.Spec{}, err
		}
	}

	for _, item := range flags.List(conf.SortList) {
		field, descending := parseSort(item)
		if spec, err = spec.WithSort(field, descending); err != nil {
			return query.Spec{}, err
		}
	}

	if conf.Offset != 0 || conf.Limit != 0 {
		limit := conf.Limit
		if limit == 0 {
			limit = spec.Page().Limit
		}
		if spec, err = spec.WithPage(conf.Offset, limit); err != nil {
			return query.Spec{}, err
		}
	}

	if len(conf.Fields) > 0 {
		if spec, err = spec.WithProjection(conf.Fields...); err != nil {
			return query.Spec{}, err
		}
	}

	for _, item := range flags.List(conf.AggList) {
		name, field, ok := strings.Cut(item, "=")
		if !ok {
			field = name
		}
		if spec, err = spec.WithAggregation(query.NewTermsAggregation(strings.TrimSpace(name), strings.TrimSpace(field))); err != nil {
			return query.Spec{}, err
		}
	}
	return spec, nil
}

func flagFilters(conf *flags.Flags) ([]query.Filter, error) {
	var filters []query.Filter

	window, err := dateWindow(conf.Timefield, conf.StartDate, conf.EndDate)
	if err != nil {
		return nil, err
	}
	if window != nil {
		filters = append(filters, window)
	}

	switch {
	case conf.RAWQuery != "":
		raw, err := query.Raw(conf.RAWQuery)
		if err != nil {
			return nil, err
		}
		filters = append(filters, raw)
	case conf.Query != "" && conf.Query != "*":
		qs, err := query.QueryString(conf.Query)
		if err != nil {
			return nil, err
		}
		filters = append(filters, qs)
	}

	for _, item := range flags.List(conf.Terms) {
		field, value, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("term %q: expected field=value", item)
		}
		term, err := query.Term(strings.TrimSpace(field), strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		filters = append(filters, term)
	}
	return filters, nil
}

// dateWindow returns a range clause when both dates are given. A range
// clause needs both bounds, so an open window becomes a query string.
func dateWindow(field, start, end string) (query.Filter, error) {
	switch {
	case start != "" && end != "":
		return query.Range(field, query.Bounds{GTE: start, LTE: end})
	case start != "":
		return query.QueryString(fmt.Sprintf(`%s:[%s TO *]`, field, quote(start)))
	case end != "":
		return query.QueryString(fmt.Sprintf(`%s:[* TO %s]`, field, quote(end)))
	default:
		return nil, nil
	}
}

func quote(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
}

func parseSort(item string) (string, bool) {
	field, order, _ := strings.Cut(item, ":")
	return strings.TrimSpace(field), strings.EqualFold(strings.TrimSpace(order), "desc")
}
