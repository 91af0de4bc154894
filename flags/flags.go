package flags

import (
	"strings"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatRAW  = "raw"
)

type Flags struct {
	ElasticURL       string `cli:"connect" cliAlt:"c" env:"ELASTIC_URL" usage:"ElasticSearch URL, multiple hosts as comma separated list"`
	ElasticUser      string `cli:"user" env:"ELASTIC_USER" usage:"ElasticSearch Username"`
	ElasticPass      string `cli:"pass" env:"ELASTIC_PASS" usage:"ElasticSearch Password"`
	ElasticVerifySSL bool   `cli:"verifySSL" usage:"Verify SSL certificate"`
	ElasticClientCrt string `cli:"clientcrt" usage:"Path to client certificate for TLS client authentication"`
	ElasticClientKey string `cli:"clientkey" usage:"Path to client key for TLS client authentication"`
	ElasticVersion   int    `cli:"esversion" env:"ELASTIC_VERSION" usage:"ElasticSearch major version [7|8|9]"`
	Trace            bool   `cli:"trace" usage:"Log every request and response sent to ElasticSearch"`
	Timeout          int    `cli:"timeout" usage:"Timeout in seconds for every ElasticSearch request"`
	MaxPageSize      int    `cli:"maxpagesize" usage:"Largest page size accepted for a single query"`
	Index            string `cli:"index" cliAlt:"i" usage:"ElasticSearch Index (or Index Prefix)"`
	RAWQuery         string `cli:"rawquery" cliAlt:"r" usage:"ElasticSearch raw query string"`
	Query            string `cli:"query" cliAlt:"q" usage:"Lucene query same that is used in Kibana search input"`
	QueryFile        string `cli:"queryfile" usage:"YAML or JSON file with a query definition"`
	Terms            string `cli:"terms" cliAlt:"t" usage:"Exact field matches as comma separated list of field=value"`
	OutFormat        string `cli:"outformat" cliAlt:"f" usage:"Format of the output data. [json|csv|raw]"`
	Outfile          string `cli:"outfile" cliAlt:"o" usage:"Path to output file, - for stdout"`
	StartDate        string `cli:"start" cliAlt:"s" usage:"Start date for included documents"`
	EndDate          string `cli:"end" cliAlt:"e" usage:"End date for included documents"`
	Timefield        string `cli:"timefield" usage:"Field name to use for start and end date query"`
	Fieldlist        string `cli:"fields" usage:"Fields to include in export as comma separated list"`
	SortList         string `cli:"sort" usage:"Sort fields as comma separated list of field[:desc]"`
	Offset           int    `cli:"offset" usage:"Number of documents to skip"`
	Limit            int    `cli:"limit" cliAlt:"l" usage:"Number of documents to return"`
	AggList          string `cli:"aggs" usage:"Terms aggregations as comma separated list of name=field"`
	All              bool   `cli:"all" cliAlt:"a" usage:"Export every matching document instead of a single page"`
	ScrollSize       int    `cli:"size" usage:"Number of documents fetched per scroll request with --all"`
	Workers          int    `cli:"workers" usage:"Number of CSV conversion workers"`
	Pushgateway      string `cli:"pushgateway" env:"PUSHGATEWAY_URL" usage:"Prometheus Pushgateway URL to push run metrics to"`
	LogEnv           string `cli:"logenv" env:"LOG_ENV" usage:"Log output [prod|dev]"`
	LogLevel         string `cli:"loglevel" env:"LOG_LEVEL" usage:"Log level [debug|info|warn|error]"`
	Fields           []string
}

// Default returns the configuration used when no flag is given.
func Default() Flags {
	return Flags{
		ElasticURL:       "http://localhost:9200",
		ElasticVerifySSL: false,
		ElasticVersion:   8,
		Timeout:          30,
		Index:            "logs-*",
		OutFormat:        FormatCSV,
		Outfile:          "output.csv",
		Timefield:        "Timestamp",
		ScrollSize:       1000,
		Workers:          8,
		LogEnv:           "dev",
		LogLevel:         "info",
	}
}

// Hosts returns the configured Elasticsearch URLs.
func (f *Flags) Hosts() []string {
	return List(f.ElasticURL)
}

// List splits a comma separated flag value and drops empty entries.
func List(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
