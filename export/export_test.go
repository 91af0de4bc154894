package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/elasticsearch"
	"go.uber.org/zap/zaptest"

	"github.com/pteich/elastic-query-builder/flags"
	"github.com/pteich/elastic-query-builder/query"
)

func TestBuildSpec(t *testing.T) {
	conf := flags.Default()
	conf.Query = "level:error"
	conf.Terms = "user_id=42, action=updated"
	conf.StartDate = "2024-01-01"
	conf.EndDate = "now"
	conf.Timefield = "timestamp"
	conf.SortList = "timestamp:desc,user_id"
	conf.Limit = 50
	conf.Fields = []string{"user_id", "action"}
	conf.AggList = "actions_count=action,user_id"

	spec, err := BuildSpec(&conf)
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}

	window, _ := query.Range("timestamp", query.Bounds{GTE: "2024-01-01", LTE: "now"})
	lucene, _ := query.QueryString("level:error")
	user, _ := query.Term("user_id", "42")
	action, _ := query.Term("action", "updated")
	want, _ := query.And(window, lucene, user, action)
	if !query.Equivalent(spec.Filter(), want) {
		t.Errorf("filter = %v\nwant %v", spec.Filter().Source(), want.Source())
	}

	wantSort := []query.Sort{{Field: "timestamp", Descending: true}, {Field: "user_id"}}
	if got := spec.Sort(); !reflect.DeepEqual(got, wantSort) {
		t.Errorf("sort = %v", got)
	}
	if got := spec.Page(); got != (query.Page{Offset: 0, Limit: 50}) {
		t.Errorf("page = %v", got)
	}
	if got := spec.Projection(); !reflect.DeepEqual(got, []string{"action", "user_id"}) {
		t.Errorf("projection = %v", got)
	}
	aggs := spec.Aggregations()
	if len(aggs) != 2 || aggs[0].Name != "actions_count" || aggs[1].Name != "user_id" || aggs[1].Field != "user_id" {
		t.Errorf("aggregations = %v", aggs)
	}
}

func TestBuildSpecOpenWindow(t *testing.T) {
	conf := flags.Default()
	conf.Timefield = "@timestamp"
	conf.StartDate = "2024-01-01T00:00:00"

	spec, err := BuildSpec(&conf)
	if err != nil {
		t.Fatal(err)
	}
	c, ok := spec.Filter().(query.Clause)
	if !ok || c.Kind() != query.KindQueryString {
		t.Fatalf("filter = %#v", spec.Filter())
	}
	if want := `@timestamp:["2024-01-01T00:00:00" TO *]`; c.Text() != want {
		t.Errorf("query = %s, want %s", c.Text(), want)
	}
}

func TestBuildSpecQueryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.yaml")
	def := "filter:\n  term: {field: action, value: created}\npage: {limit: 5}\n"
	if err := os.WriteFile(path, []byte(def), 0o600); err != nil {
		t.Fatal(err)
	}

	conf := flags.Default()
	conf.QueryFile = path
	conf.Terms = "user_id=7"

	spec, err := BuildSpec(&conf)
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}
	created, _ := query.Term("action", "created")
	user, _ := query.Term("user_id", "7")
	want, _ := query.And(created, user)
	if !query.Equivalent(spec.Filter(), want) {
		t.Errorf("filter = %v", spec.Filter().Source())
	}
	if spec.Page().Limit != 5 {
		t.Errorf("limit = %d", spec.Page().Limit)
	}
}

func TestBuildSpecInvalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*flags.Flags)
		want   error
	}{
		{"bad term", func(f *flags.Flags) { f.Terms = "user_id" }, nil},
		{"duplicate sort", func(f *flags.Flags) { f.SortList = "a,a:desc" }, query.ErrInvalidSpec},
		{"limit over max", func(f *flags.Flags) { f.MaxPageSize = 100; f.Limit = 500 }, query.ErrInvalidSpec},
		{"raw query not an object", func(f *flags.Flags) { f.RAWQuery = "[1]" }, query.ErrInvalidClause},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := flags.Default()
			tt.modify(&conf)
			_, err := BuildSpec(&conf)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExportE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	tests := []struct {
		version int
		image   string
	}{
		{version: 7, image: "docker.elastic.co/elasticsearch/elasticsearch:7.17.10"},
		{version: 8, image: "docker.elastic.co/elasticsearch/elasticsearch:8.17.0"},
		{version: 9, image: "docker.elastic.co/elasticsearch/elasticsearch:9.2.3"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("Elasticsearch_v%d", tt.version), func(t *testing.T) {
			ctx := context.Background()

			esContainer, err := elasticsearch.Run(ctx, tt.image,
				testcontainers.CustomizeRequest(testcontainers.GenericContainerRequest{
					ContainerRequest: testcontainers.ContainerRequest{
						Env: map[string]string{
							"discovery.type":         "single-node",
							"xpack.security.enabled": "false",
						},
					},
				}),
			)
			if err != nil {
				t.Fatalf("failed to start container: %s", err)
			}
			defer func() {
				if err := esContainer.Terminate(ctx); err != nil {
					t.Fatalf("failed to terminate container: %s", err)
				}
			}()

			endpoint := esContainer.Settings.Address

			seedData(t, endpoint)

			dir := t.TempDir()

			t.Run("all", func(t *testing.T) {
				conf := flags.Default()
				conf.ElasticURL = endpoint
				conf.ElasticVersion = tt.version
				conf.Index = "test-index"
				conf.Query = "*"
				conf.Fieldlist = "id,message"
				conf.Outfile = filepath.Join(dir, fmt.Sprintf("all_v%d.csv", tt.version))
				conf.ScrollSize = 2
				conf.Timefield = "@timestamp"
				conf.All = true

				if err := Run(ctx, &conf, zaptest.NewLogger(t)); err != nil {
					t.Fatalf("Run: %v", err)
				}
				verifyOutput(t, conf.Outfile, 3)
			})

			t.Run("page", func(t *testing.T) {
				conf := flags.Default()
				conf.ElasticURL = endpoint
				conf.ElasticVersion = tt.version
				conf.Index = "test-index"
				conf.Fieldlist = "id,message"
				conf.Outfile = filepath.Join(dir, fmt.Sprintf("page_v%d.csv", tt.version))
				conf.Timefield = "@timestamp"
				conf.StartDate = "2023-01-01T00:00:02Z"
				conf.SortList = "@timestamp:desc"
				conf.Limit = 1

				if err := Run(ctx, &conf, zaptest.NewLogger(t)); err != nil {
					t.Fatalf("Run: %v", err)
				}
				verifyOutput(t, conf.Outfile, 1)

				data, _ := os.ReadFile(conf.Outfile)
				if !bytes.Contains(data, []byte("3,test message 3")) {
					t.Errorf("unexpected output %q", data)
				}
			})
		})
	}
}

func seedData(t *testing.T, endpoint string) {
	url := endpoint

	// Index some docs
	for i := 1; i <= 3; i++ {
		doc := fmt.Sprintf(`{"@timestamp": "2023-01-01T00:00:0%dZ", "message": "test message %d", "id": %d}`, i, i, i)
		indexDoc(t, url, "test-index", fmt.Sprintf("%d", i), doc)
	}

	// Refresh index
	refreshIndex(t, url, "test-index")
}

func indexDoc(t *testing.T, url, index, id, body string) {
	req, err := http.NewRequest("PUT", fmt.Sprintf("%s/%s/_doc/%s", url, index, id), bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("failed to create request: %s", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to index doc: %s", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		t.Fatalf("failed to index doc, status: %d", resp.StatusCode)
	}
}

func refreshIndex(t *testing.T, url, index string) {
	req, err := http.NewRequest("POST", fmt.Sprintf("%s/%s/_refresh", url, index), nil)
	if err != nil {
		t.Fatalf("failed to create refresh request: %s", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("failed to refresh index: %s", err)
	}
	defer resp.Body.Close()
}

func verifyOutput(t *testing.T, filename string, expectedLines int) {
	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("failed to read output file: %s", err)
	}

	lines := bytes.Count(data, []byte("\n"))
	// CSV header + expectedLines
	if lines != expectedLines+1 {
		t.Errorf("expected %d lines in output (including header), got %d", expectedLines+1, lines)
	}
}
