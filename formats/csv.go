package formats

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-query-builder/search"
)

var lineBreaks = regexp.MustCompile(`\x{000D}\x{000A}|[\x{000A}\x{000B}\x{000C}\x{000D}\x{0085}\x{2028}\x{2029}]`)

// CSV writes one row per document. Fields selects the columns, nested
// fields are addressed with dots. Without Fields every leaf value is
// written in key order and no header is written. Rows keep the order of
// the incoming documents regardless of Workers.
type CSV struct {
	Fields      []string
	Outfile     io.Writer
	Workers     int
	ProgressBar *pb.ProgressBar
	Logger      *zap.Logger
}

type csvJob struct {
	seq int
	doc search.Document
}

// csvRow is a converted document. A nil cells slice marks a skipped
// document so the sequence keeps advancing.
type csvRow struct {
	seq   int
	cells []string
}

func (c CSV) Run(ctx context.Context, docs <-chan search.Document) error {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := c.Workers
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan csvJob, workers)
	csvout := make(chan csvRow, workers)

	written := make(chan error, 1)
	go func() {
		written <- c.write(csvout)
	}()

	g.Go(func() error {
		defer close(jobs)
		seq := 0
		for doc := range docs {
			select {
			case jobs <- csvJob{seq: seq, doc: doc}:
				seq++
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for job := range jobs {
				row := csvRow{seq: job.seq}
				document, err := decode(job.doc.Source)
				if err != nil {
					logger.Warn("skipping undecodable document", zap.String("id", job.doc.ID), zap.Error(err))
				} else {
					row.cells = c.row(flatten(document))
				}

				select {
				case csvout <- row:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	err := g.Wait()
	close(csvout)
	if werr := <-written; err == nil {
		err = werr
	}
	return err
}

// write emits rows in document order. Rows finished early by a worker wait
// in pending until every earlier row has been written.
func (c CSV) write(rows <-chan csvRow) error {
	w := csv.NewWriter(c.Outfile)

	var err error
	if len(c.Fields) > 0 {
		if err = w.Write(c.Fields); err != nil {
			err = fmt.Errorf("writing CSV header: %w", err)
		}
	}

	pending := make(map[int][]string)
	next := 0
	// drain even after a write error so workers never block
	for row := range rows {
		if err != nil {
			continue
		}
		pending[row.seq] = row.cells
		for {
			cells, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if cells == nil {
				continue
			}
			if err = w.Write(cells); err != nil {
				err = fmt.Errorf("writing CSV row: %w", err)
				break
			}
			increment(c.ProgressBar)
		}
		w.Flush()
	}
	w.Flush()
	if err == nil {
		err = w.Error()
	}
	return err
}

func (c CSV) row(document map[string]interface{}) []string {
	if len(c.Fields) > 0 {
		row := make([]string, 0, len(c.Fields))
		for _, field := range c.Fields {
			row = append(row, format(document[field]))
		}
		return row
	}

	keys := make([]string, 0, len(document))
	for key, val := range document {
		if _, nested := val.(map[string]interface{}); nested {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	row := make([]string, 0, len(keys))
	for _, key := range keys {
		row = append(row, format(document[key]))
	}
	return row
}

func decode(source []byte) (map[string]interface{}, error) {
	document := map[string]interface{}{}
	if len(source) == 0 {
		return document, nil
	}
	dec := json.NewDecoder(bytes.NewReader(source))
	dec.UseNumber()
	if err := dec.Decode(&document); err != nil {
		return nil, err
	}
	return document, nil
}

// flatten adds a dotted key for every value of a nested object. The nested
// objects themselves are kept.
func flatten(document map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(document))
	flattenInto(out, "", document)
	return out
}

func flattenInto(out map[string]interface{}, prefix string, document map[string]interface{}) {
	for key, val := range document {
		if prefix != "" {
			key = prefix + "." + key
		}
		out[key] = val
		if nested, ok := val.(map[string]interface{}); ok {
			flattenInto(out, key, nested)
		}
	}
}

func format(val interface{}) string {
	switch val := val.(type) {
	case nil:
		return ""
	case string:
		return removeLBR(val)
	case json.Number:
		return val.String()
	case float64:
		d := int(val)
		if val == float64(d) {
			return fmt.Sprintf("%d", d)
		}
		return fmt.Sprintf("%f", val)
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(val)
		if err != nil {
			return removeLBR(fmt.Sprintf("%v", val))
		}
		return string(data)
	default:
		return removeLBR(fmt.Sprintf("%v", val))
	}
}

func removeLBR(text string) string {
	return lineBreaks.ReplaceAllString(text, ``)
}

func increment(bar *pb.ProgressBar) {
	if bar != nil {
		bar.Increment()
	}
}
