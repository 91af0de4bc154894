package formats

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-query-builder/search"
)

// JSON writes the source of every document on its own line.
type JSON struct {
	Outfile     io.Writer
	ProgressBar *pb.ProgressBar
}

func (j JSON) Run(ctx context.Context, docs <-chan search.Document) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case doc, ok := <-docs:
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintln(j.Outfile, string(doc.Source)); err != nil {
				return err
			}
			increment(j.ProgressBar)
		}
	}
}
