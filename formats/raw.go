package formats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gopkg.in/cheggaaa/pb.v2"

	"github.com/pteich/elastic-query-builder/search"
)

// Raw writes every document as a search hit with its metadata.
type Raw struct {
	Outfile     io.Writer
	ProgressBar *pb.ProgressBar
	Logger      *zap.Logger
}

type rawHit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  *float64        `json:"_score"`
	Source json.RawMessage `json:"_source,omitempty"`
}

func (r Raw) Run(ctx context.Context, docs <-chan search.Document) error {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case doc, ok := <-docs:
			if !ok {
				return nil
			}
			data, err := json.Marshal(rawHit{Index: doc.Index, ID: doc.ID, Score: doc.Score, Source: doc.Source})
			if err != nil {
				logger.Warn("skipping document", zap.String("id", doc.ID), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintln(r.Outfile, string(data)); err != nil {
				return err
			}
			increment(r.ProgressBar)
		}
	}
}
