package search

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/pteich/elastic-query-builder/elastic"
	"github.com/pteich/elastic-query-builder/query"
)

// Document is a single matched document.
type Document struct {
	ID     string
	Index  string
	Score  *float64
	Source json.RawMessage
}

// Decode unmarshals the document source into v.
func (d Document) Decode(v any) error {
	if len(d.Source) == 0 {
		return fmt.Errorf("document %s has no source", d.ID)
	}
	return json.Unmarshal(d.Source, v)
}

// Fields returns the document source as a generic map.
func (d Document) Fields() (map[string]any, error) {
	var fields map[string]any
	if len(d.Source) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(d.Source))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// GetSource returns the raw document source.
func (d Document) GetSource() []byte {
	return d.Source
}

// Bucket is one group of a terms aggregation.
type Bucket struct {
	Key   string
	Count int64
}

// Result is the decoded answer to one query.
//
// Bucket counts are computed by the backend independently from the returned
// page and, for sharded indices, may be approximate. Their sum is not
// guaranteed to relate to TotalMatched.
type Result struct {
	Documents []Document
	// TotalMatched is the hit count reported by the backend, not the page length.
	TotalMatched int64
	// TotalRelation is "eq" for an exact count and "gte" for a lower bound.
	TotalRelation string
	Buckets       map[string][]Bucket
}

// Aggregation returns the buckets of the named aggregation.
func (r *Result) Aggregation(name string) []Bucket {
	return r.Buckets[name]
}

func documents(hits []elastic.SearchHit) []Document {
	docs := make([]Document, 0, len(hits))
	for _, hit := range hits {
		docs = append(docs, Document{
			ID:     hit.ID,
			Index:  hit.Index,
			Score:  hit.Score,
			Source: hit.Source,
		})
	}
	return docs
}

func newResult(resp *elastic.SearchResponse, aggs []query.Aggregation) (*Result, error) {
	result := &Result{
		Documents:     documents(resp.Hits),
		TotalMatched:  resp.Total,
		TotalRelation: resp.TotalRelation,
	}
	if result.TotalRelation == "" {
		result.TotalRelation = "eq"
	}
	if len(aggs) == 0 {
		return result, nil
	}

	result.Buckets = make(map[string][]Bucket, len(aggs))
	for _, a := range aggs {
		raw, ok := resp.Aggregations[a.Name]
		if !ok {
			return nil, fmt.Errorf("aggregation %q missing from response", a.Name)
		}
		buckets, err := decodeBuckets(raw)
		if err != nil {
			return nil, fmt.Errorf("aggregation %q: %w", a.Name, err)
		}
		result.Buckets[a.Name] = buckets
	}
	return result, nil
}

type wireAggregation struct {
	Buckets *[]wireBucket `json:"buckets"`
}

type wireBucket struct {
	Key         json.RawMessage `json:"key"`
	KeyAsString *string         `json:"key_as_string"`
	DocCount    *int64          `json:"doc_count"`
}

// decodeBuckets keeps the bucket order of the response.
func decodeBuckets(raw json.RawMessage) ([]Bucket, error) {
	var agg wireAggregation
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, err
	}
	if agg.Buckets == nil {
		return nil, errors.New("no buckets list")
	}

	buckets := make([]Bucket, 0, len(*agg.Buckets))
	for i, b := range *agg.Buckets {
		if b.DocCount == nil {
			return nil, fmt.Errorf("bucket %d has no doc_count", i)
		}
		key, err := bucketKey(b)
		if err != nil {
			return nil, fmt.Errorf("bucket %d: %w", i, err)
		}
		buckets = append(buckets, Bucket{Key: key, Count: *b.DocCount})
	}
	return buckets, nil
}

// bucketKey prefers key_as_string. Numeric keys keep their JSON text.
func bucketKey(b wireBucket) (string, error) {
	if b.KeyAsString != nil {
		return *b.KeyAsString, nil
	}
	if len(b.Key) == 0 || string(b.Key) == "null" {
		return "", errors.New("bucket has no key")
	}

	switch b.Key[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b.Key, &s); err != nil {
			return "", err
		}
		return s, nil
	case 't', 'f':
		v, err := strconv.ParseBool(string(b.Key))
		if err != nil {
			return "", fmt.Errorf("unsupported bucket key %s", b.Key)
		}
		return strconv.FormatBool(v), nil
	case '{', '[':
		return "", fmt.Errorf("unsupported bucket key %s", b.Key)
	default:
		var n json.Number
		if err := json.Unmarshal(b.Key, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}
