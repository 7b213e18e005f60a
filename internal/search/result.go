// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package search

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/reachinbox/mailsync/internal/models"
)

// Total is the engine's hit count.
type Total struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

// Hit is one stored document as returned to API clients: the id, the
// optional score and highlights, and the flattened document fields.
type Hit struct {
	ID    string   `json:"id"`
	Score *float64 `json:"score,omitempty"`
	models.EmailDocument
	Highlights map[string][]string `json:"highlights,omitempty"`
}

// Result is a decoded search response.
type Result struct {
	Total        Total
	Hits         []Hit
	Aggregations map[string]json.RawMessage
}

type rawHit struct {
	ID        string              `json:"_id"`
	Score     *float64            `json:"_score"`
	Source    json.RawMessage     `json:"_source"`
	Highlight map[string][]string `json:"highlight"`
}

func (r rawHit) toHit() (Hit, error) {
	hit := Hit{ID: r.ID, Score: r.Score, Highlights: r.Highlight}
	if len(r.Source) > 0 {
		if err := json.Unmarshal(r.Source, &hit.EmailDocument); err != nil {
			return Hit{}, fmt.Errorf("decode _source of %s: %w", r.ID, err)
		}
	}
	return hit, nil
}

type rawResult struct {
	Hits struct {
		Total Total    `json:"total"`
		Hits  []rawHit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

func decodeResult(r io.Reader) (*Result, error) {
	var raw rawResult
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := &Result{
		Total:        raw.Hits.Total,
		Hits:         make([]Hit, 0, len(raw.Hits.Hits)),
		Aggregations: raw.Aggregations,
	}
	for _, rh := range raw.Hits.Hits {
		hit, err := rh.toHit()
		if err != nil {
			return nil, err
		}
		out.Hits = append(out.Hits, hit)
	}
	return out, nil
}

// LatestEmail is the top_hits summary attached to a stats bucket.
type LatestEmail struct {
	Date    string `json:"date"`
	Subject string `json:"subject"`
}

// Bucket is one terms-aggregation bucket with its latest email.
type Bucket struct {
	Key         string
	Count       int64
	LatestEmail *LatestEmail
}

// Buckets decodes the terms aggregation name from res. A missing
// aggregation yields an empty slice.
func (res *Result) Buckets(name string) ([]Bucket, error) {
	raw, ok := res.Aggregations[name]
	if !ok {
		return []Bucket{}, nil
	}

	var agg struct {
		Buckets []struct {
			Key         string `json:"key"`
			DocCount    int64  `json:"doc_count"`
			LatestEmail struct {
				Hits struct {
					Hits []struct {
						Source *LatestEmail `json:"_source"`
					} `json:"hits"`
				} `json:"hits"`
			} `json:"latest_email"`
		} `json:"buckets"`
	}
	if err := json.Unmarshal(raw, &agg); err != nil {
		return nil, fmt.Errorf("decode aggregation %s: %w", name, err)
	}

	out := make([]Bucket, 0, len(agg.Buckets))
	for _, b := range agg.Buckets {
		bucket := Bucket{Key: b.Key, Count: b.DocCount}
		if hits := b.LatestEmail.Hits.Hits; len(hits) > 0 {
			bucket.LatestEmail = hits[0].Source
		}
		out = append(out, bucket)
	}
	return out, nil
}
