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

// Package search stores EmailDocuments in Elasticsearch and runs the query
// API's searches against the same index.
package search

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/models"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Mapping is the index definition created on first start.
var Mapping = map[string]interface{}{
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"subject":   map[string]interface{}{"type": "text"},
			"from":      textWithKeyword(),
			"to":        textWithKeyword(),
			"date":      map[string]interface{}{"type": "date"},
			"body":      map[string]interface{}{"type": "text"},
			"account":   textWithKeyword(),
			"category":  map[string]interface{}{"type": "keyword"},
			"messageId": map[string]interface{}{"type": "keyword"},
			"indexedAt": map[string]interface{}{"type": "date"},
		},
	},
}

func textWithKeyword() map[string]interface{} {
	return map[string]interface{}{
		"type": "text",
		"fields": map[string]interface{}{
			"keyword": map[string]interface{}{"type": "keyword"},
		},
	}
}

// NewClient builds an Elasticsearch client from cfg.
func NewClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return es, nil
}

// Store reads and writes one index.
type Store struct {
	es    *elasticsearch.Client
	index string
}

// NewStore creates a store over index.
func NewStore(es *elasticsearch.Client, index string) *Store {
	if index == "" {
		index = "emails"
	}
	return &Store{es: es, index: index}
}

// IndexName returns the index this store targets.
func (s *Store) IndexName() string { return s.index }

// Ping checks that the cluster answers.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: %s", res.Status())
	}
	return nil
}

// EnsureIndex creates the index with Mapping unless it already exists.
func (s *Store) EnsureIndex(ctx context.Context) error {
	res, err := s.es.Indices.Exists([]string{s.index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", s.index, err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		slog.Info("search index exists", "index", s.index)
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index %s: HTTP %d", s.index, res.StatusCode)
	}

	body, err := json.Marshal(Mapping)
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	res, err = s.es.Indices.Create(s.index,
		s.es.Indices.Create.WithBody(bytes.NewReader(body)),
		s.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", s.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		// Another process may have created it between the two calls.
		if strings.Contains(readBody(res), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s: %s", s.index, res.Status())
	}

	slog.Info("search index created", "index", s.index)
	return nil
}

// Index writes doc. An empty id lets the engine assign one; a non-empty id
// overwrites any existing document with that id. It returns the stored id.
func (s *Store) Index(ctx context.Context, doc models.EmailDocument, id string) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	opts := []func(*esapi.IndexRequest){s.es.Index.WithContext(ctx)}
	if id != "" {
		opts = append(opts, s.es.Index.WithDocumentID(id))
	}

	res, err := s.es.Index(s.index, bytes.NewReader(body), opts...)
	if err != nil {
		return "", fmt.Errorf("index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return "", fmt.Errorf("index document: %s: %s", res.Status(), readBody(res))
	}

	var out struct {
		ID string `json:"_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode index response: %w", err)
	}
	return out.ID, nil
}

// Get returns the document with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Hit, error) {
	res, err := s.es.Get(s.index, id, s.es.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		return nil, fmt.Errorf("get document: %s: %s", res.Status(), readBody(res))
	}

	var raw rawHit
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode get response: %w", err)
	}
	hit, err := raw.toHit()
	if err != nil {
		return nil, err
	}
	return &hit, nil
}

// Search runs body against the index.
func (s *Store) Search(ctx context.Context, body map[string]interface{}) (*Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search: %s: %s", res.Status(), readBody(res))
	}

	return decodeResult(res.Body)
}

func readBody(res *esapi.Response) string {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return strings.TrimSpace(string(b))
}
