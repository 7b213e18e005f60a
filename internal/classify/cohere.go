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

// Package classify assigns a Category to an email using the Cohere rerank
// endpoint: the five label prompts are ranked against the email text and the
// best match wins.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reachinbox/mailsync/internal/models"
	"github.com/reachinbox/mailsync/internal/normalize"
)

// queryBodyLimit is how many body characters are sent with the subject.
const queryBodyLimit = 1000

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("classifier api key not configured")

// Classifier labels an email.
type Classifier interface {
	Classify(ctx context.Context, subject, body string) (models.Category, error)
}

// Cohere classifies with the rerank API.
type Cohere struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// CohereConfig holds the rerank client settings.
type CohereConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client // optional; built from Timeout when nil
}

// NewCohere creates a rerank classifier.
func NewCohere(cfg CohereConfig) *Cohere {
	c := &Cohere{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
	}
	if c.model == "" {
		c.model = "rerank-english-v3.0"
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.cohere.com"
	}
	if c.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	return c
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Documents returns the label prompts in Category order.
func Documents() []string {
	docs := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		docs[i] = "This email should be labeled as: " + string(c)
	}
	return docs
}

// Query builds the rerank query from subject and the head of body.
func Query(subject, body string) string {
	return subject + "\n\n" + normalize.Truncate(body, queryBodyLimit)
}

// Classify implements Classifier. An empty result set yields the default
// category; transport and API failures are returned as errors.
func (c *Cohere) Classify(ctx context.Context, subject, body string) (models.Category, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}

	payload, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     Query(subject, body),
		Documents: Documents(),
		TopN:      1,
	})
	if err != nil {
		return "", fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("rerank returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode rerank response: %w", err)
	}

	if len(out.Results) == 0 {
		return models.DefaultCategory, nil
	}

	best := out.Results[0]
	if best.Index < 0 || best.Index >= len(models.Categories) {
		return "", fmt.Errorf("rerank returned out-of-range index %d", best.Index)
	}

	category := models.Categories[best.Index]
	slog.Debug("email classified",
		"subject", subject,
		"category", category,
		"score", best.RelevanceScore,
	)
	return category, nil
}
