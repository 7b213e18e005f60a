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

package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reachinbox/mailsync/internal/models"
)

func rerankServer(t *testing.T, status int, response string, gotReq *rerankRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rerank" {
			t.Errorf("path = %s, want /v1/rerank", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if gotReq != nil {
			if err := json.NewDecoder(r.Body).Decode(gotReq); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server
}

// TestCohere_IndexZeroIsInterested verifies the first label document maps
// to Interested and the request carries the label prompts.
func TestCohere_IndexZeroIsInterested(t *testing.T) {
	var req rerankRequest
	server := rerankServer(t, http.StatusOK, `{"results":[{"index":0,"relevance_score":0.93}]}`, &req)

	c := NewCohere(CohereConfig{APIKey: "test-key", BaseURL: server.URL})
	got, err := c.Classify(context.Background(), "Let's talk", strings.Repeat("b", 5000))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got != models.CategoryInterested {
		t.Errorf("category = %q, want Interested", got)
	}

	if req.Model != "rerank-english-v3.0" || req.TopN != 1 {
		t.Errorf("request = %+v", req)
	}
	if len(req.Documents) != 5 || req.Documents[0] != "This email should be labeled as: Interested" {
		t.Errorf("documents = %v", req.Documents)
	}
	if want := "Let's talk\n\n" + strings.Repeat("b", 1000); req.Query != want {
		t.Errorf("query length = %d, want %d", len(req.Query), len(want))
	}
}

func TestCohere_Labels(t *testing.T) {
	tests := []struct {
		response string
		want     models.Category
	}{
		{`{"results":[{"index":1,"relevance_score":0.5}]}`, models.CategoryNotInterested},
		{`{"results":[{"index":2,"relevance_score":0.5}]}`, models.CategoryFollowUp},
		{`{"results":[{"index":3,"relevance_score":0.5}]}`, models.CategoryOutOfOffice},
		{`{"results":[{"index":4,"relevance_score":0.5}]}`, models.CategorySpam},
		{`{"results":[]}`, models.CategoryNotInterested},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			server := rerankServer(t, http.StatusOK, tt.response, nil)
			c := NewCohere(CohereConfig{APIKey: "test-key", BaseURL: server.URL})
			got, err := c.Classify(context.Background(), "s", "b")
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got != tt.want {
				t.Errorf("category = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCohere_Errors(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		server := rerankServer(t, http.StatusTooManyRequests, `{"message":"slow down"}`, nil)
		c := NewCohere(CohereConfig{APIKey: "test-key", BaseURL: server.URL})
		if _, err := c.Classify(context.Background(), "s", "b"); err == nil {
			t.Fatal("expected error for HTTP 429")
		}
	})

	t.Run("bad index", func(t *testing.T) {
		server := rerankServer(t, http.StatusOK, `{"results":[{"index":9}]}`, nil)
		c := NewCohere(CohereConfig{APIKey: "test-key", BaseURL: server.URL})
		if _, err := c.Classify(context.Background(), "s", "b"); err == nil {
			t.Fatal("expected error for out-of-range index")
		}
	})

	t.Run("no key", func(t *testing.T) {
		c := NewCohere(CohereConfig{})
		if _, err := c.Classify(context.Background(), "s", "b"); !errors.Is(err, ErrNotConfigured) {
			t.Fatalf("err = %v, want ErrNotConfigured", err)
		}
	})
}
