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

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/models"
)

func testDoc() models.EmailDocument {
	return models.EmailDocument{
		EmailRecord: models.EmailRecord{
			Subject: "Let's schedule a call",
			From:    "bob@example.com",
			To:      "alice@example.com",
			Date:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			Body:    "raw",
			Account: "alice",
		},
		Category:  models.CategoryInterested,
		IndexedAt: time.Date(2026, 3, 2, 10, 0, 1, 0, time.UTC),
	}
}

func TestSlackBot_PostsMessage(t *testing.T) {
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer server.Close()

	sink := NewSlackBot(SlackBotConfig{Token: "xoxb-test", Channel: "C123", APIURL: server.URL + "/"})
	if err := sink.Notify(context.Background(), testDoc()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if form.Get("channel") != "C123" {
		t.Errorf("channel = %q", form.Get("channel"))
	}
	text := form.Get("text")
	for _, want := range []string{"bob@example.com", "Let's schedule a call", "Account: alice"} {
		if !strings.Contains(text, want) {
			t.Errorf("text %q missing %q", text, want)
		}
	}
}

func TestSlackBot_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer server.Close()

	sink := NewSlackBot(SlackBotConfig{Token: "xoxb-test", Channel: "C404", APIURL: server.URL + "/"})
	if err := sink.Notify(context.Background(), testDoc()); err == nil {
		t.Fatal("expected error for channel_not_found")
	}
}

func TestSlackWebhook_PostsText(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	sink := NewSlackWebhook(server.URL, server.Client())
	if err := sink.Notify(context.Background(), testDoc()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	text, _ := got["text"].(string)
	if !strings.Contains(text, "From: bob@example.com") || !strings.Contains(text, "Subject: Let's schedule a call") {
		t.Errorf("text = %q", text)
	}
}

func TestWebhook_PostsDocument(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewWebhook(server.URL, server.Client())
	if err := sink.Notify(context.Background(), testDoc()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if doc["category"] != "Interested" || doc["account"] != "alice" || doc["indexedAt"] == nil {
		t.Errorf("document = %v", doc)
	}
}

func TestWebhook_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	if err := NewWebhook(server.URL, server.Client()).Notify(context.Background(), testDoc()); err == nil {
		t.Fatal("expected error for HTTP 502")
	}
}

// --- Mock Redis list ---

type mockLister struct {
	mu     sync.Mutex
	pushed map[string][]string
	err    error
}

func (m *mockLister) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
		return cmd
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pushed == nil {
		m.pushed = make(map[string][]string)
	}
	for _, v := range values {
		m.pushed[key] = append(m.pushed[key], v.(string))
	}
	cmd.SetVal(int64(len(m.pushed[key])))
	return cmd
}

func TestRedisQueue_PushesEvent(t *testing.T) {
	rdb := &mockLister{}
	sink := NewRedisQueue(rdb, "interested")

	if err := sink.Notify(context.Background(), testDoc()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	msgs := rdb.pushed["interested"]
	if len(msgs) != 1 {
		t.Fatalf("pushed %d messages, want 1", len(msgs))
	}
	var event Event
	if err := json.Unmarshal([]byte(msgs[0]), &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.ID == "" || event.Type != EventTypeInterested {
		t.Errorf("event = %+v", event)
	}
	if event.Email.Subject != "Let's schedule a call" {
		t.Errorf("email subject = %q", event.Email.Subject)
	}
}

func TestRedisQueue_Error(t *testing.T) {
	sink := NewRedisQueue(&mockLister{err: errors.New("connection refused")}, "interested")
	if err := sink.Notify(context.Background(), testDoc()); err == nil {
		t.Fatal("expected LPUSH error")
	}
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.NotifyConfig
		want []string
	}{
		{name: "none", cfg: config.NotifyConfig{}, want: nil},
		{
			name: "bot needs channel",
			cfg:  config.NotifyConfig{SlackToken: "xoxb"},
			want: nil,
		},
		{
			name: "all http sinks",
			cfg: config.NotifyConfig{
				SlackToken:      "xoxb",
				SlackChannel:    "C1",
				SlackWebhookURL: "https://hooks.slack.test/x",
				WebhookURL:      "https://automation.test/hook",
			},
			want: []string{"slack_bot", "slack_webhook", "webhook"},
		},
		{
			name: "queue without client",
			cfg:  config.NotifyConfig{RedisQueue: "interested"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sinks := FromConfig(tt.cfg, nil, nil)
			var names []string
			for _, s := range sinks {
				names = append(names, s.Name())
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Errorf("sinks = %v, want %v", names, tt.want)
			}
		})
	}
}
