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

// Package notify delivers "Interested" emails to the configured outbound
// channels: Slack (bot token or incoming webhook), a generic JSON webhook
// and a Redis list.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/models"
)

// Sink is one outbound notification channel.
type Sink interface {
	Name() string
	Notify(ctx context.Context, doc models.EmailDocument) error
}

// FromConfig builds every sink enabled in cfg. rdb may be nil when no
// Redis queue is configured.
func FromConfig(cfg config.NotifyConfig, rdb *redis.Client, httpClient *http.Client) []Sink {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	var sinks []Sink
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		sinks = append(sinks, NewSlackBot(SlackBotConfig{
			Token:      cfg.SlackToken,
			Channel:    cfg.SlackChannel,
			HTTPClient: httpClient,
		}))
	}
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, NewSlackWebhook(cfg.SlackWebhookURL, httpClient))
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, NewWebhook(cfg.WebhookURL, httpClient))
	}
	if cfg.RedisQueue != "" && rdb != nil {
		sinks = append(sinks, NewRedisQueue(rdb, cfg.RedisQueue))
	}

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	slog.Info("notification sinks configured", "sinks", names)

	return sinks
}
