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
	"fmt"
	"net/http"

	"github.com/slack-go/slack"

	"github.com/reachinbox/mailsync/internal/models"
)

// SlackBot posts to a channel with chat.postMessage.
type SlackBot struct {
	client  *slack.Client
	channel string
}

// SlackBotConfig holds the bot token sink settings.
type SlackBotConfig struct {
	Token      string
	Channel    string
	APIURL     string // optional; overrides https://slack.com/api/
	HTTPClient *http.Client
}

// NewSlackBot creates a Slack bot sink.
func NewSlackBot(cfg SlackBotConfig) *SlackBot {
	var opts []slack.Option
	if cfg.APIURL != "" {
		opts = append(opts, slack.OptionAPIURL(cfg.APIURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, slack.OptionHTTPClient(cfg.HTTPClient))
	}
	return &SlackBot{
		client:  slack.New(cfg.Token, opts...),
		channel: cfg.Channel,
	}
}

func (s *SlackBot) Name() string { return "slack_bot" }

// Notify implements Sink.
func (s *SlackBot) Notify(ctx context.Context, doc models.EmailDocument) error {
	text := fmt.Sprintf("📩 *New Interested Email!*\nFrom: *%s*\nSubject: _%s_\nAccount: %s",
		doc.From, doc.Subject, doc.Account)

	if _, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack chat.postMessage: %w", err)
	}
	return nil
}

// SlackWebhook posts to a Slack incoming webhook.
type SlackWebhook struct {
	url        string
	httpClient *http.Client
}

// NewSlackWebhook creates a Slack incoming webhook sink.
func NewSlackWebhook(url string, httpClient *http.Client) *SlackWebhook {
	return &SlackWebhook{url: url, httpClient: httpClient}
}

func (s *SlackWebhook) Name() string { return "slack_webhook" }

// Notify implements Sink.
func (s *SlackWebhook) Notify(ctx context.Context, doc models.EmailDocument) error {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("💌 New Interested Email\nFrom: %s\nSubject: %s", doc.From, doc.Subject),
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.url, s.httpClient, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
