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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBackfillWindow is how far back the backfill scan reaches.
	DefaultBackfillWindow = 30 * 24 * time.Hour

	// DefaultBodyLimit is the maximum number of characters kept from the raw source.
	DefaultBodyLimit = 8000

	// DefaultReconnectDelay is the fixed wait between reconnect attempts.
	DefaultReconnectDelay = 5 * time.Second
)

// OAuth2Config holds the refresh-token grant used for SASL OAUTHBEARER.
type OAuth2Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	RefreshToken string   `yaml:"refresh_token"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether enough OAuth2 settings are present to fetch a token.
func (o *OAuth2Config) Enabled() bool {
	return o != nil && o.TokenURL != "" && o.RefreshToken != ""
}

// AccountConfig identifies one mailbox.
type AccountConfig struct {
	Name     string
	Host     string
	Port     int
	TLS      bool // implicit TLS (993); STARTTLS otherwise
	Insecure bool // plain TCP, no STARTTLS; test servers only
	Username string
	Password string
	Folder   string
	OAuth2   *OAuth2Config
}

// Addr returns host:port.
func (a AccountConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// RetryConfig configures the reconnect policy.
type RetryConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// SyncConfig controls backfill, watch and pipeline behaviour.
type SyncConfig struct {
	BackfillWindow time.Duration
	BodyLimit      int
	BatchSize      int
	DialTimeout    time.Duration
	IdleKeepAlive  time.Duration
	Dedupe         bool
	Retry          RetryConfig
}

// ElasticsearchConfig points at the search index.
type ElasticsearchConfig struct {
	URL                string
	Username           string
	Password           string
	Index              string
	InsecureSkipVerify bool
}

// ClassifierConfig configures the Cohere rerank classifier.
type ClassifierConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// NotifyConfig holds the optional notification sinks. Empty values disable a sink.
type NotifyConfig struct {
	SlackToken      string
	SlackChannel    string
	SlackWebhookURL string
	WebhookURL      string
	RedisQueue      string
}

// Config holds all configuration for the mailsync service.
type Config struct {
	Accounts []AccountConfig

	Sync          SyncConfig
	Elasticsearch ElasticsearchConfig
	Classifier    ClassifierConfig
	Notify        NotifyConfig

	// Redis is optional; required for dedupe or the queue sink.
	RedisURL string

	// DatabaseURL is optional; enables the sync state store.
	DatabaseURL string

	// Server (query API)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Accounts []struct {
		Name     string        `yaml:"name"`
		Host     string        `yaml:"host"`
		Port     int           `yaml:"port"`
		TLS      *bool         `yaml:"tls"`
		Insecure bool          `yaml:"insecure"`
		Username string        `yaml:"username"`
		Password string        `yaml:"password"`
		Folder   string        `yaml:"folder"`
		OAuth2   *OAuth2Config `yaml:"oauth2"`
	} `yaml:"accounts"`
	Sync struct {
		BackfillWindow string `yaml:"backfill_window"`
		BodyLimit      int    `yaml:"body_limit"`
		BatchSize      int    `yaml:"batch_size"`
		DialTimeout    string `yaml:"dial_timeout"`
		IdleKeepAlive  string `yaml:"idle_keepalive"`
		Dedupe         bool   `yaml:"dedupe"`
		Retry          struct {
			Initial    string  `yaml:"initial"`
			Max        string  `yaml:"max"`
			Multiplier float64 `yaml:"multiplier"`
		} `yaml:"retry"`
	} `yaml:"sync"`
	Elasticsearch struct {
		URL                string `yaml:"url"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		Index              string `yaml:"index"`
		InsecureSkipVerify *bool  `yaml:"insecure_skip_verify"`
	} `yaml:"elasticsearch"`
	Classifier struct {
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"classifier"`
	Notify struct {
		SlackToken      string `yaml:"slack_token"`
		SlackChannel    string `yaml:"slack_channel"`
		SlackWebhookURL string `yaml:"slack_webhook_url"`
		WebhookURL      string `yaml:"webhook_url"`
		RedisQueue      string `yaml:"redis_queue"`
	} `yaml:"notify"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

// Load reads configuration from the YAML file at path (with env var
// expansion) and environment variables for non-YAML settings.
func Load(path string) (*Config, error) {
	if path == "" {
		path = envOrDefault("CONFIG_PATH", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		RedisURL:    firstNonEmpty(raw.Redis.URL, os.Getenv("REDIS_URL")),
		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		Port:        firstPositive(raw.Server.Port, envOrDefaultInt("PORT", 3001)),
	}

	var err error
	if cfg.Sync, err = buildSync(raw); err != nil {
		return nil, err
	}

	insecure := true // local clusters ship self-signed certificates
	if raw.Elasticsearch.InsecureSkipVerify != nil {
		insecure = *raw.Elasticsearch.InsecureSkipVerify
	}
	cfg.Elasticsearch = ElasticsearchConfig{
		URL:                firstNonEmpty(raw.Elasticsearch.URL, envOrDefault("ELASTIC_URL", "https://localhost:9200")),
		Username:           firstNonEmpty(raw.Elasticsearch.Username, os.Getenv("ELASTIC_USERNAME")),
		Password:           firstNonEmpty(raw.Elasticsearch.Password, os.Getenv("ELASTIC_PASSWORD")),
		Index:              firstNonEmpty(raw.Elasticsearch.Index, "emails"),
		InsecureSkipVerify: insecure,
	}

	classifierTimeout, err := parseDuration(raw.Classifier.Timeout, 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("classifier.timeout: %w", err)
	}
	cfg.Classifier = ClassifierConfig{
		APIKey:  firstNonEmpty(raw.Classifier.APIKey, os.Getenv("COHERE_API_KEY")),
		Model:   firstNonEmpty(raw.Classifier.Model, "rerank-english-v3.0"),
		BaseURL: firstNonEmpty(raw.Classifier.BaseURL, "https://api.cohere.com"),
		Timeout: classifierTimeout,
	}

	cfg.Notify = NotifyConfig{
		SlackToken:      firstNonEmpty(raw.Notify.SlackToken, os.Getenv("SLACK_TOKEN")),
		SlackChannel:    firstNonEmpty(raw.Notify.SlackChannel, os.Getenv("SLACK_CHANNEL")),
		SlackWebhookURL: firstNonEmpty(raw.Notify.SlackWebhookURL, os.Getenv("SLACK_WEBHOOK_URL")),
		WebhookURL:      firstNonEmpty(raw.Notify.WebhookURL, os.Getenv("WEBHOOK_URL")),
		RedisQueue:      raw.Notify.RedisQueue,
	}

	// Build account configs
	for _, a := range raw.Accounts {
		ac := AccountConfig{
			Name:     a.Name,
			Host:     a.Host,
			Port:     a.Port,
			TLS:      true,
			Insecure: a.Insecure,
			Username: a.Username,
			Password: a.Password,
			Folder:   firstNonEmpty(a.Folder, "INBOX"),
			OAuth2:   a.OAuth2,
		}
		if a.TLS != nil {
			ac.TLS = *a.TLS
		}

		// Skip accounts with empty credentials (unset env vars in YAML)
		if ac.Host == "" || ac.Username == "" || (ac.Password == "" && !ac.OAuth2.Enabled()) {
			continue
		}

		if ac.Port == 0 {
			ac.Port = 143
			if ac.TLS {
				ac.Port = 993
			}
		}

		if ac.Name == "" {
			ac.Name = ac.Username
		}

		cfg.Accounts = append(cfg.Accounts, ac)
	}

	if len(cfg.Accounts) == 0 {
		return nil, fmt.Errorf("no accounts configured: check config.yaml and environment variables")
	}

	if (cfg.Sync.Dedupe || cfg.Notify.RedisQueue != "") && cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis.url is required when sync.dedupe or notify.redis_queue is set")
	}

	return cfg, nil
}

func buildSync(raw rawConfig) (SyncConfig, error) {
	s := SyncConfig{
		BodyLimit: firstPositive(raw.Sync.BodyLimit, DefaultBodyLimit),
		BatchSize: firstPositive(raw.Sync.BatchSize, 100),
		Dedupe:    raw.Sync.Dedupe,
	}

	var err error
	if s.BackfillWindow, err = parseDuration(raw.Sync.BackfillWindow, envOrDefaultDuration("BACKFILL_WINDOW", DefaultBackfillWindow)); err != nil {
		return s, fmt.Errorf("sync.backfill_window: %w", err)
	}
	if s.DialTimeout, err = parseDuration(raw.Sync.DialTimeout, 30*time.Second); err != nil {
		return s, fmt.Errorf("sync.dial_timeout: %w", err)
	}
	if s.IdleKeepAlive, err = parseDuration(raw.Sync.IdleKeepAlive, 25*time.Minute); err != nil {
		return s, fmt.Errorf("sync.idle_keepalive: %w", err)
	}
	// RFC 2177: clients should re-issue IDLE at least every 29 minutes
	if s.IdleKeepAlive > 29*time.Minute {
		s.IdleKeepAlive = 29 * time.Minute
	}

	if s.Retry.Initial, err = parseDuration(raw.Sync.Retry.Initial, envOrDefaultDuration("RECONNECT_DELAY", DefaultReconnectDelay)); err != nil {
		return s, fmt.Errorf("sync.retry.initial: %w", err)
	}
	if s.Retry.Max, err = parseDuration(raw.Sync.Retry.Max, s.Retry.Initial); err != nil {
		return s, fmt.Errorf("sync.retry.max: %w", err)
	}
	s.Retry.Multiplier = raw.Sync.Retry.Multiplier
	if s.Retry.Multiplier < 1 {
		s.Retry.Multiplier = 1
	}
	if s.Retry.Max < s.Retry.Initial {
		s.Retry.Max = s.Retry.Initial
	}

	return s, nil
}

func parseDuration(v string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
