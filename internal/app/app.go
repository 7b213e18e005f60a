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

// Package app builds the service's shared clients and components from
// configuration. Both binaries start here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/reachinbox/mailsync/internal/backfill"
	"github.com/reachinbox/mailsync/internal/classify"
	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/dedup"
	"github.com/reachinbox/mailsync/internal/imapsource"
	"github.com/reachinbox/mailsync/internal/normalize"
	"github.com/reachinbox/mailsync/internal/notify"
	"github.com/reachinbox/mailsync/internal/pipeline"
	"github.com/reachinbox/mailsync/internal/search"
	"github.com/reachinbox/mailsync/internal/syncstate"
)

// Services holds every long-lived client. Redis, Pool and States are nil
// when their URLs are not configured.
type Services struct {
	Config     *config.Config
	Search     *search.Store
	Redis      *redis.Client
	Pool       *pgxpool.Pool
	States     *syncstate.Store
	Normalizer *normalize.Normalizer
	Pipeline   *pipeline.Pipeline
	Dialer     *imapsource.Dialer
	Backfill   *backfill.Runner
}

// NewLogger returns a JSON slog logger at level ("debug", "info", "warn",
// "error"). Unknown levels fall back to info.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}

// Build connects to the configured backends and assembles the ingestion
// pipeline. On error, anything already opened is closed.
func Build(ctx context.Context, cfg *config.Config) (_ *Services, err error) {
	s := &Services{Config: cfg}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	// --- Elasticsearch ---
	es, err := search.NewClient(cfg.Elasticsearch)
	if err != nil {
		return nil, err
	}
	s.Search = search.NewStore(es, cfg.Elasticsearch.Index)
	if err := s.Search.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to elasticsearch: %w", err)
	}
	if err := s.Search.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	slog.Info("connected to Elasticsearch", "index", s.Search.IndexName())

	// --- Redis (optional) ---
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		s.Redis = redis.NewClient(opt)
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		slog.Info("connected to Redis")
	}

	// --- PostgreSQL sync state (optional) ---
	if cfg.DatabaseURL != "" {
		s.Pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("create postgres pool: %w", err)
		}
		if err := s.Pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if s.States, err = syncstate.NewStore(ctx, s.Pool); err != nil {
			return nil, err
		}
		slog.Info("connected to PostgreSQL")
	}

	// --- Enrichment ---
	httpClient := &http.Client{Timeout: cfg.Classifier.Timeout}
	classifier := classify.NewCohere(classify.CohereConfig{
		APIKey:     cfg.Classifier.APIKey,
		Model:      cfg.Classifier.Model,
		BaseURL:    cfg.Classifier.BaseURL,
		Timeout:    cfg.Classifier.Timeout,
		HTTPClient: httpClient,
	})
	if cfg.Classifier.APIKey == "" {
		slog.Warn("classifier API key not set, every email will be labelled with the default category")
	}

	sinks := notify.FromConfig(cfg.Notify, s.Redis, httpClient)

	pcfg := pipeline.Config{
		Classifier: classifier,
		Indexer:    s.Search,
		Sinks:      sinks,
	}
	if cfg.Sync.Dedupe {
		pcfg.Dedup = dedup.NewFilter(s.Redis)
		slog.Info("fingerprint dedupe enabled")
	}
	s.Pipeline = pipeline.New(pcfg)

	// --- Mail source ---
	s.Normalizer = normalize.New(cfg.Sync.BodyLimit)
	s.Dialer = imapsource.NewDialer(imapsource.DialerConfig{
		DialTimeout:   cfg.Sync.DialTimeout,
		IdleKeepAlive: cfg.Sync.IdleKeepAlive,
	})
	s.Backfill = backfill.NewRunner(backfill.RunnerConfig{
		Normalizer: s.Normalizer,
		Window:     cfg.Sync.BackfillWindow,
		BatchSize:  cfg.Sync.BatchSize,
	})

	return s, nil
}

// Close releases the backend connections.
func (s *Services) Close() {
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
