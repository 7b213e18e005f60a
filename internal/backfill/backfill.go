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

// Package backfill provides historical email ingestion by scanning the
// account's folder and emitting every message inside the recency window
// through the enrichment pipeline.
package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/mailbox"
	"github.com/reachinbox/mailsync/internal/normalize"
)

// Result summarises a completed backfill pass for one account.
type Result struct {
	Account string
	Exists  uint32 // message count when the folder was locked
	Fetched int
	Emitted int
	Skipped int // older than the window
	Failed  int // dropped by the emitter
	Elapsed time.Duration
}

// Runner performs the historical scan.
type Runner struct {
	normalizer *normalize.Normalizer
	window     time.Duration
	batchSize  uint32
	now        func() time.Time
}

// RunnerConfig holds dependencies for the backfill runner.
type RunnerConfig struct {
	Normalizer *normalize.Normalizer
	Window     time.Duration
	BatchSize  int
	Now        func() time.Time
}

// NewRunner creates a backfill runner.
func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		normalizer: cfg.Normalizer,
		window:     cfg.Window,
		now:        cfg.Now,
	}
	if r.normalizer == nil {
		r.normalizer = normalize.New(config.DefaultBodyLimit)
	}
	if r.window <= 0 {
		r.window = config.DefaultBackfillWindow
	}
	r.batchSize = 100
	if cfg.BatchSize > 0 {
		r.batchSize = uint32(cfg.BatchSize)
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Run scans account's folder on session and emits each message dated inside
// the window, in ascending sequence order. The folder lock is released on
// every return path. A fetch error aborts the scan; emission errors are
// counted and the scan continues.
func (r *Runner) Run(ctx context.Context, session mailbox.Session, account config.AccountConfig, emit mailbox.EmitFunc) (Result, error) {
	start := time.Now()
	res := Result{Account: account.Name}

	lock, err := session.LockFolder(ctx, account.Folder)
	if err != nil {
		return res, fmt.Errorf("lock folder %s: %w", account.Folder, err)
	}
	defer lock.Release()

	res.Exists = lock.Exists()
	if res.Exists == 0 {
		slog.Info("backfill: folder empty", "account", account.Name, "folder", account.Folder)
		return res, nil
	}

	cutoff := r.now().UTC().Add(-r.window)

	slog.Info("starting backfill",
		"account", account.Name,
		"folder", account.Folder,
		"exists", res.Exists,
		"since", cutoff.Format(time.RFC3339),
	)

	for from := uint32(1); from <= res.Exists; from += r.batchSize {
		to := from + r.batchSize - 1
		if to > res.Exists || to < from {
			to = res.Exists
		}

		msgs, err := session.Fetch(ctx, from, to)
		if err != nil {
			return res, fmt.Errorf("fetch %d:%d: %w", from, to, err)
		}
		res.Fetched += len(msgs)

		for _, raw := range msgs {
			rec := r.normalizer.Normalize(raw, account.Name)

			if rec.Date.Before(cutoff) {
				res.Skipped++
				continue
			}

			if err := emit(ctx, rec); err != nil {
				slog.Warn("backfill: emit failed",
					"account", account.Name,
					"seq", raw.SeqNum,
					"subject", rec.Subject,
					"error", err,
				)
				res.Failed++
				continue
			}
			res.Emitted++
		}

		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	res.Elapsed = time.Since(start)

	slog.Info("backfill complete",
		"account", account.Name,
		"fetched", res.Fetched,
		"emitted", res.Emitted,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"elapsed", res.Elapsed,
	)

	return res, nil
}
