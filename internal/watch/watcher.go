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

// Package watch follows a locked folder with IMAP IDLE and emits each
// message that arrives after the backfill scan.
package watch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/mailbox"
	"github.com/reachinbox/mailsync/internal/normalize"
)

// StateFunc is told about watcher state transitions for an account.
type StateFunc func(account string, state mailbox.State)

// Watcher emits messages appended to a folder while it is held.
type Watcher struct {
	normalizer *normalize.Normalizer
	onState    StateFunc
}

// WatcherConfig holds dependencies for the watcher.
type WatcherConfig struct {
	Normalizer *normalize.Normalizer
	OnState    StateFunc
}

// NewWatcher creates a watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	w := &Watcher{
		normalizer: cfg.Normalizer,
		onState:    cfg.OnState,
	}
	if w.normalizer == nil {
		w.normalizer = normalize.New(config.DefaultBodyLimit)
	}
	if w.onState == nil {
		w.onState = func(string, mailbox.State) {}
	}
	return w
}

// Run holds account's folder until ctx is cancelled or the session fails.
// since is the highest sequence number already emitted, normally the
// backfill's count; anything above it at lock time is emitted first. Every
// later count increase fetches and emits the new range; a decrease only
// lowers the high-water mark. Run always returns a non-nil error.
func (w *Watcher) Run(ctx context.Context, session mailbox.Session, account config.AccountConfig, since uint32, emit mailbox.EmitFunc) error {
	lock, err := session.LockFolder(ctx, account.Folder)
	if err != nil {
		return fmt.Errorf("lock folder %s: %w", account.Folder, err)
	}
	defer lock.Release()

	total := lock.Exists()
	last := min(since, total)

	slog.Info("watching folder",
		"account", account.Name,
		"folder", account.Folder,
		"exists", total,
		"since", last,
	)
	w.onState(account.Name, mailbox.StateWatching)

	for {
		if total > last {
			if err := w.emitRange(ctx, session, account, last+1, total, emit); err != nil {
				return err
			}
			last = total
			w.onState(account.Name, mailbox.StateWatching)
		}

		w.onState(account.Name, mailbox.StateIdleWait)

		total, err = session.WaitForChange(ctx, last)
		if err != nil {
			return fmt.Errorf("wait for change: %w", err)
		}

		if total < last {
			slog.Debug("messages expunged", "account", account.Name, "from", last, "to", total)
			last = total
		}
	}
}

// emitRange fetches seq from..to and emits each message. Emission errors
// are logged and skipped.
func (w *Watcher) emitRange(ctx context.Context, session mailbox.Session, account config.AccountConfig, from, to uint32, emit mailbox.EmitFunc) error {
	w.onState(account.Name, mailbox.StateProcessing)

	msgs, err := session.Fetch(ctx, from, to)
	if err != nil {
		return fmt.Errorf("fetch %d:%d: %w", from, to, err)
	}

	for _, raw := range msgs {
		rec := w.normalizer.Normalize(raw, account.Name)
		if err := emit(ctx, rec); err != nil {
			slog.Warn("watch: emit failed",
				"account", account.Name,
				"seq", raw.SeqNum,
				"subject", rec.Subject,
				"error", err,
			)
			continue
		}
		slog.Info("new message",
			"account", account.Name,
			"seq", raw.SeqNum,
			"subject", rec.Subject,
		)
	}
	return nil
}
