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

// Package connmgr supervises one long-lived mailbox session per account:
// connect, backfill, watch, and reconnect with the configured retry policy.
package connmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reachinbox/mailsync/internal/backfill"
	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/mailbox"
	"github.com/reachinbox/mailsync/internal/models"
	"github.com/reachinbox/mailsync/internal/normalize"
	"github.com/reachinbox/mailsync/internal/syncstate"
	"github.com/reachinbox/mailsync/internal/watch"
)

// StateSaver persists account state. Implemented by syncstate.Store.
type StateSaver interface {
	Save(ctx context.Context, r syncstate.Record) error
}

// Manager runs a supervisor goroutine per account.
type Manager struct {
	accounts   []config.AccountConfig
	dialer     mailbox.Dialer
	backfill   *backfill.Runner
	normalizer *normalize.Normalizer
	emit       mailbox.EmitFunc
	policy     RetryPolicy
	states     StateSaver

	mu          sync.Mutex
	supervisors map[string]*supervisor

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ManagerConfig holds the dependencies of the connection manager. States
// is optional.
type ManagerConfig struct {
	Accounts   []config.AccountConfig
	Dialer     mailbox.Dialer
	Backfill   *backfill.Runner
	Normalizer *normalize.Normalizer
	Emit       mailbox.EmitFunc
	Policy     RetryPolicy
	States     StateSaver
}

// NewManager creates a connection manager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		accounts:    cfg.Accounts,
		dialer:      cfg.Dialer,
		backfill:    cfg.Backfill,
		normalizer:  cfg.Normalizer,
		emit:        cfg.Emit,
		policy:      cfg.Policy,
		states:      cfg.States,
		supervisors: make(map[string]*supervisor),
	}
	if m.normalizer == nil {
		m.normalizer = normalize.New(config.DefaultBodyLimit)
	}
	if m.backfill == nil {
		m.backfill = backfill.NewRunner(backfill.RunnerConfig{Normalizer: m.normalizer})
	}
	if m.policy.Initial <= 0 {
		m.policy = NewRetryPolicy(config.RetryConfig{})
	}
	return m
}

// Start launches one supervisor per account and returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	if len(m.accounts) == 0 {
		return fmt.Errorf("no accounts to supervise")
	}
	if m.dialer == nil || m.emit == nil {
		return fmt.Errorf("connection manager requires a dialer and an emitter")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, account := range m.accounts {
		s := m.newSupervisor(account)

		m.mu.Lock()
		m.supervisors[account.Name] = s
		m.mu.Unlock()

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			s.run(runCtx)
		}()
	}

	slog.Info("connection manager started", "accounts", len(m.accounts))
	return nil
}

// Stop cancels every supervisor and waits for them to return.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	slog.Info("connection manager stopped")
}

// Status returns a snapshot of account's state.
func (m *Manager) Status(account string) (syncstate.Record, bool) {
	m.mu.Lock()
	s, ok := m.supervisors[account]
	m.mu.Unlock()
	if !ok {
		return syncstate.Record{}, false
	}
	return s.snapshot(), true
}

func (m *Manager) newSupervisor(account config.AccountConfig) *supervisor {
	s := &supervisor{
		account: account,
		m:       m,
		rec: syncstate.Record{
			Account: account.Name,
			Host:    account.Host,
			Folder:  account.Folder,
			State:   string(mailbox.StateDisconnected),
		},
	}
	s.watcher = watch.NewWatcher(watch.WatcherConfig{
		Normalizer: m.normalizer,
		OnState: func(_ string, state mailbox.State) {
			if state != mailbox.StateIdleWait {
				s.setState(context.Background(), state, "")
			}
		},
	})
	return s
}

// supervisor owns one account's session. Only its goroutine mutates rec;
// the mutex covers Status readers.
type supervisor struct {
	account config.AccountConfig
	m       *Manager
	watcher *watch.Watcher

	mu  sync.Mutex
	rec syncstate.Record
}

func (s *supervisor) run(ctx context.Context) {
	attempt := 0
	for {
		err := s.runSession(ctx, &attempt)

		if ctx.Err() != nil {
			s.setState(context.Background(), mailbox.StateDisconnected, "")
			return
		}

		if mailbox.IsAuthError(err) {
			slog.Error("authentication rejected, account stopped",
				"account", s.account.Name,
				"error", err,
			)
			s.setState(ctx, mailbox.StateError, err.Error())
			return
		}

		delay := s.m.policy.Delay(attempt)
		attempt++

		slog.Warn("session ended, reconnecting",
			"account", s.account.Name,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		s.mu.Lock()
		s.rec.Reconnects++
		s.mu.Unlock()
		s.setState(ctx, mailbox.StateError, errString(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(context.Background(), mailbox.StateDisconnected, "")
			return
		case <-timer.C:
		}
	}
}

// runSession performs one connect, backfill and watch cycle. It returns
// when the session fails or ctx is cancelled.
func (s *supervisor) runSession(ctx context.Context, attempt *int) error {
	s.setState(ctx, mailbox.StateConnecting, "")

	session, err := s.m.dialer.Dial(ctx, s.account)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer session.Close()

	connectedAt := time.Now().UTC()
	s.mu.Lock()
	s.rec.SessionID = uuid.New().String()
	s.rec.LastConnectedAt = &connectedAt
	s.mu.Unlock()
	s.setState(ctx, mailbox.StateAuthenticated, "")

	s.setState(ctx, mailbox.StateBackfilling, "")
	result, err := s.m.backfill.Run(ctx, session, s.account, s.emit)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	*attempt = 0
	backfilledAt := time.Now().UTC()
	s.mu.Lock()
	s.rec.LastBackfillAt = &backfilledAt
	s.mu.Unlock()

	// Messages that arrived while backfill ran sit above result.Exists and
	// are emitted by the watcher before it idles.
	if err := s.watcher.Run(ctx, session, s.account, result.Exists, s.emit); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

// emit forwards to the pipeline and counts the outcome.
func (s *supervisor) emit(ctx context.Context, rec models.EmailRecord) error {
	err := s.m.emit(ctx, rec)
	s.mu.Lock()
	if err != nil {
		s.rec.WriteFailures++
	} else {
		s.rec.Emitted++
	}
	s.mu.Unlock()
	return err
}

func (s *supervisor) setState(ctx context.Context, state mailbox.State, lastErr string) {
	s.mu.Lock()
	s.rec.State = string(state)
	if lastErr != "" || state == mailbox.StateWatching {
		s.rec.LastError = lastErr
	}
	s.rec.UpdatedAt = time.Now().UTC()
	snapshot := s.rec
	s.mu.Unlock()

	slog.Debug("account state", "account", s.account.Name, "state", state)

	if s.m.states == nil {
		return
	}
	if err := s.m.states.Save(ctx, snapshot); err != nil {
		slog.Warn("failed to persist sync state",
			"account", s.account.Name,
			"state", state,
			"error", err,
		)
	}
}

func (s *supervisor) snapshot() syncstate.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec
}

func errString(err error) string {
	if err == nil {
		return "session ended"
	}
	return err.Error()
}
