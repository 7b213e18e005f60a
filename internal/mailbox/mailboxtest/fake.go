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

// Package mailboxtest provides in-memory mailbox.Session and mailbox.Dialer
// fakes for tests.
package mailboxtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/mailbox"
	"github.com/reachinbox/mailsync/internal/models"
)

// Session is a fake mailbox.Session over an in-memory folder.
type Session struct {
	mu       sync.Mutex
	messages []mailbox.RawMessage
	notify   chan struct{}

	// FetchErr, when set, is returned by every Fetch call.
	FetchErr error
	// LockErr, when set, is returned by LockFolder.
	LockErr error

	waitErr  error
	locks    int
	releases int
	fetches  [][2]uint32
	closed   bool
}

// NewSession creates a session whose folder holds msgs at seq 1..len(msgs).
func NewSession(msgs ...mailbox.RawMessage) *Session {
	s := &Session{notify: make(chan struct{}, 1)}
	s.add(msgs)
	return s
}

func (s *Session) add(msgs []mailbox.RawMessage) {
	for _, m := range msgs {
		m.SeqNum = uint32(len(s.messages) + 1)
		if m.UID == 0 {
			m.UID = m.SeqNum
		}
		s.messages = append(s.messages, m)
	}
}

func (s *Session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Append adds msgs to the folder and wakes any WaitForChange.
func (s *Session) Append(msgs ...mailbox.RawMessage) {
	s.mu.Lock()
	s.add(msgs)
	s.mu.Unlock()
	s.signal()
}

// Expunge removes the last n messages and wakes any WaitForChange.
func (s *Session) Expunge(n int) {
	s.mu.Lock()
	if n > len(s.messages) {
		n = len(s.messages)
	}
	s.messages = s.messages[:len(s.messages)-n]
	s.mu.Unlock()
	s.signal()
}

// Disconnect makes the pending and all future WaitForChange calls fail with err.
func (s *Session) Disconnect(err error) {
	s.mu.Lock()
	s.waitErr = err
	s.mu.Unlock()
	s.signal()
}

// LockFolder implements mailbox.Session.
func (s *Session) LockFolder(_ context.Context, folder string) (*mailbox.FolderLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LockErr != nil {
		return nil, s.LockErr
	}
	s.locks++
	return mailbox.NewFolderLock(folder, uint32(len(s.messages)), func() {
		s.mu.Lock()
		s.releases++
		s.mu.Unlock()
	}), nil
}

// Fetch implements mailbox.Session.
func (s *Session) Fetch(ctx context.Context, from, to uint32) ([]mailbox.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, [2]uint32{from, to})
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	var out []mailbox.RawMessage
	for _, m := range s.messages {
		if m.SeqNum >= from && m.SeqNum <= to {
			out = append(out, m)
		}
	}
	return out, nil
}

// WaitForChange implements mailbox.Session.
func (s *Session) WaitForChange(ctx context.Context, known uint32) (uint32, error) {
	for {
		s.mu.Lock()
		n, err := uint32(len(s.messages)), s.waitErr
		s.mu.Unlock()
		if err != nil {
			return 0, err
		}
		if n != known {
			return n, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-s.notify:
		}
	}
}

// Close implements mailbox.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Locks returns how many times LockFolder succeeded.
func (s *Session) Locks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks
}

// Releases returns how many times a lock's release ran.
func (s *Session) Releases() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

// Fetches returns the requested ranges in call order.
func (s *Session) Fetches() [][2]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][2]uint32, len(s.fetches))
	copy(out, s.fetches)
	return out
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Message builds a RawMessage with an envelope.
func Message(subject string, date time.Time) mailbox.RawMessage {
	return mailbox.RawMessage{
		Envelope: &mailbox.Envelope{
			Subject:   subject,
			From:      []string{"sender@example.com"},
			To:        []string{"rcpt@example.com"},
			Date:      date,
			MessageID: subject + "@example.com",
		},
		Source: []byte("Subject: " + subject + "\r\n\r\nbody of " + subject),
	}
}

// Dialer is a fake mailbox.Dialer. DialFunc decides the outcome of each dial.
type Dialer struct {
	DialFunc func(ctx context.Context, account config.AccountConfig, attempt int) (mailbox.Session, error)

	mu    sync.Mutex
	dials map[string]int
}

// Dial implements mailbox.Dialer.
func (d *Dialer) Dial(ctx context.Context, account config.AccountConfig) (mailbox.Session, error) {
	d.mu.Lock()
	if d.dials == nil {
		d.dials = make(map[string]int)
	}
	d.dials[account.Name]++
	attempt := d.dials[account.Name]
	d.mu.Unlock()

	if d.DialFunc == nil {
		return nil, fmt.Errorf("no dial func")
	}
	return d.DialFunc(ctx, account, attempt)
}

// Dials returns how many times account was dialled.
func (d *Dialer) Dials(account string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[account]
}

// Recorder collects emitted records.
type Recorder struct {
	mu      sync.Mutex
	records []models.EmailRecord

	// Err, when set, is returned from Emit after recording.
	Err error
}

// Emit implements mailbox.EmitFunc.
func (r *Recorder) Emit(_ context.Context, rec models.EmailRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.Err
}

// Records returns a copy of everything emitted so far.
func (r *Recorder) Records() []models.EmailRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EmailRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Subjects returns the subjects of everything emitted so far.
func (r *Recorder) Subjects() []string {
	recs := r.Records()
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.Subject
	}
	return out
}
