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

package backfill

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/mailbox"
	"github.com/reachinbox/mailsync/internal/mailbox/mailboxtest"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestRunner(batch int) *Runner {
	return NewRunner(RunnerConfig{
		Window:    30 * 24 * time.Hour,
		BatchSize: batch,
		Now:       func() time.Time { return now },
	})
}

var account = config.AccountConfig{Name: "alice", Folder: "INBOX"}

// TestBackfill_WindowFilter verifies that only messages inside the 30-day
// window are emitted.
func TestBackfill_WindowFilter(t *testing.T) {
	session := mailboxtest.NewSession(
		mailboxtest.Message("old", now.AddDate(0, 0, -40)),
		mailboxtest.Message("recent-1", now.AddDate(0, 0, -10)),
		mailboxtest.Message("recent-2", now.AddDate(0, 0, -1)),
	)
	rec := &mailboxtest.Recorder{}

	res, err := newTestRunner(100).Run(context.Background(), session, account, rec.Emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"recent-1", "recent-2"}
	if got := rec.Subjects(); !reflect.DeepEqual(got, want) {
		t.Errorf("emitted %v, want %v", got, want)
	}
	if res.Emitted != 2 || res.Skipped != 1 || res.Fetched != 3 {
		t.Errorf("result = %+v", res)
	}
	if session.Releases() != 1 {
		t.Errorf("releases = %d, want 1", session.Releases())
	}
}

// TestBackfill_ExactlyOncePerPass verifies batching covers every message
// once, in ascending sequence order.
func TestBackfill_ExactlyOncePerPass(t *testing.T) {
	var msgs []mailbox.RawMessage
	var want []string
	for i := 0; i < 7; i++ {
		subject := string(rune('a' + i))
		msgs = append(msgs, mailboxtest.Message(subject, now.Add(-time.Hour)))
		want = append(want, subject)
	}
	session := mailboxtest.NewSession(msgs...)
	rec := &mailboxtest.Recorder{}

	if _, err := newTestRunner(3).Run(context.Background(), session, account, rec.Emit); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := rec.Subjects(); !reflect.DeepEqual(got, want) {
		t.Errorf("emitted %v, want %v", got, want)
	}
	wantRanges := [][2]uint32{{1, 3}, {4, 6}, {7, 7}}
	if got := session.Fetches(); !reflect.DeepEqual(got, wantRanges) {
		t.Errorf("fetch ranges = %v, want %v", got, wantRanges)
	}
}

func TestBackfill_EmptyFolder(t *testing.T) {
	session := mailboxtest.NewSession()
	rec := &mailboxtest.Recorder{}

	res, err := newTestRunner(100).Run(context.Background(), session, account, rec.Emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rec.Records()) != 0 || res.Emitted != 0 {
		t.Errorf("expected no emissions, got %d", len(rec.Records()))
	}
	if len(session.Fetches()) != 0 {
		t.Errorf("expected no fetches, got %v", session.Fetches())
	}
	if session.Releases() != 1 {
		t.Errorf("releases = %d, want 1", session.Releases())
	}
}

func TestBackfill_FetchErrorReleasesLock(t *testing.T) {
	session := mailboxtest.NewSession(mailboxtest.Message("x", now))
	session.FetchErr = &mailbox.NetworkError{Account: "alice", Op: "fetch", Err: errors.New("connection reset")}
	rec := &mailboxtest.Recorder{}

	_, err := newTestRunner(100).Run(context.Background(), session, account, rec.Emit)
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if !mailbox.IsNetworkError(err) {
		t.Errorf("expected wrapped NetworkError, got %v", err)
	}
	if session.Releases() != 1 {
		t.Errorf("releases = %d, want 1", session.Releases())
	}
}

func TestBackfill_LockError(t *testing.T) {
	session := mailboxtest.NewSession()
	session.LockErr = errors.New("no such folder")
	rec := &mailboxtest.Recorder{}

	if _, err := newTestRunner(100).Run(context.Background(), session, account, rec.Emit); err == nil {
		t.Fatal("expected lock error")
	}
	if session.Releases() != 0 {
		t.Errorf("releases = %d, want 0", session.Releases())
	}
}

// TestBackfill_EmitFailuresCounted verifies a dropped record does not stop
// the scan.
func TestBackfill_EmitFailuresCounted(t *testing.T) {
	session := mailboxtest.NewSession(
		mailboxtest.Message("a", now),
		mailboxtest.Message("b", now),
	)
	rec := &mailboxtest.Recorder{Err: errors.New("index unavailable")}

	res, err := newTestRunner(100).Run(context.Background(), session, account, rec.Emit)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed != 2 || res.Emitted != 0 {
		t.Errorf("result = %+v", res)
	}
	if len(rec.Records()) != 2 {
		t.Errorf("emit calls = %d, want 2", len(rec.Records()))
	}
}

// TestBackfill_Rescan verifies a second pass on a new connection emits the
// same messages again.
func TestBackfill_Rescan(t *testing.T) {
	msgs := []mailbox.RawMessage{
		mailboxtest.Message("a", now),
		mailboxtest.Message("b", now),
	}
	rec := &mailboxtest.Recorder{}
	r := newTestRunner(100)

	for i := 0; i < 2; i++ {
		if _, err := r.Run(context.Background(), mailboxtest.NewSession(msgs...), account, rec.Emit); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}

	want := []string{"a", "b", "a", "b"}
	if got := rec.Subjects(); !reflect.DeepEqual(got, want) {
		t.Errorf("emitted %v, want %v", got, want)
	}
}
