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

package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/reachinbox/mailsync/internal/mailbox"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return New(8000).WithClock(func() time.Time { return fixedNow })
}

// TestNormalize_Defaults verifies placeholders for a message with no
// subject, no date and no addresses.
func TestNormalize_Defaults(t *testing.T) {
	n := newTestNormalizer()

	rec := n.Normalize(mailbox.RawMessage{
		SeqNum:   1,
		Envelope: &mailbox.Envelope{},
		Source:   []byte("hello"),
	}, "alice@example.com")

	if rec.Subject != NoSubject {
		t.Errorf("subject = %q, want %q", rec.Subject, NoSubject)
	}
	if rec.From != UnknownAddress || rec.To != UnknownAddress {
		t.Errorf("from/to = %q/%q, want %q", rec.From, rec.To, UnknownAddress)
	}
	if !rec.Date.Equal(fixedNow) {
		t.Errorf("date = %v, want %v", rec.Date, fixedNow)
	}
	if rec.Account != "alice@example.com" {
		t.Errorf("account = %q", rec.Account)
	}
}

// TestNormalize_DateDefaultsToWallClock uses the real clock and checks the
// record timestamp falls inside the call window.
func TestNormalize_DateDefaultsToWallClock(t *testing.T) {
	n := New(8000)

	before := time.Now().UTC()
	rec := n.Normalize(mailbox.RawMessage{Envelope: &mailbox.Envelope{}}, "acct")
	after := time.Now().UTC()

	if rec.Date.Before(before) || rec.Date.After(after) {
		t.Errorf("date %v not within [%v, %v]", rec.Date, before, after)
	}
	if rec.Subject != NoSubject {
		t.Errorf("subject = %q, want placeholder", rec.Subject)
	}
}

// TestNormalize_Envelope verifies envelope fields are joined and copied.
func TestNormalize_Envelope(t *testing.T) {
	n := newTestNormalizer()
	date := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	rec := n.Normalize(mailbox.RawMessage{
		Envelope: &mailbox.Envelope{
			Subject:   "Re: demo",
			From:      []string{"bob@example.com"},
			To:        []string{"alice@example.com", "", "carol@example.com"},
			Date:      date,
			MessageID: "abc@example.com",
		},
		Source: []byte("raw"),
	}, "alice@example.com")

	if rec.Subject != "Re: demo" {
		t.Errorf("subject = %q", rec.Subject)
	}
	if rec.From != "bob@example.com" {
		t.Errorf("from = %q", rec.From)
	}
	if rec.To != "alice@example.com, carol@example.com" {
		t.Errorf("to = %q", rec.To)
	}
	if !rec.Date.Equal(date) || rec.Date.Location() != time.UTC {
		t.Errorf("date = %v, want %v in UTC", rec.Date, date)
	}
	if rec.MessageID != "abc@example.com" {
		t.Errorf("message id = %q", rec.MessageID)
	}
}

// TestNormalize_BodyTruncation verifies a 25,000 character source keeps
// exactly 8,000 characters.
func TestNormalize_BodyTruncation(t *testing.T) {
	n := newTestNormalizer()

	rec := n.Normalize(mailbox.RawMessage{
		Envelope: &mailbox.Envelope{Subject: "long"},
		Source:   []byte(strings.Repeat("x", 25000)),
	}, "acct")

	if got := len([]rune(rec.Body)); got != 8000 {
		t.Errorf("body length = %d, want 8000", got)
	}
}

// TestNormalize_HeadersFromSource verifies the header fallback when the
// server returned no envelope.
func TestNormalize_HeadersFromSource(t *testing.T) {
	n := newTestNormalizer()
	src := "From: Bob <bob@example.com>\r\n" +
		"To: alice@example.com\r\n" +
		"Subject: Quarterly numbers\r\n" +
		"Date: Mon, 02 Mar 2026 10:00:00 +0000\r\n" +
		"Message-ID: <q1@example.com>\r\n" +
		"\r\n" +
		"Body text\r\n"

	rec := n.Normalize(mailbox.RawMessage{Source: []byte(src)}, "acct")

	if rec.Subject != "Quarterly numbers" {
		t.Errorf("subject = %q", rec.Subject)
	}
	if rec.From != "bob@example.com" {
		t.Errorf("from = %q", rec.From)
	}
	if rec.To != "alice@example.com" {
		t.Errorf("to = %q", rec.To)
	}
	want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if !rec.Date.Equal(want) {
		t.Errorf("date = %v, want %v", rec.Date, want)
	}
	if rec.MessageID != "q1@example.com" {
		t.Errorf("message id = %q", rec.MessageID)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "shorter", in: "abc", limit: 5, want: "abc"},
		{name: "exact", in: "abcde", limit: 5, want: "abcde"},
		{name: "ascii", in: "abcdef", limit: 3, want: "abc"},
		{name: "multibyte", in: "héllo wörld", limit: 5, want: "héllo"},
		{name: "invalid bytes kept", in: "a\xffb\xfec", limit: 3, want: "a\xffb"},
		{name: "zero", in: "abc", limit: 0, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.limit); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
		})
	}
}
