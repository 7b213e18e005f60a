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

// Package normalize converts raw mailbox messages into canonical records.
// It performs no I/O beyond reading the already-fetched message.
package normalize

import (
	"bytes"
	"strings"
	"time"

	"github.com/emersion/go-message"
	// Register charset decoders (windows-1252, iso-8859-*, koi8-r, etc.)
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/mailbox"
	"github.com/reachinbox/mailsync/internal/models"
)

const (
	// NoSubject replaces a missing subject.
	NoSubject = "(No Subject)"
	// UnknownAddress replaces a missing sender or recipient list.
	UnknownAddress = "Unknown"
)

// Normalizer turns RawMessages into EmailRecords.
type Normalizer struct {
	bodyLimit int
	now       func() time.Time
}

// New creates a normalizer keeping at most bodyLimit characters of source.
func New(bodyLimit int) *Normalizer {
	if bodyLimit <= 0 {
		bodyLimit = config.DefaultBodyLimit
	}
	return &Normalizer{bodyLimit: bodyLimit, now: time.Now}
}

// WithClock returns a copy of n that reads the time from now.
func (n *Normalizer) WithClock(now func() time.Time) *Normalizer {
	c := *n
	c.now = now
	return &c
}

// Normalize builds a fully defaulted record for raw, attributed to account.
func (n *Normalizer) Normalize(raw mailbox.RawMessage, account string) models.EmailRecord {
	env := raw.Envelope
	if env == nil {
		env = envelopeFromSource(raw.Source)
	}

	rec := models.EmailRecord{
		Subject: NoSubject,
		From:    UnknownAddress,
		To:      UnknownAddress,
		Date:    n.now().UTC(),
		Body:    Truncate(string(raw.Source), n.bodyLimit),
		Account: account,
	}

	if env == nil {
		return rec
	}

	if s := strings.TrimSpace(env.Subject); s != "" {
		rec.Subject = env.Subject
	}
	if from := joinAddresses(env.From); from != "" {
		rec.From = from
	}
	if to := joinAddresses(env.To); to != "" {
		rec.To = to
	}
	if !env.Date.IsZero() {
		rec.Date = env.Date.UTC()
	}
	rec.MessageID = env.MessageID

	return rec
}

// Truncate returns the first limit characters of s. Bytes are preserved as-is:
// an invalid UTF-8 byte counts as one character and is kept undecoded.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}

func joinAddresses(addrs []string) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a = strings.TrimSpace(a); a != "" {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, ", ")
}

// envelopeFromSource parses the RFC 5322 header block of src. It returns nil
// when no header can be read.
func envelopeFromSource(src []byte) *mailbox.Envelope {
	if len(src) == 0 {
		return nil
	}

	entity, err := message.Read(bytes.NewReader(src))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return nil
	}
	if entity == nil {
		return nil
	}

	h := mail.Header{Header: entity.Header}
	env := &mailbox.Envelope{}
	env.Subject, _ = h.Subject()
	env.Date, _ = h.Date()
	env.MessageID, _ = h.MessageID()

	if from, err := h.AddressList("From"); err == nil {
		for _, a := range from {
			env.From = append(env.From, a.Address)
		}
	}
	if to, err := h.AddressList("To"); err == nil {
		for _, a := range to {
			env.To = append(env.To, a.Address)
		}
	}

	return env
}
