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

// Package dedup provides message deduplication using Redis SETNX with a TTL.
// It lets the pipeline skip messages that a re-scan after reconnect has
// already indexed, when deduplication is enabled.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reachinbox/mailsync/internal/models"
)

const (
	// DefaultTTL is how long a fingerprint is remembered. It outlives the
	// backfill window so a re-scan never re-admits a message.
	DefaultTTL = 31 * 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "mailsync:seen:"
)

// claimer is the subset of redis.Cmdable the filter uses.
type claimer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Filter tracks which fingerprints have already been processed.
type Filter struct {
	rdb claimer
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb claimer) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNew returns true if the fingerprint has NOT been seen before.
// If true, the fingerprint is marked as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, fingerprint string) (bool, error) {
	key := keyPrefix + fingerprint

	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

// Forget releases a fingerprint claimed by IsNew, so the next re-scan
// admits the message again. Called when the message could not be stored.
func (f *Filter) Forget(ctx context.Context, fingerprint string) error {
	if err := f.rdb.Del(ctx, keyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

// Fingerprint returns a stable id for rec: sha256 of the account and the
// Message-ID. Records without a Message-ID fall back to sender, subject and
// date.
func Fingerprint(rec models.EmailRecord) string {
	var b strings.Builder
	b.WriteString(rec.Account)
	b.WriteByte(0)
	if rec.MessageID != "" {
		b.WriteString(rec.MessageID)
	} else {
		b.WriteString(rec.From)
		b.WriteByte(0)
		b.WriteString(rec.Subject)
		b.WriteByte(0)
		b.WriteString(rec.Date.UTC().Format(time.RFC3339))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
