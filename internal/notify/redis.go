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

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/reachinbox/mailsync/internal/models"
)

// EventTypeInterested tags queued events.
const EventTypeInterested = "email.interested"

// lister is the subset of redis.Cmdable the queue sink uses.
type lister interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisQueue pushes an event per document onto a Redis list for downstream
// workers (BRPOP consumers).
type RedisQueue struct {
	rdb       lister
	queueName string
}

// NewRedisQueue creates a queue sink targeting queueName.
func NewRedisQueue(rdb lister, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

// Event is the JSON envelope written to the list.
type Event struct {
	ID        string               `json:"id"`
	Type      string               `json:"type"`
	CreatedAt time.Time            `json:"createdAt"`
	Email     models.EmailDocument `json:"email"`
}

func (q *RedisQueue) Name() string { return "redis_queue" }

// Notify implements Sink.
func (q *RedisQueue) Notify(ctx context.Context, doc models.EmailDocument) error {
	event := Event{
		ID:        uuid.New().String(),
		Type:      EventTypeInterested,
		CreatedAt: time.Now().UTC(),
		Email:     doc,
	}

	msg, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := q.rdb.LPush(ctx, q.queueName, string(msg)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published interested email to queue",
		"event_id", event.ID,
		"account", doc.Account,
		"queue", q.queueName,
	)
	return nil
}
