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

// Package pipeline enriches normalized records with a category, writes them
// to the search index and notifies sinks about interested emails.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/reachinbox/mailsync/internal/classify"
	"github.com/reachinbox/mailsync/internal/dedup"
	"github.com/reachinbox/mailsync/internal/models"
	"github.com/reachinbox/mailsync/internal/notify"
)

// Indexer writes documents. Implemented by search.Store.
type Indexer interface {
	Index(ctx context.Context, doc models.EmailDocument, id string) (string, error)
}

// Deduper admits each fingerprint once. Implemented by dedup.Filter.
// Forget releases a fingerprint whose message was not stored.
type Deduper interface {
	IsNew(ctx context.Context, fingerprint string) (bool, error)
	Forget(ctx context.Context, fingerprint string) error
}

// Outcome describes what Process did with one record.
type Outcome struct {
	ID        string
	Category  models.Category
	Duplicate bool // skipped by the dedup filter
	Indexed   bool
	Notified  int // sinks that accepted the notification

	ClassifyErr *ClassifierError
	StoreErr    *StoreWriteError
	NotifyErrs  []*NotificationError
}

// Pipeline processes records synchronously in the caller's goroutine.
type Pipeline struct {
	classifier classify.Classifier
	indexer    Indexer
	sinks      []notify.Sink
	dedup      Deduper
	now        func() time.Time
}

// Config holds the pipeline's dependencies. Dedup is optional; when nil
// every record gets a new engine-assigned document id.
type Config struct {
	Classifier classify.Classifier
	Indexer    Indexer
	Sinks      []notify.Sink
	Dedup      Deduper
	Now        func() time.Time
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		classifier: cfg.Classifier,
		indexer:    cfg.Indexer,
		sinks:      cfg.Sinks,
		dedup:      cfg.Dedup,
		now:        cfg.Now,
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Process classifies, indexes and notifies for rec. Failures are logged and
// reported in the Outcome; none of them stops the others.
func (p *Pipeline) Process(ctx context.Context, rec models.EmailRecord) Outcome {
	var out Outcome

	var id string
	if p.dedup != nil {
		id = dedup.Fingerprint(rec)
		isNew, err := p.dedup.IsNew(ctx, id)
		if err != nil {
			slog.Warn("dedup check failed", "account", rec.Account, "error", err)
		} else if !isNew {
			out.ID = id
			out.Duplicate = true
			slog.Debug("duplicate message skipped", "account", rec.Account, "subject", rec.Subject)
			return out
		}
	}

	out.Category = p.classify(ctx, rec, &out)

	doc := models.EmailDocument{
		EmailRecord: rec,
		Category:    out.Category,
		IndexedAt:   p.now().UTC(),
	}

	storedID, err := p.indexer.Index(ctx, doc, id)
	if err != nil {
		out.StoreErr = &StoreWriteError{Account: rec.Account, Subject: rec.Subject, Err: err}
		slog.Error("index write failed, message dropped",
			"account", rec.Account,
			"subject", rec.Subject,
			"error", out.StoreErr,
		)
		if id != "" {
			if err := p.dedup.Forget(ctx, id); err != nil {
				slog.Error("failed to release fingerprint, re-scan will skip message",
					"account", rec.Account,
					"subject", rec.Subject,
					"error", err,
				)
			}
		}
	} else {
		out.ID = storedID
		out.Indexed = true
		slog.Info("email indexed",
			"account", rec.Account,
			"subject", rec.Subject,
			"category", out.Category,
			"id", storedID,
		)
	}

	if out.Category == models.CategoryInterested {
		p.notify(ctx, doc, &out)
	}

	return out
}

// Emit adapts Process to mailbox.EmitFunc: a dropped record is an error.
func (p *Pipeline) Emit(ctx context.Context, rec models.EmailRecord) error {
	out := p.Process(ctx, rec)
	if out.StoreErr != nil {
		return out.StoreErr
	}
	return nil
}

func (p *Pipeline) classify(ctx context.Context, rec models.EmailRecord, out *Outcome) models.Category {
	if p.classifier == nil {
		return models.DefaultCategory
	}

	category, err := p.classifier.Classify(ctx, rec.Subject, rec.Body)
	if err != nil {
		out.ClassifyErr = &ClassifierError{Err: err}
		slog.Warn("classification failed, using default",
			"account", rec.Account,
			"subject", rec.Subject,
			"category", models.DefaultCategory,
			"error", out.ClassifyErr,
		)
		return models.DefaultCategory
	}
	return category
}

func (p *Pipeline) notify(ctx context.Context, doc models.EmailDocument, out *Outcome) {
	for _, sink := range p.sinks {
		if err := sink.Notify(ctx, doc); err != nil {
			nerr := &NotificationError{Sink: sink.Name(), Err: err}
			out.NotifyErrs = append(out.NotifyErrs, nerr)
			slog.Warn("notification failed",
				"account", doc.Account,
				"subject", doc.Subject,
				"sink", sink.Name(),
				"error", nerr,
			)
			continue
		}
		out.Notified++
	}
}
