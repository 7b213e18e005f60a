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

// Package mailbox defines the contract between the account supervisor, the
// backfill fetcher and the live watcher, independent of the wire protocol.
package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/reachinbox/mailsync/internal/config"
	"github.com/reachinbox/mailsync/internal/models"
)

// Envelope is the subset of the IMAP ENVELOPE the normalizer needs.
type Envelope struct {
	Subject   string
	From      []string
	To        []string
	Date      time.Time
	MessageID string
}

// RawMessage is a handle to one fetched message. It is never persisted.
type RawMessage struct {
	SeqNum   uint32
	UID      uint32
	Envelope *Envelope // nil when the server returned no envelope
	Source   []byte
}

// Session is one authenticated connection to one account.
type Session interface {
	// LockFolder selects folder and holds it exclusively until Release.
	LockFolder(ctx context.Context, folder string) (*FolderLock, error)

	// Fetch returns messages with sequence numbers in [from, to], ascending.
	Fetch(ctx context.Context, from, to uint32) ([]RawMessage, error)

	// WaitForChange blocks until the server reports a message count
	// different from known, and returns the new count.
	WaitForChange(ctx context.Context, known uint32) (uint32, error)

	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, account config.AccountConfig) (Session, error)
}

// EmitFunc receives each normalized record. A non-nil error means the record
// was dropped downstream; the caller counts it and moves on.
type EmitFunc func(ctx context.Context, rec models.EmailRecord) error

// FolderLock is an exclusive hold on a selected folder.
type FolderLock struct {
	folder  string
	exists  uint32
	release func()
	once    sync.Once
}

// NewFolderLock wraps release so that it runs at most once.
func NewFolderLock(folder string, exists uint32, release func()) *FolderLock {
	return &FolderLock{folder: folder, exists: exists, release: release}
}

// Folder returns the locked folder name.
func (l *FolderLock) Folder() string { return l.folder }

// Exists returns the message count observed when the lock was taken.
func (l *FolderLock) Exists() uint32 { return l.exists }

// Release frees the folder. Safe to call more than once.
func (l *FolderLock) Release() {
	l.once.Do(func() {
		if l.release != nil {
			l.release()
		}
	})
}
