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

// Package syncstate provides a Postgres-backed record of each account's
// session state and ingestion counters, read by the query API.
package syncstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is the persisted state of one account.
type Record struct {
	Account         string     `json:"account"`
	Host            string     `json:"host"`
	Folder          string     `json:"folder"`
	SessionID       string     `json:"sessionId"`
	State           string     `json:"state"`
	LastError       string     `json:"lastError,omitempty"`
	Reconnects      int64      `json:"reconnects"`
	Emitted         int64      `json:"emitted"`
	WriteFailures   int64      `json:"writeFailures"`
	LastConnectedAt *time.Time `json:"lastConnectedAt,omitempty"`
	LastBackfillAt  *time.Time `json:"lastBackfillAt,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Store persists Records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a sync state store backed by the given Postgres pool.
// It ensures the account_sync_state table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure sync state schema: %w", err)
	}
	slog.Info("sync state store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS account_sync_state (
			account           TEXT PRIMARY KEY,
			host              TEXT NOT NULL DEFAULT '',
			folder            TEXT NOT NULL DEFAULT 'INBOX',
			session_id        TEXT NOT NULL DEFAULT '',
			state             TEXT NOT NULL DEFAULT 'disconnected',
			last_error        TEXT NOT NULL DEFAULT '',
			reconnects        BIGINT NOT NULL DEFAULT 0,
			emitted           BIGINT NOT NULL DEFAULT 0,
			write_failures    BIGINT NOT NULL DEFAULT 0,
			last_connected_at TIMESTAMPTZ,
			last_backfill_at  TIMESTAMPTZ,
			updated_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_sync_state ON account_sync_state(state);
	`)
	return err
}

// Save inserts or replaces the record for r.Account.
func (s *Store) Save(ctx context.Context, r Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO account_sync_state
			(account, host, folder, session_id, state, last_error, reconnects,
			 emitted, write_failures, last_connected_at, last_backfill_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (account) DO UPDATE SET
			host              = EXCLUDED.host,
			folder            = EXCLUDED.folder,
			session_id        = EXCLUDED.session_id,
			state             = EXCLUDED.state,
			last_error        = EXCLUDED.last_error,
			reconnects        = EXCLUDED.reconnects,
			emitted           = EXCLUDED.emitted,
			write_failures    = EXCLUDED.write_failures,
			last_connected_at = EXCLUDED.last_connected_at,
			last_backfill_at  = EXCLUDED.last_backfill_at,
			updated_at        = NOW()
	`, r.Account, r.Host, r.Folder, r.SessionID, r.State, r.LastError, r.Reconnects,
		r.Emitted, r.WriteFailures, r.LastConnectedAt, r.LastBackfillAt)
	if err != nil {
		return fmt.Errorf("save sync state for %s: %w", r.Account, err)
	}
	return nil
}

// Get retrieves the record for account, or nil when none exists.
func (s *Store) Get(ctx context.Context, account string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT account, host, folder, session_id, state, last_error, reconnects,
		       emitted, write_failures, last_connected_at, last_backfill_at, updated_at
		FROM account_sync_state
		WHERE account = $1
	`, account)
	return scanRecord(row)
}

// List returns all records ordered by account.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT account, host, folder, session_id, state, last_error, reconnects,
		       emitted, write_failures, last_connected_at, last_backfill_at, updated_at
		FROM account_sync_state
		ORDER BY account
	`)
	if err != nil {
		return nil, fmt.Errorf("list sync state: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// scanRecord scans a single row into a Record.
func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(
		&r.Account, &r.Host, &r.Folder, &r.SessionID, &r.State, &r.LastError, &r.Reconnects,
		&r.Emitted, &r.WriteFailures, &r.LastConnectedAt, &r.LastBackfillAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// collectRecords scans multiple rows into a slice of Records.
func collectRecords(rows pgx.Rows) ([]Record, error) {
	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.Account, &r.Host, &r.Folder, &r.SessionID, &r.State, &r.LastError, &r.Reconnects,
			&r.Emitted, &r.WriteFailures, &r.LastConnectedAt, &r.LastBackfillAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
