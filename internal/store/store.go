package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atbridge-dev/atbridge/internal/domain"
	_ "modernc.org/sqlite"
)

// Store implements the domain persistence ports on SQLite.
type Store struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts(
		id INTEGER NOT NULL PRIMARY KEY,
		did TEXT NOT NULL DEFAULT '',
		pds TEXT NOT NULL DEFAULT '',
		handle TEXT NOT NULL DEFAULT '',
		app_password TEXT NOT NULL DEFAULT '',
		access_jwt TEXT NOT NULL DEFAULT '',
		refresh_jwt TEXT NOT NULL DEFAULT '',
		status INTEGER NOT NULL DEFAULT 0,
		complete_threads INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS contacts(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		did TEXT NOT NULL UNIQUE,
		handle TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		avatar TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS remote_posts(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guid TEXT NOT NULL,
		uri TEXT NOT NULL UNIQUE,
		cid TEXT NOT NULL DEFAULT '',
		account_id INTEGER NOT NULL,
		contact_id INTEGER NOT NULL,
		parent_uri TEXT NOT NULL DEFAULT '',
		root_uri TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		langs TEXT NOT NULL DEFAULT '',
		reason INTEGER NOT NULL DEFAULT 0,
		verb TEXT NOT NULL DEFAULT 'post',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_remote_posts_parent ON remote_posts(parent_uri)`,
	`CREATE TABLE IF NOT EXISTS post_tags(
		post_id INTEGER NOT NULL,
		label TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		UNIQUE(post_id, label)
	)`,
	`CREATE TABLE IF NOT EXISTS local_posts(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		langs TEXT NOT NULL DEFAULT '',
		reply_to_uri TEXT NOT NULL DEFAULT '',
		federate INTEGER NOT NULL DEFAULT 0,
		ext_uri TEXT NOT NULL DEFAULT '',
		ext_cid TEXT NOT NULL DEFAULT '',
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		edited_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS local_activities(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id INTEGER NOT NULL,
		verb TEXT NOT NULL,
		target TEXT NOT NULL,
		federate INTEGER NOT NULL DEFAULT 1,
		ext_uri TEXT NOT NULL DEFAULT '',
		ext_cid TEXT NOT NULL DEFAULT '',
		undone INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_state(
		account_id INTEGER NOT NULL PRIMARY KEY,
		last_poll TIMESTAMP NOT NULL,
		last_cleanup TIMESTAMP NOT NULL,
		version INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS stream_cursors(
		service TEXT NOT NULL PRIMARY KEY,
		cursor_value INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
}

// Open opens (creating if needed) the bridge database at path and applies
// the schema. The caller should Close the store when done.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent account workers.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetAccounts returns every account binding.
func (s *Store) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, did, pds, handle, app_password, access_jwt, refresh_jwt,
		       status, complete_threads, created_at, updated_at
		FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var a domain.Account
		var completeThreads int
		var status int
		if err := rows.Scan(&a.ID, &a.DID, &a.PDS, &a.Handle, &a.AppPassword,
			&a.AccessJwt, &a.RefreshJwt, &status, &completeThreads,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Status = domain.ConnStatus(status)
		a.CompleteThreads = completeThreads != 0
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetAccount retrieves one binding by local user id, or nil when absent.
func (s *Store) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	var a domain.Account
	var completeThreads, status int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, did, pds, handle, app_password, access_jwt, refresh_jwt,
		       status, complete_threads, created_at, updated_at
		FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.DID, &a.PDS, &a.Handle, &a.AppPassword,
			&a.AccessJwt, &a.RefreshJwt, &status, &completeThreads,
			&a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account %d: %w", id, err)
	}
	a.Status = domain.ConnStatus(status)
	a.CompleteThreads = completeThreads != 0
	return &a, nil
}

// SaveAccount upserts an account binding.
func (s *Store) SaveAccount(ctx context.Context, acct *domain.Account) error {
	now := time.Now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.UpdatedAt = now

	completeThreads := 0
	if acct.CompleteThreads {
		completeThreads = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, did, pds, handle, app_password, access_jwt,
		                      refresh_jwt, status, complete_threads, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			did = excluded.did,
			pds = excluded.pds,
			handle = excluded.handle,
			app_password = excluded.app_password,
			access_jwt = excluded.access_jwt,
			refresh_jwt = excluded.refresh_jwt,
			status = excluded.status,
			complete_threads = excluded.complete_threads,
			updated_at = excluded.updated_at`,
		acct.ID, acct.DID, acct.PDS, acct.Handle, acct.AppPassword,
		acct.AccessJwt, acct.RefreshJwt, int(acct.Status), completeThreads,
		acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save account %d: %w", acct.ID, err)
	}
	return nil
}

// DeleteAccount removes a binding.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

// GetSyncState retrieves the reconciliation cursor for an account,
// zero-valued when none has been saved yet.
func (s *Store) GetSyncState(ctx context.Context, accountID int64) (*domain.SyncState, error) {
	state := &domain.SyncState{AccountID: accountID}
	err := s.db.QueryRowContext(ctx, `
		SELECT last_poll, last_cleanup, version FROM sync_state WHERE account_id = ?`,
		accountID).
		Scan(&state.LastPoll, &state.LastCleanup, &state.Version)
	if err == sql.ErrNoRows {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sync state %d: %w", accountID, err)
	}
	return state, nil
}

// SaveSyncState persists the cursor with an optimistic version check and
// bumps the version in place on success.
func (s *Store) SaveSyncState(ctx context.Context, state *domain.SyncState) error {
	if state.Version == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sync_state (account_id, last_poll, last_cleanup, version)
			VALUES (?, ?, ?, 1)
			ON CONFLICT (account_id) DO NOTHING`,
			state.AccountID, state.LastPoll, state.LastCleanup)
		if err != nil {
			return fmt.Errorf("insert sync state %d: %w", state.AccountID, err)
		}
		state.Version = 1
		return nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_state SET last_poll = ?, last_cleanup = ?, version = version + 1
		WHERE account_id = ? AND version = ?`,
		state.LastPoll, state.LastCleanup, state.AccountID, state.Version)
	if err != nil {
		return fmt.Errorf("update sync state %d: %w", state.AccountID, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("sync state %d: stale version %d", state.AccountID, state.Version)
	}
	state.Version++
	return nil
}

// GetStreamCursor retrieves the last-processed firehose cursor for the
// given service name. Returns 0 if no cursor has been saved.
func (s *Store) GetStreamCursor(ctx context.Context, service string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor_value FROM stream_cursors WHERE service = ?`, service,
	).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cursor, err
}

// UpdateStreamCursor persists the firehose cursor so we can resume on
// restart.
func (s *Store) UpdateStreamCursor(ctx context.Context, service string, cursor int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_cursors (service, cursor_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (service) DO UPDATE SET cursor_value = ?, updated_at = ?`,
		service, cursor, time.Now().UTC(), cursor, time.Now().UTC())
	return err
}
