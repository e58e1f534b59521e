package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wirecall/internal/store"
)

// Schema creates the call history table. It is safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS call_history (
	id              TEXT PRIMARY KEY,
	local_identity  TEXT NOT NULL,
	remote_identity TEXT NOT NULL,
	direction       TEXT NOT NULL,
	media_kind      TEXT NOT NULL,
	peer_name       TEXT NOT NULL DEFAULT '',
	peer_avatar     TEXT NOT NULL DEFAULT '',
	end_reason      TEXT NOT NULL,
	started_at      DATETIME NOT NULL,
	connected_at    DATETIME,
	ended_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_history_local ON call_history(local_identity, started_at DESC);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies Schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, ApplySchema)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; it also keeps
	// an in-memory database alive across queries.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// ApplySchema runs Schema on db.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== HistoryStore implementation ====

// RecordCall persists a finished call. Recording the same session twice
// keeps the latest version.
func (s *SQLiteStore) RecordCall(ctx context.Context, rec *store.CallRecord) error {
	query := `
		INSERT OR REPLACE INTO call_history
			(id, local_identity, remote_identity, direction, media_kind, peer_name, peer_avatar,
			 end_reason, started_at, connected_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var connectedAt any
	if rec.ConnectedAt != nil {
		connectedAt = rec.ConnectedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.LocalIdentity,
		rec.RemoteIdentity,
		rec.Direction,
		rec.MediaKind,
		rec.PeerName,
		rec.PeerAvatar,
		rec.EndReason,
		rec.StartedAt.UTC(),
		connectedAt,
		rec.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// GetCall retrieves a call record by session ID.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*store.CallRecord, error) {
	query := `
		SELECT id, local_identity, remote_identity, direction, media_kind, peer_name, peer_avatar,
		       end_reason, started_at, connected_at, ended_at
		FROM call_history
		WHERE id = ?
	`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("call %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query call record: %w", err)
	}
	return rec, nil
}

// ListCalls lists the most recent calls, newest first.
func (s *SQLiteStore) ListCalls(ctx context.Context, localIdentity string, limit int) ([]*store.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, local_identity, remote_identity, direction, media_kind, peer_name, peer_avatar,
		       end_reason, started_at, connected_at, ended_at
		FROM call_history
		WHERE (? = '' OR local_identity = ?)
		ORDER BY started_at DESC, id
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, localIdentity, localIdentity, limit)
	if err != nil {
		return nil, fmt.Errorf("query call history: %w", err)
	}
	defer rows.Close()

	var out []*store.CallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call history: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*store.CallRecord, error) {
	var (
		rec         store.CallRecord
		connectedAt sql.NullTime
	)
	err := row.Scan(
		&rec.ID,
		&rec.LocalIdentity,
		&rec.RemoteIdentity,
		&rec.Direction,
		&rec.MediaKind,
		&rec.PeerName,
		&rec.PeerAvatar,
		&rec.EndReason,
		&rec.StartedAt,
		&connectedAt,
		&rec.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	if connectedAt.Valid {
		t := connectedAt.Time
		rec.ConnectedAt = &t
	}
	return &rec, nil
}

var _ store.Store = (*SQLiteStore)(nil)
