package metadata

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/idsync/internal/client/side"
	"github.com/openmined/idsync/internal/db"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS entries (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    kind TEXT NOT NULL,
    trashed INTEGER NOT NULL DEFAULT 0,
    conflict_suffix TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    local_id TEXT,
    local_path TEXT,
    local_rev INTEGER,
    local_trashed INTEGER,
    remote_id TEXT,
    remote_path TEXT,
    remote_rev INTEGER,
    remote_trashed INTEGER
);

CREATE INDEX IF NOT EXISTS idx_entries_path ON entries(path);

CREATE TABLE IF NOT EXISTS sync_state (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// StateCursor is the sync_state key of the committed remote cursor.
const StateCursor = "remote_cursor"

type dbEntry struct {
	ID             string `db:"id"`
	Path           string `db:"path"`
	Kind           string `db:"kind"`
	Trashed        bool   `db:"trashed"`
	ConflictSuffix string `db:"conflict_suffix"`
	CreatedAt      string `db:"created_at"`
	UpdatedAt      string `db:"updated_at"`

	LocalID      sql.NullString `db:"local_id"`
	LocalPath    sql.NullString `db:"local_path"`
	LocalRev     sql.NullInt64  `db:"local_rev"`
	LocalTrashed sql.NullBool   `db:"local_trashed"`

	RemoteID      sql.NullString `db:"remote_id"`
	RemotePath    sql.NullString `db:"remote_path"`
	RemoteRev     sql.NullInt64  `db:"remote_rev"`
	RemoteTrashed sql.NullBool   `db:"remote_trashed"`
}

func toDB(e *Entry) dbEntry {
	row := dbEntry{
		ID:             e.ID,
		Path:           e.Path,
		Kind:           string(e.Kind),
		Trashed:        e.Trashed,
		ConflictSuffix: e.ConflictSuffix,
		CreatedAt:      e.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:      e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if st := e.Local; st != nil {
		row.LocalID = sql.NullString{String: st.ID, Valid: true}
		row.LocalPath = sql.NullString{String: st.Path, Valid: true}
		row.LocalRev = sql.NullInt64{Int64: st.Rev, Valid: true}
		row.LocalTrashed = sql.NullBool{Bool: st.Trashed, Valid: true}
	}
	if st := e.Remote; st != nil {
		row.RemoteID = sql.NullString{String: st.ID, Valid: true}
		row.RemotePath = sql.NullString{String: st.Path, Valid: true}
		row.RemoteRev = sql.NullInt64{Int64: st.Rev, Valid: true}
		row.RemoteTrashed = sql.NullBool{Bool: st.Trashed, Valid: true}
	}
	return row
}

func (row *dbEntry) toEntry() (*Entry, error) {
	created, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at of %s: %w", row.ID, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at of %s: %w", row.ID, err)
	}

	e := &Entry{
		ID:             row.ID,
		Path:           row.Path,
		Kind:           side.Kind(row.Kind),
		Trashed:        row.Trashed,
		ConflictSuffix: row.ConflictSuffix,
		CreatedAt:      created,
		UpdatedAt:      updated,
	}
	if row.LocalID.Valid {
		e.Local = &SideState{ID: row.LocalID.String, Path: row.LocalPath.String, Rev: row.LocalRev.Int64, Trashed: row.LocalTrashed.Bool}
	}
	if row.RemoteID.Valid {
		e.Remote = &SideState{ID: row.RemoteID.String, Path: row.RemotePath.String, Rev: row.RemoteRev.Int64, Trashed: row.RemoteTrashed.Bool}
	}
	return e, nil
}

// Journal persists the store and the sync cursor in SQLite.
type Journal struct {
	db     *sqlx.DB
	dbPath string
}

// NewJournal prepares a journal at dbPath. Use db.MemoryPath for tests.
func NewJournal(dbPath string) *Journal {
	return &Journal{dbPath: dbPath}
}

func (j *Journal) Open() error {
	if j.db != nil {
		return fmt.Errorf("journal already open")
	}

	conn, err := db.NewSqliteDB(db.WithPath(j.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	if _, err := conn.Exec(journalSchema); err != nil {
		conn.Close()
		return fmt.Errorf("initialize journal schema: %w", err)
	}

	j.db = conn
	return nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return fmt.Errorf("journal not open")
	}
	err := j.db.Close()
	j.db = nil
	if err != nil {
		slog.Error("journal close", "error", err)
		return err
	}
	return nil
}

// Save replaces the persisted entries with the given set in one transaction.
func (j *Journal) Save(entries []*Entry) error {
	tx, err := j.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin journal save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec("DELETE FROM entries"); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}

	const query = `INSERT INTO entries (
		id, path, kind, trashed, conflict_suffix, created_at, updated_at,
		local_id, local_path, local_rev, local_trashed,
		remote_id, remote_path, remote_rev, remote_trashed
	) VALUES (
		:id, :path, :kind, :trashed, :conflict_suffix, :created_at, :updated_at,
		:local_id, :local_path, :local_rev, :local_trashed,
		:remote_id, :remote_path, :remote_rev, :remote_trashed
	)`
	for _, e := range entries {
		if _, err := tx.NamedExec(query, toDB(e)); err != nil {
			return fmt.Errorf("save entry %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal save: %w", err)
	}
	slog.Debug("journal saved", "entries", len(entries))
	return nil
}

// Load returns every persisted entry.
func (j *Journal) Load() ([]*Entry, error) {
	var rows []dbEntry
	if err := j.db.Select(&rows, "SELECT * FROM entries ORDER BY path, id"); err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}

	entries := make([]*Entry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (j *Journal) Count() (int, error) {
	var n int
	if err := j.db.Get(&n, "SELECT COUNT(*) FROM entries"); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (j *Journal) SetState(key, value string) error {
	_, err := j.db.Exec("INSERT OR REPLACE INTO sync_state (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// GetState returns the stored value of key, or "" when unset.
func (j *Journal) GetState(key string) (string, error) {
	var value string
	err := j.db.Get(&value, "SELECT value FROM sync_state WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}
