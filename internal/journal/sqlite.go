package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/rand/docgraph/internal/graphdoc"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS journal (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    op_id      TEXT NOT NULL,
    operation  TEXT NOT NULL,
    scope      TEXT NOT NULL,
    root_uri   TEXT NOT NULL,
    status     TEXT NOT NULL,
    message    TEXT,
    snapshot   TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_status ON journal(scope, status);
`

// SQLiteJournal stores entries in a SQLite table.
type SQLiteJournal struct {
	db     *sql.DB
	ownsDB bool
	mu     sync.RWMutex
}

// NewSQLiteJournal creates the journal table in an existing database.
// The caller keeps ownership of db.
func NewSQLiteJournal(db *sql.DB) (*SQLiteJournal, error) {
	if _, err := db.Exec(journalSchema); err != nil {
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// OpenSQLiteJournal opens a dedicated journal database at path.
func OpenSQLiteJournal(path string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	j, err := NewSQLiteJournal(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	j.ownsDB = true
	return j, nil
}

func (j *SQLiteJournal) Begin(ctx context.Context, entry *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prepare(entry)

	var snapshotJSON []byte
	if entry.Snapshot != nil {
		var err error
		snapshotJSON, err = json.Marshal(entry.Snapshot)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO journal (id, op_id, operation, scope, root_uri, status, message, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.OpID, entry.Operation, entry.Scope, entry.RootURI, string(entry.Status),
		nullString(entry.Message), nullString(string(snapshotJSON)),
		formatTime(entry.CreatedAt), formatTime(entry.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Finish(ctx context.Context, id string, status Status, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	result, err := j.db.ExecContext(ctx, `
		UPDATE journal SET status = ?, message = ?, updated_at = ? WHERE id = ?
	`, string(status), nullString(message), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("update journal entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return &ErrNotFound{ID: id}
	}
	return nil
}

const selectColumns = `SELECT id, op_id, operation, scope, root_uri, status, message, snapshot, created_at, updated_at FROM journal`

func (j *SQLiteJournal) Get(ctx context.Context, id string) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	row := j.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{ID: id}
	}
	return entry, err
}

func (j *SQLiteJournal) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	query := selectColumns + " WHERE 1=1"
	var args []any

	if filter.Scope != "" {
		query += " AND scope = ?"
		args = append(args, filter.Scope)
	}
	if len(filter.Statuses) > 0 {
		query += " AND status IN (?" + strings.Repeat(",?", len(filter.Statuses)-1) + ")"
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}

	query += " ORDER BY seq DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close closes the database if the journal opened it.
func (j *SQLiteJournal) Close() error {
	if j.ownsDB {
		return j.db.Close()
	}
	return nil
}

func scanEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var entry Entry
	var message, snapshot sql.NullString
	var status, createdAt, updatedAt string

	err := row.Scan(
		&entry.ID, &entry.OpID, &entry.Operation, &entry.Scope, &entry.RootURI, &status,
		&message, &snapshot, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan journal entry: %w", err)
	}

	entry.Status = Status(status)
	entry.Message = message.String
	if snapshot.Valid && snapshot.String != "" {
		entry.Snapshot = &graphdoc.Snapshot{}
		if err := json.Unmarshal([]byte(snapshot.String), entry.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
	}
	if entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if entry.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &entry, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
