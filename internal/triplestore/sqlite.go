package triplestore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/rand/docgraph/internal/graphdoc"
)

//go:embed schema.sql
var schemaSQL string

// deleteBatchSize bounds the number of subjects bound into one DELETE.
const deleteBatchSize = 500

// SQLiteStore is a Store backed by a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	closed bool
}

// SQLiteOptions configures the SQLite store.
type SQLiteOptions struct {
	// Path to the SQLite database file.
	// If empty, uses a private in-memory database.
	Path string

	// CreateIfNotExists creates the parent directory if it doesn't exist.
	CreateIfNotExists bool
}

// NewSQLiteStore opens (and if needed initializes) a SQLite store.
func NewSQLiteStore(opts SQLiteOptions) (*SQLiteStore, error) {
	var dsn string

	if opts.Path == "" {
		dsn = ":memory:"
	} else {
		if opts.CreateIfNotExists {
			dir := filepath.Dir(opts.Path)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = "file:" + opts.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.Path == "" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{
		db:   db,
		path: opts.Path,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// DB returns the underlying database connection.
// The journal shares it when both live in the same file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Exists reports whether uri is typed typ (any type when typ is empty).
func (s *SQLiteStore) Exists(ctx context.Context, scope, uri, typ string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrClosed
	}

	query := "SELECT EXISTS (SELECT 1 FROM triples WHERE scope = ? AND subject = ? AND predicate = ?"
	args := []any{scope, uri, graphdoc.PredType}
	if typ != "" {
		query += " AND object = ?"
		args = append(args, typ)
	}
	query += ")"

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("probe subject: %w", err)
	}
	return exists, nil
}

// FetchSubjectTriples returns every triple of uri.
func (s *SQLiteStore) FetchSubjectTriples(ctx context.Context, scope, uri string) ([]graphdoc.Triple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, predicate, object FROM triples
		WHERE scope = ? AND subject = ?
		ORDER BY subject, predicate, object
	`, scope, uri)
	if err != nil {
		return nil, fmt.Errorf("query subject: %w", err)
	}
	defer rows.Close()

	return scanTriples(rows)
}

// FetchByTag returns the triples of every subject carrying tag = value.
func (s *SQLiteStore) FetchByTag(ctx context.Context, scope, tag, value string) ([]graphdoc.Triple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.subject, t.predicate, t.object FROM triples t
		WHERE t.scope = ? AND t.subject IN (
			SELECT subject FROM triples
			WHERE scope = ? AND predicate = ? AND object = ?
		)
		ORDER BY t.subject, t.predicate, t.object
	`, scope, scope, tag, value)
	if err != nil {
		return nil, fmt.Errorf("query tag: %w", err)
	}
	defer rows.Close()

	return scanTriples(rows)
}

// DeleteTriples removes every triple of the given subjects in one transaction.
func (s *SQLiteStore) DeleteTriples(ctx context.Context, scope string, subjects []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if len(subjects) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for start := 0; start < len(subjects); start += deleteBatchSize {
			batch := subjects[start:min(start+deleteBatchSize, len(subjects))]

			args := make([]any, 0, len(batch)+1)
			args = append(args, scope)
			for _, subject := range batch {
				args = append(args, subject)
			}

			query := "DELETE FROM triples WHERE scope = ? AND subject IN (?" +
				strings.Repeat(",?", len(batch)-1) + ")"
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("delete triples: %w", err)
			}
		}
		return nil
	})
}

// InsertTriples adds triples in one transaction.
func (s *SQLiteStore) InsertTriples(ctx context.Context, scope string, triples []graphdoc.Triple) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if len(triples) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT OR IGNORE INTO triples (scope, subject, predicate, object) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, t := range triples {
			if _, err := stmt.ExecContext(ctx, scope, t.Subject, t.Predicate, t.Object); err != nil {
				return fmt.Errorf("insert triple: %w", err)
			}
		}
		return nil
	})
}

// SubjectsOfType lists the subjects typed typ, sorted.
func (s *SQLiteStore) SubjectsOfType(ctx context.Context, scope, typ string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT subject FROM triples
		WHERE scope = ? AND predicate = ? AND object = ?
		ORDER BY subject
	`, scope, graphdoc.PredType, typ)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// withTx executes fn within a transaction, rolling back if it fails.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func scanTriples(rows *sql.Rows) ([]graphdoc.Triple, error) {
	var out []graphdoc.Triple
	for rows.Next() {
		var t graphdoc.Triple
		if err := rows.Scan(&t.Subject, &t.Predicate, &t.Object); err != nil {
			return nil, fmt.Errorf("scan triple: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
