package relaydiff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// sqlitePragmas must all apply; without busy_timeout concurrent viewers fail
// with SQLITE_BUSY instead of waiting for the writer.
var sqlitePragmas = []string{
	"PRAGMA busy_timeout = 5000;",
	"PRAGMA journal_mode = WAL;",
	"PRAGMA synchronous = NORMAL;",
}

// SQLiteEntryStore is the default local backend: one database file shared by
// every viewer process on the machine.
type SQLiteEntryStore struct {
	path string

	once sync.Once
	err  error
	db   *sql.DB
}

func NewSQLiteEntryStore(path string) (*SQLiteEntryStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	st := &SQLiteEntryStore{path: path}
	if err := st.init(); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SQLiteEntryStore) WatchPath() string {
	return s.path
}

func (s *SQLiteEntryStore) init() error {
	s.once.Do(func() {
		db, err := sql.Open("sqlite", s.path)
		if err != nil {
			s.err = fmt.Errorf("%w: open database: %v", ErrStoreUnavailable, err)
			return
		}
		// pragmas below are per connection
		db.SetMaxOpenConns(1)
		for _, pragma := range sqlitePragmas {
			if _, err := db.Exec(pragma); err != nil {
				_ = db.Close()
				s.err = fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, pragma, err)
				return
			}
		}

		schema := `
		CREATE TABLE IF NOT EXISTS entries (
			entry_key TEXT PRIMARY KEY,
			payload   TEXT NOT NULL
		);`
		if _, err := db.Exec(schema); err != nil {
			_ = db.Close()
			s.err = fmt.Errorf("%w: migrate: %v", ErrStoreUnavailable, err)
			return
		}
		s.db = db
	})
	return s.err
}

func (s *SQLiteEntryStore) Put(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	if err := s.init(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (entry_key, payload) VALUES (?, ?)",
		key, string(value),
	)
	if err != nil {
		return fmt.Errorf("%w: insert entry: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SQLiteEntryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM entries WHERE entry_key = ?", key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get entry: %v", ErrStoreUnavailable, err)
	}
	return []byte(payload), nil
}

func (s *SQLiteEntryStore) Scan(ctx context.Context, start, end string) ([]StoredEntry, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT entry_key, payload FROM entries WHERE entry_key >= ? AND entry_key < ? ORDER BY entry_key",
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: scan entries: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []StoredEntry
	for rows.Next() {
		var key, payload string
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("%w: scan entries: %v", ErrStoreUnavailable, err)
		}
		out = append(out, StoredEntry{Key: key, Value: []byte(payload)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan entries: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

func (s *SQLiteEntryStore) Remove(ctx context.Context, key string) error {
	if err := s.init(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE entry_key = ?", key)
	if err != nil {
		return fmt.Errorf("%w: delete entry: %v", ErrStoreUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteEntryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
