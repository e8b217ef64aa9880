package cache

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStorage persists namespaces in a SQLite database file.
// Use "file::memory:?cache=shared" as the filename for an in-memory database.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

func NewSQLiteStorage(filename string) (SQLiteStorage, error) {
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStorage{}, err
	}
	for _, stmt := range []string{
		"CREATE TABLE IF NOT EXISTS namespaces (name TEXT PRIMARY KEY, created INTEGER)",
		"CREATE TABLE IF NOT EXISTS entries (namespace TEXT, key TEXT, stored INTEGER, bytes BLOB, PRIMARY KEY (namespace, key))",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteStorage{}, err
		}
	}
	return SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Close closes the underlying database.
func (s SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s SQLiteStorage) Open(ctx context.Context, name string) (Namespace, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO namespaces (name, created) VALUES (?, ?)", name, time.Now().UnixNano())
	if err != nil {
		return nil, err
	}
	return sqliteNamespace{storage: s, name: name}, nil
}

func (s SQLiteStorage) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM namespaces ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE namespace = ?", name); err != nil {
		return false, err
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM namespaces WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return deleted > 0, tx.Commit()
}

type sqliteNamespace struct {
	storage SQLiteStorage
	name    string
}

func (n sqliteNamespace) Name() string {
	return n.name
}

func (n sqliteNamespace) Match(ctx context.Context, key string) (Entry, bool, error) {
	var stored int64
	entry := Entry{Key: key}
	err := n.storage.db.QueryRowContext(ctx,
		"SELECT stored, bytes FROM entries WHERE namespace = ? AND key = ?", n.name, key).
		Scan(&stored, &entry.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	} else if err != nil {
		return Entry{}, false, err
	}
	entry.StoredAt = time.Unix(0, stored)
	return entry, true, nil
}

func (n sqliteNamespace) Put(ctx context.Context, entry Entry) error {
	n.storage.writeMutex.Lock()
	defer n.storage.writeMutex.Unlock()
	result, err := n.storage.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO entries (namespace, key, stored, bytes) SELECT ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM namespaces WHERE name = ?)",
		n.name, entry.Key, entry.StoredAt.UnixNano(), entry.Bytes, n.name)
	if err != nil {
		return err
	}
	if written, err := result.RowsAffected(); err != nil {
		return err
	} else if written == 0 {
		return ErrNamespaceDeleted
	}
	return nil
}

func (n sqliteNamespace) Keys(ctx context.Context) ([]string, error) {
	rows, err := n.storage.db.QueryContext(ctx, "SELECT key FROM entries WHERE namespace = ? ORDER BY key", n.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (n sqliteNamespace) Purge(ctx context.Context, key string) error {
	n.storage.writeMutex.Lock()
	defer n.storage.writeMutex.Unlock()
	_, err := n.storage.db.ExecContext(ctx, "DELETE FROM entries WHERE namespace = ? AND key = ?", n.name, key)
	return err
}
