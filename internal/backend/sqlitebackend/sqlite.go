// Package sqlitebackend stores records in a single-table SQLite
// database, for deployments that want durable storage without an
// external service.
package sqlitebackend

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv_records (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);`

type Backend struct {
	db *sql.DB
}

func New(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// database/sql pooling does not help a file database and concurrent
	// writers would trip SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv_records table: %w", err)
	}

	util.Info("SQLite storage backend ready", zap.String("path", path))
	return &Backend{db: db}, nil
}

func (b *Backend) Put(key string, value []byte) error {
	_, err := b.db.Exec(
		`INSERT INTO kv_records (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

func (b *Backend) Fetch(key string) ([]byte, error) {
	var value []byte
	err := b.db.QueryRow(`SELECT value FROM kv_records WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *Backend) Delete(key string) error {
	_, err := b.db.Exec(`DELETE FROM kv_records WHERE key = ?`, key)
	return err
}

func (b *Backend) Keys() ([]string, error) {
	rows, err := b.db.Query(`SELECT key FROM kv_records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (b *Backend) Close() error {
	if err := b.db.Close(); err != nil {
		util.Error("failed to close sqlite database", zap.Error(err))
		return err
	}
	util.Info("SQLite storage backend closed")
	return nil
}
