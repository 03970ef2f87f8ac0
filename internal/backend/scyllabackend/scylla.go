// Package scyllabackend stores records in a ScyllaDB/Cassandra table.
package scyllabackend

import (
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/config"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

type Backend struct {
	session *gocql.Session
	table   string
}

func New(cfg *config.Config) (*Backend, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	b := &Backend{session: session, table: scyllaConfig.Table}
	if err := b.ensureTable(); err != nil {
		session.Close()
		return nil, err
	}

	util.Info("ScyllaDB storage backend ready",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace),
		zap.String("table", scyllaConfig.Table))

	return b, nil
}

func (b *Backend) ensureTable() error {
	query := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (key text PRIMARY KEY, value blob)`, b.table)
	if err := b.session.Query(query).Exec(); err != nil {
		return fmt.Errorf("failed to create %s table: %w", b.table, err)
	}
	return nil
}

func (b *Backend) Put(key string, value []byte) error {
	query := fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?)`, b.table)
	return b.session.Query(query, key, value).Exec()
}

func (b *Backend) Fetch(key string) ([]byte, error) {
	var value []byte
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, b.table)
	err := b.session.Query(query, key).Scan(&value)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, backend.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (b *Backend) Delete(key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, b.table)
	return b.session.Query(query, key).Exec()
}

func (b *Backend) Keys() ([]string, error) {
	query := fmt.Sprintf(`SELECT key FROM %s`, b.table)
	iter := b.session.Query(query).Iter()

	var keys []string
	var k string
	for iter.Scan(&k) {
		keys = append(keys, k)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (b *Backend) Close() error {
	b.session.Close()
	util.Info("ScyllaDB storage backend closed")
	return nil
}
