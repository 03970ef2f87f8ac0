// Package local implements the file-backed storage backend. It is the
// default engine: a single JSON data file with an enforced byte quota,
// mirroring the constrained profile storage the application was
// designed around.
package local

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

type Backend struct {
	mu       sync.Mutex
	path     string // empty means memory-only
	maxBytes int64
	data     map[string][]byte
	size     int64
}

// New opens (or creates) the data file at path. An empty path keeps the
// backend memory-only, which the tests rely on. maxBytes <= 0 disables
// the quota.
func New(path string, maxBytes int64) (*Backend, error) {
	b := &Backend{
		path:     path,
		maxBytes: maxBytes,
		data:     make(map[string][]byte),
	}

	if path != "" {
		if err := b.load(); err != nil {
			return nil, fmt.Errorf("failed to load data file: %w", err)
		}
	}

	util.Info("Local storage backend ready",
		zap.String("path", path),
		zap.Int64("max_bytes", maxBytes),
		zap.Int("items", len(b.data)))

	return b, nil
}

func (b *Backend) Put(key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	projected := b.size + int64(len(value)) + int64(len(key))
	if existing, ok := b.data[key]; ok {
		projected -= int64(len(existing)) + int64(len(key))
	}
	if b.maxBytes > 0 && projected > b.maxBytes {
		return backend.ErrQuotaExceeded
	}

	b.data[key] = append([]byte(nil), value...)
	b.size = projected
	return b.flush()
}

func (b *Backend) Fetch(key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	value, ok := b.data[key]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (b *Backend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.data[key]; ok {
		b.size -= int64(len(existing)) + int64(len(key))
		delete(b.data, key)
		return b.flush()
	}
	return nil
}

func (b *Backend) Keys() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flush()
}

// Used returns the current accounted byte size.
func (b *Backend) Used() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Backend) load() error {
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var stored map[string][]byte
	if err := json.Unmarshal(raw, &stored); err != nil {
		// A mangled data file should not brick the application; start
		// fresh and keep the broken file aside for inspection.
		util.Warn("Data file is corrupted, starting empty",
			zap.String("path", b.path),
			zap.Error(err))
		_ = os.Rename(b.path, b.path+".corrupt")
		return nil
	}

	b.data = stored
	for k, v := range stored {
		b.size += int64(len(k)) + int64(len(v))
	}
	return nil
}

// flush writes the whole map through a temp file and rename so a crash
// mid-write never leaves a half-written data file. Callers hold b.mu.
func (b *Backend) flush() error {
	if b.path == "" {
		return nil
	}

	raw, err := json.Marshal(b.data)
	if err != nil {
		return err
	}

	tmp := b.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}
