// Package backend defines the persistence contract the key-value store
// sits on. A backend is a dumb byte-oriented key space; namespacing,
// envelopes, checksums and eviction policy all live above it.
package backend

import "errors"

var (
	// ErrNotFound is returned by Fetch when the key has no value.
	ErrNotFound = errors.New("backend: key not found")
	// ErrQuotaExceeded is returned by Put when the write would exceed
	// the configured storage quota.
	ErrQuotaExceeded = errors.New("backend: storage quota exceeded")
)

type Backend interface {
	Put(key string, value []byte) error
	Fetch(key string) ([]byte, error)
	Delete(key string) error
	Keys() ([]string, error)
	Close() error
}
