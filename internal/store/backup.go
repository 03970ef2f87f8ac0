package store

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

const (
	// compressedBackupPrefix marks a gzip+base64 encoded snapshot.
	compressedBackupPrefix = "compressed:"
	// backupCompressThreshold is the snapshot size past which the
	// serialized backup is compressed.
	backupCompressThreshold = 10 * 1024
)

type backupMetadata struct {
	TotalItems int  `json:"totalItems"`
	TotalSize  int  `json:"totalSize"`
	Encrypted  bool `json:"encrypted"`
}

// backupSnapshot is the portable export format: serialized record
// envelopes keyed by their namespaced key, plus enough metadata to
// sanity-check a restore.
type backupSnapshot struct {
	Version   string            `json:"version"`
	Timestamp int64             `json:"timestamp"`
	Data      map[string]string `json:"data"`
	Metadata  backupMetadata    `json:"metadata"`
}

// RestoreResult reports a restore outcome. A restore keeps going past
// per-record failures, so both counters can be non-zero.
type RestoreResult struct {
	Restored int `json:"restored"`
	Errors   int `json:"errors"`
}

// Backup serializes every namespaced record into a single portable
// string. When includeEncrypted is false, encrypted bodies are
// decrypted before inclusion so the bundle restores on installs with a
// different key; when true they are exported sealed as-is. Snapshots
// above the compression threshold are gzipped and base64 encoded with
// a marker prefix.
func (s *Store) Backup(includeEncrypted bool) (string, error) {
	keys, err := s.backend.Keys()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate records for backup: %w", err)
	}

	snapshot := backupSnapshot{
		Version:   s.version,
		Timestamp: s.now().UnixMilli(),
		Data:      make(map[string]string, len(keys)),
	}

	for _, k := range keys {
		raw, err := s.backend.Fetch(k)
		if err != nil {
			util.Warn("Skipping unreadable record in backup", zap.String("key", k), zap.Error(err))
			continue
		}
		var rec storedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			util.Warn("Skipping corrupted record in backup", zap.String("key", k), zap.Error(err))
			continue
		}

		if rec.Encrypted {
			if includeEncrypted {
				snapshot.Metadata.Encrypted = true
			} else {
				if !s.unsealForBackup(&rec) {
					util.Warn("Skipping undecryptable record in backup", zap.String("key", k))
					continue
				}
				raw, err = json.Marshal(&rec)
				if err != nil {
					util.Warn("Skipping unserializable record in backup", zap.String("key", k), zap.Error(err))
					continue
				}
			}
		}

		snapshot.Data[k] = string(raw)
		snapshot.Metadata.TotalSize += len(raw)
	}
	snapshot.Metadata.TotalItems = len(snapshot.Data)

	serialized, err := json.Marshal(&snapshot)
	if err != nil {
		return "", fmt.Errorf("failed to serialize backup: %w", err)
	}

	if len(serialized) <= backupCompressThreshold {
		util.Info("Backup created",
			zap.Int("records", snapshot.Metadata.TotalItems),
			zap.Int("bytes", len(serialized)))
		return string(serialized), nil
	}

	compressed, err := compress(serialized)
	if err != nil {
		// Fall back to the uncompressed form.
		util.Warn("Backup compression failed, returning raw snapshot", zap.Error(err))
		return string(serialized), nil
	}

	encoded := compressedBackupPrefix + base64.StdEncoding.EncodeToString(compressed)
	util.Info("Compressed backup created",
		zap.Int("records", snapshot.Metadata.TotalItems),
		zap.Int("raw_bytes", len(serialized)),
		zap.Int("encoded_bytes", len(encoded)))
	return encoded, nil
}

// unsealForBackup strips the encryption layer from a record envelope,
// leaving any compression in place.
func (s *Store) unsealForBackup(rec *storedRecord) bool {
	if s.enc == nil {
		return false
	}
	plain, err := s.enc.Decrypt(rec.Body)
	if err != nil {
		return false
	}
	rec.Encrypted = false
	if rec.Compressed {
		rec.Body = plain
	} else {
		rec.Value = plain
		rec.Body = nil
	}
	return true
}

// Restore imports a Backup payload. Existing keys are left alone unless
// overwrite is set. Individual record failures are counted and skipped;
// only an unreadable payload aborts the restore.
func (s *Store) Restore(payload string, overwrite bool) (RestoreResult, error) {
	var result RestoreResult

	serialized := []byte(payload)
	if strings.HasPrefix(payload, compressedBackupPrefix) {
		compressed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(payload, compressedBackupPrefix))
		if err != nil {
			return result, fmt.Errorf("backup payload is not valid base64: %w", err)
		}
		serialized, err = decompress(compressed)
		if err != nil {
			return result, fmt.Errorf("backup payload is not valid gzip: %w", err)
		}
	}

	var snapshot backupSnapshot
	if err := json.Unmarshal(serialized, &snapshot); err != nil {
		return result, fmt.Errorf("backup payload is not a valid snapshot: %w", err)
	}

	for k, entry := range snapshot.Data {
		if !strings.HasPrefix(k, s.prefix) {
			util.Warn("Skipping foreign key in backup", zap.String("key", k))
			result.Errors++
			continue
		}
		if !json.Valid([]byte(entry)) {
			util.Warn("Skipping corrupted backup entry", zap.String("key", k))
			result.Errors++
			continue
		}
		if !overwrite {
			if _, err := s.backend.Fetch(k); err == nil {
				util.Debug("Skipping existing key in restore", zap.String("key", k))
				continue
			} else if !errors.Is(err, backend.ErrNotFound) {
				util.Warn("Failed to check existing key", zap.String("key", k), zap.Error(err))
				result.Errors++
				continue
			}
		}
		if err := s.backend.Put(k, []byte(entry)); err != nil {
			util.Warn("Failed to restore record", zap.String("key", k), zap.Error(err))
			result.Errors++
			continue
		}
		result.Restored++
	}

	util.Info("Backup restored",
		zap.String("backup_version", snapshot.Version),
		zap.Time("backup_time", time.UnixMilli(snapshot.Timestamp)),
		zap.Int("restored", result.Restored),
		zap.Int("errors", result.Errors))

	return result, nil
}
