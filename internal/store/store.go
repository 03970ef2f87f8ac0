// Package store implements the namespaced key-value engine the rest of
// the application persists through: JSON record envelopes with
// timestamps, checksums, optional compression and encryption-at-rest,
// quota-driven eviction and advisory storage statistics.
//
// Nothing here throws across the public boundary: callers always get a
// boolean result or their zero value back, and corrupted entries are
// evicted on read.
package store

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/util"
)

const (
	// statsKey holds the aggregate storage statistics record.
	statsKey = "_storage_stats"
	// maxNamespacedKeyLen bounds the full key after prefixing.
	maxNamespacedKeyLen = 100
)

// Encryptor is the optional encryption-at-rest capability. When nil the
// store silently degrades to plaintext storage.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Notifier receives user-facing warnings (quota exhaustion and the
// like). When nil the warnings only reach the log.
type Notifier interface {
	Show(message, level string, duration time.Duration)
}

type Options struct {
	Prefix            string
	Version           string
	CompressThreshold int
	EvictFraction     float64
	Encryptor         Encryptor
	Notifier          Notifier
	// Now is injectable for deterministic expiry tests.
	Now func() time.Time
}

type Store struct {
	backend           backend.Backend
	prefix            string
	version           string
	compressThreshold int
	evictFraction     float64
	enc               Encryptor
	notifier          Notifier
	now               func() time.Time
}

func New(b backend.Backend, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "basira_"
	}
	if opts.Version == "" {
		opts.Version = "2.0"
	}
	if opts.CompressThreshold == 0 {
		opts.CompressThreshold = 1024
	}
	if opts.EvictFraction == 0 {
		opts.EvictFraction = 0.25
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Store{
		backend:           b,
		prefix:            opts.Prefix,
		version:           opts.Version,
		compressThreshold: opts.CompressThreshold,
		evictFraction:     opts.EvictFraction,
		enc:               opts.Encryptor,
		notifier:          opts.Notifier,
		now:               opts.Now,
	}
}

// Set persists value under the logical key. It reports false on invalid
// input, serialization failure, or a write that still fails after quota
// eviction; it never panics or returns an error to propagate.
func (s *Store) Set(key string, value interface{}) bool {
	return s.SetWithTTL(key, value, 0)
}

// SetWithTTL is Set with a relative expiry; ttl <= 0 means no expiry.
func (s *Store) SetWithTTL(key string, value interface{}, ttl time.Duration) bool {
	nsKey, ok := s.namespacedKey(key)
	if !ok {
		return false
	}

	valueBytes, err := json.Marshal(value)
	if err != nil {
		util.Warn("Value is not serializable", zap.String("key", key), zap.Error(err))
		s.show("خطأ في حفظ البيانات", "error")
		return false
	}

	now := s.now()
	rec := storedRecord{
		Timestamp: now.UnixMilli(),
		Version:   s.version,
		Size:      len(valueBytes),
		Checksum:  checksum(valueBytes),
	}
	if ttl > 0 {
		rec.Expires = now.Add(ttl).UnixMilli()
	}

	body := valueBytes
	encoding := EncodingRaw

	if s.compressThreshold > 0 && len(body) > s.compressThreshold {
		compressed, err := compress(body)
		if err != nil {
			util.Warn("Compression failed, storing raw", zap.String("key", key), zap.Error(err))
		} else {
			body = compressed
			encoding = EncodingCompressed
		}
	}

	if s.enc != nil && key != statsKey {
		sealed, err := s.enc.Encrypt(body)
		if err != nil {
			// Degrade to unencrypted rather than losing the write.
			util.Warn("Encryption failed, storing unencrypted", zap.String("key", key), zap.Error(err))
		} else {
			body = sealed
			if encoding == EncodingCompressed {
				encoding = EncodingCompressedEncrypted
			} else {
				encoding = EncodingEncrypted
			}
		}
	}

	rec.setEncoding(encoding)
	if encoding == EncodingRaw {
		rec.Value = valueBytes
	} else {
		rec.Body = body
	}

	raw, err := json.Marshal(&rec)
	if err != nil {
		util.Error("Failed to serialize record envelope", zap.String("key", key), zap.Error(err))
		return false
	}

	var previousSize int
	if existing, err := s.backend.Fetch(nsKey); err == nil {
		previousSize = len(existing)
	}

	if err := s.backend.Put(nsKey, raw); err != nil {
		if !errors.Is(err, backend.ErrQuotaExceeded) {
			util.Error("Failed to write record", zap.String("key", key), zap.Error(err))
			s.show("خطأ في حفظ البيانات", "error")
			return false
		}

		s.evictOldest()
		if err := s.backend.Put(nsKey, raw); err != nil {
			util.Error("Write still failing after eviction", zap.String("key", key), zap.Error(err))
			s.show("مساحة التخزين ممتلئة. تعذر حفظ البيانات.", "warning")
			return false
		}
		s.show("مساحة التخزين ممتلئة. تم تنظيف البيانات القديمة.", "warning")
	}

	if key != statsKey {
		countDelta := 1
		if previousSize > 0 {
			countDelta = 0
		}
		s.updateStats(int64(len(raw)-previousSize), countDelta)
	}

	util.Debug("Record stored",
		zap.String("key", key),
		zap.Int("size", rec.Size),
		zap.String("encoding", encoding.String()))

	return true
}

// Get reads the logical key into out (a pointer). It reports false when
// the key is absent, expired, corrupted or undecryptable; out is left
// untouched in those cases so the caller's default survives. Corrupted
// and expired entries are deleted as a side effect.
func (s *Store) Get(key string, out interface{}) bool {
	nsKey, ok := s.namespacedKey(key)
	if !ok {
		return false
	}

	raw, err := s.backend.Fetch(nsKey)
	if err != nil {
		if !errors.Is(err, backend.ErrNotFound) {
			util.Warn("Failed to read record", zap.String("key", key), zap.Error(err))
		}
		return false
	}

	var rec storedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		util.Warn("Record envelope is corrupted, evicting", zap.String("key", key), zap.Error(err))
		s.deleteRaw(nsKey, len(raw))
		return false
	}

	var valueBytes []byte
	switch rec.encoding() {
	case EncodingRaw:
		valueBytes = rec.Value
	case EncodingCompressed:
		valueBytes, err = decompress(rec.Body)
		if err != nil {
			util.Warn("Record body is corrupted, evicting", zap.String("key", key), zap.Error(err))
			s.deleteRaw(nsKey, len(raw))
			return false
		}
	case EncodingEncrypted, EncodingCompressedEncrypted:
		if s.enc == nil {
			util.Warn("Encrypted record but no encryptor configured", zap.String("key", key))
			return false
		}
		valueBytes, err = s.enc.Decrypt(rec.Body)
		if err != nil {
			util.Warn("Failed to decrypt record", zap.String("key", key), zap.Error(err))
			return false
		}
		if rec.encoding() == EncodingCompressedEncrypted {
			valueBytes, err = decompress(valueBytes)
			if err != nil {
				util.Warn("Record body is corrupted, evicting", zap.String("key", key), zap.Error(err))
				s.deleteRaw(nsKey, len(raw))
				return false
			}
		}
	}

	if !validChecksum(valueBytes, rec.Checksum) {
		util.Warn("Record checksum mismatch, evicting", zap.String("key", key))
		s.deleteRaw(nsKey, len(raw))
		return false
	}

	if rec.Version != "" && rec.Version != s.version {
		s.migrate(nsKey, &rec)
	}

	if rec.Expires > 0 && s.now().UnixMilli() > rec.Expires {
		util.Debug("Record expired", zap.String("key", key))
		s.deleteRaw(nsKey, len(raw))
		return false
	}

	if err := json.Unmarshal(valueBytes, out); err != nil {
		util.Warn("Record value does not match expected shape",
			zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Remove deletes the logical key. Missing keys are not an error.
func (s *Store) Remove(key string) bool {
	nsKey, ok := s.namespacedKey(key)
	if !ok {
		return false
	}

	raw, err := s.backend.Fetch(nsKey)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return true
		}
		util.Warn("Failed to read record before removal", zap.String("key", key), zap.Error(err))
	}

	if err := s.backend.Delete(nsKey); err != nil {
		util.Error("Failed to remove record", zap.String("key", key), zap.Error(err))
		return false
	}

	if key != statsKey && raw != nil {
		s.updateStats(-int64(len(raw)), -1)
	}
	return true
}

// Stats returns the advisory aggregate statistics record.
func (s *Store) Stats() Stats {
	var stats Stats
	s.Get(statsKey, &stats)
	return stats
}

// migrate rewrites a stale version tag in place. The value itself is
// untouched; this is the no-op upgrade path inherited from the schema
// history.
func (s *Store) migrate(nsKey string, rec *storedRecord) {
	oldVersion := rec.Version
	rec.Version = s.version

	raw, err := json.Marshal(rec)
	if err == nil {
		err = s.backend.Put(nsKey, raw)
	}
	if err != nil {
		util.Warn("Failed to migrate record version",
			zap.String("key", nsKey),
			zap.String("from", oldVersion),
			zap.Error(err))
		return
	}
	util.Info("Record version migrated",
		zap.String("key", nsKey),
		zap.String("from", oldVersion),
		zap.String("to", s.version))
}

// evictOldest removes the oldest configured fraction of namespaced
// records by write timestamp. Unparseable entries count as corrupt and
// go first.
func (s *Store) evictOldest() {
	keys, err := s.backend.Keys()
	if err != nil {
		util.Error("Failed to enumerate keys for eviction", zap.Error(err))
		return
	}

	type aged struct {
		key       string
		timestamp int64
		size      int
	}
	var items []aged

	for _, k := range keys {
		raw, err := s.backend.Fetch(k)
		if err != nil {
			continue
		}
		var rec storedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			_ = s.backend.Delete(k)
			continue
		}
		items = append(items, aged{key: k, timestamp: rec.Timestamp, size: len(raw)})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].timestamp < items[j].timestamp
	})

	removeCount := int(math.Ceil(float64(len(items)) * s.evictFraction))
	removed := 0
	var freed int64
	for i := 0; i < removeCount && i < len(items); i++ {
		if err := s.backend.Delete(items[i].key); err != nil {
			continue
		}
		removed++
		freed += int64(items[i].size)
	}
	s.updateStats(-freed, -removed)

	util.Warn("Storage quota exceeded, evicted oldest records",
		zap.Int("removed", removed),
		zap.Int64("freed_bytes", freed))
}

func (s *Store) namespacedKey(key string) (string, bool) {
	if key == "" {
		util.Warn("Empty storage key rejected")
		return "", false
	}
	nsKey := s.prefix + util.SanitizeKey(key)
	if len(nsKey) > maxNamespacedKeyLen {
		util.Warn("Storage key too long", zap.String("key", key))
		return "", false
	}
	return nsKey, true
}

// updateStats maintains the advisory stats record. It writes a plain
// envelope directly against the backend so a stats write can never
// recurse through Set or trip eviction.
func (s *Store) updateStats(sizeDelta int64, countDelta int) {
	var stats Stats
	s.Get(statsKey, &stats)

	stats.TotalSize += sizeDelta
	if stats.TotalSize < 0 {
		stats.TotalSize = 0
	}
	stats.ItemCount += countDelta
	if stats.ItemCount < 0 {
		stats.ItemCount = 0
	}
	stats.LastUpdated = s.now().UnixMilli()

	valueBytes, err := json.Marshal(&stats)
	if err != nil {
		return
	}
	rec := storedRecord{
		Value:     valueBytes,
		Timestamp: stats.LastUpdated,
		Version:   s.version,
		Size:      len(valueBytes),
		Checksum:  checksum(valueBytes),
	}
	raw, err := json.Marshal(&rec)
	if err != nil {
		return
	}
	nsKey, _ := s.namespacedKey(statsKey)
	if err := s.backend.Put(nsKey, raw); err != nil {
		util.Debug("Failed to update storage stats", zap.Error(err))
	}
}

func (s *Store) deleteRaw(nsKey string, size int) {
	if err := s.backend.Delete(nsKey); err != nil {
		util.Warn("Failed to evict corrupted record", zap.String("key", nsKey), zap.Error(err))
		return
	}
	s.updateStats(-int64(size), -1)
}

func (s *Store) show(message, level string) {
	if s.notifier != nil {
		s.notifier.Show(message, level, 0)
	}
}
