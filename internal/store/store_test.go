package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend"
	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend/local"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

type capturingNotifier struct {
	messages []string
	levels   []string
}

func (n *capturingNotifier) Show(message, level string, duration time.Duration) {
	n.messages = append(n.messages, message)
	n.levels = append(n.levels, level)
}

// prefixEncryptor is a stand-in cipher: reversible and detectably
// different from the plaintext.
type prefixEncryptor struct{}

func (prefixEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	return append([]byte("sealed:"), plaintext...), nil
}

func (prefixEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if !bytes.HasPrefix(ciphertext, []byte("sealed:")) {
		return nil, errors.New("not sealed")
	}
	return ciphertext[len("sealed:"):], nil
}

func newTestStore(t *testing.T, maxBytes int64, opts Options) (*Store, *local.Backend, *fakeClock) {
	t.Helper()
	b, err := local.New("", maxBytes)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	clock := &fakeClock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	opts.Now = clock.Now
	return New(b, opts), b, clock
}

type profile struct {
	Name    string  `json:"name"`
	Balance float64 `json:"balance"`
}

func TestSetGetRoundTrip(t *testing.T) {
	s, _, _ := newTestStore(t, 0, Options{})

	in := profile{Name: "أحمد", Balance: 1250.5}
	if !s.Set("profile", in) {
		t.Fatal("Set returned false")
	}

	var out profile
	if !s.Get("profile", &out) {
		t.Fatal("Get returned false")
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestGetMissingKeyLeavesDefault(t *testing.T) {
	s, _, _ := newTestStore(t, 0, Options{})

	out := profile{Name: "default"}
	if s.Get("absent", &out) {
		t.Fatal("Get reported success for a missing key")
	}
	if out.Name != "default" {
		t.Errorf("default value was clobbered: %+v", out)
	}
}

func TestKeySanitization(t *testing.T) {
	s, b, _ := newTestStore(t, 0, Options{})

	if !s.Set("user profile!", 1) {
		t.Fatal("Set returned false")
	}

	keys, _ := b.Keys()
	found := false
	for _, k := range keys {
		if k == "basira_user_profile_" {
			found = true
		}
	}
	if !found {
		t.Errorf("sanitized key not found in backend, keys: %v", keys)
	}

	var out int
	if !s.Get("user profile!", &out) || out != 1 {
		t.Error("sanitized key is not readable back through the same logical key")
	}
}

func TestRejectsOverlongKey(t *testing.T) {
	s, _, _ := newTestStore(t, 0, Options{})
	if s.Set(strings.Repeat("k", 60)+strings.Repeat("x", 60), 1) {
		t.Error("Set accepted a key beyond the namespaced limit")
	}
	if s.Set("", 1) {
		t.Error("Set accepted an empty key")
	}
}

func TestLargeValueCompressed(t *testing.T) {
	s, b, _ := newTestStore(t, 0, Options{CompressThreshold: 64})

	large := strings.Repeat("inventory row ", 100)
	if !s.Set("inventory", large) {
		t.Fatal("Set returned false")
	}

	raw, err := b.Fetch("basira_inventory")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	var rec storedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if rec.encoding() != EncodingCompressed {
		t.Errorf("encoding = %s, want %s", rec.encoding(), EncodingCompressed)
	}
	if len(rec.Body) >= rec.Size {
		t.Errorf("compressed body (%d) not smaller than raw size (%d)", len(rec.Body), rec.Size)
	}

	var out string
	if !s.Get("inventory", &out) || out != large {
		t.Error("compressed value did not round trip")
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	s, b, _ := newTestStore(t, 0, Options{Encryptor: prefixEncryptor{}})

	if !s.Set("secret", "confidential") {
		t.Fatal("Set returned false")
	}

	raw, _ := b.Fetch("basira_secret")
	var rec storedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if rec.encoding() != EncodingEncrypted {
		t.Errorf("encoding = %s, want %s", rec.encoding(), EncodingEncrypted)
	}
	if bytes.Contains(rec.Body, []byte("confidential")) {
		t.Error("plaintext leaked into the stored body")
	}

	var out string
	if !s.Get("secret", &out) || out != "confidential" {
		t.Error("encrypted value did not round trip")
	}
}

func TestCorruptedEnvelopeEvicted(t *testing.T) {
	s, b, _ := newTestStore(t, 0, Options{})

	if err := b.Put("basira_broken", []byte("{not json")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out string
	if s.Get("broken", &out) {
		t.Fatal("Get reported success for a corrupted envelope")
	}
	if _, err := b.Fetch("basira_broken"); !errors.Is(err, backend.ErrNotFound) {
		t.Error("corrupted envelope was not evicted")
	}
}

func TestChecksumMismatchEvicted(t *testing.T) {
	s, b, _ := newTestStore(t, 0, Options{})

	if !s.Set("ledger", "original") {
		t.Fatal("Set returned false")
	}

	raw, _ := b.Fetch("basira_ledger")
	var rec storedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	rec.Value = json.RawMessage(`"tampered"`)
	tampered, _ := json.Marshal(&rec)
	if err := b.Put("basira_ledger", tampered); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out string
	if s.Get("ledger", &out) {
		t.Fatal("Get accepted a record with a bad checksum")
	}
	if _, err := b.Fetch("basira_ledger"); !errors.Is(err, backend.ErrNotFound) {
		t.Error("tampered record was not evicted")
	}
}

func TestExpiry(t *testing.T) {
	s, b, clock := newTestStore(t, 0, Options{})

	if !s.SetWithTTL("otp", "123456", time.Minute) {
		t.Fatal("SetWithTTL returned false")
	}

	var out string
	if !s.Get("otp", &out) {
		t.Fatal("value expired too early")
	}

	clock.Advance(2 * time.Minute)
	if s.Get("otp", &out) {
		t.Fatal("Get returned an expired value")
	}
	if _, err := b.Fetch("basira_otp"); !errors.Is(err, backend.ErrNotFound) {
		t.Error("expired record was not deleted")
	}
}

func TestVersionMigration(t *testing.T) {
	s, b, clock := newTestStore(t, 0, Options{Version: "2.0"})

	valueBytes, _ := json.Marshal("carried forward")
	old := storedRecord{
		Value:     valueBytes,
		Timestamp: clock.Now().UnixMilli(),
		Version:   "1.0",
		Size:      len(valueBytes),
		Checksum:  checksum(valueBytes),
	}
	raw, _ := json.Marshal(&old)
	if err := b.Put("basira_legacy", raw); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out string
	if !s.Get("legacy", &out) || out != "carried forward" {
		t.Fatal("legacy record did not read back")
	}

	migrated, _ := b.Fetch("basira_legacy")
	var rec storedRecord
	if err := json.Unmarshal(migrated, &rec); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if rec.Version != "2.0" {
		t.Errorf("version = %s after read, want 2.0", rec.Version)
	}
}

func TestQuotaEvictionRemovesOldest(t *testing.T) {
	notifier := &capturingNotifier{}
	s, b, clock := newTestStore(t, 2048, Options{Notifier: notifier, EvictFraction: 0.25})

	payload := strings.Repeat("x", 150)
	for i := 0; i < 8; i++ {
		key := string(rune('a'+i)) + "_doc"
		if !s.Set(key, payload) {
			t.Fatalf("Set %q returned false before quota was reached", key)
		}
		clock.Advance(time.Minute)
	}

	// The next write trips the quota, evicting the oldest quarter.
	if !s.Set("final_doc", payload) {
		t.Fatal("Set failed even after eviction")
	}

	if _, err := b.Fetch("basira_a_doc"); !errors.Is(err, backend.ErrNotFound) {
		t.Error("oldest record survived eviction")
	}
	var out string
	if !s.Get("final_doc", &out) {
		t.Error("newly written record is missing")
	}

	warned := false
	for _, lvl := range notifier.levels {
		if lvl == "warning" {
			warned = true
		}
	}
	if !warned {
		t.Error("quota eviction produced no user warning")
	}
}

func TestRemove(t *testing.T) {
	s, _, _ := newTestStore(t, 0, Options{})

	s.Set("gone", 42)
	if !s.Remove("gone") {
		t.Fatal("Remove returned false")
	}
	var out int
	if s.Get("gone", &out) {
		t.Error("removed key still readable")
	}
	if !s.Remove("never-existed") {
		t.Error("Remove of a missing key should succeed")
	}
}

func TestStatsTracksWrites(t *testing.T) {
	s, _, _ := newTestStore(t, 0, Options{})

	s.Set("one", "a")
	s.Set("two", "b")
	stats := s.Stats()
	if stats.ItemCount != 2 {
		t.Errorf("ItemCount = %d, want 2", stats.ItemCount)
	}
	if stats.TotalSize <= 0 {
		t.Errorf("TotalSize = %d, want > 0", stats.TotalSize)
	}

	s.Remove("one")
	stats = s.Stats()
	if stats.ItemCount != 1 {
		t.Errorf("ItemCount after remove = %d, want 1", stats.ItemCount)
	}
}
