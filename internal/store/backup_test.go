package store

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	src, _, _ := newTestStore(t, 0, Options{})
	src.Set("sales", []string{"s1", "s2"})
	src.Set("profile", profile{Name: "منى", Balance: 10})

	payload, err := src.Backup(false)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if strings.HasPrefix(payload, compressedBackupPrefix) {
		t.Fatal("small backup should not be compressed")
	}

	var snapshot backupSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		t.Fatalf("backup payload is not a snapshot: %v", err)
	}
	if snapshot.Metadata.TotalItems != len(snapshot.Data) || snapshot.Metadata.TotalItems < 2 {
		t.Errorf("metadata.totalItems = %d, data entries = %d", snapshot.Metadata.TotalItems, len(snapshot.Data))
	}
	if snapshot.Metadata.TotalSize <= 0 {
		t.Errorf("metadata.totalSize = %d, want > 0", snapshot.Metadata.TotalSize)
	}
	if snapshot.Metadata.Encrypted {
		t.Error("plaintext backup flagged as encrypted")
	}

	dst, _, _ := newTestStore(t, 0, Options{})
	result, err := dst.Restore(payload, false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if result.Errors != 0 {
		t.Errorf("Errors = %d, want 0", result.Errors)
	}
	if result.Restored < 2 {
		t.Errorf("Restored = %d, want >= 2", result.Restored)
	}

	var sales []string
	if !dst.Get("sales", &sales) || len(sales) != 2 {
		t.Error("sales did not survive the restore")
	}
	var p profile
	if !dst.Get("profile", &p) || p.Name != "منى" {
		t.Error("profile did not survive the restore")
	}
}

func TestBackupCompressesLargeSnapshots(t *testing.T) {
	src, _, _ := newTestStore(t, 0, Options{})
	big := strings.Repeat("transaction line ", 2000)
	src.Set("history", big)

	payload, err := src.Backup(false)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if !strings.HasPrefix(payload, compressedBackupPrefix) {
		t.Fatalf("large backup not compressed, %d bytes", len(payload))
	}

	dst, _, _ := newTestStore(t, 0, Options{})
	if _, err := dst.Restore(payload, false); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	var out string
	if !dst.Get("history", &out) || out != big {
		t.Error("large value did not survive the compressed round trip")
	}
}

func TestBackupDecryptsUnlessIncludeEncrypted(t *testing.T) {
	src, _, _ := newTestStore(t, 0, Options{Encryptor: prefixEncryptor{}})
	src.Set("secret", profile{Name: "سر", Balance: 99})

	// The portable form is unsealed, so a store without the key can
	// read the restored records.
	portable, err := src.Backup(false)
	if err != nil {
		t.Fatalf("Backup(false): %v", err)
	}
	var snapshot backupSnapshot
	if err := json.Unmarshal([]byte(portable), &snapshot); err != nil {
		t.Fatalf("backup payload is not a snapshot: %v", err)
	}
	if snapshot.Metadata.Encrypted {
		t.Error("unsealed backup flagged as encrypted")
	}

	plainDst, _, _ := newTestStore(t, 0, Options{})
	if _, err := plainDst.Restore(portable, false); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	var p profile
	if !plainDst.Get("secret", &p) || p.Name != "سر" {
		t.Error("unsealed record unreadable after restore")
	}

	// The sealed form keeps ciphertext and says so in the metadata.
	sealed, err := src.Backup(true)
	if err != nil {
		t.Fatalf("Backup(true): %v", err)
	}
	if err := json.Unmarshal([]byte(sealed), &snapshot); err != nil {
		t.Fatalf("sealed payload is not a snapshot: %v", err)
	}
	if !snapshot.Metadata.Encrypted {
		t.Error("sealed backup not flagged as encrypted")
	}

	sealedDst, _, _ := newTestStore(t, 0, Options{})
	if _, err := sealedDst.Restore(sealed, false); err != nil {
		t.Fatalf("Restore sealed: %v", err)
	}
	var leaked profile
	if sealedDst.Get("secret", &leaked) {
		t.Error("sealed record readable without the key")
	}
}

func TestRestoreSkipsExistingKeysUnlessOverwrite(t *testing.T) {
	src, _, _ := newTestStore(t, 0, Options{})
	src.Set("profile", profile{Name: "قديم", Balance: 1})
	payload, err := src.Backup(false)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}

	dst, _, _ := newTestStore(t, 0, Options{})
	dst.Set("profile", profile{Name: "جديد", Balance: 2})

	result, err := dst.Restore(payload, false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if result.Errors != 0 {
		t.Errorf("Errors = %d, want 0", result.Errors)
	}
	var p profile
	if !dst.Get("profile", &p) || p.Name != "جديد" {
		t.Errorf("existing record clobbered without overwrite: %+v", p)
	}

	if _, err := dst.Restore(payload, true); err != nil {
		t.Fatalf("Restore with overwrite: %v", err)
	}
	if !dst.Get("profile", &p) || p.Name != "قديم" {
		t.Errorf("overwrite restore did not replace the record: %+v", p)
	}
}

func TestRestoreRejectsGarbage(t *testing.T) {
	s, _, _ := newTestStore(t, 0, Options{})

	for _, payload := range []string{
		"not a snapshot",
		compressedBackupPrefix + "!!!not-base64!!!",
		compressedBackupPrefix + "bm90IGd6aXA=", // valid base64, not gzip
	} {
		if _, err := s.Restore(payload, false); err == nil {
			t.Errorf("Restore accepted %q", payload)
		}
	}
}

func TestRestoreSkipsForeignKeys(t *testing.T) {
	snapshot := backupSnapshot{
		Version: "2.0",
		Data: map[string]string{
			"other_app_key": `{"value":1}`,
		},
	}
	raw, _ := json.Marshal(&snapshot)

	s, b, _ := newTestStore(t, 0, Options{})
	result, err := s.Restore(string(raw), false)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if result.Restored != 0 || result.Errors != 1 {
		t.Errorf("result = %+v, want 0 restored / 1 error", result)
	}
	if keys, _ := b.Keys(); len(keys) != 0 {
		t.Errorf("foreign key leaked into the backend: %v", keys)
	}
}
