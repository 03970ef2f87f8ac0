package local

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mohamedyehyamoubarik5566/basira-app/internal/backend"
)

func TestPutFetchDelete(t *testing.T) {
	b, err := New("", 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := b.Put("k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := b.Fetch("k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Fetch = %q, %v", got, err)
	}

	if err := b.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Fetch("k"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("Fetch after delete: %v, want ErrNotFound", err)
	}
	// Deleting again is not an error.
	if err := b.Delete("k"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestQuotaEnforced(t *testing.T) {
	b, err := New("", 64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := b.Put("small", []byte("fits")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := b.Put("big", make([]byte, 128)); !errors.Is(err, backend.ErrQuotaExceeded) {
		t.Errorf("oversized Put: %v, want ErrQuotaExceeded", err)
	}

	// Overwriting in place must not double-count the old value.
	if err := b.Put("small", []byte("still")); err != nil {
		t.Errorf("overwrite: %v", err)
	}
}

func TestUsedAccounting(t *testing.T) {
	b, _ := New("", 0)

	b.Put("key", []byte("value"))
	if want := int64(len("key") + len("value")); b.Used() != want {
		t.Errorf("Used = %d, want %d", b.Used(), want)
	}
	b.Delete("key")
	if b.Used() != 0 {
		t.Errorf("Used after delete = %d, want 0", b.Used())
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")

	b, err := New(path, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.Put("carried", []byte("over"))
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Fetch("carried")
	if err != nil || string(got) != "over" {
		t.Errorf("Fetch after reopen = %q, %v", got, err)
	}
}

func TestCorruptDataFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte("{mangled"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	b, err := New(path, 0)
	if err != nil {
		t.Fatalf("New on corrupt file: %v", err)
	}
	if keys, _ := b.Keys(); len(keys) != 0 {
		t.Errorf("corrupt file yielded keys: %v", keys)
	}
	// The broken file is kept aside for inspection.
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Errorf("corrupt file not preserved: %v", err)
	}
}

func TestFetchReturnsCopy(t *testing.T) {
	b, _ := New("", 0)
	b.Put("k", []byte("original"))

	got, _ := b.Fetch("k")
	got[0] = 'X'

	again, _ := b.Fetch("k")
	if string(again) != "original" {
		t.Error("mutating a fetched value corrupted the stored copy")
	}
}
