package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquire(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	content, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	if want := fmt.Sprintf("pid=%d\n", os.Getpid()); string(content) != want {
		t.Errorf("lock file content = %q, want %q", content, want)
	}
	if lock.Path() != filepath.Join(dir, FileName) {
		t.Errorf("unexpected path %s", lock.Path())
	}
}

func TestAcquire_Conflict(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir)
	if err == nil {
		second.Release()
		t.Fatal("second Acquire should fail while the lock is held")
	}
	if !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.HolderPID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", lockErr.HolderPID, os.Getpid())
	}
	if !strings.Contains(err.Error(), fmt.Sprintf("pid %d running", os.Getpid())) {
		t.Errorf("error should describe the holder: %s", err)
	}

	// The failed attempt must not clobber the holder's pid.
	content, _ := os.ReadFile(first.Path())
	if parsePID(string(content)) != os.Getpid() {
		t.Errorf("holder pid lost: %q", content)
	}
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed, stat err = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire after Release failed: %v", err)
	}
	again.Release()
}

func TestParsePID(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"pid=1234\n", 1234},
		{"  pid=42  ", 42},
		{"pid=", 0},
		{"pid=-3", 0},
		{"garbage", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parsePID(tt.content); got != tt.want {
			t.Errorf("parsePID(%q) = %d, want %d", tt.content, got, tt.want)
		}
	}
}
