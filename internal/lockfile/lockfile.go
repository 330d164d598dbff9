// Package lockfile keeps two ScriptFlow servers from sharing one state directory.
//
// The lock is an flock on a file inside the directory, so the kernel drops it when the
// holding process exits, however it exits.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName is the lock file created in the state directory.
const FileName = "scriptflow.lock"

// ErrLocked is wrapped by LockError.
var ErrLocked = errors.New("state directory is locked by another process")

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock on dir, creating the directory if needed. It fails fast with a
// *LockError when another process holds it.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName)

	// O_TRUNC would wipe the holder's pid before we know whether we won.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := readHolder(f)
		f.Close()
		slog.Error("lockfile.Acquire: state directory in use", "path", path, "holder_pid", holder, "error", err)
		return nil, &LockError{Path: path, HolderPID: holder, Cause: err}
	}

	if err := writePID(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("failed to record pid in %s: %w", path, err)
	}
	slog.Info("lockfile.Acquire: lock acquired", "path", path, "pid", os.Getpid())
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock and removes the file. Calling it twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	// Remove while still holding the lock so a waiting process never sees our pid.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: failed to remove lock file", "path", l.path, "error", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: unlock failed", "path", l.path, "error", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close lock file %s: %w", l.path, err)
	}
	slog.Debug("lockfile.Release: lock released", "path", l.path)
	return nil
}

// LockError reports a state directory held by another process.
type LockError struct {
	Path string
	// HolderPID is the pid recorded by the holder, or 0 if unreadable.
	HolderPID int
	Cause     error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another ScriptFlow instance is using this state directory (lock file %s", e.Path)
	if e.HolderPID > 0 {
		state := "running"
		if !processRunning(e.HolderPID) {
			state = "not running, the lock may be stale"
		}
		fmt.Fprintf(&b, ", pid %d %s", e.HolderPID, state)
	}
	b.WriteString(")")
	return b.String()
}

func (e *LockError) Unwrap() []error { return []error{ErrLocked, e.Cause} }

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0); err != nil {
		return err
	}
	return f.Sync()
}

func readHolder(f *os.File) int {
	buf := make([]byte, 64)
	n, _ := f.ReadAt(buf, 0)
	return parsePID(string(buf[:n]))
}

// parsePID reads the pid from "pid=NNN" lock file content.
func parsePID(content string) int {
	rest, ok := strings.CutPrefix(strings.TrimSpace(content), "pid=")
	if !ok {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// processRunning probes pid with signal 0.
func processRunning(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
