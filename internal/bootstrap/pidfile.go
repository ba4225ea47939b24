// Package bootstrap owns the process-level preamble: daemonization,
// the exclusive PID-file lock, and the signal wiring, exactly the three
// concerns spec.md §6 groups under "External interfaces" and main.cc
// performs before any supervisor state exists.
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// PIDFileName is the fixed name spec.md §6 mandates.
const PIDFileName = "watchermen.pid"

// PIDFile holds the exclusive advisory lock for the process's lifetime;
// losing it means the process must exit (spec.md §6, §7).
type PIDFile struct {
	f *os.File
}

// AcquirePIDFile opens path, first clearing a stale lock left by a dead
// process (SUPPLEMENTED FEATURES: main.cc's CreatePidFile fails hard on
// any existing lock; this recovers from a stale one the way
// abligh-goms/smtpd/control.go's Run() does, via Signal(0) liveness
// probing), then takes a non-blocking exclusive flock and writes the
// current pid. A second live instance fails fast.
func AcquirePIDFile(path string) (*PIDFile, error) {
	removeStaleLock(path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open pid file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("bootstrap: another instance is already running (%s is locked): %w", path, err)
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("bootstrap: truncate pid file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("bootstrap: write pid file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("bootstrap: sync pid file: %w", err)
	}

	return &PIDFile{f: f}, nil
}

func removeStaleLock(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Signal(syscall.Signal(0)); err == nil {
		return // still alive: not stale, let the flock attempt fail honestly.
	}
	_ = os.Remove(path)
}

// Release drops the lock, closes, and removes the PID file.
func (p *PIDFile) Release() error {
	defer p.f.Close()
	_ = unix.Flock(int(p.f.Fd()), unix.LOCK_UN)
	return os.Remove(p.f.Name())
}
