package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestAcquirePIDFileWritesCurrentPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PIDFileName)

	pf, err := AcquirePIDFile(path)
	if err != nil {
		t.Fatalf("AcquirePIDFile: %v", err)
	}
	defer pf.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("parse pid file contents %q: %v", data, err)
	}
	if pid != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), pid)
	}
}

func TestAcquirePIDFileFailsFastOnSecondLiveInstance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PIDFileName)

	first, err := AcquirePIDFile(path)
	if err != nil {
		t.Fatalf("first AcquirePIDFile: %v", err)
	}
	defer first.Release()

	if _, err := AcquirePIDFile(path); err == nil {
		t.Fatal("expected second AcquirePIDFile to fail while the first holds the lock")
	}
}

func TestAcquirePIDFileRecoversFromStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PIDFileName)

	// A pid that is vanishingly unlikely to be alive, simulating a crash
	// that left the pid file behind without its flock.
	if err := os.WriteFile(path, []byte("999999\n"), 0o644); err != nil {
		t.Fatalf("seed stale pid file: %v", err)
	}

	pf, err := AcquirePIDFile(path)
	if err != nil {
		t.Fatalf("AcquirePIDFile should recover from a stale lock: %v", err)
	}
	defer pf.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("expected pid file to now hold the current pid, got %q", data)
	}
}

func TestReleaseRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PIDFileName)

	pf, err := AcquirePIDFile(path)
	if err != nil {
		t.Fatalf("AcquirePIDFile: %v", err)
	}
	if err := pf.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected pid file to be removed, stat err = %v", err)
	}

	// Releasing unlocked the file too: a fresh acquire at the same path
	// must succeed.
	pf2, err := AcquirePIDFile(path)
	if err != nil {
		t.Fatalf("AcquirePIDFile after release: %v", err)
	}
	pf2.Release()
}

func TestWatchSignalsInvokesOnTerm(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	WatchSignals(ctx, func() { close(done) })

	self, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("FindProcess: %v", err)
	}
	if err := self.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("signal self: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onTerm was not invoked within timeout")
	}
}

func TestWatchSignalsStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	called := make(chan struct{}, 1)
	WatchSignals(ctx, func() { called <- struct{}{} })
	cancel()

	select {
	case <-called:
		t.Fatal("onTerm must not fire on context cancellation")
	case <-time.After(100 * time.Millisecond):
	}
}
