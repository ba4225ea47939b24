package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"
)

// Options configure the startup preamble, mirroring the subset of
// main.cc's argv handling that governs process lifecycle rather than
// supervisor configuration (spec.md §6).
type Options struct {
	// Daemon requests detachment from the controlling terminal. When
	// false, Run behaves as a foreground process: no re-exec, no stdio
	// redirection, but the PID file is still acquired.
	Daemon bool
	// WorkDir is resolved to an absolute path before any chdir happens,
	// so the PID file and log files land in the directory the operator
	// actually launched from, not wherever daemonization ends up.
	WorkDir string
}

// Handle is the live preamble state: the held PID file lock, to be
// released exactly once, on shutdown.
type Handle struct {
	PIDFile *PIDFile
}

// Run executes spec.md §6's startup sequence: resolve the working
// directory, optionally daemonize, then acquire the exclusive PID file
// lock. isChild false means the caller is the original foreground process
// of a daemonized run and must exit immediately, leaving the detached
// re-exec to continue; true means the caller is either the detached child
// or a foreground (non-daemon) run, and should proceed to bring up the
// supervisor.
func Run(opts Options) (handle *Handle, isChild bool, err error) {
	workDir := opts.WorkDir
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return nil, false, fmt.Errorf("bootstrap: getwd: %w", err)
		}
	}
	workDir, err = filepath.Abs(workDir)
	if err != nil {
		return nil, false, fmt.Errorf("bootstrap: resolve work dir: %w", err)
	}
	pidPath := filepath.Join(workDir, PIDFileName)

	if opts.Daemon {
		child, derr := Daemonize(workDir)
		if derr != nil {
			return nil, false, derr
		}
		if !child {
			return nil, false, nil
		}
	}

	pidFile, err := AcquirePIDFile(pidPath)
	if err != nil {
		return nil, opts.Daemon, err
	}

	return &Handle{PIDFile: pidFile}, true, nil
}

// Shutdown releases the PID file. Safe to call once, at process exit.
func (h *Handle) Shutdown() error {
	if h == nil || h.PIDFile == nil {
		return nil
	}
	return h.PIDFile.Release()
}
