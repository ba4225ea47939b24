// Package logging owns the agent's hot-swappable structured logging sinks:
// stdout in foreground mode, syslog in daemon mode (or when explicitly
// requested), and a rotating file sink whenever log_path names a real
// file - mirroring UpdateLogPath from
// original_source/src/app/source/process/config.cc, built on
// github.com/joeycumines/logiface with the github.com/joeycumines/stumpy
// JSON backend and gopkg.in/natefinch/lumberjack.v2 rotation, the same
// logger/rotation pairing _examples/ipiton-alert-history-service uses.
package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"gopkg.in/natefinch/lumberjack.v2"
)

const syslogTag = "watchermen"

// Logger is a hot-swappable structured logger: SetLevel and Reconfigure
// rebuild the underlying logiface.Logger (whose level and writer set are
// fixed at construction) and publish it atomically, so in-flight callers
// of Current never observe a half-built logger.
type Logger struct {
	mu     sync.Mutex // serializes rebuilds; the atomic.Pointer protects reads
	cur    atomic.Pointer[logiface.Logger[*stumpy.Event]]
	daemon bool
	path   string
	level  logiface.Level

	fileSink *lumberjack.Logger
}

// New builds the initial logger for the given daemon mode, log path and
// level string (see ParseLevel for recognized values).
func New(daemon bool, path, level string) (*Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	l := &Logger{daemon: daemon, path: path, level: lvl}
	if err := l.rebuild(); err != nil {
		return nil, err
	}
	return l, nil
}

// Current returns the active logiface.Logger. Safe to call concurrently
// with SetLevel/Reconfigure.
func (l *Logger) Current() *logiface.Logger[*stumpy.Event] {
	return l.cur.Load()
}

// SetLevel implements config.LogController. An unrecognized level is
// reported as an error and leaves the active logger untouched, matching
// apply_candidate's "if recognized" guard (spec.md §4.3 step 2).
func (l *Logger) SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = lvl
	return l.rebuild()
}

// Reconfigure implements config.LogController, swapping the file/syslog
// sink set for a new log_path.
func (l *Logger) Reconfigure(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = path
	return l.rebuild()
}

// rebuild must be called with l.mu held.
func (l *Logger) rebuild() error {
	writer, fileSink, err := buildWriter(l.daemon, l.path)
	if err != nil {
		return err
	}

	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(writer)),
		stumpy.L.WithLevel(l.level),
	)

	if l.fileSink != nil {
		_ = l.fileSink.Close()
	}
	l.fileSink = fileSink

	l.cur.Store(logger)
	return nil
}

// buildWriter assembles the sink set per UpdateLogPath's rules: the
// default sink is syslog in daemon mode, stdout otherwise; log_path ==
// "syslog" adds syslog explicitly (useful in foreground mode); any other
// non-empty, non-"stdout" path is treated as a rotating file destination.
func buildWriter(daemon bool, path string) (io.Writer, *lumberjack.Logger, error) {
	var writers []io.Writer

	if daemon {
		w, err := syslogWriter()
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, w)
	} else {
		writers = append(writers, os.Stdout)
	}

	var fileSink *lumberjack.Logger
	switch path {
	case "", "stdout":
		// no additional sink
	case "syslog":
		if !daemon {
			w, err := syslogWriter()
			if err != nil {
				return nil, nil, err
			}
			writers = append(writers, w)
		}
	default:
		fileSink = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes, matching the 10 MiB rotation in UpdateLogPath
			MaxBackups: 3,
			Compress:   false,
		}
		writers = append(writers, fileSink)
	}

	if len(writers) == 1 {
		return writers[0], fileSink, nil
	}
	return io.MultiWriter(writers...), fileSink, nil
}

func syslogWriter() (io.Writer, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, syslogTag)
	if err != nil {
		return nil, fmt.Errorf("logging: open syslog: %w", err)
	}
	return w, nil
}

// ParseLevel maps a config log_level string onto a logiface.Level,
// accepting both the syslog keyword and a couple of common aliases.
func ParseLevel(level string) (logiface.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logiface.LevelTrace, nil
	case "debug":
		return logiface.LevelDebug, nil
	case "info", "informational", "":
		return logiface.LevelInformational, nil
	case "notice":
		return logiface.LevelNotice, nil
	case "warn", "warning":
		return logiface.LevelWarning, nil
	case "error", "err":
		return logiface.LevelError, nil
	case "critical", "crit":
		return logiface.LevelCritical, nil
	case "alert":
		return logiface.LevelAlert, nil
	case "emergency", "emerg":
		return logiface.LevelEmergency, nil
	default:
		return 0, fmt.Errorf("logging: unrecognized log level %q", level)
	}
}
