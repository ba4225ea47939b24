package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FsChangeListener collapses create/write/remove/rename into a single
// capability: something changed about the watched path, go re-read it.
type FsChangeListener interface {
	OnChange()
}

// FsWatcher wraps fsnotify.Watcher around exactly one file, dispatching
// every event (and, conservatively, every error) to a single
// FsChangeListener.OnChange call on the watcher's own goroutine. Callers
// that need the result on the event loop (e.g. Config) post from inside
// OnChange.
type FsWatcher struct {
	watcher  *fsnotify.Watcher
	listener FsChangeListener
	done     chan struct{}
}

// NewFsWatcher starts watching the directory containing path (not the file
// itself) so that editor-style replace-via-rename and delete-then-recreate
// are both observed; events for any other file in that directory are
// filtered out.
func NewFsWatcher(path string, listener FsChangeListener) (*FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	fw := &FsWatcher{
		watcher:  w,
		listener: listener,
		done:     make(chan struct{}),
	}
	go fw.run(filepath.Clean(path))
	return fw, nil
}

func (fw *FsWatcher) run(path string) {
	defer close(fw.done)
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			fw.listener.OnChange()

		case _, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			// Treat watcher errors as a prompt to re-check: a dropped
			// watch (e.g. after the file is replaced) is otherwise
			// silent until the next real edit.
			fw.listener.OnChange()
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (fw *FsWatcher) Close() error {
	err := fw.watcher.Close()
	<-fw.done
	return err
}
