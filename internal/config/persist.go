package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// writeFileAtomic writes data to path by creating a temp file in the same
// directory, syncing it, then renaming over the destination - so a reader
// (or the fs watcher) never observes a half-written file. Mirrors the
// create-temp-then-rename shape used for config persistence across the
// example pack's infra tooling.
func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("config: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("config: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("config: rename temp file into place: %w", err)
	}
	return nil
}

// marshalYAML persists a ManagerConfig document atomically to path.
func marshalYAML(path string, cfg ManagerConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal yaml: %w", err)
	}
	return writeFileAtomic(path, data, 0o644)
}

// writeProcessConfigBlob persists a single service's config payload to its
// declared config_path, per on_server_config's "write before applying" step.
func writeProcessConfigBlob(path, blob string) error {
	return writeFileAtomic(path, []byte(blob), 0o644)
}
