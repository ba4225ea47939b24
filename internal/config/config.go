package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Reconciler is the subset of the process pool the Config package drives
// from apply_candidate. Implemented by internal/process.Reconciler; all
// methods are event-loop-thread only, matching spec.md §4.4.
type Reconciler interface {
	StartAll(services []ProcessConfig, globalCgroup CgroupPolicy)
	StopAll()
	ApplyAdd(added map[string]ProcessConfig)
	ApplyRemove(removed map[string]ProcessConfig)
	// FullRestart stops every running instance and starts services under
	// globalCgroup once the old instances are actually reaped, so a
	// changed global cgroup policy is never raced by an Acquire for a
	// still-occupied cgroup name.
	FullRestart(services []ProcessConfig, globalCgroup CgroupPolicy)
}

// LogController is the subset of internal/logging that Config reconfigures
// in response to a changed log_level or log_path.
type LogController interface {
	// SetLevel returns an error for an unrecognized level; apply_candidate
	// treats that as "not recognized" and leaves the level unchanged.
	SetLevel(level string) error
	Reconfigure(path string) error
}

// HTTPController is the subset of internal/httpapi that Config drives when
// http_server changes.
type HTTPController interface {
	Stop()
	Start(cfg HTTPServerConfig)
}

// Config owns the agent's current ManagerConfig and the transitions between
// candidate documents, per spec.md §4.3.
type Config struct {
	mu   sync.RWMutex
	path string
	cur  ManagerConfig

	reconciler Reconciler
	logCtl     LogController
	httpCtl    HTTPController
}

// NewConfig wires a Config to the components it drives. reconciler,
// logCtl and httpCtl may be nil in tests that only exercise the scalar
// swap and diffing logic, or in callers (internal/manager) that build
// those collaborators from Config's own Snapshot and wire them in
// afterward via SetCollaborators.
func NewConfig(reconciler Reconciler, logCtl LogController, httpCtl HTTPController) *Config {
	return &Config{
		reconciler: reconciler,
		logCtl:     logCtl,
		httpCtl:    httpCtl,
	}
}

// SetCollaborators wires the reconciler, log and http controllers in
// after construction. internal/manager needs Config's Snapshot to exist
// before it can build those collaborators, which in turn need to be
// wired back into Config before ApplyCandidate can drive them - breaking
// that cycle without it would mean constructing a second, divergent
// Config just to hold the real collaborators.
func (c *Config) SetCollaborators(reconciler Reconciler, logCtl LogController, httpCtl HTTPController) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconciler = reconciler
	c.logCtl = logCtl
	c.httpCtl = httpCtl
}

// LoadFromPath reads, parses, validates and installs path as the current
// configuration. It does not go through apply_candidate: this is the
// initial load, there is no prior state to diff against, and the
// reconciler/log/http controllers have not started yet.
func (c *Config) LoadFromPath(path string) error {
	cfg, err := readManagerConfig(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.path = path
	c.cur = cfg
	c.mu.Unlock()
	return nil
}

func readManagerConfig(path string) (ManagerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ManagerConfig{}, &ConfigParseError{Path: path, Err: err}
	}

	var cfg ManagerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ManagerConfig{}, &ConfigParseError{Path: path, Err: err}
	}

	if err := validate(cfg, path); err != nil {
		return ManagerConfig{}, err
	}

	return cfg, nil
}

func validate(cfg ManagerConfig, path string) error {
	seen := make(map[string]struct{}, len(cfg.Service))
	for _, svc := range cfg.Service {
		if !svc.valid() {
			continue
		}
		if _, dup := seen[svc.ProcessName]; dup {
			return &ConfigInvalidError{Path: path, Reason: "duplicate process_name: " + svc.ProcessName}
		}
		seen[svc.ProcessName] = struct{}{}
	}
	return nil
}

// OnLocalFileEvent implements FsChangeListener: re-reads the authoritative
// path and applies it as a candidate. Read failures and invalid documents
// are swallowed here (the prior configuration stays authoritative) rather
// than propagated, since there is no caller to report to. This method does
// no posting of its own: callers that need the reconciliation serialized
// (internal/manager's fsListener) post it onto the event loop.
func (c *Config) OnLocalFileEvent() {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()
	if path == "" {
		return
	}

	cfg, err := readManagerConfig(path)
	if err != nil {
		return
	}
	c.ApplyCandidate(cfg)
}

// OnServerConfig implements spec.md §4.3's on_server_config: parse blob,
// write any per-service config payloads to disk, apply the candidate, then
// persist the result back to the authoritative path.
func (c *Config) OnServerConfig(blob string) error {
	var cfg ManagerConfig
	if err := yaml.Unmarshal([]byte(blob), &cfg); err != nil {
		return &ConfigParseError{Path: "<server>", Err: err}
	}
	if err := validate(cfg, "<server>"); err != nil {
		return err
	}

	for _, svc := range cfg.Service {
		if svc.ConfigPath == "" {
			continue
		}
		if err := writeProcessConfigBlob(svc.ConfigPath, svc.ConfigBlob); err != nil {
			return err
		}
	}

	c.ApplyCandidate(cfg)

	c.mu.RLock()
	path := c.path
	final := c.cur.Clone()
	c.mu.RUnlock()
	if path == "" {
		return nil
	}
	return marshalYAML(path, final)
}

// Snapshot returns an immutable copy of the current configuration.
func (c *Config) Snapshot() ManagerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur.Clone()
}

// ApplyCandidate runs spec.md §4.3's apply_candidate algorithm: scalar
// fields and the service/http diff are computed under a write lock, which
// is released before the reconciler or http controller are touched, so
// those calls never run with Config's lock held.
func (c *Config) ApplyCandidate(candidate ManagerConfig) {
	c.mu.Lock()

	old := c.cur

	logLevelChanged := old.LogLevel != candidate.LogLevel
	logPathChanged := old.LogPath != candidate.LogPath

	c.cur.Daemon = candidate.Daemon
	c.cur.LogPath = candidate.LogPath
	c.cur.LogLevel = candidate.LogLevel

	var fullRestart bool
	var added, removed map[string]ProcessConfig

	if !old.CgroupPolicy.Equal(candidate.CgroupPolicy) {
		fullRestart = true
		c.cur.CgroupPolicy = candidate.CgroupPolicy
		c.cur.Service = append([]ProcessConfig(nil), candidate.Service...)
	} else {
		added, removed = DiffServices(old.Service, candidate.Service)
		if len(added) != 0 || len(removed) != 0 {
			c.cur.Service = append([]ProcessConfig(nil), candidate.Service...)
		}
	}

	httpRestart := !old.HTTPServer.Equal(candidate.HTTPServer)
	if httpRestart {
		c.cur.HTTPServer = candidate.HTTPServer
	}

	globalCgroup := c.cur.CgroupPolicy
	services := append([]ProcessConfig(nil), c.cur.Service...)
	httpCfg := c.cur.HTTPServer

	c.mu.Unlock()

	if logLevelChanged && c.logCtl != nil {
		_ = c.logCtl.SetLevel(candidate.LogLevel)
	}
	if logPathChanged && candidate.LogPath != "" && c.logCtl != nil {
		_ = c.logCtl.Reconfigure(candidate.LogPath)
	}

	if c.reconciler != nil {
		switch {
		case fullRestart:
			c.reconciler.FullRestart(services, globalCgroup)
		default:
			if len(removed) != 0 {
				c.reconciler.ApplyRemove(removed)
			}
			if len(added) != 0 {
				c.reconciler.ApplyAdd(added)
			}
		}
	}

	if httpRestart && c.httpCtl != nil {
		c.httpCtl.Stop()
		c.httpCtl.Start(httpCfg)
	}
}
