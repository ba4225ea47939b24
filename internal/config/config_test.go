package config

import (
	"os"
	"path/filepath"
	"testing"
)

type fakeReconciler struct {
	startAllServices   []ProcessConfig
	startAllCgroup     CgroupPolicy
	stopAllCalls       int
	added              map[string]ProcessConfig
	removed            map[string]ProcessConfig
	fullRestartCalls   int
	fullRestartService []ProcessConfig
	fullRestartCgroup  CgroupPolicy
}

func (f *fakeReconciler) StartAll(services []ProcessConfig, globalCgroup CgroupPolicy) {
	f.startAllServices = services
	f.startAllCgroup = globalCgroup
}
func (f *fakeReconciler) StopAll()                                     { f.stopAllCalls++ }
func (f *fakeReconciler) ApplyAdd(added map[string]ProcessConfig)      { f.added = added }
func (f *fakeReconciler) ApplyRemove(removed map[string]ProcessConfig) { f.removed = removed }
func (f *fakeReconciler) FullRestart(services []ProcessConfig, globalCgroup CgroupPolicy) {
	f.fullRestartCalls++
	f.fullRestartService = services
	f.fullRestartCgroup = globalCgroup
}

type fakeLogCtl struct {
	levels       []string
	reconfigures []string
	rejectLevel  string
}

func (f *fakeLogCtl) SetLevel(level string) error {
	if level == f.rejectLevel {
		return &ConfigInvalidError{Reason: "unrecognized level"}
	}
	f.levels = append(f.levels, level)
	return nil
}
func (f *fakeLogCtl) Reconfigure(path string) error {
	f.reconfigures = append(f.reconfigures, path)
	return nil
}

type fakeHTTPCtl struct {
	stopCalls  int
	startCalls []HTTPServerConfig
}

func (f *fakeHTTPCtl) Stop()                     { f.stopCalls++ }
func (f *fakeHTTPCtl) Start(cfg HTTPServerConfig) { f.startCalls = append(f.startCalls, cfg) }

func writeTempConfig(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "watchermen.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadFromPathValid(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "daemon: false\nlog_level: info\nservice:\n  - process_name: a\n    command: /bin/true\n")

	c := NewConfig(nil, nil, nil)
	if err := c.LoadFromPath(path); err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	got := c.Snapshot()
	if got.LogLevel != "info" || len(got.Service) != 1 || got.Service[0].ProcessName != "a" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestLoadFromPathParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "daemon: [this is not valid yaml for a bool\n")

	c := NewConfig(nil, nil, nil)
	err := c.LoadFromPath(path)
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if _, ok := err.(*ConfigParseError); !ok {
		t.Fatalf("expected *ConfigParseError, got %T: %v", err, err)
	}
}

func TestLoadFromPathDuplicateNameInvalid(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "service:\n  - process_name: a\n    command: /bin/true\n  - process_name: a\n    command: /bin/false\n")

	c := NewConfig(nil, nil, nil)
	err := c.LoadFromPath(path)
	if _, ok := err.(*ConfigInvalidError); !ok {
		t.Fatalf("expected *ConfigInvalidError, got %T: %v", err, err)
	}
}

func TestApplyCandidateServiceDiffDrivesReconciler(t *testing.T) {
	c := NewConfig(nil, nil, nil)
	recon := &fakeReconciler{}
	c.reconciler = recon

	c.ApplyCandidate(ManagerConfig{Service: []ProcessConfig{
		{ProcessName: "a", Command: "/bin/true"},
	}})
	if recon.startAllServices != nil {
		t.Fatalf("no cgroup change on first apply from zero value should not fire StartAll: %+v", recon.startAllServices)
	}
	if len(recon.added) != 1 {
		t.Fatalf("expected 'a' to be added, got %v", recon.added)
	}

	c.ApplyCandidate(ManagerConfig{Service: []ProcessConfig{
		{ProcessName: "a", Command: "/bin/true"},
		{ProcessName: "b", Command: "/bin/sleep 1"},
	}})
	if len(recon.added) != 1 {
		t.Fatalf("expected only 'b' added on second apply, got %v", recon.added)
	}
	if _, ok := recon.added["b"]; !ok {
		t.Fatalf("expected 'b' in added, got %v", recon.added)
	}
	if len(recon.removed) != 0 {
		t.Fatalf("expected nothing removed, got %v", recon.removed)
	}
}

func TestApplyCandidateCgroupChangeTriggersFullRestart(t *testing.T) {
	c := NewConfig(nil, nil, nil)
	recon := &fakeReconciler{}
	c.reconciler = recon

	c.ApplyCandidate(ManagerConfig{
		Service: []ProcessConfig{{ProcessName: "a", Command: "/bin/true"}},
	})

	c.ApplyCandidate(ManagerConfig{
		CgroupPolicy: CgroupPolicy{Enabled: true, Name: "watchermen"},
		Service:      []ProcessConfig{{ProcessName: "a", Command: "/bin/true"}},
	})

	if recon.fullRestartCalls != 1 {
		t.Fatalf("expected FullRestart once on cgroup change, got %d", recon.fullRestartCalls)
	}
	if len(recon.fullRestartService) != 1 {
		t.Fatalf("expected FullRestart called with the new service list, got %v", recon.fullRestartService)
	}
}

func TestApplyCandidateHTTPServerChangeRestartsHTTP(t *testing.T) {
	c := NewConfig(nil, nil, nil)
	httpCtl := &fakeHTTPCtl{}
	c.httpCtl = httpCtl

	c.ApplyCandidate(ManagerConfig{HTTPServer: HTTPServerConfig{Bind: ":8080"}})
	if httpCtl.stopCalls != 1 || len(httpCtl.startCalls) != 1 {
		t.Fatalf("expected one stop+start cycle, got stop=%d start=%v", httpCtl.stopCalls, httpCtl.startCalls)
	}

	c.ApplyCandidate(ManagerConfig{HTTPServer: HTTPServerConfig{Bind: ":8080"}})
	if httpCtl.stopCalls != 1 {
		t.Fatalf("unchanged http_server must not trigger another restart, got %d stops", httpCtl.stopCalls)
	}
}

func TestApplyCandidateLogLevelChangeUpdatesController(t *testing.T) {
	c := NewConfig(nil, nil, nil)
	logCtl := &fakeLogCtl{}
	c.logCtl = logCtl

	c.ApplyCandidate(ManagerConfig{LogLevel: "debug"})
	if len(logCtl.levels) != 1 || logCtl.levels[0] != "debug" {
		t.Fatalf("expected SetLevel(debug) once, got %v", logCtl.levels)
	}

	c.ApplyCandidate(ManagerConfig{LogLevel: "debug"})
	if len(logCtl.levels) != 1 {
		t.Fatalf("unchanged log_level must not call SetLevel again, got %v", logCtl.levels)
	}
}

func TestApplyCandidateLogPathChangeReconfiguresSinks(t *testing.T) {
	c := NewConfig(nil, nil, nil)
	logCtl := &fakeLogCtl{}
	c.logCtl = logCtl

	c.ApplyCandidate(ManagerConfig{LogPath: "/var/log/watchermen.log"})
	if len(logCtl.reconfigures) != 1 {
		t.Fatalf("expected one Reconfigure call, got %v", logCtl.reconfigures)
	}

	c.ApplyCandidate(ManagerConfig{LogPath: ""})
	if len(logCtl.reconfigures) != 1 {
		t.Fatalf("an empty log_path must not reconfigure sinks, got %v", logCtl.reconfigures)
	}
}

func TestOnLocalFileEventReappliesFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "service:\n  - process_name: a\n    command: /bin/true\n")

	c := NewConfig(nil, nil, nil)
	recon := &fakeReconciler{}
	c.reconciler = recon
	if err := c.LoadFromPath(path); err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if err := os.WriteFile(path, []byte("service:\n  - process_name: a\n    command: /bin/true\n  - process_name: b\n    command: /bin/sleep 1\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	c.OnLocalFileEvent()

	snap := c.Snapshot()
	if len(snap.Service) != 2 {
		t.Fatalf("expected the on-disk edit to be picked up, got %+v", snap.Service)
	}
	if _, ok := recon.added["b"]; !ok {
		t.Fatalf("expected 'b' routed through ApplyAdd, got %v", recon.added)
	}
}

func TestOnLocalFileEventIgnoresUnloadedConfig(t *testing.T) {
	c := NewConfig(nil, nil, nil)
	c.OnLocalFileEvent() // must not panic when LoadFromPath was never called
}

func TestOnServerConfigWritesPerServiceBlobsThenPersists(t *testing.T) {
	dir := t.TempDir()
	authPath := writeTempConfig(t, dir, "service: []\n")
	blobPath := filepath.Join(dir, "svc-a.conf")

	c := NewConfig(nil, nil, nil)
	if err := c.LoadFromPath(authPath); err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	serverBlob := "service:\n  - process_name: a\n    command: /bin/true\n    config_path: " + blobPath + "\n    config: \"hello=world\"\n"
	if err := c.OnServerConfig(serverBlob); err != nil {
		t.Fatalf("OnServerConfig: %v", err)
	}

	data, err := os.ReadFile(blobPath)
	if err != nil {
		t.Fatalf("expected config_path to be written: %v", err)
	}
	if string(data) != "hello=world" {
		t.Fatalf("unexpected blob contents: %q", data)
	}

	persisted, err := os.ReadFile(authPath)
	if err != nil {
		t.Fatalf("read persisted authoritative config: %v", err)
	}
	if len(persisted) == 0 {
		t.Fatal("expected the authoritative config to be rewritten")
	}

	snap := c.Snapshot()
	if len(snap.Service) != 1 || snap.Service[0].ProcessName != "a" {
		t.Fatalf("expected the server config to be applied, got %+v", snap.Service)
	}
}

func TestOnServerConfigParseError(t *testing.T) {
	c := NewConfig(nil, nil, nil)
	err := c.OnServerConfig("not: [valid yaml")
	if _, ok := err.(*ConfigParseError); !ok {
		t.Fatalf("expected *ConfigParseError, got %T: %v", err, err)
	}
}
