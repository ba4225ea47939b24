// Package config owns the agent's desired state: parsing, validating,
// diffing, persisting, and watching the ManagerConfig document, the way
// original_source/src/app/source/process/config.cc owns the same
// responsibilities for the C++ agent this was ported from.
package config

// CgroupPolicy is the declarative cgroup policy attached either globally
// or to a single process.
type CgroupPolicy struct {
	Enabled     bool   `yaml:"enabled"`
	Name        string `yaml:"name,omitempty"`
	CPURate     int    `yaml:"cpu_rate,omitempty"`
	MemoryLimit int64  `yaml:"memory_limit,omitempty"`
}

// Equal reports whether two policies are structurally identical.
func (p CgroupPolicy) Equal(o CgroupPolicy) bool {
	return p == o
}

// RestartPolicy governs the agent's supplemental, opt-in respawn
// extension (spec.md §4.4/§9 leaves this unmandated). It is additive: a
// zero value ("") behaves as RestartNever.
type RestartPolicy string

const (
	RestartNever     RestartPolicy = ""
	RestartOnFailure RestartPolicy = "on-failure"
)

// ProcessConfig is the desired configuration of a single child process.
// Entries with an empty Name or Command are ignored for diffing purposes
// (spec.md §3).
type ProcessConfig struct {
	ProcessName   string        `yaml:"process_name"`
	Command       string        `yaml:"command"`
	CgroupPolicy  CgroupPolicy  `yaml:"cgroup_policy,omitempty"`
	ConfigPath    string        `yaml:"config_path,omitempty"`
	ConfigBlob    string        `yaml:"config,omitempty"`
	RestartPolicy RestartPolicy `yaml:"restart_policy,omitempty"`
}

// valid reports whether this entry participates in diffing at all.
func (p ProcessConfig) valid() bool {
	return p.ProcessName != "" && p.Command != ""
}

// Equal reports structural equality, used by DiffServices to decide
// whether an existing process needs to be reloaded.
func (p ProcessConfig) Equal(o ProcessConfig) bool {
	return p == o
}

// HTTPServerConfig configures the introspection HTTP server (spec.md §4.6).
type HTTPServerConfig struct {
	HealthPath string `yaml:"health_path,omitempty"`
	Bind       string `yaml:"bind,omitempty"`
}

// Equal reports structural equality.
func (h HTTPServerConfig) Equal(o HTTPServerConfig) bool {
	return h == o
}

// NetworkConfig addresses the control-plane server.
type NetworkConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ManagerConfig is the root desired state document (spec.md §3).
type ManagerConfig struct {
	Daemon           bool             `yaml:"daemon"`
	LogLevel         string           `yaml:"log_level"`
	LogPath          string           `yaml:"log_path"`
	NetworkInterface string           `yaml:"network_interface,omitempty"`
	CgroupPolicy     CgroupPolicy     `yaml:"cgroup_policy,omitempty"`
	Service          []ProcessConfig  `yaml:"service,omitempty"`
	HTTPServer       HTTPServerConfig `yaml:"http_server,omitempty"`
	Network          NetworkConfig    `yaml:"network,omitempty"`
	CompanyUUID      string           `yaml:"company_uuid,omitempty"`
	Version          string           `yaml:"version,omitempty"`
}

// Clone returns a deep copy, since Service is a slice.
func (c ManagerConfig) Clone() ManagerConfig {
	out := c
	out.Service = append([]ProcessConfig(nil), c.Service...)
	return out
}
