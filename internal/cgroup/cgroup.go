// Package cgroup applies the cgroup v2 policy spec.md §6 names as an
// external collaborator (apply_cpu, apply_memory, attach(pid)) using
// github.com/containerd/cgroups/v3's cgroup2 manager - the same library
// the pack's container-runtime examples (e.g. zkoopmans-gvisor's shim,
// cuemby-warren) depend on for cgroup control, rather than hand-rolling
// cgroupfs writes.
package cgroup

import (
	"fmt"
	"sync"

	"github.com/containerd/cgroups/v3/cgroup2"
)

const defaultCPUPeriod = uint64(100000) // 100ms, matching cgroup2's default accounting period

// Policy is the resolved cpu/memory policy for one named group.
type Policy struct {
	Name        string
	CPURate     int   // percent of one CPU, e.g. 150 == 1.5 cores
	MemoryLimit int64 // bytes, 0 means unset
}

// Handle is a reference to an acquired cgroup, attached to zero or more
// pids. Release must be called exactly once the child is torn down,
// matching spec.md §3 invariant 6 (a cgroup is released with its child).
type Handle interface {
	AttachPID(pid int) error
	Release() error
}

// Manager creates, shares, and reference-counts named cgroup2 groups. A
// single Manager is shared by the Reconciler across every process.
type Manager struct {
	mountpoint string

	mu     sync.Mutex
	groups map[string]*group
}

// backend is the subset of *cgroup2.Manager this package depends on,
// abstracted so tests can exercise the refcounting/naming logic above
// without a real cgroup2 filesystem (which requires root and a live
// cgroup v2 hierarchy).
type backend interface {
	AddProc(pid uint64) error
	Delete() error
}

// newBackend is overridden in tests.
var newBackend = func(mountpoint, name string, res *cgroup2.Resources) (backend, error) {
	return cgroup2.NewManager(mountpoint, name, res)
}

type group struct {
	mgr  backend
	refs int
}

// NewManager constructs a Manager rooted at mountpoint (conventionally
// "/sys/fs/cgroup"). No groups are created until Acquire is called.
func NewManager(mountpoint string) *Manager {
	return &Manager{mountpoint: mountpoint, groups: make(map[string]*group)}
}

// Acquire gets-or-creates the named group, applying the given policy only
// the first time the name is seen (subsequent acquisitions of the same
// name - e.g. multiple processes sharing the global cgroup - reuse the
// existing resource limits, per spec.md §4.4's "share the already-
// activated global cgroup"). Returns a Handle whose Release decrements the
// refcount and deletes the underlying group once it reaches zero.
func (m *Manager) Acquire(policy Policy) (Handle, error) {
	if policy.Name == "" {
		return nil, fmt.Errorf("cgroup: acquire requires a non-empty name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[policy.Name]
	if !ok {
		mgr, err := newBackend(m.mountpoint, "/"+policy.Name, resourcesFor(policy))
		if err != nil {
			return nil, fmt.Errorf("cgroup: create group %s: %w", policy.Name, err)
		}
		g = &group{mgr: mgr}
		m.groups[policy.Name] = g
	}
	g.refs++

	return &handle{manager: m, name: policy.Name}, nil
}

func (m *Manager) attach(name string, pid int) error {
	m.mu.Lock()
	g, ok := m.groups[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("cgroup: %s not acquired", name)
	}
	return g.mgr.AddProc(uint64(pid))
}

func (m *Manager) release(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[name]
	if !ok {
		return nil
	}
	g.refs--
	if g.refs > 0 {
		return nil
	}
	delete(m.groups, name)
	return g.mgr.Delete()
}

func resourcesFor(policy Policy) *cgroup2.Resources {
	res := &cgroup2.Resources{}
	if policy.CPURate > 0 {
		quota := int64(policy.CPURate) * int64(defaultCPUPeriod) / 100
		period := defaultCPUPeriod
		res.CPU = &cgroup2.CPU{Max: cgroup2.NewCPUMax(&quota, &period)}
	}
	if policy.MemoryLimit > 0 {
		max := policy.MemoryLimit
		res.Memory = &cgroup2.Memory{Max: &max}
	}
	return res
}

type handle struct {
	manager *Manager
	name    string
}

func (h *handle) AttachPID(pid int) error { return h.manager.attach(h.name, pid) }
func (h *handle) Release() error          { return h.manager.release(h.name) }
