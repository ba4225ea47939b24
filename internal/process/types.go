// Package process owns the agent's live state: the table of running
// children and the Reconciler that diffs it against desired
// configuration, applies cgroup policy, and starts/stops processes. Go
// counterpart of original_source's App::Process::Manager and
// Core::Component::Process::Process.
package process

import (
	"os/exec"
	"time"

	"github.com/novawatcher-io/watchermen/internal/cgroup"
)

// Status mirrors spec.md §3's ProcessInstance state machine.
type Status int

const (
	StatusUnknown Status = iota
	StatusRun
	StatusRunning
	StatusReload
	StatusReloading
	StatusStopped
	StatusStopping
	StatusExited
	StatusDeleting
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusRun:
		return "RUN"
	case StatusRunning:
		return "RUNNING"
	case StatusReload:
		return "RELOAD"
	case StatusReloading:
		return "RELOADING"
	case StatusStopped:
		return "STOPPED"
	case StatusStopping:
		return "STOPPING"
	case StatusExited:
		return "EXITED"
	case StatusDeleting:
		return "DELETING"
	case StatusDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// HeartbeatState is the coarse Running/Stopped projection
// snapshot_for_heartbeat reports to the control plane.
type HeartbeatState int

const (
	HeartbeatStopped HeartbeatState = iota
	HeartbeatRunning
)

func (s Status) heartbeatState() (HeartbeatState, bool) {
	switch s {
	case StatusRun, StatusRunning, StatusReload, StatusReloading:
		return HeartbeatRunning, true
	case StatusStopped, StatusStopping, StatusExited, StatusDeleting, StatusDeleted:
		return HeartbeatStopped, true
	default:
		return 0, false
	}
}

// ProcessInstance is the live counterpart of a ProcessConfig entry.
// Mutated only from the event-loop thread (spec.md §3 invariant 3).
type ProcessInstance struct {
	Name      string
	PID       int
	Status    Status
	StartTime time.Time

	command       string
	cgroup        cgroup.Handle
	restartPolicy string // config.RestartPolicy, kept untyped here to avoid an import cycle
	cmd           *exec.Cmd
	pending       *pendingExec // set while Status is StatusReload, awaiting reap
}

// Snapshot is the immutable view exposed to HTTP introspection and the
// control-plane heartbeat.
type Snapshot struct {
	Name      string
	PID       int
	Status    string
	StartTime time.Time
}

// HeartbeatEntry is one row of snapshot_for_heartbeat's result.
type HeartbeatEntry struct {
	Name      string
	State     HeartbeatState
	StartTime time.Time
}

// Table is the name -> instance map, unique on name
// (spec.md §3 invariant 2).
type Table struct {
	instances map[string]*ProcessInstance
}

// NewTable returns an empty process table.
func NewTable() *Table {
	return &Table{instances: make(map[string]*ProcessInstance)}
}

// Get returns the instance for name, if present.
func (t *Table) Get(name string) (*ProcessInstance, bool) {
	inst, ok := t.instances[name]
	return inst, ok
}

// Snapshot returns a point-in-time copy of every instance's public state.
func (t *Table) Snapshot() []Snapshot {
	out := make([]Snapshot, 0, len(t.instances))
	for _, inst := range t.instances {
		out = append(out, Snapshot{
			Name:      inst.Name,
			PID:       inst.PID,
			Status:    inst.Status.String(),
			StartTime: inst.StartTime,
		})
	}
	return out
}

// SnapshotForHeartbeat implements spec.md §4.4's snapshot_for_heartbeat:
// UNKNOWN instances are omitted entirely.
func (t *Table) SnapshotForHeartbeat() []HeartbeatEntry {
	out := make([]HeartbeatEntry, 0, len(t.instances))
	for _, inst := range t.instances {
		state, ok := inst.Status.heartbeatState()
		if !ok {
			continue
		}
		out = append(out, HeartbeatEntry{Name: inst.Name, State: state, StartTime: inst.StartTime})
	}
	return out
}
