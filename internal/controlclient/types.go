// Package controlclient implements the agent's control-plane state
// machine: Register, Heartbeat, GetConfig, Unregister, and the
// server-initiated Operate stream, exactly as
// original_source/src/app/source/controlplane/configcenter_client.cc
// drives them, translated onto the cooperative event loop.
package controlclient

import (
	"context"

	"github.com/novawatcher-io/watchermen/internal/config"
	"github.com/novawatcher-io/watchermen/internal/process"
)

// Phase mirrors ClientState.phase from spec.md §3.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseRegistering
	PhaseActive
	PhaseUnregistering
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "Disconnected"
	case PhaseRegistering:
		return "Registering"
	case PhaseActive:
		return "Active"
	case PhaseUnregistering:
		return "Unregistering"
	default:
		return "Unknown"
	}
}

// ClientState is the live control-plane state, mutated only on the event
// loop (spec.md §3 invariant 3).
type ClientState struct {
	ServerAddress      string
	ConfigUUID         string
	CachedConfigBlob   string
	ObjectID           string
	HeartbeatFailCount int
	LastBackoffSeconds int
	Phase              Phase
}

// RegisterRequest/RegisterResponse mirror spec.md §4.5's Register RPC.
type RegisterRequest struct {
	Name     string
	Version  string
	ObjectID string
	IPv4     string
	IPv6     string
}

type RegisterResponse struct {
	ConfigUUID string
}

// HeartbeatRequest/HeartbeatResponse mirror the Heartbeat RPC.
type HeartbeatRequest struct {
	ConfigUUID  string
	ObjectID    string
	Name        string
	Version     string
	ProcessList []process.HeartbeatEntry
}

type HeartbeatResponse struct {
	ConfigUUID string
}

// GetConfigRequest/GetConfigResponse mirror the GetConfig RPC.
type GetConfigRequest struct {
	ConfigUUID string
}

type GetConfigResponse struct {
	ConfigContent string
}

// UnregisterRequest mirrors the Unregister RPC; it has no response fields.
type UnregisterRequest struct {
	ObjectID string
}

// OperateCmd is the command carried by one Operate stream message.
type OperateCmd string

const (
	OperateStart OperateCmd = "Start"
	OperateStop  OperateCmd = "Stop"
)

// OperateMessage is one message on the server-initiated Operate stream.
type OperateMessage struct {
	Cmd   OperateCmd
	Names []string
}

// OperateStream is the receive half of the Operate RPC.
type OperateStream interface {
	Recv() (OperateMessage, error)
	Close() error
}

// Transport is the RPC surface ControlClient depends on. The production
// implementation is grpcTransport, wrapping grpctransport.Client; tests
// substitute a fake so the state machine can be exercised without a real
// network connection.
type Transport interface {
	Register(ctx context.Context, req RegisterRequest) (RegisterResponse, error)
	Heartbeat(ctx context.Context, req HeartbeatRequest) (HeartbeatResponse, error)
	GetConfig(ctx context.Context, req GetConfigRequest) (GetConfigResponse, error)
	Unregister(ctx context.Context, req UnregisterRequest) error
	Operate(ctx context.Context, objectID string) (OperateStream, error)
	// Redial rebuilds the underlying connection against a new target, for
	// when GetConfig hands back a different server_address (spec.md §4.5).
	Redial(target string) error
	// State reports the underlying connection's connectivity state, logged
	// by the 30-second health-check timer (spec.md §4.5).
	State() string
	Close() error
}

// ProcessTable is the subset of *process.Reconciler ControlClient needs.
type ProcessTable interface {
	StartOne(name string) error
	StopOne(name string) error
	SnapshotForHeartbeat() []process.HeartbeatEntry
}

// ConfigSource is the subset of *config.Config ControlClient needs.
type ConfigSource interface {
	Snapshot() config.ManagerConfig
	OnServerConfig(blob string) error
}
