package controlclient

import (
	"context"
	"fmt"
	"time"

	"github.com/novawatcher-io/watchermen/internal/config"
	"github.com/novawatcher-io/watchermen/internal/eventloop"
	"github.com/novawatcher-io/watchermen/internal/logging"
)

const (
	rpcTimeout             = 10 * time.Second
	heartbeatNominalPeriod = 5 * time.Minute
	healthCheckPeriod      = 30 * time.Second
	heartbeatFailureLimit  = 5
)

// ControlClient drives the Register/Heartbeat/GetConfig/Unregister/Operate
// state machine from spec.md §4.5. Every method (and every callback it
// schedules through Transport) assumes it runs on the event loop thread;
// RPCs are dispatched from background goroutines and their results are
// marshaled back via Loop.Post, exactly as AsyncQueue mediates gRPC's own
// completion threads.
type ControlClient struct {
	loop      *eventloop.Loop
	transport Transport
	cfg       ConfigSource
	table     ProcessTable
	log       *logging.Logger

	name    string
	version string

	state ClientState

	registerTimer  *eventloop.TimerChannel
	heartbeatTimer *eventloop.TimerChannel
	healthTimer    *eventloop.TimerChannel

	operateCancel context.CancelFunc
	onRegistered  func()
}

// New constructs a ControlClient in the Disconnected phase. Call Start to
// begin registration.
func New(loop *eventloop.Loop, transport Transport, cfg ConfigSource, table ProcessTable, log *logging.Logger, name, version, objectID string) *ControlClient {
	c := &ControlClient{
		loop:      loop,
		transport: transport,
		cfg:       cfg,
		table:     table,
		log:       log,
		name:      name,
		version:   version,
	}
	c.state.ObjectID = objectID
	c.state.Phase = PhaseDisconnected

	c.heartbeatTimer = eventloop.NewTimerChannel(loop, c.onHeartbeatTimer)
	c.registerTimer = eventloop.NewTimerChannel(loop, c.onRegisterTimer)
	c.healthTimer = eventloop.NewTimerChannel(loop, c.onHealthTimer)

	// Armed here purely so the loop has a pending timer before the first
	// Register completes (Open Question 1: preserved literally from the
	// original keepalive-timer intent). Start disables it immediately on
	// entering Registering, so no Heartbeat RPC can fire before the first
	// successful Register - see TestNoHeartbeatBeforeRegister.
	c.heartbeatTimer.Enable(heartbeatNominalPeriod)

	return c
}

// OnRegistered installs an observer notified after every successful
// Register (spec.md §4.5's on_registered).
func (c *ControlClient) OnRegistered(fn func()) { c.onRegistered = fn }

// State returns a snapshot of the live ClientState.
func (c *ControlClient) State() ClientState { return c.state }

// Start resolves the server address and the local IP addresses and begins
// registration. The object id is the one passed to New.
func (c *ControlClient) Start() {
	snap := c.cfg.Snapshot()
	c.state.ServerAddress = serverAddress(snap.Network)
	c.state.Phase = PhaseRegistering
	c.heartbeatTimer.Disable()
	c.issueRegister(snap.LocalIP())
}

// Shutdown issues Unregister, cancels every timer, and closes the stream.
// Unregister failure is logged but non-fatal (spec.md §4.5's Shutdown).
func (c *ControlClient) Shutdown() {
	c.state.Phase = PhaseUnregistering
	c.heartbeatTimer.Disable()
	c.registerTimer.Disable()
	c.healthTimer.Disable()
	if c.operateCancel != nil {
		c.operateCancel()
		c.operateCancel = nil
	}

	objectID := c.state.ObjectID
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	if err := c.transport.Unregister(ctx, UnregisterRequest{ObjectID: objectID}); err != nil {
		c.logErr("unregister failed: %v", err)
	}
	_ = c.transport.Close()
}

func serverAddress(netCfg config.NetworkConfig) string {
	return fmt.Sprintf("%s:%d", netCfg.Host, netCfg.Port)
}

func (c *ControlClient) issueRegister(ip config.IPInfo) {
	req := RegisterRequest{
		Name:     c.name,
		Version:  c.version,
		ObjectID: c.state.ObjectID,
		IPv4:     ip.IPv4,
		IPv6:     ip.IPv6,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
		defer cancel()
		resp, err := c.transport.Register(ctx, req)
		c.loop.Post(func() { c.onRegisterResult(resp, err) })
	}()
}

func (c *ControlClient) onRegisterResult(resp RegisterResponse, err error) {
	if err != nil {
		c.logErr("register failed: %v", err)
		c.state.LastBackoffSeconds = nextBackoff(c.state.LastBackoffSeconds)
		c.registerTimer.Enable(time.Duration(c.state.LastBackoffSeconds) * time.Second)
		c.heartbeatTimer.Disable()
		return
	}

	c.state.LastBackoffSeconds = 0
	c.registerTimer.Disable()

	if resp.ConfigUUID != "" && resp.ConfigUUID != c.state.ConfigUUID {
		c.state.ConfigUUID = resp.ConfigUUID
		c.issueGetConfig()
	}

	c.heartbeatTimer.Enable(heartbeatNominalPeriod)
	c.healthTimer.Enable(healthCheckPeriod)
	c.openOperateStream()
	c.state.Phase = PhaseActive

	if c.onRegistered != nil {
		c.onRegistered()
	}
}

func (c *ControlClient) onRegisterTimer() {
	c.issueRegister(c.cfg.Snapshot().LocalIP())
}

func (c *ControlClient) onHeartbeatTimer() {
	if c.state.Phase != PhaseActive {
		return
	}
	c.sendHeartbeat()
}

func (c *ControlClient) sendHeartbeat() {
	req := HeartbeatRequest{
		ConfigUUID:  c.state.ConfigUUID,
		ObjectID:    c.state.ObjectID,
		Name:        c.name,
		Version:     c.version,
		ProcessList: c.table.SnapshotForHeartbeat(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
		defer cancel()
		resp, err := c.transport.Heartbeat(ctx, req)
		c.loop.Post(func() { c.onHeartbeatResult(resp, err) })
	}()
}

func (c *ControlClient) onHeartbeatResult(resp HeartbeatResponse, err error) {
	if err != nil {
		c.state.HeartbeatFailCount++
		c.logErr("heartbeat failed (%d/%d): %v", c.state.HeartbeatFailCount, heartbeatFailureLimit, err)
		if c.state.HeartbeatFailCount > heartbeatFailureLimit {
			c.state.HeartbeatFailCount = 0
			c.reenterRegistering()
			return
		}
		c.heartbeatTimer.Enable(heartbeatNominalPeriod)
		return
	}

	if resp.ConfigUUID != "" && resp.ConfigUUID != c.state.ConfigUUID {
		c.state.ConfigUUID = resp.ConfigUUID
		c.issueGetConfig()
	}
	c.heartbeatTimer.Enable(heartbeatNominalPeriod)
}

func (c *ControlClient) issueGetConfig() {
	req := GetConfigRequest{ConfigUUID: c.state.ConfigUUID}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
		defer cancel()
		resp, err := c.transport.GetConfig(ctx, req)
		c.loop.Post(func() { c.onGetConfigResult(resp, err) })
	}()
}

func (c *ControlClient) onGetConfigResult(resp GetConfigResponse, err error) {
	if err != nil {
		c.logErr("get_config failed: %v", err)
		return
	}
	if resp.ConfigContent == "" || resp.ConfigContent == c.state.CachedConfigBlob {
		return
	}
	c.state.CachedConfigBlob = resp.ConfigContent

	prevAddress := c.cfg.Snapshot().Network
	if err := c.cfg.OnServerConfig(resp.ConfigContent); err != nil {
		c.logErr("apply server config failed: %v", err)
		return
	}
	newAddress := c.cfg.Snapshot().Network
	if newAddress != prevAddress {
		target := serverAddress(newAddress)
		if err := c.transport.Redial(target); err != nil {
			c.logErr("redial %s failed: %v", target, err)
			return
		}
		c.state.ServerAddress = target
		c.reenterRegistering()
	}
}

func (c *ControlClient) openOperateStream() {
	ctx, cancel := context.WithCancel(context.Background())
	c.operateCancel = cancel
	objectID := c.state.ObjectID

	go func() {
		stream, err := c.transport.Operate(ctx, objectID)
		if err != nil {
			c.loop.Post(func() { c.onOperateStreamEnd(err) })
			return
		}
		for {
			msg, err := stream.Recv()
			if err != nil {
				_ = stream.Close()
				c.loop.Post(func() { c.onOperateStreamEnd(err) })
				return
			}
			c.loop.Post(func() { c.onOperateMessage(msg) })
		}
	}()
}

func (c *ControlClient) onOperateMessage(msg OperateMessage) {
	for _, name := range msg.Names {
		var err error
		switch msg.Cmd {
		case OperateStart:
			err = c.table.StartOne(name)
		case OperateStop:
			err = c.table.StopOne(name)
		}
		if err != nil {
			c.logErr("operate %s %s: %v", msg.Cmd, name, err)
		}
	}
	c.sendHeartbeat()
}

func (c *ControlClient) onOperateStreamEnd(err error) {
	if c.state.Phase == PhaseUnregistering {
		return
	}
	c.logErr("operate stream ended: %v", err)
	c.reenterRegistering()
}

func (c *ControlClient) reenterRegistering() {
	c.heartbeatTimer.Disable()
	c.registerTimer.Disable()
	if c.operateCancel != nil {
		c.operateCancel()
		c.operateCancel = nil
	}
	c.state.Phase = PhaseRegistering
	c.issueRegister(c.cfg.Snapshot().LocalIP())
}

func (c *ControlClient) onHealthTimer() {
	c.healthTimer.Enable(healthCheckPeriod)
	if c.log == nil {
		return
	}
	c.log.Current().Info().Str(`state`, c.transport.State()).Log("control-plane connectivity")
}

func (c *ControlClient) logErr(format string, args ...any) {
	if c.log == nil {
		return
	}
	c.log.Current().Err().Err(fmt.Errorf(format, args...)).Log("controlclient")
}
