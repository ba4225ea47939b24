// Package manager wires Config, the process Reconciler, the
// introspection HTTP surface, the config file watcher and (optionally)
// the control-plane client around one event loop - the Go counterpart
// of original_source's App::Process::Manager::start/stop.
package manager

import (
	"context"
	"fmt"
	"path/filepath"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/novawatcher-io/watchermen/internal/cgroup"
	"github.com/novawatcher-io/watchermen/internal/config"
	"github.com/novawatcher-io/watchermen/internal/controlclient"
	"github.com/novawatcher-io/watchermen/internal/eventloop"
	"github.com/novawatcher-io/watchermen/internal/httpapi"
	"github.com/novawatcher-io/watchermen/internal/logging"
	"github.com/novawatcher-io/watchermen/internal/process"
)

const defaultCgroupMountpoint = "/sys/fs/cgroup"

// Options configure Manager construction. ConnectControlPlane mirrors
// -n's "no" sentinel from main.cc: any value other than "no" (including
// the flag's empty default) means connect.
type Options struct {
	ConfigPath          string
	ConnectControlPlane bool
	Name                string
	Version             string
}

// Manager owns the event loop and every collaborator hung off it.
type Manager struct {
	loop    *eventloop.Loop
	log     *logging.Logger
	cfg     *config.Config
	recon   *process.Reconciler
	http    *httpapi.Server
	watcher *config.FsWatcher
	control *controlclient.ControlClient
}

// fsListener posts OnLocalFileEvent onto the event loop, so that
// apply_candidate - and therefore every Reconciler/HTTP call it makes -
// always runs on the loop thread, matching the event-loop-thread-only
// contract those collaborators document. Config itself has no loop
// reference, so this glue lives here rather than in internal/config.
type fsListener struct {
	loop *eventloop.Loop
	cfg  *config.Config
}

func (l fsListener) OnChange() {
	l.loop.Post(l.cfg.OnLocalFileEvent)
}

// reconcilerProcessTable adapts *process.Reconciler to
// controlclient.ProcessTable: SnapshotForHeartbeat lives on the
// Reconciler's Table, not the Reconciler itself.
type reconcilerProcessTable struct {
	r *process.Reconciler
}

func (t reconcilerProcessTable) StartOne(name string) error { return t.r.StartOne(name) }
func (t reconcilerProcessTable) StopOne(name string) error  { return t.r.StopOne(name) }
func (t reconcilerProcessTable) SnapshotForHeartbeat() []process.HeartbeatEntry {
	return t.r.Table().SnapshotForHeartbeat()
}

// New loads opts.ConfigPath and wires every collaborator. It does not
// start anything yet - call Run for that.
func New(opts Options) (*Manager, error) {
	cfg := config.NewConfig(nil, nil, nil)
	if err := cfg.LoadFromPath(opts.ConfigPath); err != nil {
		return nil, err
	}
	snap := cfg.Snapshot()

	log, err := logging.New(snap.Daemon, snap.LogPath, snap.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("manager: build logger: %w", err)
	}

	loop := eventloop.NewLoop()
	cgroupMgr := cgroup.NewManager(defaultCgroupMountpoint)
	recon := process.NewReconciler(loop, cgroupMgr, cfg, log)
	httpSrv := httpapi.NewServer(loop, recon.Table(), log)

	cfg.SetCollaborators(recon, log, httpSrv)

	watcher, err := config.NewFsWatcher(opts.ConfigPath, fsListener{loop: loop, cfg: cfg})
	if err != nil {
		return nil, fmt.Errorf("manager: watch config file: %w", err)
	}

	m := &Manager{
		loop:    loop,
		log:     log,
		cfg:     cfg,
		recon:   recon,
		http:    httpSrv,
		watcher: watcher,
	}

	if opts.ConnectControlPlane {
		control, err := newControlClient(loop, cfg, recon, log, opts, snap)
		if err != nil {
			_ = watcher.Close()
			return nil, err
		}
		m.control = control
	}

	return m, nil
}

func newControlClient(loop *eventloop.Loop, cfg *config.Config, recon *process.Reconciler, log *logging.Logger, opts Options, snap config.ManagerConfig) (*controlclient.ControlClient, error) {
	objectIDFallback := filepath.Join(filepath.Dir(opts.ConfigPath), ".watchermen-object-id")
	objectID, err := controlclient.ResolveObjectID(controlclient.DefaultMachineIDPath, objectIDFallback)
	if err != nil {
		return nil, fmt.Errorf("manager: resolve object id: %w", err)
	}

	target := fmt.Sprintf("%s:%d", snap.Network.Host, snap.Network.Port)
	transport, err := controlclient.NewGRPCTransport(target, snap.CompanyUUID, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("manager: dial control plane %s: %w", target, err)
	}

	table := reconcilerProcessTable{r: recon}
	return controlclient.New(loop, transport, cfg, table, log, opts.Name, opts.Version, objectID), nil
}

// Run brings the supervisor up and blocks until ctx is cancelled:
// process pool start, the introspection HTTP server, control-plane
// registration, all run on the event loop itself - mirroring Manager::start's sequence (sigset wiring happens
// one level up, in internal/bootstrap.WatchSignals). The caller owns
// ctx and is responsible for cancelling it to stop the loop, typically
// from the same shutdown callback that calls Stop.
func (m *Manager) Run(ctx context.Context) {
	go func() {
		snap := m.cfg.Snapshot()
		m.loop.Call(func() any {
			m.recon.StartAll(snap.Service, snap.CgroupPolicy)
			m.http.Start(snap.HTTPServer)
			if m.control != nil {
				m.control.Start()
			}
			return nil
		})
		m.log.Current().Info().Log("supervisor started")
	}()

	m.loop.Run(ctx)
}

// Stop implements Manager::stop: http first, control-plane next,
// process pool last, then the config watcher. It does not cancel the
// context Run was given - the caller does that, typically right after
// Stop returns.
func (m *Manager) Stop() {
	m.loop.Call(func() any {
		m.http.Stop()
		if m.control != nil {
			m.control.Shutdown()
		}
		m.recon.StopAll()
		return nil
	})
	_ = m.watcher.Close()
	m.log.Current().Info().Log("supervisor stopped")
}
