package process

import (
	"fmt"
	"os/exec"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/novawatcher-io/watchermen/internal/cgroup"
	"github.com/novawatcher-io/watchermen/internal/config"
	"github.com/novawatcher-io/watchermen/internal/eventloop"
	"github.com/novawatcher-io/watchermen/internal/logging"
)

// restartWindow/restartBudget bound the opt-in respawn extension: at most
// 5 restarts per process name per 60 seconds. This is additive - the
// original source delegates immediate respawn to the process primitive and
// mandates no policy beyond that (spec.md §4.4/§9).
const (
	restartWindow = 60 * time.Second
	restartBudget = 5
)

// ConfigSource is the subset of *config.Config the Reconciler needs for
// operator-issued start_one/stop_one, which look the named process up in
// the *current* configuration rather than an explicit diff map.
type ConfigSource interface {
	Snapshot() config.ManagerConfig
}

// cgroupAcquirer is the subset of *cgroup.Manager the Reconciler depends
// on, so tests can substitute a fake instead of a real cgroup v2
// hierarchy.
type cgroupAcquirer interface {
	Acquire(cgroup.Policy) (cgroup.Handle, error)
}

// Reconciler implements config.Reconciler plus the operator-command and
// exit-handling operations from spec.md §4.4. Every exported method (and
// every callback it schedules) assumes it runs on the event loop thread.
type Reconciler struct {
	loop      *eventloop.Loop
	table     *Table
	cgroupMgr cgroupAcquirer
	cfg       ConfigSource
	log       *logging.Logger

	restartLimiter *catrate.Limiter
	restartPlan    *fullRestartPlan
}

// pendingExec is the configuration to start once the instance it's
// attached to has actually been reaped, so a reload never installs its
// replacement before the old process (and its cgroup membership) is
// gone.
type pendingExec struct {
	svc          config.ProcessConfig
	globalCgroup config.CgroupPolicy
}

// fullRestartPlan tracks the instances a FullRestart is waiting on
// before it starts the replacement pool (spec.md §4.3 step 4).
type fullRestartPlan struct {
	remaining    map[string]bool
	services     []config.ProcessConfig
	globalCgroup config.CgroupPolicy
}

// NewReconciler wires a Reconciler to its collaborators. log may be nil in
// tests that don't care about log output.
func NewReconciler(loop *eventloop.Loop, cgroupMgr cgroupAcquirer, cfg ConfigSource, log *logging.Logger) *Reconciler {
	return &Reconciler{
		loop:      loop,
		table:     NewTable(),
		cgroupMgr: cgroupMgr,
		cfg:       cfg,
		log:       log,
		restartLimiter: catrate.NewLimiter(map[time.Duration]int{
			restartWindow: restartBudget,
		}),
	}
}

// Table exposes the live process table for read-only callers (HTTP
// introspection, heartbeat snapshotting).
func (r *Reconciler) Table() *Table { return r.table }

// StartAll implements config.Reconciler.
func (r *Reconciler) StartAll(services []config.ProcessConfig, globalCgroup config.CgroupPolicy) {
	for _, svc := range services {
		r.startOneConfig(svc, globalCgroup)
	}
}

// StopAll implements config.Reconciler: every instance transitions
// RUNNING -> STOPPING -> STOPPED.
func (r *Reconciler) StopAll() {
	for name := range r.table.instances {
		r.stopInstance(name)
	}
}

// FullRestart implements config.Reconciler's global-cgroup-change path.
// It does not start the replacement pool until every currently-running
// instance has actually been reaped: starting it eagerly (stop, then
// immediately start) would re-Acquire a shared cgroup name while the
// dying process still occupies it, and cgroup.Manager only applies
// Resources the first time a name is seen - so the new policy would be
// silently dropped.
func (r *Reconciler) FullRestart(services []config.ProcessConfig, globalCgroup config.CgroupPolicy) {
	plan := &fullRestartPlan{
		remaining:    make(map[string]bool, len(r.table.instances)),
		services:     services,
		globalCgroup: globalCgroup,
	}
	for name, inst := range r.table.instances {
		if inst.Status != StatusRunning {
			continue
		}
		plan.remaining[name] = true
		inst.Status = StatusStopping
		r.killAndRelease(inst)
	}
	if len(plan.remaining) == 0 {
		r.StartAll(services, globalCgroup)
		return
	}
	r.restartPlan = plan
}

// ApplyAdd implements config.Reconciler: absent entries are started,
// present entries are reloaded (stop then start with the new command).
func (r *Reconciler) ApplyAdd(added map[string]config.ProcessConfig) {
	globalCgroup := r.cfg.Snapshot().CgroupPolicy
	for _, svc := range added {
		if inst, ok := r.table.Get(svc.ProcessName); ok {
			r.reloadInstance(inst, svc, globalCgroup)
		} else {
			r.startOneConfig(svc, globalCgroup)
		}
	}
}

// ApplyRemove implements config.Reconciler: present entries transition to
// DELETING, are killed, and are removed once reaped.
func (r *Reconciler) ApplyRemove(removed map[string]config.ProcessConfig) {
	for name := range removed {
		r.deleteInstance(name)
	}
}

// StartOne is the operator command path: the config is looked up in the
// current ManagerConfig rather than supplied by the caller.
func (r *Reconciler) StartOne(name string) error {
	snap := r.cfg.Snapshot()
	for _, svc := range snap.Service {
		if svc.ProcessName == name {
			r.startOneConfig(svc, snap.CgroupPolicy)
			return nil
		}
	}
	return fmt.Errorf("process: no configured service named %q", name)
}

// StopOne is the operator command path.
func (r *Reconciler) StopOne(name string) error {
	if _, ok := r.table.Get(name); !ok {
		return fmt.Errorf("process: no running instance named %q", name)
	}
	r.stopInstance(name)
	return nil
}

func (r *Reconciler) startOneConfig(svc config.ProcessConfig, globalCgroup config.CgroupPolicy) {
	inst := &ProcessInstance{
		Name:          svc.ProcessName,
		command:       svc.Command,
		restartPolicy: string(svc.RestartPolicy),
	}
	r.table.instances[svc.ProcessName] = inst
	r.exec(inst, svc, globalCgroup)
}

// reloadInstance implements the reload half of ApplyAdd. If inst is
// actually running, the replacement is not started until the old
// process is reaped (see onExit's StatusReload case and finishReload);
// otherwise - nothing left to wait for - it starts immediately.
func (r *Reconciler) reloadInstance(inst *ProcessInstance, svc config.ProcessConfig, globalCgroup config.CgroupPolicy) {
	if inst.Status != StatusRunning {
		inst.Status = StatusReloading
		inst.command = svc.Command
		inst.restartPolicy = string(svc.RestartPolicy)
		r.exec(inst, svc, globalCgroup)
		return
	}
	inst.Status = StatusReload
	inst.pending = &pendingExec{svc: svc, globalCgroup: globalCgroup}
	r.killAndRelease(inst)
}

// resolveCgroup implements spec.md §4.4's cgroup resolution.
func (r *Reconciler) resolveCgroup(svc config.ProcessConfig, globalCgroup config.CgroupPolicy) (cgroup.Handle, error) {
	switch {
	case svc.CgroupPolicy.Enabled:
		name := globalCgroup.Name
		if name == "" {
			name = svc.ProcessName
		}
		return r.cgroupMgr.Acquire(cgroup.Policy{
			Name:        name,
			CPURate:     svc.CgroupPolicy.CPURate,
			MemoryLimit: svc.CgroupPolicy.MemoryLimit,
		})
	case globalCgroup.Enabled && globalCgroup.Name != "":
		return r.cgroupMgr.Acquire(cgroup.Policy{
			Name:        globalCgroup.Name,
			CPURate:     globalCgroup.CPURate,
			MemoryLimit: globalCgroup.MemoryLimit,
		})
	default:
		return nil, nil
	}
}

// exec starts inst.command and attaches any resolved cgroup. The cgroup
// handle is always assigned to the instance before start, whether it came
// from the per-process or the shared-global path - fixing the
// startPartProcess bug documented in spec.md §9 where the per-process path
// never called setCGroup.
func (r *Reconciler) exec(inst *ProcessInstance, svc config.ProcessConfig, globalCgroup config.CgroupPolicy) {
	handle, err := r.resolveCgroup(svc, globalCgroup)
	if err != nil {
		r.logErr("resolve cgroup for %s: %v", inst.Name, err)
		inst.Status = StatusExited
		return
	}
	inst.cgroup = handle

	cmd := exec.Command("/bin/sh", "-c", inst.command)
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		r.logErr("start %s: %v", inst.Name, err)
		inst.Status = StatusExited
		if inst.cgroup != nil {
			_ = inst.cgroup.Release()
			inst.cgroup = nil
		}
		return
	}

	inst.cmd = cmd
	inst.PID = cmd.Process.Pid
	inst.StartTime = time.Now()
	inst.Status = StatusRunning

	if inst.cgroup != nil {
		if err := inst.cgroup.AttachPID(inst.PID); err != nil {
			r.logErr("attach cgroup for %s: %v", inst.Name, err)
		}
	}

	name := inst.Name
	go func() {
		waitErr := cmd.Wait()
		r.loop.Post(func() {
			r.onExit(name, cmd, waitErr)
		})
	}()
}

// onExit runs on the event loop, per spec.md §4.4's exit handling. cmd
// identifies which generation of the named instance exited: a reload or
// full restart may have already replaced inst.cmd with a newer process
// by the time this posted callback runs, in which case this report is
// stale and must be ignored rather than applied to the replacement.
func (r *Reconciler) onExit(name string, cmd *exec.Cmd, waitErr error) {
	inst, ok := r.table.Get(name)
	if !ok || inst.cmd != cmd {
		return
	}

	switch inst.Status {
	case StatusStopping, StatusDeleting:
		r.finishStop(inst)
		r.completeRestartStep(name)
		return
	case StatusReload:
		r.finishReload(inst)
		return
	}

	inst.Status = StatusExited
	if waitErr != nil {
		r.logErr("%s exited: %v", name, waitErr)
	}
	if inst.cgroup != nil {
		_ = inst.cgroup.Release()
		inst.cgroup = nil
	}

	if inst.restartPolicy != string(config.RestartOnFailure) {
		return
	}

	if _, allowed := r.restartLimiter.Allow(name); !allowed {
		r.logErr("restart budget exhausted for %s, leaving EXITED", name)
		return
	}

	snap := r.cfg.Snapshot()
	for _, svc := range snap.Service {
		if svc.ProcessName == name {
			r.startOneConfig(svc, snap.CgroupPolicy)
			return
		}
	}
}

func (r *Reconciler) stopInstance(name string) {
	inst, ok := r.table.Get(name)
	if !ok {
		return
	}
	inst.Status = StatusStopping
	r.killAndRelease(inst)
}

func (r *Reconciler) deleteInstance(name string) {
	inst, ok := r.table.Get(name)
	if !ok {
		return
	}
	inst.Status = StatusDeleting
	r.killAndRelease(inst)
}

// killAndRelease signals the process group. It does not release the
// cgroup reference itself: finishStop or finishReload (invoked from onExit
// once the wait goroutine observes the exit) releases it, and finishStop
// removes a DELETING instance from the table.
func (r *Reconciler) killAndRelease(inst *ProcessInstance) {
	if inst.cmd != nil && inst.cmd.Process != nil {
		_ = killProcessGroup(inst.cmd.Process.Pid)
	}
}

func (r *Reconciler) finishStop(inst *ProcessInstance) {
	if inst.cgroup != nil {
		_ = inst.cgroup.Release()
		inst.cgroup = nil
	}
	switch inst.Status {
	case StatusDeleting:
		inst.Status = StatusDeleted
		delete(r.table.instances, inst.Name)
	default:
		inst.Status = StatusStopped
	}
}

// finishReload runs once the old process behind a StatusReload instance
// has actually been reaped: its cgroup reference is released before the
// pending replacement is started, so reload never leaks a handle (spec.md
// §3 invariant 6) and never races FullRestart's Acquire-reuse problem.
func (r *Reconciler) finishReload(inst *ProcessInstance) {
	if inst.cgroup != nil {
		_ = inst.cgroup.Release()
		inst.cgroup = nil
	}
	pending := inst.pending
	inst.pending = nil
	if pending == nil {
		inst.Status = StatusStopped
		return
	}
	inst.Status = StatusReloading
	inst.command = pending.svc.Command
	inst.restartPolicy = string(pending.svc.RestartPolicy)
	r.exec(inst, pending.svc, pending.globalCgroup)
}

// completeRestartStep advances a pending FullRestart once name's old
// instance has been reaped; the replacement pool is only started once
// every instance it stopped has actually exited.
func (r *Reconciler) completeRestartStep(name string) {
	plan := r.restartPlan
	if plan == nil || !plan.remaining[name] {
		return
	}
	delete(plan.remaining, name)
	if len(plan.remaining) > 0 {
		return
	}
	r.restartPlan = nil
	r.StartAll(plan.services, plan.globalCgroup)
}

func (r *Reconciler) logErr(format string, args ...any) {
	if r.log == nil {
		return
	}
	r.log.Current().Err().Err(fmt.Errorf(format, args...)).Log("process")
}
