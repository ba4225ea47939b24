package cgroup

import (
	"testing"

	"github.com/containerd/cgroups/v3/cgroup2"
)

type fakeBackend struct {
	name      string
	pids      []uint64
	deleted   bool
	resources *cgroup2.Resources
}

func TestAcquireCreatesGroupOnce(t *testing.T) {
	var created []string
	restore := stubBackend(t, func(mountpoint, name string, res *cgroup2.Resources) (backend, error) {
		created = append(created, name)
		return &fakeBackend{name: name, resources: res}, nil
	})
	defer restore()

	m := NewManager("/sys/fs/cgroup")

	h1, err := m.Acquire(Policy{Name: "watchermen", CPURate: 150, MemoryLimit: 1 << 20})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	h2, err := m.Acquire(Policy{Name: "watchermen"})
	if err != nil {
		t.Fatalf("Acquire (second): %v", err)
	}

	if len(created) != 1 {
		t.Fatalf("expected the backend to be created exactly once, got %v", created)
	}

	if err := h1.Release(); err != nil {
		t.Fatalf("Release h1: %v", err)
	}
	if _, stillThere := m.groups["watchermen"]; !stillThere {
		t.Fatal("group must survive while h2 still holds a reference")
	}
	if err := h2.Release(); err != nil {
		t.Fatalf("Release h2: %v", err)
	}
	if _, stillThere := m.groups["watchermen"]; stillThere {
		t.Fatal("group must be deleted once the last reference releases")
	}
}

func TestAcquireRejectsEmptyName(t *testing.T) {
	m := NewManager("/sys/fs/cgroup")
	if _, err := m.Acquire(Policy{}); err == nil {
		t.Fatal("expected an error for an empty cgroup name")
	}
}

func TestAttachPIDDelegatesToBackend(t *testing.T) {
	var fb *fakeBackend
	restore := stubBackend(t, func(mountpoint, name string, res *cgroup2.Resources) (backend, error) {
		fb = &fakeBackend{name: name, resources: res}
		return fb, nil
	})
	defer restore()

	m := NewManager("/sys/fs/cgroup")
	h, err := m.Acquire(Policy{Name: "svc-a"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := h.AttachPID(1234); err != nil {
		t.Fatalf("AttachPID: %v", err)
	}
	if len(fb.pids) != 1 || fb.pids[0] != 1234 {
		t.Fatalf("expected pid 1234 recorded, got %v", fb.pids)
	}
}

func TestResourcesForAppliesOnlySetFields(t *testing.T) {
	res := resourcesFor(Policy{Name: "x"})
	if res.CPU != nil || res.Memory != nil {
		t.Fatalf("expected no resources set for a zero-value policy, got %+v", res)
	}

	res = resourcesFor(Policy{Name: "x", CPURate: 50, MemoryLimit: 4096})
	if res.CPU == nil || res.Memory == nil {
		t.Fatalf("expected both cpu and memory resources set, got %+v", res)
	}
	if *res.Memory.Max != 4096 {
		t.Fatalf("expected memory max 4096, got %d", *res.Memory.Max)
	}
}

func (f *fakeBackend) AddProc(pid uint64) error {
	f.pids = append(f.pids, pid)
	return nil
}

func (f *fakeBackend) Delete() error {
	f.deleted = true
	return nil
}

func stubBackend(t *testing.T, fn func(mountpoint, name string, res *cgroup2.Resources) (backend, error)) func() {
	t.Helper()
	orig := newBackend
	newBackend = fn
	return func() { newBackend = orig }
}
