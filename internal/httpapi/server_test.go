package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/novawatcher-io/watchermen/internal/config"
	"github.com/novawatcher-io/watchermen/internal/eventloop"
	"github.com/novawatcher-io/watchermen/internal/process"
)

type fakeTable struct {
	snaps []process.Snapshot
}

func (f *fakeTable) Snapshot() []process.Snapshot { return f.snaps }

func startTestLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop := eventloop.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)
	return loop
}

func waitForListener(t *testing.T, addr, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + path)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server on %s never came up", addr)
}

func TestHealthReturnsUp(t *testing.T) {
	loop := startTestLoop(t)
	srv := NewServer(loop, &fakeTable{}, nil)
	srv.Start(config.HTTPServerConfig{Bind: "127.0.0.1:18881"})
	defer srv.Stop()
	waitForListener(t, "127.0.0.1:18881", defaultHealthPath)

	resp, err := http.Get("http://127.0.0.1:18881/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "UP" {
		t.Fatalf("expected status UP, got %+v", body)
	}
}

func TestHealthHonorsCustomPath(t *testing.T) {
	loop := startTestLoop(t)
	srv := NewServer(loop, &fakeTable{}, nil)
	srv.Start(config.HTTPServerConfig{Bind: "127.0.0.1:18882", HealthPath: "/healthz"})
	defer srv.Stop()

	deadline := time.Now().Add(2 * time.Second)
	var resp *http.Response
	var err error
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://127.0.0.1:18882/healthz")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestProcessListReportsTableAndStatusLegend(t *testing.T) {
	loop := startTestLoop(t)
	table := &fakeTable{snaps: []process.Snapshot{
		{Name: "a", PID: 111, Status: "RUNNING"},
		{Name: "b", PID: 0, Status: "EXITED"},
	}}
	srv := NewServer(loop, table, nil)
	srv.Start(config.HTTPServerConfig{Bind: "127.0.0.1:18883"})
	defer srv.Stop()
	waitForListener(t, "127.0.0.1:18883", "/process/list")

	resp, err := http.Get("http://127.0.0.1:18883/process/list")
	if err != nil {
		t.Fatalf("GET /process/list: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Process []processEntry `json:"process"`
		Status  map[string]int `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Process) != 2 {
		t.Fatalf("expected 2 process entries, got %d", len(body.Process))
	}
	if body.Status["RUNNING"] != int(process.StatusRunning) {
		t.Fatalf("expected RUNNING legend entry, got %+v", body.Status)
	}
	if body.Status["EXITED"] != int(process.StatusExited) {
		t.Fatalf("expected EXITED legend entry, got %+v", body.Status)
	}
}

func TestStartWithEmptyBindIsNoop(t *testing.T) {
	loop := startTestLoop(t)
	srv := NewServer(loop, &fakeTable{}, nil)
	srv.Start(config.HTTPServerConfig{})
	defer srv.Stop()

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.srv != nil {
		t.Fatal("expected no listener to start with an empty bind address")
	}
}

func TestStopIsIdempotentBeforeStart(t *testing.T) {
	loop := startTestLoop(t)
	srv := NewServer(loop, &fakeTable{}, nil)
	srv.Stop() // must not panic
}
