// Command watchermen is the host-local process supervisor's entrypoint,
// the Go counterpart of original_source/main.cc.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/novawatcher-io/watchermen/internal/bootstrap"
	"github.com/novawatcher-io/watchermen/internal/buildinfo"
	"github.com/novawatcher-io/watchermen/internal/config"
	"github.com/novawatcher-io/watchermen/internal/manager"
)

var (
	configPath = flag.String("c", "", "Path to the configuration file")
	executeCmd = flag.String("e", "", "Execute command")
	network    = flag.String("n", "", `Network connection; "no" disables the control-plane client`)
	showVer    = flag.Bool("v", false, "Show version")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVer {
		fmt.Println(buildinfo.String())
		return 0
	}

	if *executeCmd != "" {
		fmt.Printf("Execute command: %s\n", *executeCmd)
		return 0
	}

	if *configPath == "" {
		fmt.Println("The configuration file cannot be empty")
		return 1
	}

	probe := config.NewConfig(nil, nil, nil)
	if err := probe.LoadFromPath(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "watchermen: %v\n", err)
		return 1
	}
	daemonize := probe.Snapshot().Daemon

	handle, isChild, err := bootstrap.Run(bootstrap.Options{Daemon: daemonize})
	if err != nil {
		fmt.Fprintf(os.Stderr, "watchermen: %v\n", err)
		return 1
	}
	if !isChild {
		// The original process re-exec'd a detached copy of itself; its
		// job is done.
		return 0
	}
	defer handle.Shutdown()

	m, err := manager.New(manager.Options{
		ConfigPath:          *configPath,
		ConnectControlPlane: *network != "no",
		Name:                "watchermen",
		Version:             buildinfo.Version,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "watchermen: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	bootstrap.WatchSignals(ctx, func() {
		m.Stop()
		cancel()
	})

	m.Run(ctx)
	return 0
}
