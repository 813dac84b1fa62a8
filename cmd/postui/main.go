package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/wtfpos/posd/internal/api"
	"github.com/wtfpos/posd/internal/terminal"
	"github.com/wtfpos/posd/internal/tui"
)

func main() {
	terminalFlag := flag.String("terminal", "", "terminal name (overrides POS_TERMINAL and config default)")
	flag.Parse()

	name := terminal.Resolve(*terminalFlag)
	if err := terminal.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	socketPath := terminal.SocketPath(name)

	// Probe daemon health; auto-start if needed.
	if !probeDaemon(socketPath) {
		fmt.Fprintf(os.Stderr, "daemon not running for terminal %q, starting...\n", name)
		if err := startDaemon(name); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fmt.Fprintf(os.Stderr, "daemon did not become ready\n")
			os.Exit(1)
		}
	}

	c, err := api.Dial(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	app := tui.NewApp(c, name)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// probeDaemon reports whether the daemon answers a gRPC health check.
func probeDaemon(socketPath string) bool {
	c, err := api.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Ping(ctx) == nil
}

func startDaemon(name string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	posd := filepath.Join(filepath.Dir(executable), "posd")

	if _, err := os.Stat(posd); err != nil {
		posd = "posd"
	}

	cmd := exec.Command(posd, "--terminal", name)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
