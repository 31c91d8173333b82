// Command orchestrator runs the coordination engine's JSON-RPC server
// over standard input/output, alongside a background manager-cycle daemon
// that is always started.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alexpekarovsky/orchestrator/internal/config"
	"github.com/alexpekarovsky/orchestrator/internal/obslog"
	"github.com/alexpekarovsky/orchestrator/internal/orchestrator"
	"github.com/alexpekarovsky/orchestrator/internal/policy"
	"github.com/alexpekarovsky/orchestrator/internal/rpc"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "orchestrator:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap layout: %w", err)
	}

	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}

	logger, err := obslog.New(filepath.Join(cfg.Root, "orchestrator.log"))
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logger.Close()

	engine := orchestrator.New(cfg, pol, orchestrator.WithLogger(logger))
	if err := engine.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap engine: %w", err)
	}

	daemon := orchestrator.NewDaemon(engine, pol.Manager, time.Duration(cfg.AutoCycleSeconds)*time.Second)
	daemonErr := make(chan error, 1)
	go func() {
		daemonErr <- daemon.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	dispatcher := rpc.New(engine)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- dispatcher.Serve(os.Stdin, os.Stdout)
	}()

	select {
	case err := <-serveErr:
		daemon.Stop()
		return err
	case sig := <-sigCh:
		logger.Printf("orchestrator: received %s, shutting down", sig)
		daemon.Stop()
		return nil
	case err := <-daemonErr:
		return fmt.Errorf("manager-cycle daemon: %w", err)
	}
}
