// Package config resolves the orchestrator's project root and on-disk
// layout from environment variables, and bootstraps that layout on disk.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// RootEnv selects the project root directory.
	RootEnv = "ORCHESTRATOR_ROOT"
	// ExpectedRootEnv, when set, must equal the resolved root or startup fails.
	ExpectedRootEnv = "ORCHESTRATOR_EXPECTED_ROOT"
	// PolicyEnv selects the policy document path.
	PolicyEnv = "ORCHESTRATOR_POLICY"
	// AutoCycleSecondsEnv sets the manager-cycle daemon interval.
	AutoCycleSecondsEnv = "ORCHESTRATOR_AUTO_MANAGER_CYCLE_SECONDS"
	// StatusVerbosePathsEnv toggles full filesystem paths in status output.
	StatusVerbosePathsEnv = "ORCHESTRATOR_STATUS_VERBOSE_PATHS"

	minAutoCycleSeconds = 5
	maxAutoCycleSeconds = 300
	defaultAutoCycleSec = 30

	defaultPolicyFile = "config/policy.json"
)

// Config holds the resolved runtime configuration for one orchestrator process.
type Config struct {
	// Root is the project root directory all state is stored under.
	Root string
	// PolicyPath is the resolved path to the policy document.
	PolicyPath string
	// AutoCycleSeconds is the clamped manager-cycle daemon interval.
	AutoCycleSeconds int
	// StatusVerbosePaths toggles inclusion of full filesystem paths in status output.
	StatusVerbosePaths bool
}

// Load resolves Config from the environment, defaulting root to the
// executable's directory when ORCHESTRATOR_ROOT is unset.
func Load() (*Config, error) {
	root := strings.TrimSpace(os.Getenv(RootEnv))
	if root == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("config: resolve default root: %w", err)
		}
		root = filepath.Dir(exe)
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("config: resolve root: %w", err)
	}

	if expected := strings.TrimSpace(os.Getenv(ExpectedRootEnv)); expected != "" {
		expectedAbs, err := filepath.Abs(expected)
		if err != nil {
			return nil, fmt.Errorf("config: resolve expected root: %w", err)
		}
		if !samePath(expectedAbs, root) {
			return nil, fmt.Errorf("config: resolved root %q does not match %s=%q", root, ExpectedRootEnv, expected)
		}
	}

	policyPath := strings.TrimSpace(os.Getenv(PolicyEnv))
	if policyPath == "" {
		policyPath = filepath.Join(root, defaultPolicyFile)
	} else if !filepath.IsAbs(policyPath) {
		policyPath = filepath.Join(root, policyPath)
	}

	cfg := &Config{
		Root:             root,
		PolicyPath:       policyPath,
		AutoCycleSeconds: defaultAutoCycleSec,
	}

	if raw := strings.TrimSpace(os.Getenv(AutoCycleSecondsEnv)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: %s must be an integer: %w", AutoCycleSecondsEnv, err)
		}
		cfg.AutoCycleSeconds = clampInt(n, minAutoCycleSeconds, maxAutoCycleSeconds)
	}

	if raw := strings.TrimSpace(os.Getenv(StatusVerbosePathsEnv)); raw != "" {
		cfg.StatusVerbosePaths = truthy(raw)
	}

	return cfg, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}

// BusDir returns the directory holding the event log, audit log, and
// per-task command/report projections.
func (c *Config) BusDir() string { return filepath.Join(c.Root, "bus") }

// StateDir returns the directory holding durable state documents.
func (c *Config) StateDir() string { return filepath.Join(c.Root, "state") }

// DecisionsDir returns the directory holding architecture decision records.
func (c *Config) DecisionsDir() string { return filepath.Join(c.Root, "decisions") }

// CommandsDir returns the directory holding per-task command projections.
func (c *Config) CommandsDir() string { return filepath.Join(c.BusDir(), "commands") }

// ReportsDir returns the directory holding per-task report payloads.
func (c *Config) ReportsDir() string { return filepath.Join(c.BusDir(), "reports") }

// EventsPath returns the path to the append-only event log.
func (c *Config) EventsPath() string { return filepath.Join(c.BusDir(), "events.jsonl") }

// AuditPath returns the path to the append-only audit log.
func (c *Config) AuditPath() string { return filepath.Join(c.BusDir(), "audit.jsonl") }

// ManagerCycleLockPath returns the path to the daemon's singleton OS lock file.
func (c *Config) ManagerCycleLockPath() string {
	return filepath.Join(c.StateDir(), ".manager_auto_cycle.lock")
}

// Bootstrap creates every directory the orchestrator needs under the root.
func (c *Config) Bootstrap() error {
	dirs := []string{
		c.BusDir(),
		c.CommandsDir(),
		c.ReportsDir(),
		c.StateDir(),
		c.DecisionsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: ensure %s: %w", dir, err)
		}
	}
	for _, path := range []string{c.EventsPath(), c.AuditPath()} {
		if err := ensureFile(path); err != nil {
			return err
		}
	}
	return nil
}

func ensureFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	return f.Close()
}

// SameProject reports whether candidate (a project_root or cwd value
// declared by an agent) resolves inside this orchestrator's root.
func (c *Config) SameProject(candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return false
	}
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)
	root := filepath.Clean(c.Root)
	if abs == root {
		return true
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
