package config

import (
	"os"
	"path/filepath"
	"testing"
)

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	prev, had := os.LookupEnv(key)
	if value == "" {
		os.Unsetenv(key)
	} else {
		os.Setenv(key, value)
	}
	t.Cleanup(func() {
		if had {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoadResolvesRootFromEnv(t *testing.T) {
	root := t.TempDir()
	withEnv(t, RootEnv, root)
	withEnv(t, PolicyEnv, "")
	withEnv(t, AutoCycleSecondsEnv, "")
	withEnv(t, StatusVerbosePathsEnv, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != root {
		t.Fatalf("expected root %q, got %q", root, cfg.Root)
	}
	if cfg.PolicyPath != filepath.Join(root, defaultPolicyFile) {
		t.Fatalf("unexpected default policy path: %s", cfg.PolicyPath)
	}
	if cfg.AutoCycleSeconds != defaultAutoCycleSec {
		t.Fatalf("expected default auto-cycle seconds %d, got %d", defaultAutoCycleSec, cfg.AutoCycleSeconds)
	}
}

func TestLoadClampsAutoCycleSeconds(t *testing.T) {
	root := t.TempDir()
	withEnv(t, RootEnv, root)
	withEnv(t, AutoCycleSecondsEnv, "5000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AutoCycleSeconds != maxAutoCycleSeconds {
		t.Fatalf("expected clamp to %d, got %d", maxAutoCycleSeconds, cfg.AutoCycleSeconds)
	}
}

func TestLoadRejectsMismatchedExpectedRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	withEnv(t, RootEnv, root)
	withEnv(t, ExpectedRootEnv, other)

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when expected root mismatches resolved root")
	}
}

func TestLoadRelativePolicyPathJoinsRoot(t *testing.T) {
	root := t.TempDir()
	withEnv(t, RootEnv, root)
	withEnv(t, PolicyEnv, "custom/policy.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join(root, "custom/policy.json")
	if cfg.PolicyPath != want {
		t.Fatalf("expected policy path %q, got %q", want, cfg.PolicyPath)
	}
}

func TestBootstrapCreatesLayout(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{Root: root, AutoCycleSeconds: defaultAutoCycleSec}
	if err := cfg.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	for _, dir := range []string{cfg.BusDir(), cfg.CommandsDir(), cfg.ReportsDir(), cfg.StateDir(), cfg.DecisionsDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s to exist", dir)
		}
	}
	for _, path := range []string{cfg.EventsPath(), cfg.AuditPath()} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected file %s to exist: %v", path, err)
		}
	}

	// Bootstrap must be idempotent and must not truncate existing content.
	if err := os.WriteFile(cfg.EventsPath(), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Bootstrap(); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	data, err := os.ReadFile(cfg.EventsPath())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}\n" {
		t.Fatalf("expected Bootstrap to preserve existing file contents, got %q", data)
	}
}

func TestSameProject(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{Root: root}

	if !cfg.SameProject(root) {
		t.Fatalf("expected root itself to be same-project")
	}
	if !cfg.SameProject(filepath.Join(root, "subdir")) {
		t.Fatalf("expected subdirectory to be same-project")
	}
	if cfg.SameProject("") {
		t.Fatalf("expected empty candidate to be rejected")
	}
	sibling := filepath.Join(filepath.Dir(root), "sibling-project")
	if cfg.SameProject(sibling) {
		t.Fatalf("expected unrelated sibling directory to be rejected")
	}
}
