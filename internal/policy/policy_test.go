package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writePolicy(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writePolicy(t, "manager: lead-agent\n")
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "default" {
		t.Fatalf("expected default name, got %q", p.Name)
	}
	if p.HeartbeatTimeoutMinutes != defaultHeartbeatTimeoutMinutes {
		t.Fatalf("expected default heartbeat timeout, got %d", p.HeartbeatTimeoutMinutes)
	}
	if p.ArchitectureMode != "majority" {
		t.Fatalf("expected default architecture mode majority, got %q", p.ArchitectureMode)
	}
}

func TestLoadRequiresManager(t *testing.T) {
	path := writePolicy(t, "name: test\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing manager")
	}
}

func TestLoadRejectsManagerAsTeamMember(t *testing.T) {
	path := writePolicy(t, "manager: lead-agent\nteam_members:\n  - lead-agent\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when manager is also listed as a team member")
	}
}

func TestTaskOwnerForFallsBackToDefaultThenManager(t *testing.T) {
	p := &Policy{Manager: "lead-agent", Routing: map[string]string{"backend": "backend-agent", "default": "generalist-agent"}}
	if got := p.TaskOwnerFor("backend"); got != "backend-agent" {
		t.Fatalf("expected backend-agent, got %q", got)
	}
	if got := p.TaskOwnerFor("frontend"); got != "generalist-agent" {
		t.Fatalf("expected default route generalist-agent, got %q", got)
	}

	noDefault := &Policy{Manager: "lead-agent", Routing: map[string]string{}}
	if got := noDefault.TaskOwnerFor("qa"); got != "lead-agent" {
		t.Fatalf("expected fallback to manager, got %q", got)
	}
}

func TestHeartbeatTimeoutFloorsAtSixtySeconds(t *testing.T) {
	p := &Policy{HeartbeatTimeoutMinutes: 0}
	if got := p.HeartbeatTimeout(); got != minHeartbeatTimeout {
		t.Fatalf("expected floor of %s, got %s", minHeartbeatTimeout, got)
	}
	p.HeartbeatTimeoutMinutes = 5
	if got := p.HeartbeatTimeout(); got != 5*time.Minute {
		t.Fatalf("expected 5m, got %s", got)
	}
}

func TestVotersDefaultsToManagerAndTeamMembers(t *testing.T) {
	p := &Policy{Manager: "lead-agent", TeamMembers: []string{"backend-agent", "qa-agent"}}
	voters := p.Voters()
	if len(voters) != 3 {
		t.Fatalf("expected 3 voters, got %v", voters)
	}

	explicit := &Policy{Manager: "lead-agent", TeamMembers: []string{"backend-agent"}, ArchitectureVoters: []string{"backend-agent"}}
	voters = explicit.Voters()
	if len(voters) != 1 || voters[0] != "backend-agent" {
		t.Fatalf("expected explicit voter list to win, got %v", voters)
	}
}

func TestIsTeamMemberCaseInsensitive(t *testing.T) {
	p := &Policy{TeamMembers: []string{"Backend-Agent"}}
	if !p.IsTeamMember("backend-agent") {
		t.Fatalf("expected case-insensitive match")
	}
	if p.IsTeamMember("qa-agent") {
		t.Fatalf("expected no match for unrelated agent")
	}
}
