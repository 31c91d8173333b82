package orchestrator

import (
	"testing"
	"time"

	"github.com/alexpekarovsky/orchestrator/internal/config"
	"github.com/alexpekarovsky/orchestrator/internal/orchestrator/apierr"
	"github.com/alexpekarovsky/orchestrator/internal/policy"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{Root: root, AutoCycleSeconds: 30}
	if err := cfg.Bootstrap(); err != nil {
		t.Fatalf("cfg.Bootstrap: %v", err)
	}
	pol := &policy.Policy{
		Name:                    "test",
		Manager:                 "lead-agent",
		TeamMembers:             []string{"backend-agent", "qa-agent"},
		Routing:                 map[string]string{"backend": "backend-agent"},
		HeartbeatTimeoutMinutes: 10,
		ArchitectureMode:        "majority",
	}
	e := New(cfg, pol)
	if err := e.Bootstrap(); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	return e
}

func fullIdentity(cfg *config.Config) map[string]string {
	return map[string]string{
		"client": "cli", "model": "test-model", "version": "1.0",
		"cwd": cfg.Root, "project_root": cfg.Root,
		"permissions_mode": "default", "sandbox_mode": "default",
		"session_id": "sess-1", "connection_id": "conn-1",
	}
}

func registerOperational(t *testing.T, e *Engine, agent string) {
	t.Helper()
	if _, err := e.Register(agent, fullIdentity(e.cfg)); err != nil {
		t.Fatalf("Register(%s): %v", agent, err)
	}
}

func TestBootstrapSeedsRolesFromPolicy(t *testing.T) {
	e := newTestEngine(t)
	roles, err := e.GetRoles()
	if err != nil {
		t.Fatalf("GetRoles: %v", err)
	}
	if roles.Leader != "lead-agent" {
		t.Fatalf("expected leader lead-agent, got %q", roles.Leader)
	}
	if len(roles.TeamMembers) != 2 {
		t.Fatalf("expected 2 team members, got %v", roles.TeamMembers)
	}
}

func TestRegisterThenOperationalSnapshot(t *testing.T) {
	e := newTestEngine(t)
	registerOperational(t, e, "backend-agent")

	record, snap, err := e.requireOperational("backend-agent")
	if err != nil {
		t.Fatalf("requireOperational: %v", err)
	}
	if record.Status != AgentActive {
		t.Fatalf("expected active status, got %q", record.Status)
	}
	if !snap.Operational || !snap.Verified {
		t.Fatalf("expected operational+verified snapshot, got %+v", snap)
	}
}

func TestRequireOperationalRejectsUnregisteredAgent(t *testing.T) {
	e := newTestEngine(t)
	if _, _, err := e.requireOperational("ghost-agent"); err == nil {
		t.Fatalf("expected error for unregistered agent")
	} else {
		var aerr *apierr.AuthorityError
		if ok := asAuthorityError(err, &aerr); !ok {
			t.Fatalf("expected AuthorityError, got %T: %v", err, err)
		}
		if aerr.Code != apierr.CodeNotOperationalOrWrongProject {
			t.Fatalf("unexpected code: %s", aerr.Code)
		}
	}
}

func TestRequireOperationalRejectsIncompleteIdentity(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Register("backend-agent", map[string]string{"client": "cli"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.requireOperational("backend-agent"); err == nil {
		t.Fatalf("expected error for incomplete identity metadata")
	}
}

func asAuthorityError(err error, target **apierr.AuthorityError) bool {
	aerr, ok := err.(*apierr.AuthorityError)
	if !ok {
		return false
	}
	*target = aerr
	return true
}

func TestCreateTaskRoutesOwnerAndDeduplicates(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.CreateTask(CreateTaskInput{
		Source: "lead-agent", Title: "Fix login bug", Workstream: "backend",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if result.Task.Owner != "backend-agent" {
		t.Fatalf("expected routed owner backend-agent, got %q", result.Task.Owner)
	}
	if result.Task.Status != StatusAssigned {
		t.Fatalf("expected status assigned, got %q", result.Task.Status)
	}

	dup, err := e.CreateTask(CreateTaskInput{
		Source: "lead-agent", Title: "fix   login BUG", Workstream: "Backend",
	})
	if err != nil {
		t.Fatalf("CreateTask dup: %v", err)
	}
	if !dup.Deduplicated {
		t.Fatalf("expected dedup hit for whitespace/case-insensitive title match")
	}
	if dup.Task.ID != result.Task.ID {
		t.Fatalf("expected dedup to return the original task")
	}
}

func TestCreateTaskRequiresLeader(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.CreateTask(CreateTaskInput{Source: "backend-agent", Title: "x", Workstream: "backend"}); err == nil {
		t.Fatalf("expected non-leader create_task to be rejected")
	}
}

func TestClaimNextAssignsOldestClaimableTask(t *testing.T) {
	e := newTestEngine(t)
	registerOperational(t, e, "backend-agent")

	first, err := e.CreateTask(CreateTaskInput{Source: "lead-agent", Title: "first", Workstream: "backend"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateTask(CreateTaskInput{Source: "lead-agent", Title: "second", Workstream: "backend"}); err != nil {
		t.Fatal(err)
	}

	claimed, err := e.ClaimNext("backend-agent")
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if claimed == nil || claimed.ID != first.Task.ID {
		t.Fatalf("expected to claim the oldest task first, got %+v", claimed)
	}
	if claimed.Status != StatusInProgress {
		t.Fatalf("expected claimed task in_progress, got %q", claimed.Status)
	}
}

func TestIngestReportMovesTaskToReported(t *testing.T) {
	e := newTestEngine(t)
	registerOperational(t, e, "backend-agent")
	created, err := e.CreateTask(CreateTaskInput{Source: "lead-agent", Title: "ship feature", Workstream: "backend"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ClaimNext("backend-agent"); err != nil {
		t.Fatal(err)
	}

	report := ReportPayload{TaskID: created.Task.ID, Agent: "backend-agent", CommitSha: "abc123", Status: "done"}
	report.TestSummary.Command = "go test ./..."
	report.TestSummary.Passed = 10

	task, err := e.IngestReport(report)
	if err != nil {
		t.Fatalf("IngestReport: %v", err)
	}
	if task.Status != StatusReported {
		t.Fatalf("expected status reported, got %q", task.Status)
	}
}

func TestIngestReportRejectsNonOwner(t *testing.T) {
	e := newTestEngine(t)
	registerOperational(t, e, "backend-agent")
	registerOperational(t, e, "qa-agent")
	created, err := e.CreateTask(CreateTaskInput{Source: "lead-agent", Title: "ship feature", Workstream: "backend"})
	if err != nil {
		t.Fatal(err)
	}

	report := ReportPayload{TaskID: created.Task.ID, Agent: "qa-agent", CommitSha: "abc123", Status: "done"}
	report.TestSummary.Command = "go test ./..."
	if _, err := e.IngestReport(report); err == nil {
		t.Fatalf("expected non-owner report to be rejected")
	}
}

func TestSubmitReportQueuesRetryInsteadOfSurfacingError(t *testing.T) {
	e := newTestEngine(t)
	registerOperational(t, e, "backend-agent")

	report := ReportPayload{TaskID: "TASK-does-not-exist", Agent: "backend-agent", CommitSha: "abc123"}
	report.TestSummary.Command = "go test ./..."

	queued, task, err := e.SubmitReport(report)
	if err != nil {
		t.Fatalf("SubmitReport should never surface ingest errors, got %v", err)
	}
	if !queued {
		t.Fatalf("expected the report to be queued for retry")
	}
	if task != nil {
		t.Fatalf("expected no task on a queued report")
	}
}

func TestValidateTaskPassClosesTaskAndBugs(t *testing.T) {
	e := newTestEngine(t)
	registerOperational(t, e, "backend-agent")
	created, err := e.CreateTask(CreateTaskInput{Source: "lead-agent", Title: "ship feature", Workstream: "backend"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ClaimNext("backend-agent"); err != nil {
		t.Fatal(err)
	}
	report := ReportPayload{TaskID: created.Task.ID, Agent: "backend-agent", CommitSha: "abc123", Status: "done"}
	report.TestSummary.Command = "go test ./..."
	if _, err := e.IngestReport(report); err != nil {
		t.Fatal(err)
	}
	// A failed validation first opens a bug; the owner re-claims and re-reports.
	if _, err := e.ValidateTask("lead-agent", created.Task.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ClaimNext("backend-agent"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.IngestReport(report); err != nil {
		t.Fatal(err)
	}

	task, err := e.ValidateTask("lead-agent", created.Task.ID, true)
	if err != nil {
		t.Fatalf("ValidateTask: %v", err)
	}
	if task.Status != StatusDone {
		t.Fatalf("expected status done, got %q", task.Status)
	}
	bugs, err := e.ListBugs()
	if err != nil {
		t.Fatal(err)
	}
	if len(bugs) != 1 || bugs[0].Status != BugClosed {
		t.Fatalf("expected the bug from the failed validation to be closed, got %+v", bugs)
	}
}

func TestValidateTaskFailOpensBug(t *testing.T) {
	e := newTestEngine(t)
	registerOperational(t, e, "backend-agent")
	created, err := e.CreateTask(CreateTaskInput{Source: "lead-agent", Title: "ship feature", Workstream: "backend"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ClaimNext("backend-agent"); err != nil {
		t.Fatal(err)
	}
	report := ReportPayload{TaskID: created.Task.ID, Agent: "backend-agent", CommitSha: "abc123", Status: "done"}
	report.TestSummary.Command = "go test ./..."
	if _, err := e.IngestReport(report); err != nil {
		t.Fatal(err)
	}

	task, err := e.ValidateTask("lead-agent", created.Task.ID, false)
	if err != nil {
		t.Fatalf("ValidateTask: %v", err)
	}
	if task.Status != StatusBugOpen {
		t.Fatalf("expected status bug_open, got %q", task.Status)
	}
	bugs, err := e.ListBugs()
	if err != nil {
		t.Fatal(err)
	}
	if len(bugs) != 1 || bugs[0].SourceTask != created.Task.ID {
		t.Fatalf("expected one bug raised against the task, got %+v", bugs)
	}
}

func TestRaiseAndResolveBlocker(t *testing.T) {
	e := newTestEngine(t)
	registerOperational(t, e, "backend-agent")
	created, err := e.CreateTask(CreateTaskInput{Source: "lead-agent", Title: "ship feature", Workstream: "backend"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ClaimNext("backend-agent"); err != nil {
		t.Fatal(err)
	}

	blocker, err := e.RaiseBlocker(RaiseBlockerInput{TaskID: created.Task.ID, Agent: "backend-agent", Question: "which queue?"})
	if err != nil {
		t.Fatalf("RaiseBlocker: %v", err)
	}

	tasks, err := e.ListTasks()
	if err != nil {
		t.Fatal(err)
	}
	if tasks[0].Status != StatusBlocked {
		t.Fatalf("expected task blocked, got %q", tasks[0].Status)
	}

	if _, err := e.ResolveBlocker("lead-agent", blocker.ID, "use the default queue"); err != nil {
		t.Fatalf("ResolveBlocker: %v", err)
	}
	tasks, err = e.ListTasks()
	if err != nil {
		t.Fatal(err)
	}
	if tasks[0].Status != StatusInProgress {
		t.Fatalf("expected task resumed to in_progress for an active owner, got %q", tasks[0].Status)
	}
}

func TestPollEventsFiltersByAudience(t *testing.T) {
	e := newTestEngine(t)
	registerOperational(t, e, "backend-agent")

	// Start polling after the bootstrap and registration events.
	start, err := e.bus.LineCount()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.PublishEvent("lead-agent", "manager.note", map[string]any{"audience": []string{"qa-agent"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.PublishEvent("lead-agent", "manager.broadcast", map[string]any{}); err != nil {
		t.Fatal(err)
	}

	result, err := e.PollEvents(PollEventsInput{Agent: "backend-agent", Cursor: intPtr(start), Limit: 10})
	if err != nil {
		t.Fatalf("PollEvents: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected only the broadcast event to be visible, got %d", len(result.Events))
	}
	if result.Events[0].Event.Type != "manager.broadcast" {
		t.Fatalf("unexpected event delivered: %s", result.Events[0].Event.Type)
	}
}

func intPtr(v int) *int { return &v }

func TestReassignStaleTasksReassignsFromInactiveOwner(t *testing.T) {
	e := newTestEngine(t)
	registerOperational(t, e, "backend-agent")
	registerOperational(t, e, "qa-agent")

	created, err := e.CreateTask(CreateTaskInput{Source: "lead-agent", Title: "ship feature", Workstream: "backend"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ClaimNext("backend-agent"); err != nil {
		t.Fatal(err)
	}

	// Force backend-agent's last_seen far enough in the past to read as stale.
	e.stateMu.Lock()
	record, err := e.loadOrCreateAgent("backend-agent")
	if err != nil {
		e.stateMu.Unlock()
		t.Fatal(err)
	}
	record.LastSeen = time.Now().Add(-time.Hour)
	if err := e.putAgents("backend-agent", record); err != nil {
		e.stateMu.Unlock()
		t.Fatal(err)
	}
	e.stateMu.Unlock()

	reassigned, err := e.ReassignStaleTasks("lead-agent", false)
	if err != nil {
		t.Fatalf("ReassignStaleTasks: %v", err)
	}
	if reassigned != 1 {
		t.Fatalf("expected 1 task reassigned, got %d", reassigned)
	}

	tasks, err := e.ListTasks()
	if err != nil {
		t.Fatal(err)
	}
	if tasks[0].ID != created.Task.ID {
		t.Fatalf("unexpected task: %+v", tasks[0])
	}
	if tasks[0].Owner == "backend-agent" {
		t.Fatalf("expected task to move off the stale owner")
	}
	if !tasks[0].DegradedComm {
		t.Fatalf("expected degraded_comm to be set on reassignment")
	}
}
