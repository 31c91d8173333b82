package orchestrator

import "time"

// Task states, per spec.md §4.D.
const (
	StatusAssigned        = "assigned"
	StatusInProgress      = "in_progress"
	StatusReported        = "reported"
	StatusDone            = "done"
	StatusBlocked         = "blocked"
	StatusBugOpen         = "bug_open"
	StatusDuplicateClosed = "duplicate_closed"
)

// Task is the orchestrator's unit of work.
type Task struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Workstream         string    `json:"workstream"`
	Owner              string    `json:"owner"`
	Description        string    `json:"description"`
	AcceptanceCriteria []string  `json:"acceptance_criteria"`
	Status             string    `json:"status"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	ReassignedFrom     string    `json:"reassigned_from,omitempty"`
	ReassignedReason   string    `json:"reassigned_reason,omitempty"`
	DegradedComm       bool      `json:"degraded_comm,omitempty"`
	DuplicateOf        string    `json:"duplicate_of,omitempty"`
}

// TaskDocument is the on-disk shape of state/tasks.json.
type TaskDocument struct {
	Tasks map[string]*Task `json:"tasks"`
}

// Bug statuses.
const (
	BugOpen   = "open"
	BugClosed = "closed"
)

// Bug tracks a validation failure against a task.
type Bug struct {
	ID          string    `json:"id"`
	SourceTask  string    `json:"source_task"`
	Owner       string    `json:"owner"`
	Severity    string    `json:"severity"`
	ReproSteps  string    `json:"repro_steps"`
	Expected    string    `json:"expected"`
	Actual      string    `json:"actual"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BugDocument is the on-disk shape of state/bugs.json.
type BugDocument struct {
	Bugs map[string]*Bug `json:"bugs"`
}

// Blocker statuses.
const (
	BlockerOpen     = "open"
	BlockerResolved = "resolved"
)

// Blocker records a question an agent raised against its task.
type Blocker struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	Agent      string    `json:"agent"`
	Question   string    `json:"question"`
	Options    []string  `json:"options,omitempty"`
	Severity   string    `json:"severity"`
	Status     string    `json:"status"`
	Resolution string    `json:"resolution,omitempty"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BlockerDocument is the on-disk shape of state/blockers.json.
type BlockerDocument struct {
	Blockers map[string]*Blocker `json:"blockers"`
}

// Agent presence statuses.
const (
	AgentActive  = "active"
	AgentOffline = "offline"
)

// IdentityKeys is the closed set of metadata keys required for an agent
// to be "verified" (spec.md §3, Agent record invariants).
var IdentityKeys = []string{
	"client", "model", "version", "cwd", "project_root",
	"permissions_mode", "sandbox_mode", "session_id", "connection_id",
}

// AgentRecord tracks one agent's presence and declared identity.
type AgentRecord struct {
	Status   string            `json:"status"`
	LastSeen time.Time         `json:"last_seen"`
	Metadata map[string]string `json:"metadata"`
}

// AgentDocument is the on-disk shape of state/agents.json.
type AgentDocument struct {
	Agents map[string]*AgentRecord `json:"agents"`
}

// CursorDocument is the on-disk shape of state/event_cursors.json.
type CursorDocument struct {
	Cursors map[string]int `json:"cursors"`
}

// AckDocument is the on-disk shape of state/event_acks.json.
type AckDocument struct {
	Acks map[string][]string `json:"acks"`
}

// RolesDocument is the on-disk shape of state/roles.json.
type RolesDocument struct {
	Leader      string   `json:"leader"`
	TeamMembers []string `json:"team_members"`
}

// ClaimOverrideDocument is the on-disk shape of state/claim_overrides.json.
type ClaimOverrideDocument struct {
	Overrides map[string]string `json:"overrides"`
}

// StaleNoticeDocument is the on-disk shape of state/stale_notices.json.
type StaleNoticeDocument struct {
	Notices map[string]time.Time `json:"notices"`
}

// Retry queue entry statuses.
const (
	RetryPending   = "pending"
	RetrySubmitted = "submitted"
	RetryFailed    = "failed"
)

// ReportPayload is the shape ingest_report validates and persists.
type ReportPayload struct {
	TaskID     string `json:"task_id"`
	Agent      string `json:"agent"`
	CommitSha  string `json:"commit_sha"`
	Status     string `json:"status"`
	TestSummary struct {
		Command string `json:"command"`
		Passed  int    `json:"passed"`
		Failed  int    `json:"failed"`
	} `json:"test_summary"`
}

// RetryEntry is one queued, previously-rejected report.
type RetryEntry struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Report      ReportPayload `json:"report"`
	Attempts    int           `json:"attempts"`
	LastError   string        `json:"last_error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	NextRetryAt time.Time     `json:"next_retry_at"`
}

// RetryQueueDocument is the on-disk shape of state/report_retry_queue.json.
type RetryQueueDocument struct {
	Entries map[string]*RetryEntry `json:"entries"`
}
