package orchestrator

import (
	"fmt"

	"github.com/alexpekarovsky/orchestrator/internal/bus"
)

// StatusReport is the shape returned by the status tool.
type StatusReport struct {
	Root          string `json:"root,omitempty"`
	Policy        string `json:"policy"`
	Leader        string `json:"leader"`
	TeamMembers   []string `json:"team_members"`
	TaskCount     int    `json:"task_count"`
	OpenTaskCount int    `json:"open_task_count"`
	AgentCount    int    `json:"agent_count"`
}

// Status reports a lightweight snapshot of the project root. Full
// filesystem paths are only included when the caller's config requests
// verbose paths (ORCHESTRATOR_STATUS_VERBOSE_PATHS).
func (e *Engine) Status() (*StatusReport, error) {
	roles, err := e.GetRoles()
	if err != nil {
		return nil, err
	}
	tasks, err := e.ListTasks()
	if err != nil {
		return nil, err
	}
	agents, err := e.ListAgents(ListAgentsOptions{})
	if err != nil {
		return nil, err
	}

	open := 0
	for _, t := range tasks {
		if isOpenTaskStatus(t.Status) {
			open++
		}
	}

	report := &StatusReport{
		Policy:        e.policy.Name,
		Leader:        roles.Leader,
		TeamMembers:   roles.TeamMembers,
		TaskCount:     len(tasks),
		OpenTaskCount: open,
		AgentCount:    len(agents),
	}
	if e.cfg.StatusVerbosePaths {
		report.Root = e.cfg.Root
	}
	return report, nil
}

// TaskContractDigest is one entry of a task-contract rollup.
type TaskContractDigest struct {
	ID                 string   `json:"id"`
	Owner              string   `json:"owner"`
	Title              string   `json:"title"`
	Status             string   `json:"status"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// LiveStatusReport is the richer human-facing counterpart to Status,
// backing both the RPC tool and the orchestrator-status TUI front-end.
type LiveStatusReport struct {
	Status    *StatusReport
	Pending   []TaskContractDigest
	Agents    []AgentDiagnostic
}

// LiveStatusReport assembles the full dashboard payload.
func (e *Engine) LiveStatusReport() (*LiveStatusReport, error) {
	base, err := e.Status()
	if err != nil {
		return nil, err
	}
	tasks, err := e.ListTasks()
	if err != nil {
		return nil, err
	}
	agents, err := e.ListAgents(ListAgentsOptions{})
	if err != nil {
		return nil, err
	}

	pending := make([]TaskContractDigest, 0)
	for _, t := range tasks {
		if t.Status == StatusDone || t.Status == StatusDuplicateClosed {
			continue
		}
		pending = append(pending, TaskContractDigest{
			ID: t.ID, Owner: t.Owner, Title: t.Title, Status: t.Status,
			AcceptanceCriteria: t.AcceptanceCriteria,
		})
	}

	return &LiveStatusReport{Status: base, Pending: pending, Agents: agents}, nil
}

// ListAuditLogs returns up to limit most-recent audit entries, optionally
// filtered by tool/status.
func (e *Engine) ListAuditLogs(tool, status string, limit int) ([]bus.AuditEntry, error) {
	entries, err := e.busTailAudit(tool, status, limit)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: list audit logs: %w", err)
	}
	return entries, nil
}

func (e *Engine) busTailAudit(tool, status string, limit int) ([]bus.AuditEntry, error) {
	return e.bus.TailAudit(tool, status, limit)
}
