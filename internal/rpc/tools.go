package rpc

import (
	"encoding/json"
	"time"

	"github.com/alexpekarovsky/orchestrator/internal/orchestrator"
	"github.com/alexpekarovsky/orchestrator/internal/orchestrator/apierr"
)

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, apierr.Validationf("invalid arguments: %v", err)
	}
	return v, nil
}

// buildToolTable wires every tool name spec.md §6 names onto an Engine
// operation.
func (d *Dispatcher) buildToolTable() map[string]toolHandler {
	e := d.engine
	return map[string]toolHandler{
		"bootstrap": func(raw json.RawMessage) (any, error) {
			if err := e.Bootstrap(); err != nil {
				return nil, err
			}
			return map[string]any{"bootstrapped": true}, nil
		},

		"status": func(raw json.RawMessage) (any, error) {
			return e.Status()
		},

		"live_status_report": func(raw json.RawMessage) (any, error) {
			return e.LiveStatusReport()
		},

		"get_roles": func(raw json.RawMessage) (any, error) {
			return e.GetRoles()
		},

		"set_role": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source string `json:"source"`
				Agent  string `json:"agent"`
				Role   string `json:"role"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.SetRole(in.Source, in.Agent, in.Role)
		},

		"register_agent": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Agent    string            `json:"agent"`
				Metadata map[string]string `json:"metadata"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.Register(in.Agent, in.Metadata)
		},

		"heartbeat": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Agent    string            `json:"agent"`
				Metadata map[string]string `json:"metadata"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.Heartbeat(in.Agent, in.Metadata)
		},

		"connect_team_members": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source         string   `json:"source"`
				IDs            []string `json:"ids"`
				TimeoutSeconds float64  `json:"timeout"`
				PollIntervalMs int      `json:"poll_interval_ms"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.ConnectTeamMembers(orchestrator.ConnectTeamMembersInput{
				Source:       in.Source,
				Targets:      in.IDs,
				Timeout:      time.Duration(in.TimeoutSeconds * float64(time.Second)),
				PollInterval: time.Duration(in.PollIntervalMs) * time.Millisecond,
			})
		},

		"connect_to_leader": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Agent           string            `json:"agent"`
				Metadata        map[string]string `json:"metadata"`
				Source          string            `json:"source"`
				ProjectOverride string            `json:"project_override"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.ConnectToLeader(orchestrator.ConnectToLeaderInput{
				Agent: in.Agent, Metadata: in.Metadata, Source: in.Source, ProjectOverride: in.ProjectOverride,
			})
		},

		"set_agent_project_context": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source      string `json:"source"`
				Agent       string `json:"agent"`
				ProjectRoot string `json:"project_root"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.SetAgentProjectContext(in.Source, in.Agent, in.ProjectRoot)
		},

		"list_agents": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				EmitStaleNotices bool `json:"emit_stale_notices"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.ListAgents(orchestrator.ListAgentsOptions{EmitStaleNotices: in.EmitStaleNotices})
		},

		"discover_agents": func(raw json.RawMessage) (any, error) {
			return e.DiscoverAgents()
		},

		"create_task": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source             string   `json:"source"`
				Title              string   `json:"title"`
				Workstream         string   `json:"workstream"`
				AcceptanceCriteria []string `json:"acceptance_criteria"`
				Owner              string   `json:"owner"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.CreateTask(orchestrator.CreateTaskInput{
				Source: in.Source, Title: in.Title, Workstream: in.Workstream,
				AcceptanceCriteria: in.AcceptanceCriteria, Owner: in.Owner,
			})
		},

		"dedupe_tasks": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source string `json:"source"`
			}](raw)
			if err != nil {
				return nil, err
			}
			closed, err := e.DedupeTasks(in.Source)
			if err != nil {
				return nil, err
			}
			return map[string]any{"duplicate_closed": closed}, nil
		},

		"list_tasks": func(raw json.RawMessage) (any, error) {
			return e.ListTasks()
		},

		"get_tasks_for_agent": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Agent string `json:"agent"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.GetTasksForAgent(in.Agent)
		},

		"claim_next_task": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Owner string `json:"owner"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.ClaimNext(in.Owner)
		},

		"set_claim_override": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source string `json:"source"`
				Owner  string `json:"owner"`
				TaskID string `json:"task_id"`
			}](raw)
			if err != nil {
				return nil, err
			}
			if err := e.SetClaimOverride(in.Source, in.Owner, in.TaskID); err != nil {
				return nil, err
			}
			return map[string]any{"ok": true}, nil
		},

		"update_task_status": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source string `json:"source"`
				TaskID string `json:"task_id"`
				Status string `json:"status"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.UpdateTaskStatus(in.Source, in.TaskID, in.Status)
		},

		"submit_report": func(raw json.RawMessage) (any, error) {
			report, err := decode[orchestrator.ReportPayload](raw)
			if err != nil {
				return nil, err
			}
			queued, task, err := e.SubmitReport(report)
			if err != nil {
				return nil, err
			}
			return map[string]any{"queued_for_retry": queued, "task": task}, nil
		},

		"validate_task": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source string `json:"source"`
				TaskID string `json:"task_id"`
				Pass   bool   `json:"pass"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.ValidateTask(in.Source, in.TaskID, in.Pass)
		},

		"list_bugs": func(raw json.RawMessage) (any, error) {
			return e.ListBugs()
		},

		"raise_blocker": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Agent    string   `json:"agent"`
				TaskID   string   `json:"task_id"`
				Question string   `json:"question"`
				Options  []string `json:"options"`
				Severity string   `json:"severity"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.RaiseBlocker(orchestrator.RaiseBlockerInput{
				Agent: in.Agent, TaskID: in.TaskID, Question: in.Question,
				Options: in.Options, Severity: in.Severity,
			})
		},

		"list_blockers": func(raw json.RawMessage) (any, error) {
			return e.ListBlockers()
		},

		"resolve_blocker": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source     string `json:"source"`
				BlockerID  string `json:"blocker_id"`
				Resolution string `json:"resolution"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.ResolveBlocker(in.Source, in.BlockerID, in.Resolution)
		},

		"publish_event": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source  string         `json:"source"`
				Type    string         `json:"type"`
				Payload map[string]any `json:"payload"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.PublishEvent(in.Source, in.Type, in.Payload)
		},

		"poll_events": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Agent       string `json:"agent"`
				Cursor      *int   `json:"cursor"`
				Limit       int    `json:"limit"`
				TimeoutMs   int    `json:"timeout_ms"`
				AutoAdvance bool   `json:"auto_advance"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.PollEvents(orchestrator.PollEventsInput{
				Agent: in.Agent, Cursor: in.Cursor, Limit: in.Limit,
				TimeoutMs: in.TimeoutMs, AutoAdvance: in.AutoAdvance,
			})
		},

		"ack_event": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Agent   string `json:"agent"`
				EventID string `json:"event_id"`
			}](raw)
			if err != nil {
				return nil, err
			}
			if err := e.AckEvent(in.Agent, in.EventID); err != nil {
				return nil, err
			}
			return map[string]any{"ok": true}, nil
		},

		"get_agent_cursor": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Agent string `json:"agent"`
			}](raw)
			if err != nil {
				return nil, err
			}
			cursor, err := e.GetAgentCursor(in.Agent)
			if err != nil {
				return nil, err
			}
			return map[string]any{"cursor": cursor}, nil
		},

		"manager_cycle": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source string `json:"source"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.ManagerCycle(in.Source)
		},

		"reassign_stale_tasks": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source         string `json:"source"`
				IncludeBlocked bool   `json:"include_blocked"`
			}](raw)
			if err != nil {
				return nil, err
			}
			count, err := e.ReassignStaleTasks(in.Source, in.IncludeBlocked)
			if err != nil {
				return nil, err
			}
			return map[string]any{"reassigned": count}, nil
		},

		"decide_architecture": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Source  string            `json:"source"`
				Title   string            `json:"title"`
				Options []string          `json:"options"`
				Votes   map[string]string `json:"votes"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.DecideArchitecture(orchestrator.ArchitectureDecisionInput{
				Source: in.Source, Title: in.Title, Options: in.Options, Votes: in.Votes,
			})
		},

		"list_audit_logs": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Tool   string `json:"tool"`
				Status string `json:"status"`
				Limit  int    `json:"limit"`
			}](raw)
			if err != nil {
				return nil, err
			}
			return e.ListAuditLogs(in.Tool, in.Status, in.Limit)
		},

		"enable_debug_logging": func(raw json.RawMessage) (any, error) {
			in, err := decode[struct {
				Enabled    bool `json:"enabled"`
				MaxEntries int  `json:"max_entries"`
			}](raw)
			if err != nil {
				return nil, err
			}
			e.EnableDebugLogging(in.Enabled, in.MaxEntries)
			return map[string]any{"ok": true}, nil
		},

		"debug_logging_status": func(raw json.RawMessage) (any, error) {
			enabled, size, capacity := e.DebugLoggingStatus()
			return map[string]any{"enabled": enabled, "size": size, "capacity": capacity}, nil
		},
	}
}
