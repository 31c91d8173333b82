package orchestrator

import (
	"fmt"
	"time"

	"github.com/alexpekarovsky/orchestrator/internal/bus"
	"github.com/alexpekarovsky/orchestrator/internal/orchestrator/apierr"
)

// ConnectTeamMembersInput is the argument shape for ConnectTeamMembers.
type ConnectTeamMembersInput struct {
	Source       string
	Targets      []string
	Timeout      time.Duration
	PollInterval time.Duration
}

// ConnectTeamMembersResult reports the handshake outcome.
type ConnectTeamMembersResult struct {
	Status      string // "connected" or "timeout"
	Connected   []string
	Missed      []string
	Diagnostics map[string]AgentDiagnostic
}

const defaultHandshakePoll = 500 * time.Millisecond

// ConnectTeamMembers implements the leader-only handshake
// (spec.md §4.G): publish manager.connect_team_members, then poll
// list_agents until every target is active/verified/same-project or the
// deadline expires.
func (e *Engine) ConnectTeamMembers(in ConnectTeamMembersInput) (*ConnectTeamMembersResult, error) {
	if err := e.requireLeader(in.Source); err != nil {
		return nil, err
	}

	if _, err := e.bus.Emit("manager.connect_team_members", in.Source, map[string]any{
		"audience": append([]string(nil), in.Targets...),
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: emit manager.connect_team_members: %w", err)
	}

	poll := in.PollInterval
	if poll <= 0 {
		poll = defaultHandshakePoll
	}
	deadline := e.now().Add(in.Timeout)

	var diagnostics map[string]AgentDiagnostic
	for {
		all, err := e.ListAgents(ListAgentsOptions{})
		if err != nil {
			return nil, err
		}
		byAgent := make(map[string]AgentDiagnostic, len(all))
		for _, d := range all {
			byAgent[d.Agent] = d
		}
		diagnostics = byAgent

		connected, missed := splitByConnected(in.Targets, byAgent)
		if len(missed) == 0 || e.now().After(deadline) {
			status := "connected"
			if len(missed) > 0 {
				status = "timeout"
			}
			result := &ConnectTeamMembersResult{
				Status: status, Connected: connected, Missed: missed, Diagnostics: diagnostics,
			}
			if _, err := e.bus.Emit("manager.connect_team_members.result", bus.SourceOrchestrator, map[string]any{
				"status": status, "connected": connected, "missed": missed,
				"diagnostics": diagnostics,
			}); err != nil {
				return nil, fmt.Errorf("orchestrator: emit manager.connect_team_members.result: %w", err)
			}
			return result, nil
		}
		time.Sleep(poll)
	}
}

func splitByConnected(targets []string, byAgent map[string]AgentDiagnostic) (connected, missed []string) {
	for _, target := range targets {
		d, ok := byAgent[target]
		if ok && d.Verified && d.Operational && d.SameProject {
			connected = append(connected, target)
		} else {
			missed = append(missed, target)
		}
	}
	return connected, missed
}

// ConnectToLeaderInput is the argument shape for ConnectToLeader.
type ConnectToLeaderInput struct {
	Agent           string
	Metadata        map[string]string
	Source          string
	ProjectOverride string
}

// ConnectToLeaderResult is the structured verification report returned
// from a connect_to_leader call.
type ConnectToLeaderResult struct {
	Connected bool
	Reason    string
	Snapshot  IdentitySnapshot
}

// ConnectToLeader implements the agent-facing connect handshake
// (spec.md §4.G): registers and heartbeats the caller, verifies
// identity/project/source/role, and auto-claims work for a successful
// non-leader connect.
func (e *Engine) ConnectToLeader(in ConnectToLeaderInput) (*ConnectToLeaderResult, error) {
	if in.ProjectOverride != "" {
		isLeader, err := e.isLeader(in.Source)
		if err != nil {
			return nil, err
		}
		if !isLeader {
			return nil, apierr.Authority(apierr.CodeLeaderMismatch,
				fmt.Sprintf("%q may not apply a project_override", in.Source))
		}
		if _, err := e.SetAgentProjectContext(in.Source, in.Agent, in.ProjectOverride); err != nil {
			return nil, err
		}
	}

	record, err := e.Register(in.Agent, in.Metadata)
	if err != nil {
		return nil, err
	}
	if _, err := e.Heartbeat(in.Agent, in.Metadata); err != nil {
		return nil, err
	}

	snap := e.snapshot(record)
	result := &ConnectToLeaderResult{Snapshot: snap}

	if !snap.Verified {
		result.Reason = snap.Reason
		return result, nil
	}
	if !snap.SameProject {
		result.Reason = "project context mismatch"
		return result, nil
	}
	if in.Source != in.Agent && in.ProjectOverride == "" {
		result.Reason = "source must equal agent unless the leader applies a project_override"
		return result, nil
	}

	declaredRole := in.Metadata["role"]
	isLeader, err := e.isLeader(in.Agent)
	if err != nil {
		return nil, err
	}
	if declaredRole == "manager" && !isLeader {
		result.Reason = "only the leader may claim the manager role"
		return result, nil
	}

	result.Connected = true
	if _, err := e.bus.Emit("team_member.connected", in.Agent, map[string]any{"agent": in.Agent}); err != nil {
		return nil, fmt.Errorf("orchestrator: emit team_member.connected: %w", err)
	}
	if !isLeader {
		if _, err := e.ClaimNext(in.Agent); err != nil {
			return nil, err
		}
	}
	return result, nil
}
