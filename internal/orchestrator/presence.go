package orchestrator

import (
	"fmt"
	"sort"

	"github.com/alexpekarovsky/orchestrator/internal/orchestrator/apierr"
)

// AgentDiagnostic is one agent's presence summary, as returned by
// ListAgents and used in handshake/reassignment diagnostics.
type AgentDiagnostic struct {
	Agent       string
	Status      string
	Verified    bool
	Operational bool
	SameProject bool
	LastSeenAge string
	Reason      string
}

// ListAgentsOptions controls ListAgents' stale-notice side effect.
type ListAgentsOptions struct {
	EmitStaleNotices bool
}

// ListAgents returns a diagnostic snapshot per registered agent, sorted
// by id. When EmitStaleNotices is set, agents past the heartbeat timeout
// trigger a rate-limited agent.stale_reconnect_required event.
func (e *Engine) ListAgents(opts ListAgentsOptions) ([]AgentDiagnostic, error) {
	e.stateMu.Lock()
	var doc AgentDocument
	err := e.store.Get(e.agentsPath(), &doc)
	e.stateMu.Unlock()
	if err != nil {
		if isFsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestrator: load agents: %w", err)
	}

	ids := make([]string, 0, len(doc.Agents))
	for id := range doc.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	timeout := e.policy.HeartbeatTimeout()
	out := make([]AgentDiagnostic, 0, len(ids))
	for _, id := range ids {
		record := doc.Agents[id]
		snap := e.snapshot(record)
		out = append(out, AgentDiagnostic{
			Agent:       id,
			Status:      record.Status,
			Verified:    snap.Verified,
			Operational: snap.Operational,
			SameProject: snap.SameProject,
			LastSeenAge: snap.LastSeenAge.String(),
			Reason:      snap.Reason,
		})
		if opts.EmitStaleNotices && snap.LastSeenAge > timeout {
			if err := e.emitStaleReconnectIfDue(id, timeout); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

// DiscoverAgents returns only agents with a fresh heartbeat, a
// lighter-weight counterpart to ListAgents.
func (e *Engine) DiscoverAgents() ([]string, error) {
	diags, err := e.ListAgents(ListAgentsOptions{})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		if e.IsActive(d.Agent) {
			out = append(out, d.Agent)
		}
	}
	return out, nil
}

// SetAgentProjectContext lets the leader override an agent's declared
// project_root, e.g. after a legitimate relocation; cwd is left as is. Non-leader
// callers may only set their own context.
func (e *Engine) SetAgentProjectContext(source, agent, projectRoot string) (*AgentRecord, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	isLeader, err := e.isLeader(source)
	if err != nil {
		return nil, err
	}
	if !isLeader && source != agent {
		return nil, apierr.Authority(apierr.CodeLeaderMismatch,
			fmt.Sprintf("%q may not override project context for %q", source, agent))
	}

	record, err := e.loadOrCreateAgent(agent)
	if err != nil {
		return nil, err
	}
	if record.Metadata == nil {
		record.Metadata = map[string]string{}
	}
	record.Metadata["project_root"] = projectRoot
	if isLeader && source != agent {
		record.Metadata["project_override_by"] = source
		record.Metadata["project_override_at"] = e.now().Format("2006-01-02T15:04:05Z07:00")
	}
	if err := e.putAgents(agent, record); err != nil {
		return nil, err
	}
	_, err = e.bus.Emit("manager.project_context_override", source, map[string]any{
		"agent": agent, "project_root": projectRoot,
	})
	return record, err
}
