package orchestrator

import (
	"fmt"
	"time"

	"github.com/alexpekarovsky/orchestrator/internal/bus"
	"github.com/alexpekarovsky/orchestrator/internal/orchestrator/apierr"
)

// IdentitySnapshot captures the derived verification state for one agent
// at one point in time (spec.md §4.C).
type IdentitySnapshot struct {
	Operational bool
	Verified    bool
	SameProject bool
	LastSeenAge time.Duration
	Reason      string
}

// Register merges metadata into the agent record, marks it active, and
// emits agent.registered.
func (e *Engine) Register(agent string, metadata map[string]string) (*AgentRecord, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	record, err := e.loadOrCreateAgent(agent)
	if err != nil {
		return nil, err
	}
	mergeMetadata(record, metadata)
	record.Status = AgentActive
	record.LastSeen = e.now()

	if err := e.putAgents(agent, record); err != nil {
		return nil, err
	}
	if _, err := e.bus.Emit("agent.registered", agent, map[string]any{"agent": agent}); err != nil {
		return nil, err
	}
	return record, nil
}

// Heartbeat shallow-merges metadata, refreshes last_seen, and emits
// agent.heartbeat.
func (e *Engine) Heartbeat(agent string, metadata map[string]string) (*AgentRecord, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	record, err := e.loadOrCreateAgent(agent)
	if err != nil {
		return nil, err
	}
	mergeMetadata(record, metadata)
	record.Status = AgentActive
	record.LastSeen = e.now()

	if err := e.putAgents(agent, record); err != nil {
		return nil, err
	}
	if _, err := e.bus.Emit("agent.heartbeat", agent, map[string]any{"agent": agent}); err != nil {
		return nil, err
	}
	return record, nil
}

// touchPresence refreshes last_seen for agent without emitting an event,
// per spec.md §4.C: "any mutating task/bug/blocker operation implicitly
// refreshes the caller's presence (no extra event)". Caller must hold stateMu.
func (e *Engine) touchPresence(agent string) error {
	record, err := e.loadOrCreateAgent(agent)
	if err != nil {
		return err
	}
	record.LastSeen = e.now()
	if record.Status == "" {
		record.Status = AgentActive
	}
	return e.putAgents(agent, record)
}

func mergeMetadata(record *AgentRecord, metadata map[string]string) {
	if record.Metadata == nil {
		record.Metadata = map[string]string{}
	}
	for k, v := range metadata {
		if v == "" {
			continue
		}
		record.Metadata[k] = v
	}
}

func (e *Engine) loadOrCreateAgent(agent string) (*AgentRecord, error) {
	var doc AgentDocument
	if err := e.store.Get(e.agentsPath(), &doc); err != nil && !isFsNotExist(err) {
		return nil, fmt.Errorf("orchestrator: load agents: %w", err)
	}
	if doc.Agents == nil {
		doc.Agents = map[string]*AgentRecord{}
	}
	record, ok := doc.Agents[agent]
	if !ok || record == nil {
		record = &AgentRecord{Status: AgentOffline, Metadata: map[string]string{}}
	}
	return record, nil
}

func (e *Engine) getAgent(agent string) (*AgentRecord, bool, error) {
	var doc AgentDocument
	if err := e.store.Get(e.agentsPath(), &doc); err != nil {
		if isFsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("orchestrator: load agents: %w", err)
	}
	record, ok := doc.Agents[agent]
	return record, ok && record != nil, nil
}

func (e *Engine) putAgents(agent string, record *AgentRecord) error {
	var doc AgentDocument
	if err := e.store.Get(e.agentsPath(), &doc); err != nil && !isFsNotExist(err) {
		return fmt.Errorf("orchestrator: load agents: %w", err)
	}
	if doc.Agents == nil {
		doc.Agents = map[string]*AgentRecord{}
	}
	doc.Agents[agent] = record
	if err := e.store.Put(e.agentsPath(), doc); err != nil {
		return fmt.Errorf("orchestrator: save agents: %w", err)
	}
	return nil
}

// snapshot computes verified/operational/same-project for record without
// acquiring any lock (caller decides).
func (e *Engine) snapshot(record *AgentRecord) IdentitySnapshot {
	if record == nil {
		return IdentitySnapshot{Reason: "agent not registered"}
	}
	identityComplete := true
	for _, key := range IdentityKeys {
		if record.Metadata[key] == "" {
			identityComplete = false
			break
		}
	}
	projectRoot := record.Metadata["project_root"]
	cwd := record.Metadata["cwd"]
	sameProject := e.cfg.SameProject(projectRoot) || e.cfg.SameProject(cwd)

	age := e.now().Sub(record.LastSeen)
	fresh := record.LastSeen.IsZero() == false && age <= e.policy.HeartbeatTimeout()

	operational := identityComplete && sameProject
	verified := operational && fresh

	snap := IdentitySnapshot{
		Operational: operational,
		Verified:    verified,
		SameProject: sameProject,
		LastSeenAge: age,
	}
	switch {
	case !identityComplete:
		snap.Reason = "incomplete identity metadata"
	case !sameProject:
		snap.Reason = "project context mismatch"
	case !fresh:
		snap.Reason = "stale heartbeat"
	default:
		snap.Reason = "ok"
	}
	return snap
}

// requireOperational loads agent's record and returns its snapshot,
// erroring with apierr.AuthorityError if it is not operational.
func (e *Engine) requireOperational(agent string) (*AgentRecord, IdentitySnapshot, error) {
	record, ok, err := e.getAgent(agent)
	if err != nil {
		return nil, IdentitySnapshot{}, err
	}
	if !ok {
		return nil, IdentitySnapshot{}, notOperationalErr(agent, "agent not registered")
	}
	snap := e.snapshot(record)
	if !snap.Operational {
		return nil, snap, notOperationalErr(agent, snap.Reason)
	}
	return record, snap, nil
}

// IsActive reports whether agent's presence diagnostic currently reads
// active: a fresh heartbeat within the policy timeout, not the sticky
// status field Register/Heartbeat set once and never clear.
func (e *Engine) IsActive(agent string) bool {
	record, ok, err := e.getAgent(agent)
	if err != nil || !ok {
		return false
	}
	if record.LastSeen.IsZero() {
		return false
	}
	return e.now().Sub(record.LastSeen) <= e.policy.HeartbeatTimeout()
}

// emitStaleReconnectIfDue emits agent.stale_reconnect_required for agent
// at most once per cooldown window, addressed to the agent and the leader.
func (e *Engine) emitStaleReconnectIfDue(agent string, cooldown time.Duration) error {
	var doc StaleNoticeDocument
	if err := e.store.Get(e.staleNoticesPath(), &doc); err != nil && !isFsNotExist(err) {
		return fmt.Errorf("orchestrator: load stale notices: %w", err)
	}
	if doc.Notices == nil {
		doc.Notices = map[string]time.Time{}
	}
	last, ok := doc.Notices[agent]
	now := e.now()
	if ok && now.Sub(last) < cooldown {
		return nil
	}
	doc.Notices[agent] = now
	if err := e.store.Put(e.staleNoticesPath(), doc); err != nil {
		return fmt.Errorf("orchestrator: save stale notices: %w", err)
	}

	leader, err := e.leaderID()
	if err != nil {
		return err
	}
	_, err = e.bus.Emit("agent.stale_reconnect_required", bus.SourceOrchestrator, map[string]any{
		"agent":    agent,
		"audience": []string{agent, leader},
	})
	return err
}

func (e *Engine) leaderID() (string, error) {
	var roles RolesDocument
	if err := e.store.Get(e.rolesPath(), &roles); err != nil {
		if isFsNotExist(err) {
			return e.policy.Manager, nil
		}
		return "", fmt.Errorf("orchestrator: load roles: %w", err)
	}
	if roles.Leader == "" {
		return e.policy.Manager, nil
	}
	return roles.Leader, nil
}

func notOperationalErr(agent, reason string) error {
	return apierr.Authority(apierr.CodeNotOperationalOrWrongProject,
		fmt.Sprintf("agent %q is not operational: %s", agent, reason))
}
