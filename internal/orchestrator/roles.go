package orchestrator

import "fmt"

// GetRoles returns the current leader and team-member set.
func (e *Engine) GetRoles() (*RolesDocument, error) {
	var roles RolesDocument
	if err := e.store.Get(e.rolesPath(), &roles); err != nil {
		if isFsNotExist(err) {
			return &RolesDocument{Leader: e.policy.Manager, TeamMembers: append([]string(nil), e.policy.TeamMembers...)}, nil
		}
		return nil, fmt.Errorf("orchestrator: load roles: %w", err)
	}
	return &roles, nil
}

// SetRole changes the leader (role "manager") or adds a team member
// (role "team_member"). Only the current leader may call this. The
// change takes effect for the next authority check in the same process
// (spec.md §8, Boundary behaviors).
func (e *Engine) SetRole(source, agent, role string) (*RolesDocument, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if err := e.requireLeader(source); err != nil {
		return nil, err
	}

	var roles RolesDocument
	if err := e.store.Get(e.rolesPath(), &roles); err != nil && !isFsNotExist(err) {
		return nil, fmt.Errorf("orchestrator: load roles: %w", err)
	}
	if roles.Leader == "" {
		roles.Leader = e.policy.Manager
	}

	switch role {
	case "manager":
		roles.Leader = agent
		roles.TeamMembers = removeFromSlice(roles.TeamMembers, agent)
	case "team_member":
		if !containsString(roles.TeamMembers, agent) {
			roles.TeamMembers = append(roles.TeamMembers, agent)
		}
	default:
		return nil, fmt.Errorf("orchestrator: unknown role %q", role)
	}

	if err := e.store.Put(e.rolesPath(), roles); err != nil {
		return nil, fmt.Errorf("orchestrator: save roles: %w", err)
	}
	if _, err := e.bus.Emit("role.updated", source, map[string]any{"agent": agent, "role": role}); err != nil {
		return nil, fmt.Errorf("orchestrator: emit role.updated: %w", err)
	}
	return &roles, nil
}

func removeFromSlice(items []string, target string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item != target {
			out = append(out, item)
		}
	}
	return out
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
