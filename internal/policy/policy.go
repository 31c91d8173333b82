// Package policy loads the routing/roles document that tells the
// orchestrator which agent owns each workstream and who the leader is.
package policy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHeartbeatTimeoutMinutes = 10
	minHeartbeatTimeout            = 60 * time.Second
)

// Policy describes routing and authority rules for one project.
type Policy struct {
	Name                    string            `yaml:"name"`
	Manager                 string            `yaml:"manager"`
	TeamMembers             []string          `yaml:"team_members"`
	Routing                 map[string]string `yaml:"routing"`
	HeartbeatTimeoutMinutes int               `yaml:"heartbeat_timeout_minutes"`
	ArchitectureVoters      []string          `yaml:"architecture_voters"`
	ArchitectureMode        string            `yaml:"architecture_mode"`
}

// Load reads and validates a policy document from path.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	p.applyDefaults()
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("policy: %s: %w", path, err)
	}
	return &p, nil
}

func (p *Policy) applyDefaults() {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = "default"
	}
	p.Manager = strings.TrimSpace(p.Manager)
	if p.Routing == nil {
		p.Routing = map[string]string{}
	}
	if p.HeartbeatTimeoutMinutes <= 0 {
		p.HeartbeatTimeoutMinutes = defaultHeartbeatTimeoutMinutes
	}
	if p.ArchitectureMode == "" {
		p.ArchitectureMode = "majority"
	}
}

func (p *Policy) validate() error {
	if p.Manager == "" {
		return fmt.Errorf("manager is required")
	}
	for _, member := range p.TeamMembers {
		if strings.EqualFold(strings.TrimSpace(member), p.Manager) {
			return fmt.Errorf("team_members must not include the manager %q", p.Manager)
		}
	}
	return nil
}

// TaskOwnerFor resolves the routed owner for a workstream, falling back
// to the "default" route and finally the manager.
func (p *Policy) TaskOwnerFor(workstream string) string {
	key := strings.ToLower(strings.TrimSpace(workstream))
	if owner, ok := p.Routing[key]; ok && strings.TrimSpace(owner) != "" {
		return owner
	}
	if owner, ok := p.Routing["default"]; ok && strings.TrimSpace(owner) != "" {
		return owner
	}
	return p.Manager
}

// HeartbeatTimeout returns the resolved heartbeat timeout, floored at 60s.
func (p *Policy) HeartbeatTimeout() time.Duration {
	d := time.Duration(p.HeartbeatTimeoutMinutes) * time.Minute
	if d < minHeartbeatTimeout {
		return minHeartbeatTimeout
	}
	return d
}

// Voters returns the set of agents entitled to vote on architecture decisions.
func (p *Policy) Voters() []string {
	if len(p.ArchitectureVoters) > 0 {
		return p.ArchitectureVoters
	}
	voters := make([]string, 0, len(p.TeamMembers)+1)
	voters = append(voters, p.Manager)
	voters = append(voters, p.TeamMembers...)
	return voters
}

// IsTeamMember reports whether agent is a declared, non-manager team member.
func (p *Policy) IsTeamMember(agent string) bool {
	for _, member := range p.TeamMembers {
		if strings.EqualFold(strings.TrimSpace(member), agent) {
			return true
		}
	}
	return false
}
