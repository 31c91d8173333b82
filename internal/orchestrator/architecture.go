package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexpekarovsky/orchestrator/internal/orchestrator/apierr"
)

// ArchitectureDecisionInput is the argument shape for DecideArchitecture.
type ArchitectureDecisionInput struct {
	Source  string
	Title   string
	Options []string
	Votes   map[string]string // voter -> chosen option
}

// ArchitectureDecision is the outcome of a vote, also persisted as an ADR.
type ArchitectureDecision struct {
	ID      string            `json:"id"`
	Title   string            `json:"title"`
	Winner  string            `json:"winner"`
	Mode    string            `json:"mode"`
	Votes   map[string]string `json:"votes"`
	Tallies map[string]int    `json:"tallies"`
}

// DecideArchitecture tallies votes from the policy-configured voter set
// and writes a decision record to decisions/<ADR-id>.md, restoring the
// architecture-decision flow the leader otherwise drives by hand.
func (e *Engine) DecideArchitecture(in ArchitectureDecisionInput) (*ArchitectureDecision, error) {
	if err := e.requireLeader(in.Source); err != nil {
		return nil, err
	}
	if len(in.Options) == 0 {
		return nil, apierr.Validationf("at least one option is required")
	}

	voters := e.policy.Voters()
	voterSet := make(map[string]bool, len(voters))
	for _, v := range voters {
		voterSet[v] = true
	}

	tallies := map[string]int{}
	for _, opt := range in.Options {
		tallies[opt] = 0
	}
	counted := map[string]string{}
	for voter, choice := range in.Votes {
		if !voterSet[voter] {
			continue
		}
		if _, valid := tallies[choice]; !valid {
			continue
		}
		counted[voter] = choice
		tallies[choice]++
	}

	winner := pickWinner(in.Options, tallies)
	decision := &ArchitectureDecision{
		ID:      newID("ADR"),
		Title:   in.Title,
		Winner:  winner,
		Mode:    e.policy.ArchitectureMode,
		Votes:   counted,
		Tallies: tallies,
	}

	if err := e.writeADR(decision); err != nil {
		return nil, err
	}
	if _, err := e.bus.Emit("architecture.decided", in.Source, map[string]any{
		"id": decision.ID, "title": decision.Title, "winner": decision.Winner,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: emit architecture.decided: %w", err)
	}
	return decision, nil
}

func pickWinner(options []string, tallies map[string]int) string {
	winner := ""
	best := -1
	for _, opt := range options {
		count := tallies[opt]
		if count > best {
			best = count
			winner = opt
		}
	}
	return winner
}

func (e *Engine) writeADR(decision *ArchitectureDecision) error {
	path := filepath.Join(e.cfg.DecisionsDir(), decision.ID+".md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("orchestrator: ensure decisions dir: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", decision.Title)
	fmt.Fprintf(&b, "Decision mode: %s\n\n", decision.Mode)
	fmt.Fprintf(&b, "## Outcome\n\n%s\n\n", decision.Winner)
	fmt.Fprintf(&b, "## Tally\n\n")
	for option, count := range decision.Tallies {
		fmt.Fprintf(&b, "- %s: %d\n", option, count)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("orchestrator: write ADR %s: %w", path, err)
	}
	return nil
}
