package orchestrator

import (
	"fmt"
	"sort"

	"github.com/alexpekarovsky/orchestrator/internal/bus"
	"github.com/alexpekarovsky/orchestrator/internal/orchestrator/apierr"
)

// RaiseBlockerInput is the argument shape for RaiseBlocker.
type RaiseBlockerInput struct {
	Agent    string
	TaskID   string
	Question string
	Options  []string
	Severity string
}

// RaiseBlocker implements owner-only blocker creation (spec.md §4.D,
// Raise blocker): the task moves to blocked and a blocker record is written.
func (e *Engine) RaiseBlocker(in RaiseBlockerInput) (*Blocker, error) {
	if _, _, err := e.requireOperational(in.Agent); err != nil {
		return nil, err
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	var tasks TaskDocument
	if err := e.store.Get(e.tasksPath(), &tasks); err != nil {
		return nil, fmt.Errorf("orchestrator: load tasks: %w", err)
	}
	task, ok := tasks.Tasks[in.TaskID]
	if !ok {
		return nil, apierr.Validationf("task %q does not exist", in.TaskID)
	}
	if task.Owner != in.Agent {
		return nil, apierr.Authority(apierr.CodeUnauthorizedStatusUpdate,
			fmt.Sprintf("%q does not own task %q", in.Agent, in.TaskID))
	}
	if err := e.touchPresence(in.Agent); err != nil {
		return nil, err
	}

	severity := in.Severity
	if severity == "" {
		severity = "normal"
	}

	var blockers BlockerDocument
	if err := e.store.Get(e.blockersPath(), &blockers); err != nil && !isFsNotExist(err) {
		return nil, fmt.Errorf("orchestrator: load blockers: %w", err)
	}
	if blockers.Blockers == nil {
		blockers.Blockers = map[string]*Blocker{}
	}
	now := e.now()
	blocker := &Blocker{
		ID:        newID("BLK"),
		TaskID:    in.TaskID,
		Agent:     in.Agent,
		Question:  in.Question,
		Options:   append([]string(nil), in.Options...),
		Severity:  severity,
		Status:    BlockerOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	blockers.Blockers[blocker.ID] = blocker
	if err := e.store.Put(e.blockersPath(), blockers); err != nil {
		return nil, fmt.Errorf("orchestrator: save blockers: %w", err)
	}

	task.Status = StatusBlocked
	task.UpdatedAt = now
	if err := e.store.Put(e.tasksPath(), tasks); err != nil {
		return nil, fmt.Errorf("orchestrator: save tasks: %w", err)
	}
	if _, err := e.bus.Emit("blocker.raised", in.Agent, map[string]any{
		"blocker_id": blocker.ID, "task_id": in.TaskID,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: emit blocker.raised: %w", err)
	}
	return blocker, nil
}

// ResolveBlocker implements blocker resolution (spec.md §4.D, Resolve
// blocker): the task resumes to in_progress if its owner is active, else
// to assigned with degraded_comm.
func (e *Engine) ResolveBlocker(source, blockerID, resolution string) (*Blocker, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	var blockers BlockerDocument
	if err := e.store.Get(e.blockersPath(), &blockers); err != nil {
		return nil, fmt.Errorf("orchestrator: load blockers: %w", err)
	}
	blocker, ok := blockers.Blockers[blockerID]
	if !ok {
		return nil, apierr.Validationf("blocker %q does not exist", blockerID)
	}

	var tasks TaskDocument
	if err := e.store.Get(e.tasksPath(), &tasks); err != nil {
		return nil, fmt.Errorf("orchestrator: load tasks: %w", err)
	}
	task, ok := tasks.Tasks[blocker.TaskID]
	if !ok {
		return nil, apierr.Validationf("task %q does not exist", blocker.TaskID)
	}
	if err := e.touchPresence(source); err != nil {
		return nil, err
	}

	now := e.now()
	blocker.Status = BlockerResolved
	blocker.Resolution = resolution
	blocker.ResolvedBy = source
	blocker.UpdatedAt = now
	if err := e.store.Put(e.blockersPath(), blockers); err != nil {
		return nil, fmt.Errorf("orchestrator: save blockers: %w", err)
	}

	if e.IsActive(task.Owner) {
		task.Status = StatusInProgress
	} else {
		task.Status = StatusAssigned
		task.DegradedComm = true
	}
	task.UpdatedAt = now
	if err := e.store.Put(e.tasksPath(), tasks); err != nil {
		return nil, fmt.Errorf("orchestrator: save tasks: %w", err)
	}
	if _, err := e.bus.Emit("blocker.resolved", source, map[string]any{
		"blocker_id": blockerID, "task_id": blocker.TaskID,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: emit blocker.resolved: %w", err)
	}
	if task.DegradedComm {
		if _, err := e.bus.Emit("team_member.degraded_comm", bus.SourceOrchestrator, map[string]any{
			"agent": task.Owner, "task_id": task.ID,
		}); err != nil {
			return nil, fmt.Errorf("orchestrator: emit team_member.degraded_comm: %w", err)
		}
	}
	return blocker, nil
}

// ListBlockers returns every blocker record.
func (e *Engine) ListBlockers() ([]*Blocker, error) {
	var doc BlockerDocument
	if err := e.store.Get(e.blockersPath(), &doc); err != nil {
		if isFsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestrator: load blockers: %w", err)
	}
	out := make([]*Blocker, 0, len(doc.Blockers))
	for _, id := range sortedBlockerIDs(doc.Blockers) {
		out = append(out, doc.Blockers[id])
	}
	return out, nil
}

func sortedBlockerIDs(blockers map[string]*Blocker) []string {
	ids := make([]string, 0, len(blockers))
	for id := range blockers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
