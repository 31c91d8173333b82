package orchestrator

import (
	"fmt"
	"sort"

	"github.com/alexpekarovsky/orchestrator/internal/orchestrator/apierr"
)

// ValidateTask implements the leader-only validate operation
// (spec.md §4.D, Validate).
func (e *Engine) ValidateTask(source, taskID string, pass bool) (*Task, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if err := e.requireLeader(source); err != nil {
		return nil, err
	}
	if err := e.touchPresence(source); err != nil {
		return nil, err
	}

	var tasks TaskDocument
	if err := e.store.Get(e.tasksPath(), &tasks); err != nil {
		return nil, fmt.Errorf("orchestrator: load tasks: %w", err)
	}
	task, ok := tasks.Tasks[taskID]
	if !ok {
		return nil, apierr.Validationf("task %q does not exist", taskID)
	}

	if pass {
		task.Status = StatusDone
		task.UpdatedAt = e.now()
		if err := e.store.Put(e.tasksPath(), tasks); err != nil {
			return nil, fmt.Errorf("orchestrator: save tasks: %w", err)
		}
		if _, err := e.bus.Emit("validation.passed", source, map[string]any{"task_id": taskID}); err != nil {
			return nil, fmt.Errorf("orchestrator: emit validation.passed: %w", err)
		}
		if err := e.closeOpenBugsForTask(source, taskID); err != nil {
			return nil, err
		}
		return task, nil
	}

	task.Status = StatusBugOpen
	task.UpdatedAt = e.now()
	if err := e.store.Put(e.tasksPath(), tasks); err != nil {
		return nil, fmt.Errorf("orchestrator: save tasks: %w", err)
	}

	var bugs BugDocument
	if err := e.store.Get(e.bugsPath(), &bugs); err != nil && !isFsNotExist(err) {
		return nil, fmt.Errorf("orchestrator: load bugs: %w", err)
	}
	if bugs.Bugs == nil {
		bugs.Bugs = map[string]*Bug{}
	}
	now := e.now()
	bugRecord := &Bug{
		ID:         newID("BUG"),
		SourceTask: taskID,
		Owner:      task.Owner,
		Severity:   "high",
		Status:     BugOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	bugs.Bugs[bugRecord.ID] = bugRecord
	if err := e.store.Put(e.bugsPath(), bugs); err != nil {
		return nil, fmt.Errorf("orchestrator: save bugs: %w", err)
	}
	if _, err := e.bus.Emit("validation.failed", source, map[string]any{
		"task_id": taskID, "bug_id": bugRecord.ID,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: emit validation.failed: %w", err)
	}
	return task, nil
}

// closeOpenBugsForTask closes every open bug whose source_task is taskID.
// Caller must hold stateMu.
func (e *Engine) closeOpenBugsForTask(source, taskID string) error {
	var bugs BugDocument
	if err := e.store.Get(e.bugsPath(), &bugs); err != nil {
		if isFsNotExist(err) {
			return nil
		}
		return fmt.Errorf("orchestrator: load bugs: %w", err)
	}
	changed := false
	for _, id := range sortedBugIDs(bugs.Bugs) {
		b := bugs.Bugs[id]
		if b.SourceTask != taskID || b.Status != BugOpen {
			continue
		}
		b.Status = BugClosed
		b.UpdatedAt = e.now()
		changed = true
		if _, err := e.bus.Emit("bug.closed", source, map[string]any{"bug_id": id, "source_task": taskID}); err != nil {
			return fmt.Errorf("orchestrator: emit bug.closed: %w", err)
		}
	}
	if changed {
		if err := e.store.Put(e.bugsPath(), bugs); err != nil {
			return fmt.Errorf("orchestrator: save bugs: %w", err)
		}
	}
	return nil
}

func sortedBugIDs(bugs map[string]*Bug) []string {
	ids := make([]string, 0, len(bugs))
	for id := range bugs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListBugs returns every bug record.
func (e *Engine) ListBugs() ([]*Bug, error) {
	var doc BugDocument
	if err := e.store.Get(e.bugsPath(), &doc); err != nil {
		if isFsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestrator: load bugs: %w", err)
	}
	out := make([]*Bug, 0, len(doc.Bugs))
	for _, id := range sortedBugIDs(doc.Bugs) {
		out = append(out, doc.Bugs[id])
	}
	return out, nil
}
