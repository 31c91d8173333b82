package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alexpekarovsky/orchestrator/internal/bus"
	"github.com/alexpekarovsky/orchestrator/internal/orchestrator/apierr"
)

// CreateTaskInput is the argument shape for CreateTask.
type CreateTaskInput struct {
	Source             string
	Title              string
	Workstream         string
	AcceptanceCriteria []string
	Owner              string
}

// CreateTaskResult wraps the created (or deduplicated) task.
type CreateTaskResult struct {
	Task         *Task
	Deduplicated bool
}

// CreateTask implements task creation with policy routing and fingerprint
// deduplication (spec.md §4.D, Create).
func (e *Engine) CreateTask(in CreateTaskInput) (*CreateTaskResult, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apierr.Validationf("title is required")
	}
	workstream := strings.ToLower(strings.TrimSpace(in.Workstream))
	if workstream == "" {
		return nil, apierr.Validationf("workstream is required")
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if err := e.requireLeader(in.Source); err != nil {
		return nil, err
	}
	if err := e.touchPresence(in.Source); err != nil {
		return nil, err
	}

	owner := strings.TrimSpace(in.Owner)
	if owner == "" {
		owner = e.policy.TaskOwnerFor(workstream)
	}

	var doc TaskDocument
	if err := e.store.Get(e.tasksPath(), &doc); err != nil && !isFsNotExist(err) {
		return nil, fmt.Errorf("orchestrator: load tasks: %w", err)
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]*Task{}
	}

	fp := fingerprint(owner, workstream, title)
	if existing := findOpenByFingerprint(doc.Tasks, fp); existing != nil {
		return &CreateTaskResult{Task: existing, Deduplicated: true}, nil
	}

	now := e.now()
	task := &Task{
		ID:                 newID("TASK"),
		Title:              title,
		Workstream:         workstream,
		Owner:              owner,
		Description:        strings.TrimSpace(in.Title),
		AcceptanceCriteria: append([]string(nil), in.AcceptanceCriteria...),
		Status:             StatusAssigned,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	doc.Tasks[task.ID] = task
	if err := e.store.Put(e.tasksPath(), doc); err != nil {
		return nil, fmt.Errorf("orchestrator: save tasks: %w", err)
	}
	if err := e.store.Put(e.commandPath(task.ID), task); err != nil {
		return nil, fmt.Errorf("orchestrator: write command file: %w", err)
	}
	if _, err := e.bus.Emit("task.assigned", in.Source, map[string]any{
		"task_id": task.ID, "owner": task.Owner, "workstream": task.Workstream,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: emit task.assigned: %w", err)
	}
	return &CreateTaskResult{Task: task}, nil
}

func findOpenByFingerprint(tasks map[string]*Task, fp string) *Task {
	ids := sortedTaskIDs(tasks)
	for _, id := range ids {
		t := tasks[id]
		if isOpenTaskStatus(t.Status) && fingerprint(t.Owner, t.Workstream, t.Title) == fp {
			return t
		}
	}
	return nil
}

func isOpenTaskStatus(status string) bool {
	switch status {
	case StatusDuplicateClosed, StatusDone:
		return false
	default:
		return true
	}
}

func sortedTaskIDs(tasks map[string]*Task) []string {
	ids := make([]string, 0, len(tasks))
	for id := range tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return tasks[ids[i]].CreatedAt.Before(tasks[ids[j]].CreatedAt)
	})
	return ids
}

// ClaimNext implements claim_next_task (spec.md §4.D, Claim).
func (e *Engine) ClaimNext(owner string) (*Task, error) {
	if _, _, err := e.requireOperational(owner); err != nil {
		return nil, err
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if err := e.touchPresence(owner); err != nil {
		return nil, err
	}

	var overrides ClaimOverrideDocument
	if err := e.store.Get(e.claimOverridesPath(), &overrides); err != nil && !isFsNotExist(err) {
		return nil, fmt.Errorf("orchestrator: load claim overrides: %w", err)
	}

	var doc TaskDocument
	if err := e.store.Get(e.tasksPath(), &doc); err != nil {
		if isFsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestrator: load tasks: %w", err)
	}

	if overrides.Overrides != nil {
		if taskID, ok := overrides.Overrides[owner]; ok {
			task, exists := doc.Tasks[taskID]
			if exists && task.Owner == owner && isClaimable(task.Status) {
				task.Status = StatusInProgress
				task.UpdatedAt = e.now()
				delete(overrides.Overrides, owner)
				if err := e.store.Put(e.claimOverridesPath(), overrides); err != nil {
					return nil, fmt.Errorf("orchestrator: save claim overrides: %w", err)
				}
				if err := e.store.Put(e.tasksPath(), doc); err != nil {
					return nil, fmt.Errorf("orchestrator: save tasks: %w", err)
				}
				if _, err := e.bus.Emit("task.claimed", owner, map[string]any{
					"task_id": task.ID, "via": "manager_override",
				}); err != nil {
					return nil, fmt.Errorf("orchestrator: emit task.claimed: %w", err)
				}
				return task, nil
			}
			delete(overrides.Overrides, owner)
			_ = e.store.Put(e.claimOverridesPath(), overrides)
		}
	}

	for _, id := range sortedTaskIDs(doc.Tasks) {
		task := doc.Tasks[id]
		if task.Owner == owner && isClaimable(task.Status) {
			task.Status = StatusInProgress
			task.UpdatedAt = e.now()
			if err := e.store.Put(e.tasksPath(), doc); err != nil {
				return nil, fmt.Errorf("orchestrator: save tasks: %w", err)
			}
			if _, err := e.bus.Emit("task.claimed", owner, map[string]any{
				"task_id": task.ID, "via": "scan",
			}); err != nil {
				return nil, fmt.Errorf("orchestrator: emit task.claimed: %w", err)
			}
			return task, nil
		}
	}
	return nil, nil
}

func isClaimable(status string) bool {
	return status == StatusAssigned || status == StatusBugOpen
}

// SetClaimOverride forces owner's next ClaimNext to target taskID.
func (e *Engine) SetClaimOverride(source, owner, taskID string) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if err := e.requireLeader(source); err != nil {
		return err
	}
	var overrides ClaimOverrideDocument
	if err := e.store.Get(e.claimOverridesPath(), &overrides); err != nil && !isFsNotExist(err) {
		return fmt.Errorf("orchestrator: load claim overrides: %w", err)
	}
	if overrides.Overrides == nil {
		overrides.Overrides = map[string]string{}
	}
	overrides.Overrides[owner] = taskID
	if err := e.store.Put(e.claimOverridesPath(), overrides); err != nil {
		return fmt.Errorf("orchestrator: save claim overrides: %w", err)
	}
	_, err := e.bus.Emit("manager.claim_override", source, map[string]any{"owner": owner, "task_id": taskID})
	return err
}

// UpdateTaskStatus implements the free-form status-update path
// (spec.md §4.D, Status update). done/reported are rejected here; those
// transitions only happen through the report/validation pipeline.
func (e *Engine) UpdateTaskStatus(source, taskID, status string) (*Task, error) {
	if status == StatusDone || status == StatusReported {
		return nil, apierr.Validationf("status %q can only be reached through report ingest and validation", status)
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	var doc TaskDocument
	if err := e.store.Get(e.tasksPath(), &doc); err != nil {
		return nil, fmt.Errorf("orchestrator: load tasks: %w", err)
	}
	task, ok := doc.Tasks[taskID]
	if !ok {
		return nil, apierr.Validationf("task %q does not exist", taskID)
	}

	isLeader, err := e.isLeader(source)
	if err != nil {
		return nil, err
	}
	if !isLeader && task.Owner != source {
		return nil, apierr.Authority(apierr.CodeUnauthorizedStatusUpdate,
			fmt.Sprintf("%q may not update task %q owned by %q", source, taskID, task.Owner))
	}
	if err := e.touchPresence(source); err != nil {
		return nil, err
	}

	task.Status = status
	task.UpdatedAt = e.now()
	if err := e.store.Put(e.tasksPath(), doc); err != nil {
		return nil, fmt.Errorf("orchestrator: save tasks: %w", err)
	}
	if _, err := e.bus.Emit("task.status_changed", source, map[string]any{
		"task_id": taskID, "status": status,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: emit task.status_changed: %w", err)
	}
	return task, nil
}

// ListTasks returns every task, sorted oldest first.
func (e *Engine) ListTasks() ([]*Task, error) {
	var doc TaskDocument
	if err := e.store.Get(e.tasksPath(), &doc); err != nil {
		if isFsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("orchestrator: load tasks: %w", err)
	}
	out := make([]*Task, 0, len(doc.Tasks))
	for _, id := range sortedTaskIDs(doc.Tasks) {
		out = append(out, doc.Tasks[id])
	}
	return out, nil
}

// GetTasksForAgent returns every task owned by agent, oldest first.
func (e *Engine) GetTasksForAgent(agent string) ([]*Task, error) {
	all, err := e.ListTasks()
	if err != nil {
		return nil, err
	}
	out := make([]*Task, 0)
	for _, t := range all {
		if t.Owner == agent {
			out = append(out, t)
		}
	}
	return out, nil
}

// DedupeTasks groups open tasks by fingerprint and closes all but the
// oldest in each group as duplicate_closed (spec.md §4.D, Deduplication).
func (e *Engine) DedupeTasks(source string) (int, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if err := e.requireLeader(source); err != nil {
		return 0, err
	}

	var doc TaskDocument
	if err := e.store.Get(e.tasksPath(), &doc); err != nil {
		if isFsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("orchestrator: load tasks: %w", err)
	}

	groups := map[string][]string{}
	for _, id := range sortedTaskIDs(doc.Tasks) {
		t := doc.Tasks[id]
		if !isOpenTaskStatus(t.Status) {
			continue
		}
		fp := fingerprint(t.Owner, t.Workstream, t.Title)
		groups[fp] = append(groups[fp], id)
	}

	closed := 0
	for _, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		keeper := ids[0]
		for _, loserID := range ids[1:] {
			loser := doc.Tasks[loserID]
			loser.Status = StatusDuplicateClosed
			loser.DuplicateOf = keeper
			loser.UpdatedAt = e.now()
			closed++
			if _, err := e.bus.Emit("task.duplicate_closed", bus.SourceOrchestrator, map[string]any{
				"task_id": loserID, "duplicate_of": keeper,
			}); err != nil {
				return closed, fmt.Errorf("orchestrator: emit task.duplicate_closed: %w", err)
			}
		}
	}
	if closed > 0 {
		if err := e.store.Put(e.tasksPath(), doc); err != nil {
			return closed, fmt.Errorf("orchestrator: save tasks: %w", err)
		}
	}
	return closed, nil
}

func (e *Engine) requireLeader(source string) error {
	isLeader, err := e.isLeader(source)
	if err != nil {
		return err
	}
	if !isLeader {
		return apierr.Authority(apierr.CodeLeaderMismatch, fmt.Sprintf("%q is not the current leader", source))
	}
	return nil
}

func (e *Engine) isLeader(agent string) (bool, error) {
	leader, err := e.leaderID()
	if err != nil {
		return false, err
	}
	return leader == agent, nil
}
