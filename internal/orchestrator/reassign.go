package orchestrator

import (
	"fmt"

	"github.com/alexpekarovsky/orchestrator/internal/bus"
)

// ReassignStaleTasks implements leader-triggered stale reassignment
// (spec.md §4.D, Stale reassignment): tasks owned by an agent that fails
// the active diagnostic move to a replacement owner.
func (e *Engine) ReassignStaleTasks(source string, includeBlocked bool) (int, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if err := e.requireLeader(source); err != nil {
		return 0, err
	}

	var tasks TaskDocument
	if err := e.store.Get(e.tasksPath(), &tasks); err != nil {
		if isFsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("orchestrator: load tasks: %w", err)
	}
	var agents AgentDocument
	if err := e.store.Get(e.agentsPath(), &agents); err != nil && !isFsNotExist(err) {
		return 0, fmt.Errorf("orchestrator: load agents: %w", err)
	}

	openLoad := map[string]int{}
	for _, t := range tasks.Tasks {
		if isOpenTaskStatus(t.Status) && t.Status != StatusDuplicateClosed {
			openLoad[t.Owner]++
		}
	}

	reassigned := 0
	for _, id := range sortedTaskIDs(tasks.Tasks) {
		task := tasks.Tasks[id]
		eligible := task.Status == StatusInProgress || (includeBlocked && task.Status == StatusBlocked)
		if !eligible {
			continue
		}
		if e.IsActive(task.Owner) {
			continue
		}

		replacement := e.pickReplacementOwner(task, agents.Agents, openLoad)
		if replacement == "" {
			continue
		}

		openLoad[task.Owner]--
		openLoad[replacement]++

		task.ReassignedFrom = task.Owner
		task.ReassignedReason = "owner stale"
		task.Owner = replacement
		task.Status = StatusAssigned
		task.DegradedComm = true
		task.UpdatedAt = e.now()
		reassigned++

		if _, err := e.bus.Emit("task.reassigned_stale", bus.SourceOrchestrator, map[string]any{
			"task_id":         task.ID,
			"reassigned_from": task.ReassignedFrom,
			"owner":           task.Owner,
		}); err != nil {
			return reassigned, fmt.Errorf("orchestrator: emit task.reassigned_stale: %w", err)
		}
	}

	if reassigned > 0 {
		if err := e.store.Put(e.tasksPath(), tasks); err != nil {
			return reassigned, fmt.Errorf("orchestrator: save tasks: %w", err)
		}
	}
	return reassigned, nil
}

// pickReplacementOwner prefers the policy-routed owner for the task's
// workstream, then the active/verified/same-project agent with the
// fewest open tasks.
func (e *Engine) pickReplacementOwner(task *Task, agents map[string]*AgentRecord, openLoad map[string]int) string {
	routed := e.policy.TaskOwnerFor(task.Workstream)
	if routed != task.Owner && e.candidateIsFit(routed, agents) {
		return routed
	}

	best := ""
	bestLoad := -1
	for agent, record := range agents {
		if agent == task.Owner {
			continue
		}
		if !e.candidateIsFit(agent, agents) {
			continue
		}
		_ = record
		load := openLoad[agent]
		if best == "" || load < bestLoad || (load == bestLoad && agent < best) {
			best = agent
			bestLoad = load
		}
	}
	return best
}

func (e *Engine) candidateIsFit(agent string, agents map[string]*AgentRecord) bool {
	record, ok := agents[agent]
	if !ok || record == nil {
		return false
	}
	if !e.IsActive(agent) {
		return false
	}
	snap := e.snapshot(record)
	return snap.Operational && snap.SameProject && snap.Verified
}

// RequeueStaleInProgress implements the gentler requeue variant
// (spec.md §4.D, Requeue stale in-progress): any in_progress task whose
// owner's last_seen age exceeds the heartbeat timeout flips back to
// assigned, keeping the same owner so it can resume on reconnect.
func (e *Engine) RequeueStaleInProgress() (int, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	var tasks TaskDocument
	if err := e.store.Get(e.tasksPath(), &tasks); err != nil {
		if isFsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("orchestrator: load tasks: %w", err)
	}
	var agents AgentDocument
	if err := e.store.Get(e.agentsPath(), &agents); err != nil && !isFsNotExist(err) {
		return 0, fmt.Errorf("orchestrator: load agents: %w", err)
	}

	requeued := 0
	for _, id := range sortedTaskIDs(tasks.Tasks) {
		task := tasks.Tasks[id]
		if task.Status != StatusInProgress {
			continue
		}
		record, ok := agents.Agents[task.Owner]
		if !ok || record == nil {
			continue
		}
		age := e.now().Sub(record.LastSeen)
		if record.LastSeen.IsZero() || age <= e.policy.HeartbeatTimeout() {
			continue
		}

		task.Status = StatusAssigned
		task.UpdatedAt = e.now()
		requeued++
		if _, err := e.bus.Emit("task.requeued", bus.SourceOrchestrator, map[string]any{
			"task_id": task.ID, "owner": task.Owner,
		}); err != nil {
			return requeued, fmt.Errorf("orchestrator: emit task.requeued: %w", err)
		}
	}

	if requeued > 0 {
		if err := e.store.Put(e.tasksPath(), tasks); err != nil {
			return requeued, fmt.Errorf("orchestrator: save tasks: %w", err)
		}
	}
	return requeued, nil
}
