package orchestrator

import (
	"fmt"
	"time"

	"github.com/gofrs/flock"

	"github.com/alexpekarovsky/orchestrator/internal/bus"
)

const (
	defaultRetryDrainLimit = 20
	strictValidationMode   = true
)

// CycleResult summarizes one manager-cycle pass.
type CycleResult struct {
	RetriesDrained     int
	Validated          int
	HandshakeAttempted []string
	Reassigned         int
	Requeued           int
	PendingTasks       int
}

// ManagerCycle runs the full per-cycle sequence (spec.md §4.F): drain
// retries, validate reported tasks, reconnect stale owners with open
// work, reassign stale owners, requeue stale in-progress, publish the
// task-contract digest.
func (e *Engine) ManagerCycle(leader string) (*CycleResult, error) {
	result := &CycleResult{}

	drained, err := e.DrainRetryQueue(defaultRetryDrainLimit)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: drain retry queue: %w", err)
	}
	result.RetriesDrained = drained

	validated, err := e.autoValidateReportedTasks(leader)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: auto-validate reported tasks: %w", err)
	}
	result.Validated = validated

	staleOwners, err := e.collectStaleOwnersWithOpenWork()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: collect stale owners: %w", err)
	}
	if len(staleOwners) > 0 {
		if _, err := e.ConnectTeamMembers(ConnectTeamMembersInput{
			Source: leader, Targets: staleOwners, Timeout: 5 * time.Second,
		}); err != nil {
			return nil, fmt.Errorf("orchestrator: connect stale owners: %w", err)
		}
		result.HandshakeAttempted = staleOwners
	}

	reassigned, err := e.ReassignStaleTasks(leader, true)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reassign stale tasks: %w", err)
	}
	result.Reassigned = reassigned

	requeued, err := e.RequeueStaleInProgress()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: requeue stale in-progress: %w", err)
	}
	result.Requeued = requeued

	report, err := e.LiveStatusReport()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: assemble rollup: %w", err)
	}
	result.PendingTasks = len(report.Pending)
	if _, err := e.bus.Emit("manager.task_contracts", bus.SourceOrchestrator, map[string]any{
		"pending": report.Pending,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: emit manager.task_contracts: %w", err)
	}

	return result, nil
}

// autoValidateReportedTasks reads each reported task's report file and
// decides pass/fail per spec.md §4.F step 2.
func (e *Engine) autoValidateReportedTasks(leader string) (int, error) {
	tasks, err := e.ListTasks()
	if err != nil {
		return 0, err
	}

	validated := 0
	for _, task := range tasks {
		if task.Status != StatusReported {
			continue
		}
		var report ReportPayload
		if err := e.store.Get(e.reportPath(task.ID), &report); err != nil {
			if isFsNotExist(err) {
				continue
			}
			return validated, fmt.Errorf("orchestrator: read report for %s: %w", task.ID, err)
		}

		pass := report.Status == "done" && report.TestSummary.Failed == 0
		if strictValidationMode {
			pass = pass && report.CommitSha != "" && report.TestSummary.Command != ""
		}
		if _, err := e.ValidateTask(leader, task.ID, pass); err != nil {
			return validated, err
		}
		validated++
	}
	return validated, nil
}

// collectStaleOwnersWithOpenWork returns the distinct, non-leader owners
// of in_progress/blocked tasks who are not currently active.
func (e *Engine) collectStaleOwnersWithOpenWork() ([]string, error) {
	tasks, err := e.ListTasks()
	if err != nil {
		return nil, err
	}
	leader, err := e.leaderID()
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var out []string
	for _, task := range tasks {
		if task.Status != StatusInProgress && task.Status != StatusBlocked {
			continue
		}
		if task.Owner == leader || seen[task.Owner] {
			continue
		}
		if e.IsActive(task.Owner) {
			continue
		}
		seen[task.Owner] = true
		out = append(out, task.Owner)
	}
	return out, nil
}

// Daemon runs the manager cycle on an interval, guarded by a singleton
// OS file lock so at most one process per host drives it (spec.md §4.F).
type Daemon struct {
	engine   *Engine
	leader   string
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewDaemon constructs a Daemon bound to engine, running as leader at interval.
func NewDaemon(engine *Engine, leader string, interval time.Duration) *Daemon {
	return &Daemon{
		engine:   engine,
		leader:   leader,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run blocks until Stop is called, attempting to acquire the singleton
// lock and running one ManagerCycle per tick while it holds it.
func (d *Daemon) Run() error {
	defer close(d.done)

	lockPath := d.engine.cfg.ManagerCycleLockPath()
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("orchestrator: acquire manager-cycle lock: %w", err)
	}
	if !locked {
		d.engine.logger.Printf("orchestrator: manager-cycle lock held by another process, daemon idle")
		<-d.stop
		return nil
	}
	defer fl.Unlock()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return nil
		case <-ticker.C:
			if _, err := d.engine.ManagerCycle(d.leader); err != nil {
				d.engine.logger.Printf("orchestrator: manager cycle failed: %v", err)
			}
		}
	}
}

// Stop signals the daemon loop to exit and waits for it to return.
func (d *Daemon) Stop() {
	close(d.stop)
	<-d.done
}
