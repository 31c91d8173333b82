package orchestrator

import (
	"fmt"
	"math"
	"time"

	"github.com/alexpekarovsky/orchestrator/internal/orchestrator/apierr"
)

const (
	retryBaseBackoff = 30 * time.Second
	retryMaxBackoff  = 30 * time.Minute
	retryMaxAttempts = 20
)

// validateReportPayload checks the required fields of ingest_report
// (spec.md §4.D, Ingest report). It never touches state.
func validateReportPayload(report ReportPayload) error {
	if report.TaskID == "" {
		return apierr.Validationf("task_id is required")
	}
	if report.Agent == "" {
		return apierr.Validationf("agent is required")
	}
	if report.CommitSha == "" {
		return apierr.Validationf("commit_sha is required")
	}
	if report.TestSummary.Command == "" {
		return apierr.Validationf("test_summary.command is required")
	}
	if report.TestSummary.Passed < 0 || report.TestSummary.Failed < 0 {
		return apierr.Validationf("test_summary.passed and .failed must be non-negative")
	}
	if report.Status == "" {
		return apierr.Validationf("status is required")
	}
	return nil
}

// IngestReport implements the happy-path report ingest (spec.md §4.D,
// Ingest report). The caller must be operational and equal the task's
// current owner. On success the report is persisted and the task moves
// to reported.
func (e *Engine) IngestReport(report ReportPayload) (*Task, error) {
	if err := validateReportPayload(report); err != nil {
		return nil, err
	}
	if _, _, err := e.requireOperational(report.Agent); err != nil {
		return nil, err
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	var tasks TaskDocument
	if err := e.store.Get(e.tasksPath(), &tasks); err != nil {
		return nil, fmt.Errorf("orchestrator: load tasks: %w", err)
	}
	task, ok := tasks.Tasks[report.TaskID]
	if !ok {
		return nil, apierr.Validationf("task %q does not exist", report.TaskID)
	}
	if task.Owner != report.Agent {
		return nil, apierr.Authority(apierr.CodeUnauthorizedStatusUpdate,
			fmt.Sprintf("%q does not own task %q", report.Agent, report.TaskID))
	}
	if err := e.touchPresence(report.Agent); err != nil {
		return nil, err
	}

	if err := e.store.Put(e.reportPath(report.TaskID), report); err != nil {
		return nil, fmt.Errorf("orchestrator: write report: %w", err)
	}

	task.Status = StatusReported
	task.UpdatedAt = e.now()
	if err := e.store.Put(e.tasksPath(), tasks); err != nil {
		return nil, fmt.Errorf("orchestrator: save tasks: %w", err)
	}
	if _, err := e.bus.Emit("task.reported", report.Agent, map[string]any{"task_id": report.TaskID}); err != nil {
		return nil, fmt.Errorf("orchestrator: emit task.reported: %w", err)
	}
	return task, nil
}

// SubmitReport is the RPC-facing wrapper spec.md requires: a rejected
// ingest is never surfaced as an error, it is queued for retry instead.
func (e *Engine) SubmitReport(report ReportPayload) (queuedForRetry bool, task *Task, err error) {
	task, err = e.IngestReport(report)
	if err == nil {
		return false, task, nil
	}
	if qerr := e.enqueueRetry(report, err); qerr != nil {
		return false, nil, qerr
	}
	return true, nil, nil
}

func (e *Engine) enqueueRetry(report ReportPayload, cause error) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	var queue RetryQueueDocument
	if err := e.store.Get(e.retryQueuePath(), &queue); err != nil && !isFsNotExist(err) {
		return fmt.Errorf("orchestrator: load retry queue: %w", err)
	}
	if queue.Entries == nil {
		queue.Entries = map[string]*RetryEntry{}
	}

	now := e.now()
	// Dedup by (task_id, agent): a newer report replaces the queued
	// payload and resets the error (spec.md §4.D, Retry queue).
	for id, entry := range queue.Entries {
		if entry.Report.TaskID == report.TaskID && entry.Report.Agent == report.Agent && entry.Status == RetryPending {
			entry.Report = report
			entry.LastError = cause.Error()
			entry.Attempts = 0
			entry.UpdatedAt = now
			entry.NextRetryAt = now
			queue.Entries[id] = entry
			if err := e.store.Put(e.retryQueuePath(), queue); err != nil {
				return fmt.Errorf("orchestrator: save retry queue: %w", err)
			}
			_, emitErr := e.bus.Emit("report.retry_queued", report.Agent, map[string]any{"task_id": report.TaskID})
			return emitErr
		}
	}

	entry := &RetryEntry{
		ID:          newID("RETRY"),
		Status:      RetryPending,
		Report:      report,
		Attempts:    0,
		LastError:   cause.Error(),
		CreatedAt:   now,
		UpdatedAt:   now,
		NextRetryAt: now,
	}
	queue.Entries[entry.ID] = entry
	if err := e.store.Put(e.retryQueuePath(), queue); err != nil {
		return fmt.Errorf("orchestrator: save retry queue: %w", err)
	}
	_, err := e.bus.Emit("report.retry_queued", report.Agent, map[string]any{"task_id": report.TaskID})
	return err
}

// DrainRetryQueue processes up to limit due retry entries via IngestReport
// (spec.md §4.D, Retry queue; §4.F step 1).
func (e *Engine) DrainRetryQueue(limit int) (processed int, err error) {
	now := e.now()

	e.stateMu.Lock()
	var queue RetryQueueDocument
	if err := e.store.Get(e.retryQueuePath(), &queue); err != nil {
		e.stateMu.Unlock()
		if isFsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("orchestrator: load retry queue: %w", err)
	}
	due := make([]string, 0)
	for id, entry := range queue.Entries {
		if entry.Status == RetryPending && !entry.NextRetryAt.After(now) {
			due = append(due, id)
		}
	}
	e.stateMu.Unlock()

	for _, id := range due {
		if processed >= limit {
			break
		}
		processed++
		if procErr := e.processRetryEntry(id); procErr != nil {
			return processed, procErr
		}
	}
	return processed, nil
}

func (e *Engine) processRetryEntry(id string) error {
	e.stateMu.Lock()
	var queue RetryQueueDocument
	if err := e.store.Get(e.retryQueuePath(), &queue); err != nil {
		e.stateMu.Unlock()
		return fmt.Errorf("orchestrator: load retry queue: %w", err)
	}
	entry, ok := queue.Entries[id]
	if !ok || entry.Status != RetryPending {
		e.stateMu.Unlock()
		return nil
	}
	report := entry.Report
	e.stateMu.Unlock()

	_, ingestErr := e.IngestReport(report)

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if err := e.store.Get(e.retryQueuePath(), &queue); err != nil {
		return fmt.Errorf("orchestrator: load retry queue: %w", err)
	}
	entry, ok = queue.Entries[id]
	if !ok {
		return nil
	}
	now := e.now()
	if ingestErr == nil {
		entry.Status = RetrySubmitted
		entry.UpdatedAt = now
		if err := e.store.Put(e.retryQueuePath(), queue); err != nil {
			return fmt.Errorf("orchestrator: save retry queue: %w", err)
		}
		_, err := e.bus.Emit("report.retry_submitted", report.Agent, map[string]any{"task_id": report.TaskID})
		return err
	}

	entry.Attempts++
	entry.LastError = ingestErr.Error()
	entry.UpdatedAt = now
	if entry.Attempts >= retryMaxAttempts {
		entry.Status = RetryFailed
		if err := e.store.Put(e.retryQueuePath(), queue); err != nil {
			return fmt.Errorf("orchestrator: save retry queue: %w", err)
		}
		_, err := e.bus.Emit("report.retry_failed", report.Agent, map[string]any{"task_id": report.TaskID})
		return err
	}

	backoff := time.Duration(float64(retryBaseBackoff) * math.Pow(2, float64(entry.Attempts-1)))
	if backoff > retryMaxBackoff {
		backoff = retryMaxBackoff
	}
	entry.NextRetryAt = now.Add(backoff)
	if err := e.store.Put(e.retryQueuePath(), queue); err != nil {
		return fmt.Errorf("orchestrator: save retry queue: %w", err)
	}
	_, err := e.bus.Emit("report.retry_retrying", report.Agent, map[string]any{"task_id": report.TaskID})
	return err
}
