package orchestrator

import "path/filepath"

func (e *Engine) rolesPath() string          { return filepath.Join(e.cfg.StateDir(), "roles.json") }
func (e *Engine) tasksPath() string          { return filepath.Join(e.cfg.StateDir(), "tasks.json") }
func (e *Engine) bugsPath() string           { return filepath.Join(e.cfg.StateDir(), "bugs.json") }
func (e *Engine) blockersPath() string       { return filepath.Join(e.cfg.StateDir(), "blockers.json") }
func (e *Engine) agentsPath() string         { return filepath.Join(e.cfg.StateDir(), "agents.json") }
func (e *Engine) cursorsPath() string        { return filepath.Join(e.cfg.StateDir(), "event_cursors.json") }
func (e *Engine) acksPath() string           { return filepath.Join(e.cfg.StateDir(), "event_acks.json") }
func (e *Engine) claimOverridesPath() string {
	return filepath.Join(e.cfg.StateDir(), "claim_overrides.json")
}
func (e *Engine) staleNoticesPath() string {
	return filepath.Join(e.cfg.StateDir(), "stale_notices.json")
}
func (e *Engine) retryQueuePath() string {
	return filepath.Join(e.cfg.StateDir(), "report_retry_queue.json")
}
func (e *Engine) commandPath(taskID string) string {
	return filepath.Join(e.cfg.CommandsDir(), taskID+".json")
}
func (e *Engine) reportPath(taskID string) string {
	return filepath.Join(e.cfg.ReportsDir(), taskID+".json")
}
