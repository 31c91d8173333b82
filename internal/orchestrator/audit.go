package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/alexpekarovsky/orchestrator/internal/bus"
)

// Audit appends one entry to the audit log for an RPC tool invocation.
func (e *Engine) Audit(tool string, args map[string]any, status string, duration time.Duration) error {
	encodedArgs, err := json.Marshal(args)
	if err != nil {
		encodedArgs = nil
	}
	return e.bus.Audit(bus.AuditEntry{
		Timestamp:  e.now(),
		Tool:       tool,
		Status:     status,
		Args:       encodedArgs,
		DurationMs: duration.Milliseconds(),
	})
}
