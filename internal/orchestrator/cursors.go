package orchestrator

import (
	"fmt"
	"time"

	"github.com/alexpekarovsky/orchestrator/internal/bus"
)

// PollEventsInput is the argument shape for PollEvents.
type PollEventsInput struct {
	Agent       string
	Cursor      *int
	Limit       int
	TimeoutMs   int
	AutoAdvance bool
}

// PollEventsResult carries delivered events plus the resulting cursor.
type PollEventsResult struct {
	Events     []bus.IndexedEvent
	NextCursor int
}

const defaultPollLimit = 50

// PollEvents implements the operational-gated replay-cursor read
// (spec.md §4.E): resolve start, wait for new lines, iterate, filter by
// audience, stop at limit, optionally advance the stored cursor.
func (e *Engine) PollEvents(in PollEventsInput) (*PollEventsResult, error) {
	if _, _, err := e.requireOperational(in.Agent); err != nil {
		return nil, err
	}

	e.stateMu.Lock()
	if err := e.touchPresence(in.Agent); err != nil {
		e.stateMu.Unlock()
		return nil, err
	}

	start := 0
	if in.Cursor != nil {
		start = *in.Cursor
	} else {
		stored, err := e.getCursor(in.Agent)
		if err != nil {
			e.stateMu.Unlock()
			return nil, err
		}
		start = stored
	}
	e.stateMu.Unlock()

	timeout := time.Duration(in.TimeoutMs) * time.Millisecond
	if _, err := e.bus.WaitForIndex(start, timeout); err != nil {
		return nil, fmt.Errorf("orchestrator: wait for events: %w", err)
	}

	all, err := e.bus.IterEventsFrom(start)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: iterate events: %w", err)
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultPollLimit
	}

	delivered := make([]bus.IndexedEvent, 0, limit)
	lastIndex := start
	for _, ie := range all {
		lastIndex = ie.Index + 1
		if !eventForAudience(ie.Event, in.Agent) {
			continue
		}
		delivered = append(delivered, ie)
		if len(delivered) >= limit {
			break
		}
	}

	if in.AutoAdvance {
		e.stateMu.Lock()
		err := e.setCursor(in.Agent, lastIndex)
		e.stateMu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	return &PollEventsResult{Events: delivered, NextCursor: lastIndex}, nil
}

func eventForAudience(ev bus.Event, agent string) bool {
	raw, ok := payloadField(ev.Payload, "audience")
	if !ok {
		return true
	}
	audience, ok := raw.([]any)
	if !ok || len(audience) == 0 {
		return true
	}
	for _, a := range audience {
		s, ok := a.(string)
		if !ok {
			continue
		}
		if s == "*" || s == agent {
			return true
		}
	}
	return false
}

func payloadField(payload []byte, key string) (any, bool) {
	if len(payload) == 0 {
		return nil, false
	}
	m, err := decodeJSONObject(payload)
	if err != nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// getCursor reads the stored cursor for agent, defaulting to 0. Caller
// must hold stateMu.
func (e *Engine) getCursor(agent string) (int, error) {
	var doc CursorDocument
	if err := e.store.Get(e.cursorsPath(), &doc); err != nil {
		if isFsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("orchestrator: load cursors: %w", err)
	}
	return doc.Cursors[agent], nil
}

// setCursor persists agent's new cursor value. Caller must hold stateMu.
func (e *Engine) setCursor(agent string, index int) error {
	var doc CursorDocument
	if err := e.store.Get(e.cursorsPath(), &doc); err != nil && !isFsNotExist(err) {
		return fmt.Errorf("orchestrator: load cursors: %w", err)
	}
	if doc.Cursors == nil {
		doc.Cursors = map[string]int{}
	}
	doc.Cursors[agent] = index
	if err := e.store.Put(e.cursorsPath(), doc); err != nil {
		return fmt.Errorf("orchestrator: save cursors: %w", err)
	}
	return nil
}

// GetAgentCursor returns agent's current stored cursor.
func (e *Engine) GetAgentCursor(agent string) (int, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.getCursor(agent)
}

// PublishEvent emits a caller-supplied event verbatim, for callers (like
// the leader) that need to broadcast an ad hoc notification outside the
// task/bug/blocker lifecycle.
func (e *Engine) PublishEvent(source, eventType string, payload map[string]any) (bus.Event, error) {
	return e.bus.Emit(eventType, source, payload)
}

// AckEvent appends eventID to agent's ack set (deduplicated) and emits
// event.acked. Acks are informational; they never gate delivery.
func (e *Engine) AckEvent(agent, eventID string) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	var doc AckDocument
	if err := e.store.Get(e.acksPath(), &doc); err != nil && !isFsNotExist(err) {
		return fmt.Errorf("orchestrator: load acks: %w", err)
	}
	if doc.Acks == nil {
		doc.Acks = map[string][]string{}
	}
	for _, existing := range doc.Acks[agent] {
		if existing == eventID {
			return nil
		}
	}
	doc.Acks[agent] = append(doc.Acks[agent], eventID)
	if err := e.store.Put(e.acksPath(), doc); err != nil {
		return fmt.Errorf("orchestrator: save acks: %w", err)
	}
	_, err := e.bus.Emit("event.acked", agent, map[string]any{"event_id": eventID})
	return err
}
