package rpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/alexpekarovsky/orchestrator/internal/config"
	"github.com/alexpekarovsky/orchestrator/internal/orchestrator"
	"github.com/alexpekarovsky/orchestrator/internal/policy"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{Root: root}
	if err := cfg.Bootstrap(); err != nil {
		t.Fatalf("cfg.Bootstrap: %v", err)
	}
	pol := &policy.Policy{Manager: "lead-agent", TeamMembers: []string{"backend-agent"}}
	engine := orchestrator.New(cfg, pol)
	if err := engine.Bootstrap(); err != nil {
		t.Fatalf("engine.Bootstrap: %v", err)
	}
	return New(engine)
}

func serveOne(t *testing.T, d *Dispatcher, request string) Response {
	t.Helper()
	var out bytes.Buffer
	if err := d.Serve(strings.NewReader(request+"\n"), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	scanner := bufio.NewScanner(&out)
	if !scanner.Scan() {
		t.Fatalf("expected one response line, got none")
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v, line=%s", err, scanner.Text())
	}
	return resp
}

func TestInitializeAndToolsList(t *testing.T) {
	d := newTestDispatcher(t)

	resp := serveOne(t, d, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	resp = serveOne(t, d, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %T", resp.Result)
	}
	tools, ok := result["tools"].([]any)
	if !ok || len(tools) == 0 {
		t.Fatalf("expected a non-empty tool list, got %v", result["tools"])
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	resp := serveOne(t, d, `{"jsonrpc":"2.0","id":1,"method":"bogus"}`)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestToolCallRoundTripsCreateTask(t *testing.T) {
	d := newTestDispatcher(t)

	call := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"create_task","arguments":{"source":"lead-agent","title":"fix bug","workstream":"backend"}}}`
	resp := serveOne(t, d, call)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %T", resp.Result)
	}
	content, ok := result["content"].([]any)
	if !ok || len(content) != 1 {
		t.Fatalf("expected one content block, got %v", result["content"])
	}
}

func TestToolCallUnknownToolReturnsMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	call := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"does_not_exist","arguments":{}}}`
	resp := serveOne(t, d, call)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestToolCallErrorIsAlwaysInternalErrorCode(t *testing.T) {
	d := newTestDispatcher(t)
	// create_task requires a leader source; "nobody" is neither leader nor team member.
	call := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"create_task","arguments":{"source":"nobody","title":"x","workstream":"backend"}}}`
	resp := serveOne(t, d, call)
	if resp.Error == nil {
		t.Fatalf("expected an error for a non-leader source")
	}
	if resp.Error.Code != codeInternalError {
		t.Fatalf("expected every escaping error to use code %d, got %d", codeInternalError, resp.Error.Code)
	}
	if !strings.Contains(resp.Error.Message, "leader_mismatch") {
		t.Fatalf("expected authority error message to be prefixed with its code, got %q", resp.Error.Message)
	}
}

func TestNotificationWithoutIDReceivesNoResponse(t *testing.T) {
	d := newTestDispatcher(t)
	var out bytes.Buffer
	if err := d.Serve(strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list"}`+"\n"), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("expected no output for a notification, got %q", out.String())
	}
}

func TestRedactArgsMasksSessionAndConnectionID(t *testing.T) {
	raw := json.RawMessage(`{"agent":"backend-agent","session_id":"sess-1","connection_id":"conn-1","metadata":{"session_id":"sess-1","connection_id":"conn-1","client":"cli"}}`)
	redacted := redactArgs("register_agent", raw)
	if redacted["session_id"] != "[redacted]" || redacted["connection_id"] != "[redacted]" {
		t.Fatalf("expected top-level session/connection ids redacted, got %v", redacted)
	}
	meta, ok := redacted["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("expected metadata map, got %T", redacted["metadata"])
	}
	if meta["session_id"] != "[redacted]" || meta["connection_id"] != "[redacted]" {
		t.Fatalf("expected nested metadata session/connection ids redacted, got %v", meta)
	}
	if meta["client"] != "cli" {
		t.Fatalf("expected unrelated metadata fields untouched, got %v", meta["client"])
	}
}
