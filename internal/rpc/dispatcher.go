// Package rpc implements the line-delimited JSON-RPC 2.0 front-end: one
// request per line on stdin, one response per line on stdout, mapping
// the `tools/call` method namespace onto engine operations.
package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alexpekarovsky/orchestrator/internal/orchestrator"
	"github.com/alexpekarovsky/orchestrator/internal/orchestrator/apierr"
)

const (
	codeMethodNotFound = -32601
	codeInternalError  = -32603
)

// Request is one line-delimited JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one line-delimited JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// ResponseError is a JSON-RPC 2.0 error object.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toolCallParams is the argument shape for the tools/call framing method.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Dispatcher maps JSON-RPC method/tool names onto Engine operations.
type Dispatcher struct {
	engine *orchestrator.Engine
	tools  map[string]toolHandler
}

type toolHandler func(args json.RawMessage) (any, error)

// New constructs a Dispatcher bound to engine.
func New(engine *orchestrator.Engine) *Dispatcher {
	d := &Dispatcher{engine: engine}
	d.tools = d.buildToolTable()
	return d
}

// Serve reads line-delimited requests from r and writes line-delimited
// responses to w until r is exhausted. Notifications (no id) receive no
// reply. Each handled call records a debug trace entry and an audit entry.
func (d *Dispatcher) Serve(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	out := bufio.NewWriter(w)
	defer out.Flush()

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp := Response{JSONRPC: "2.0", Error: &ResponseError{Code: codeInternalError, Message: err.Error()}}
			if err := writeResponse(out, resp); err != nil {
				return err
			}
			continue
		}

		resp := d.handle(req)
		if req.ID == nil {
			continue
		}
		resp.ID = req.ID
		if err := writeResponse(out, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func writeResponse(out *bufio.Writer, resp Response) error {
	resp.JSONRPC = "2.0"
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("rpc: marshal response: %w", err)
	}
	if _, err := out.Write(data); err != nil {
		return err
	}
	if _, err := out.Write([]byte("\n")); err != nil {
		return err
	}
	return out.Flush()
}

func (d *Dispatcher) handle(req Request) Response {
	switch req.Method {
	case "initialize":
		return Response{Result: map[string]any{"protocolVersion": "2024-11-05", "serverInfo": map[string]string{"name": "orchestrator"}}}
	case "tools/list":
		return Response{Result: map[string]any{"tools": d.toolNames()}}
	case "tools/call":
		return d.handleToolCall(req.Params)
	default:
		return Response{Error: &ResponseError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}}
	}
}

func (d *Dispatcher) toolNames() []string {
	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	return names
}

func (d *Dispatcher) handleToolCall(raw json.RawMessage) Response {
	var params toolCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return Response{Error: &ResponseError{Code: codeInternalError, Message: err.Error()}}
	}
	handler, ok := d.tools[params.Name]
	if !ok {
		return Response{Error: &ResponseError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown tool %q", params.Name)}}
	}

	start := time.Now()
	result, err := handler(params.Arguments)
	duration := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	d.engine.RecordDebugTrace(params.Name, redactArgs(params.Name, params.Arguments), duration, outcome)
	d.audit(params.Name, params.Arguments, outcome, duration)

	if err != nil {
		return Response{Error: translateError(err)}
	}
	return Response{Result: map[string]any{
		"content": []map[string]any{{"type": "text", "text": mustJSON(result)}},
	}}
}

// translateError turns any error into a JSON-RPC -32603 error. The type
// switch over the apierr taxonomy only shapes the message: authority
// errors are prefixed with their code, everything else uses its text.
func translateError(err error) *ResponseError {
	switch e := err.(type) {
	case *apierr.ValidationError:
		return &ResponseError{Code: codeInternalError, Message: e.Message}
	case *apierr.AuthorityError:
		return &ResponseError{Code: codeInternalError, Message: fmt.Sprintf("%s: %s", e.Code, e.Message)}
	case *apierr.ConflictError:
		return &ResponseError{Code: codeInternalError, Message: e.Message}
	default:
		return &ResponseError{Code: codeInternalError, Message: err.Error()}
	}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// redactedArgFields lists argument keys the audit log and debug trace
// must never surface verbatim: connection and session identifiers are
// bearer-token-like and have no diagnostic value once redacted.
var redactedArgFields = []string{"session_id", "connection_id"}

func redactArgs(tool string, raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	for _, key := range redactedArgFields {
		if _, ok := m[key]; ok {
			m[key] = "[redacted]"
		}
	}
	if meta, ok := m["metadata"].(map[string]any); ok {
		for _, key := range redactedArgFields {
			if _, ok := meta[key]; ok {
				meta[key] = "[redacted]"
			}
		}
	}
	return m
}

func (d *Dispatcher) audit(tool string, args json.RawMessage, status string, duration time.Duration) {
	_ = d.engine.Audit(tool, redactArgs(tool, args), status, duration)
}
