// Package stream is the agent-facing protocol session server: a
// token-authenticated SSE stream plus a command endpoint dispatching
// id-correlated JSON requests against a per-subscriber tool catalog.
package stream

import "encoding/json"

// protocolVersion is reported by the initialize handshake. Versions are
// additive; clients decide whether they can work with it.
const protocolVersion = "2024-11-05"

// Error codes for the command envelope.
const (
	codeParseError      = -32700
	codeInvalidRequest  = -32600
	codeMethodNotFound  = -32601
	codeInvalidParams   = -32602
	codeInternalError   = -32603
	codeSessionNotFound = -32001
)

// request is a command or notification. Notifications are distinguished
// by having no ID and never receive a reply, even on error.
type request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (r *request) isNotification() bool {
	return len(r.ID) == 0
}

// response carries exactly one of Result or Error, keyed to the request
// id that produced it.
type response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func resultResponse(id json.RawMessage, result any) response {
	return response{ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) response {
	return response{ID: id, Error: &rpcError{Code: code, Message: message}}
}

// initializeResult is the server half of the handshake.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      serverInfo         `json:"serverInfo"`
}

type serverCapabilities struct {
	Tools *toolCapability `json:"tools,omitempty"`
}

type toolCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// toolsListResult is the static capability catalog.
type toolsListResult struct {
	Tools []toolDescription `json:"tools"`
}

type toolDescription struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// toolsCallResult wraps a tool's outcome. The result payload is JSON,
// serialized into a text content block; validation failures come back
// with IsError set and a message block instead.
type toolsCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
