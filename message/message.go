// Package message defines the JSON-RPC 2.0 envelope exchanged between the
// oracle and its hosts.
//
// A Request names a method and carries positional params; a Response carries
// either a Result or an Error, never both. The envelope is serialized by the
// codec layer and travels as the body of an HTTP POST.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only accepted value of the "jsonrpc" member.
const Version = "2.0"

// Standard JSON-RPC 2.0 fault codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Server-defined fault codes (-32000 to -32099), used only when distinct
// fault codes are enabled.
const (
	CodeInvalidCall     = -32001
	CodeMalformedInput  = -32002
	CodeUnknownFunction = -32003
)

// Request is a single JSON-RPC call.
//
//   - ID is kept raw so numbers, strings and null echo back unchanged.
//   - A Request without an ID member is a notification and gets no response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the request omitted its id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is the reply to a single Request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// Error is the structured fault of a failed call.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("JSON-RPC error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// NewError builds a fault.
func NewError(code int, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// ErrInternal builds the generic -32603 fault with the underlying message as
// data.
func ErrInternal(data any) *Error {
	return NewError(CodeInternalError, "Internal error", data)
}

// NewRequest encodes params and builds a request with a numeric id.
func NewRequest(id uint64, method string, params any) (*Request, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Request{
		JSONRPC: Version,
		Method:  method,
		Params:  raw,
		ID:      json.RawMessage(fmt.Sprintf("%d", id)),
	}, nil
}

// NewResult builds a success response for id.
func NewResult(id json.RawMessage, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: Version, Result: raw, ID: nullID(id)}, nil
}

// NewFault builds a failure response for id.
func NewFault(id json.RawMessage, fault *Error) *Response {
	return &Response{JSONRPC: Version, Error: fault, ID: nullID(id)}
}

// IsBatch reports whether body holds a JSON array of requests.
func IsBatch(body []byte) bool {
	body = bytes.TrimLeft(body, " \t\r\n")
	return len(body) > 0 && body[0] == '['
}

// Responses to requests whose id could not be read carry an explicit null.
func nullID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
