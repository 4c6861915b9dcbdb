// Package protocol is the host side of the plugin wire protocol:
// newline-delimited JSON-RPC 2.0 over the plugin's stdio, carrying MCP
// messages. A Client performs the handshake, lists tools, and calls them;
// any frame it cannot account for faults the connection.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Kind tags a decoded frame.
type Kind int

const (
	KindMalformed Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "malformed"
	}
}

// Message is one decoded frame. Only the fields of its Kind are set.
type Message struct {
	Kind Kind

	// ID is set for requests and responses.
	ID int64
	// Method is set for requests and notifications.
	Method string
	Params json.RawMessage

	// Result or Error is set for responses.
	Result json.RawMessage
	Error  *mcp.JSONRPCErrorDetails

	// Err explains why a frame is KindMalformed.
	Err error
}

// Decode classifies a single frame. It never fails; frames that are not
// JSON-RPC 2.0 come back as KindMalformed with Err set.
func Decode(line []byte) Message {
	malformed := func(err error) Message {
		return Message{Kind: KindMalformed, Err: err}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return malformed(fmt.Errorf("invalid json: %w", err))
	}
	var version string
	if err := json.Unmarshal(fields["jsonrpc"], &version); err != nil || version != mcp.JSONRPC_VERSION {
		return malformed(errors.New(`missing or unsupported "jsonrpc" version`))
	}

	var method string
	if raw, ok := fields["method"]; ok {
		if err := json.Unmarshal(raw, &method); err != nil || method == "" {
			return malformed(errors.New(`"method" must be a non-empty string`))
		}
	}
	rawID, hasID := fields["id"]
	if hasID && string(rawID) == "null" {
		hasID = false
	}

	var id int64
	if hasID {
		var rid mcp.RequestId
		if err := json.Unmarshal(rawID, &rid); err != nil {
			return malformed(err)
		}
		n, ok := rid.Value().(int64)
		if !ok {
			return malformed(fmt.Errorf("unsupported id %s", rid.String()))
		}
		id = n
	}

	switch {
	case method != "" && hasID:
		return Message{Kind: KindRequest, ID: id, Method: method, Params: fields["params"]}
	case method != "":
		return Message{Kind: KindNotification, Method: method, Params: fields["params"]}
	case !hasID:
		return malformed(errors.New(`frame has neither "method" nor "id"`))
	}

	result, hasResult := fields["result"]
	rawErr, hasErr := fields["error"]
	switch {
	case hasResult && hasErr:
		return malformed(errors.New(`response carries both "result" and "error"`))
	case hasResult:
		return Message{Kind: KindResponse, ID: id, Result: result}
	case hasErr:
		var details mcp.JSONRPCErrorDetails
		if err := json.Unmarshal(rawErr, &details); err != nil {
			return malformed(fmt.Errorf("invalid error object: %w", err))
		}
		return Message{Kind: KindResponse, ID: id, Error: &details}
	}
	return malformed(errors.New(`response has neither "result" nor "error"`))
}
