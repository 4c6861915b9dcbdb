package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a request outlives its deadline. The
	// connection stays usable; a late response is dropped.
	ErrTimeout = errors.New("request timed out")

	// ErrStopped is returned for requests pending or issued after Close.
	ErrStopped = errors.New("client stopped")

	// ErrNotReady is returned when an operation needs a completed handshake.
	ErrNotReady = errors.New("client not ready")
)

// ProtocolError reports a wire violation by the plugin. It faults the
// client: every pending and later request fails with it.
type ProtocolError struct {
	Reason string
	// Frame is the offending frame, truncated.
	Frame string
	Err   error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	msg := "protocol violation: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Frame != "" {
		msg += fmt.Sprintf(" (frame %q)", e.Frame)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// RPCError is a JSON-RPC error response from the plugin.
type RPCError struct {
	Code    int
	Message string
	Data    any
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// InvalidArgumentsError reports tool arguments rejected by the tool's
// input schema before anything was sent.
type InvalidArgumentsError struct {
	Tool string
	Err  error
}

// Error implements the error interface.
func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for tool %q: %v", e.Tool, e.Err)
}

// Unwrap returns the underlying cause.
func (e *InvalidArgumentsError) Unwrap() error {
	return e.Err
}

const maxFrameExcerpt = 256

func excerpt(line []byte) string {
	if len(line) > maxFrameExcerpt {
		return string(line[:maxFrameExcerpt]) + "..."
	}
	return string(line)
}
