package plugin

import (
	"fmt"
	"time"
)

// ViolationType classifies a runtime safety event.
type ViolationType string

const (
	// ViolationRateLimit indicates the plugin was called faster than its
	// request rate allows.
	ViolationRateLimit ViolationType = "rate_limit_exceeded"
	// ViolationBandwidth indicates the plugin returned more data than its
	// bandwidth allows.
	ViolationBandwidth ViolationType = "bandwidth_exceeded"
	// ViolationSecretRedacted indicates the plugin output contained
	// sensitive data, which was redacted before delivery.
	ViolationSecretRedacted ViolationType = "secret_redacted"
	// ViolationUnsafeCommand indicates the plugin returned a command that
	// matched the blocklist.
	ViolationUnsafeCommand ViolationType = "unsafe_command"
	// ViolationProtocolFault indicates the plugin broke the wire protocol
	// or exited. The plugin is stopped and unregistered.
	ViolationProtocolFault ViolationType = "protocol_fault"
)

// RuntimeViolation records a safety event caused by a plugin at runtime.
type RuntimeViolation struct {
	Type      ViolationType
	PluginID  string
	Message   string
	Timestamp time.Time
}

// Error implements the error interface.
func (v RuntimeViolation) Error() string {
	return fmt.Sprintf("runtime violation [%s] plugin %q: %s", v.Type, v.PluginID, v.Message)
}

// Fatal reports whether the violation ends the plugin's process.
func (v RuntimeViolation) Fatal() bool {
	return v.Type == ViolationProtocolFault
}
