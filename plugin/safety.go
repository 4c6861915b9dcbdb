// Package plugin is the host runtime for sandboxed plugins. It discovers
// plugin manifests, gates every plugin on the user's approval, spawns
// approved plugins inside their platform sandbox, and routes tool calls
// through a single registry with safety post-processing applied.
package plugin

import (
	"fmt"
	"time"

	"github.com/nox-hq/warden/manifest"
	"github.com/nox-hq/warden/supervisor"
)

// Policy defines the bounds the host enforces on top of each plugin's own
// declared permissions.
type Policy struct {
	// MaxRisk is the highest risk level the host will spawn, approved or not.
	MaxRisk manifest.RiskLevel
	// AllowShell permits plugins that declare shell commands.
	AllowShell bool
	// AllowUnenforced runs plugins with environment filtering only when the
	// platform sandbox mechanism is unavailable.
	AllowUnenforced bool

	SpawnTimeout     time.Duration
	HandshakeTimeout time.Duration
	CallTimeout      time.Duration

	MaxConcurrentCalls int
	MaxConcurrentLoads int

	RequestsPerMinute    int
	BandwidthBytesPerMin int64
	StderrLimit          int
}

// DefaultPolicy returns the standard policy: any approved plugin may run,
// each blocking step is bounded, and calls are rate limited.
func DefaultPolicy() Policy {
	return Policy{
		MaxRisk:            manifest.RiskHigh,
		AllowShell:         true,
		SpawnTimeout:       10 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		CallTimeout:        30 * time.Second,
		MaxConcurrentCalls: 4,
		MaxConcurrentLoads: 4,
		RequestsPerMinute:  120,
		StderrLimit:        supervisor.DefaultStderrLimit,
	}
}

// PolicyViolation describes a single way a manifest exceeds the policy.
type PolicyViolation struct {
	Field   string
	Message string
}

// Error implements the error interface for PolicyViolation.
func (v PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation on %s: %s", v.Field, v.Message)
}

// ValidateManifest checks a manifest against the policy and returns every
// violation found, not just the first.
func ValidateManifest(m *manifest.Manifest, policy Policy) []PolicyViolation {
	if m == nil {
		return nil
	}
	var violations []PolicyViolation

	if risk := m.Risk(); risk > policy.MaxRisk {
		violations = append(violations, PolicyViolation{
			Field:   "permissions",
			Message: fmt.Sprintf("risk level %s exceeds policy maximum %s", risk, policy.MaxRisk),
		})
	}
	if m.Permissions.HasShell() && !policy.AllowShell {
		violations = append(violations, PolicyViolation{
			Field:   "permissions.shell",
			Message: "shell access is not allowed by policy",
		})
	}
	return violations
}
