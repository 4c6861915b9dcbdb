package plugin

import (
	"strings"
	"testing"
	"time"
)

func TestRuntimeViolation_Error(t *testing.T) {
	v := RuntimeViolation{
		Type:      ViolationRateLimit,
		PluginID:  "com.example.echo",
		Message:   "too many calls",
		Timestamp: time.Now(),
	}
	got := v.Error()
	for _, want := range []string{"rate_limit_exceeded", `"com.example.echo"`, "too many calls"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestRuntimeViolation_Fatal(t *testing.T) {
	tests := []struct {
		typ  ViolationType
		want bool
	}{
		{ViolationRateLimit, false},
		{ViolationBandwidth, false},
		{ViolationSecretRedacted, false},
		{ViolationUnsafeCommand, false},
		{ViolationProtocolFault, true},
	}
	for _, tt := range tests {
		if got := (RuntimeViolation{Type: tt.typ}).Fatal(); got != tt.want {
			t.Errorf("Fatal(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}
