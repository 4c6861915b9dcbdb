package plugin

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nox-hq/warden/manifest"
	"github.com/nox-hq/warden/protocol"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateInit, "init"},
		{StateReady, "ready"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(42), "State(42)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}

func TestReconcileTools(t *testing.T) {
	declared := []manifest.Tool{{Name: "b"}, {Name: "a"}, {Name: "missing"}}
	listed := []protocol.RemoteTool{{Name: "a"}, {Name: "extra"}, {Name: "b"}}

	got := reconcileTools(declared, listed, slog.New(slog.DiscardHandler))
	want := []manifest.Tool{{Name: "b"}, {Name: "a"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reconcileTools mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadError(t *testing.T) {
	err := &LoadError{PluginID: "com.example.a", Stage: StageSpawn, Err: ErrNotApproved}
	if got, want := err.Error(), `loading plugin "com.example.a": spawn: plugin is not approved`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	noID := &LoadError{Dir: "/plugins/x", Stage: StageManifest, Err: ErrUnknownPlugin}
	if got, want := noID.Error(), `loading plugin "/plugins/x": manifest: unknown plugin`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
