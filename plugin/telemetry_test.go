package plugin

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTelemetryCollectorRecord(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tc := newTelemetryCollector()
	tc.now = func() time.Time { return now }

	tc.Record("com.example.b", callSample{duration: 100 * time.Millisecond, bytes: 10, redactions: 2})
	tc.Record("com.example.b", callSample{duration: 200 * time.Millisecond, bytes: 5, blocked: true, errored: true})
	tc.Record("com.example.a", callSample{duration: 50 * time.Millisecond, errored: true})

	want := []PluginTelemetry{
		{PluginID: "com.example.a", TotalDuration: 50 * time.Millisecond, CallCount: 1, ErrorCount: 1, LastCall: now},
		{
			PluginID:        "com.example.b",
			TotalDuration:   300 * time.Millisecond,
			CallCount:       2,
			ErrorCount:      1,
			RedactionCount:  2,
			BlockedCommands: 1,
			BytesReturned:   15,
			LastCall:        now,
		},
	}
	if diff := cmp.Diff(want, tc.Snapshot()); diff != "" {
		t.Errorf("Snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestTelemetryCollectorSnapshotIsCopy(t *testing.T) {
	tc := newTelemetryCollector()
	tc.Record("com.example.a", callSample{})
	snap := tc.Snapshot()
	snap[0].CallCount = 99
	if got := tc.Snapshot()[0].CallCount; got != 1 {
		t.Errorf("CallCount = %d after mutating snapshot, want 1", got)
	}
}
