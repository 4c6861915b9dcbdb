package plugin

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// PluginTelemetry holds call metrics collected for one plugin.
type PluginTelemetry struct {
	PluginID        string        `json:"plugin_id"`
	TotalDuration   time.Duration `json:"total_duration_ns"`
	CallCount       int           `json:"call_count"`
	ErrorCount      int           `json:"error_count"`
	RedactionCount  int           `json:"redaction_count"`
	BlockedCommands int           `json:"blocked_commands"`
	BytesReturned   int64         `json:"bytes_returned"`
	LastCall        time.Time     `json:"last_call"`
}

// callSample is what one tool call contributes to telemetry.
type callSample struct {
	duration   time.Duration
	bytes      int64
	redactions int
	blocked    bool
	errored    bool
}

// telemetryCollector accumulates per-plugin metrics in a thread-safe manner.
type telemetryCollector struct {
	entries map[string]*PluginTelemetry
	now     func() time.Time
	mu      sync.Mutex
}

func newTelemetryCollector() *telemetryCollector {
	return &telemetryCollector{
		entries: make(map[string]*PluginTelemetry),
		now:     time.Now,
	}
}

// Record adds one call's metrics to the collector.
func (tc *telemetryCollector) Record(pluginID string, s callSample) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	entry, ok := tc.entries[pluginID]
	if !ok {
		entry = &PluginTelemetry{PluginID: pluginID}
		tc.entries[pluginID] = entry
	}

	entry.TotalDuration += s.duration
	entry.CallCount++
	entry.BytesReturned += s.bytes
	entry.RedactionCount += s.redactions
	entry.LastCall = tc.now()
	if s.blocked {
		entry.BlockedCommands++
	}
	if s.errored {
		entry.ErrorCount++
	}
}

// Snapshot returns a copy of all collected telemetry, sorted by plugin id.
func (tc *telemetryCollector) Snapshot() []PluginTelemetry {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	out := make([]PluginTelemetry, 0, len(tc.entries))
	for _, entry := range tc.entries {
		out = append(out, *entry)
	}
	slices.SortFunc(out, func(a, b PluginTelemetry) int {
		return cmp.Compare(a.PluginID, b.PluginID)
	})
	return out
}
