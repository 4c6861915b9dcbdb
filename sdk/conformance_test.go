package sdk

import (
	"testing"

	"github.com/nox-hq/warden/manifest"
)

func TestRunConformance_EchoPlugin(t *testing.T) {
	RunConformance(t, echoPlugin(t),
		WithSampleArguments("echo", map[string]any{"text": "conformance"}),
		WithSampleArguments("suggest", map[string]any{}),
		WithMaxRisk(manifest.RiskLow),
	)
}
