package plugin

import (
	"testing"
	"time"

	"github.com/nox-hq/warden/manifest"
)

func TestProfilePolicy_AllProfiles(t *testing.T) {
	for _, p := range []Profile{ProfileStrict, ProfileStandard, ProfilePermissive, ""} {
		pol, err := ProfilePolicy(p)
		if err != nil {
			t.Fatalf("ProfilePolicy(%q): %v", p, err)
		}
		if pol.SpawnTimeout <= 0 || pol.HandshakeTimeout <= 0 || pol.CallTimeout <= 0 {
			t.Errorf("ProfilePolicy(%q): unbounded timeouts %+v", p, pol)
		}
		if pol.MaxConcurrentCalls <= 0 || pol.MaxConcurrentLoads <= 0 {
			t.Errorf("ProfilePolicy(%q): concurrency not set", p)
		}
		if pol.AllowUnenforced {
			t.Errorf("ProfilePolicy(%q): AllowUnenforced must be opt-in", p)
		}
	}
}

func TestProfilePolicy_Strict(t *testing.T) {
	p, err := ProfilePolicy(ProfileStrict)
	if err != nil {
		t.Fatal(err)
	}
	if p.MaxRisk != manifest.RiskMedium {
		t.Errorf("MaxRisk = %s, want medium", p.MaxRisk)
	}
	if p.AllowShell {
		t.Error("strict profile allows shell")
	}
	if p.RequestsPerMinute == 0 || p.BandwidthBytesPerMin == 0 {
		t.Error("strict profile should rate limit calls and bandwidth")
	}
}

func TestProfilePolicy_EmptyIsStandard(t *testing.T) {
	empty, _ := ProfilePolicy("")
	standard, _ := ProfilePolicy(ProfileStandard)
	if empty != standard {
		t.Errorf("ProfilePolicy(\"\") = %+v, want %+v", empty, standard)
	}
}

func TestProfilePolicy_Unknown(t *testing.T) {
	if _, err := ProfilePolicy("paranoid"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestMergeWithUserPolicy(t *testing.T) {
	profile, _ := ProfilePolicy(ProfileStrict)
	user := Policy{
		MaxRisk:            manifest.RiskHigh,
		AllowShell:         true,
		AllowUnenforced:    true,
		CallTimeout:        time.Minute,
		MaxConcurrentCalls: 6,
	}
	merged := MergeWithUserPolicy(profile, user)

	if merged.MaxRisk != manifest.RiskMedium {
		t.Errorf("MaxRisk = %s, want profile value medium", merged.MaxRisk)
	}
	if merged.AllowShell {
		t.Error("user override turned shell on")
	}
	if !merged.AllowUnenforced {
		t.Error("AllowUnenforced = false, want true")
	}
	if merged.CallTimeout != time.Minute {
		t.Errorf("CallTimeout = %v, want 1m", merged.CallTimeout)
	}
	if merged.MaxConcurrentCalls != 6 {
		t.Errorf("MaxConcurrentCalls = %d, want 6", merged.MaxConcurrentCalls)
	}
	if merged.SpawnTimeout != profile.SpawnTimeout {
		t.Errorf("SpawnTimeout = %v, want profile value %v", merged.SpawnTimeout, profile.SpawnTimeout)
	}
}
