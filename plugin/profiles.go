package plugin

import (
	"fmt"
	"time"

	"github.com/nox-hq/warden/manifest"
)

// Profile names a preset Policy.
type Profile string

const (
	ProfileStrict     Profile = "strict"
	ProfileStandard   Profile = "standard"
	ProfilePermissive Profile = "permissive"
)

// ProfilePolicy returns the preset Policy for a profile. The empty
// profile is ProfileStandard.
func ProfilePolicy(p Profile) (Policy, error) {
	switch p {
	case ProfileStrict:
		return Policy{
			MaxRisk:              manifest.RiskMedium,
			AllowShell:           false,
			SpawnTimeout:         5 * time.Second,
			HandshakeTimeout:     5 * time.Second,
			CallTimeout:          15 * time.Second,
			MaxConcurrentCalls:   2,
			MaxConcurrentLoads:   2,
			RequestsPerMinute:    30,
			BandwidthBytesPerMin: 10 * 1024 * 1024,
			StderrLimit:          16 << 10,
		}, nil

	case ProfileStandard, "":
		return DefaultPolicy(), nil

	case ProfilePermissive:
		return Policy{
			MaxRisk:            manifest.RiskHigh,
			AllowShell:         true,
			SpawnTimeout:       30 * time.Second,
			HandshakeTimeout:   30 * time.Second,
			CallTimeout:        2 * time.Minute,
			MaxConcurrentCalls: 8,
			MaxConcurrentLoads: 8,
			StderrLimit:        256 << 10,
		}, nil
	}
	return Policy{}, fmt.Errorf("unknown profile %q (want strict, standard, or permissive)", p)
}

// MergeWithUserPolicy merges a profile with user overrides. User values
// take precedence where set (non-zero). Only AllowUnenforced can be turned
// on by the user; MaxRisk and AllowShell are fixed by the profile.
func MergeWithUserPolicy(profile, user Policy) Policy {
	merged := profile

	if user.AllowUnenforced {
		merged.AllowUnenforced = true
	}
	if user.SpawnTimeout > 0 {
		merged.SpawnTimeout = user.SpawnTimeout
	}
	if user.HandshakeTimeout > 0 {
		merged.HandshakeTimeout = user.HandshakeTimeout
	}
	if user.CallTimeout > 0 {
		merged.CallTimeout = user.CallTimeout
	}
	if user.MaxConcurrentCalls > 0 {
		merged.MaxConcurrentCalls = user.MaxConcurrentCalls
	}
	if user.MaxConcurrentLoads > 0 {
		merged.MaxConcurrentLoads = user.MaxConcurrentLoads
	}
	if user.RequestsPerMinute > 0 {
		merged.RequestsPerMinute = user.RequestsPerMinute
	}
	if user.BandwidthBytesPerMin > 0 {
		merged.BandwidthBytesPerMin = user.BandwidthBytesPerMin
	}
	if user.StderrLimit > 0 {
		merged.StderrLimit = user.StderrLimit
	}
	return merged
}
