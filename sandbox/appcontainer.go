package sandbox

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/nox-hq/warden/manifest"
)

// Well-known capability SIDs.
const (
	// CapabilityInternetClient grants outbound network access.
	CapabilityInternetClient = "S-1-15-3-1"
)

// AppContainer profile names are limited to 64 characters.
const maxProfileName = 64

// Access is the right an AppContainer grant confers.
type Access int

const (
	AccessRead Access = iota
	AccessReadWrite
	AccessExecute
)

// String returns the access name.
func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessReadWrite:
		return "read-write"
	case AccessExecute:
		return "execute"
	default:
		return "unknown"
	}
}

// Grant is an ACL entry added for the container SID before launch and
// removed after exit.
type Grant struct {
	Path   string
	Access Access
	// Optional grants are skipped when the path does not exist.
	Optional bool
}

// JobLimits configures the job object the process is assigned to.
type JobLimits struct {
	// ActiveProcessLimit caps live processes in the job. Zero is unlimited.
	ActiveProcessLimit uint32
	// KillOnJobClose terminates the whole tree when the host lets go.
	KillOnJobClose bool
	// DieOnUnhandledException suppresses the error-reporting dialog.
	DieOnUnhandledException bool
}

// AppContainerGenerator renders AppContainer profiles.
type AppContainerGenerator struct {
	Config Config
}

// Generate implements Generator. AppContainers exist on every supported
// Windows release, so there is no availability check here; a failure to
// create the container surfaces at spawn time.
func (g *AppContainerGenerator) Generate(m *manifest.Manifest, rt RuntimePaths) (Descriptor, error) {
	plan, err := NewPlan(m, rt)
	if err != nil {
		return nil, err
	}
	return AppContainerPolicy(plan), nil
}

// AppContainerProfile is the Windows descriptor for one launch.
type AppContainerProfile struct {
	plugin  string
	version string

	// Name identifies the container profile.
	Name        string
	DisplayName string

	// Capabilities are SIDs granted to the container token.
	Capabilities []string

	// Grants are filesystem ACL entries for the container SID.
	Grants []Grant

	Job JobLimits

	// Entry is the first program executed.
	Entry string
	// WorkDir is the plugin directory.
	WorkDir string
}

func (p *AppContainerProfile) Kind() Kind       { return KindAppContainer }
func (p *AppContainerProfile) PluginID() string { return p.plugin }
func (p *AppContainerProfile) Version() string  { return p.version }

// AppContainerPolicy renders plan as an AppContainer profile. Without a
// shell grant the job admits exactly one process, so the plugin cannot
// start any child. With one it admits the plugin plus one live process per
// declared command; job objects cannot restrict which image a child runs.
func AppContainerPolicy(plan *Plan) *AppContainerProfile {
	p := &AppContainerProfile{
		plugin:      plan.PluginID,
		version:     plan.Version,
		Name:        ProfileName(plan.PluginID),
		DisplayName: plan.PluginID,
		Entry:       plan.Entry,
		WorkDir:     plan.PluginDir,
		Job: JobLimits{
			KillOnJobClose:          true,
			DieOnUnhandledException: true,
		},
	}
	p.Job.ActiveProcessLimit = 1
	if plan.Spawn {
		p.Job.ActiveProcessLimit = uint32(len(plan.Executables))
	}
	if plan.Network {
		p.Capabilities = append(p.Capabilities, CapabilityInternetClient)
	}

	isExe := make(map[string]bool, len(plan.Executables))
	for _, exe := range plan.Executables {
		isExe[exe] = true
	}
	for _, mt := range plan.Mounts {
		g := Grant{Path: mt.Path, Optional: mt.Optional}
		switch {
		case mt.Writable:
			g.Access = AccessReadWrite
		case isExe[mt.Path]:
			g.Access = AccessExecute
		default:
			g.Access = AccessRead
		}
		p.Grants = append(p.Grants, g)
	}
	return p
}

// ProfileName derives the container profile name for a plugin ID.
func ProfileName(pluginID string) string {
	name := "warden." + pluginID
	if len(name) <= maxProfileName {
		return name
	}
	sum := sha256.Sum256([]byte(pluginID))
	return "warden." + hex.EncodeToString(sum[:16])
}
