package manifest

import "slices"

// Access is the level of filesystem access granted to a declared path.
type Access string

const (
	AccessRead      Access = "read"
	AccessReadWrite Access = "read-write"
)

// FilesystemGrant is one declared filesystem path. Path is kept exactly as
// written in the manifest; a leading "~" is expanded only when a sandbox
// descriptor is generated.
type FilesystemGrant struct {
	Path   string `json:"path"`
	Access Access `json:"access"`
}

// Writable reports whether the grant allows writes.
func (g FilesystemGrant) Writable() bool {
	return g.Access == AccessReadWrite
}

// ShellPermission lists the command names a plugin may spawn.
type ShellPermission struct {
	Commands []string `json:"commands"`
}

// Permissions is the capability set a plugin declares. Every field is
// independently optional and an absent field grants nothing. Parse
// normalises empty sets to absent, so a nil slice or nil Shell is the
// only representation of "no access".
type Permissions struct {
	Network     []string          `json:"network"`
	Filesystem  []FilesystemGrant `json:"filesystem"`
	Environment []string          `json:"environment"`
	Clipboard   bool              `json:"clipboard"`
	Shell       *ShellPermission  `json:"shell"`
}

// HasNetwork reports whether any outbound network access is declared.
func (p Permissions) HasNetwork() bool {
	return len(p.Network) > 0
}

// HasShell reports whether the plugin may spawn child processes.
func (p Permissions) HasShell() bool {
	return p.Shell != nil && len(p.Shell.Commands) > 0
}

// AllowsCommand reports whether name is a declared shell command.
func (p Permissions) AllowsCommand(name string) bool {
	if p.Shell == nil {
		return false
	}
	return slices.Contains(p.Shell.Commands, name)
}

// IsZero reports whether the permission set grants nothing at all.
func (p Permissions) IsZero() bool {
	return !p.HasNetwork() && len(p.Filesystem) == 0 && len(p.Environment) == 0 &&
		!p.Clipboard && !p.HasShell()
}

// normalize sorts and de-duplicates sets and turns empty sets into absent
// fields. Filesystem grants keep their declared order.
func (p *Permissions) normalize() {
	p.Network = normalizeSet(p.Network)
	p.Environment = normalizeSet(p.Environment)
	if len(p.Filesystem) == 0 {
		p.Filesystem = nil
	}
	if p.Shell != nil {
		p.Shell.Commands = normalizeSet(p.Shell.Commands)
		if p.Shell.Commands == nil {
			p.Shell = nil
		}
	}
}

func normalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
