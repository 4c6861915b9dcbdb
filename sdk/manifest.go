package sdk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nox-hq/warden/manifest"
)

// ManifestBuilder provides a fluent API for writing a plugin.json.
type ManifestBuilder struct {
	m manifest.Manifest
}

// NewManifest creates a ManifestBuilder for a binary plugin with the
// given id and version.
func NewManifest(id, version string) *ManifestBuilder {
	return &ManifestBuilder{m: manifest.Manifest{
		ID:      id,
		Version: version,
		Runtime: manifest.RuntimeBinary,
	}}
}

// Name sets the display name.
func (b *ManifestBuilder) Name(name string) *ManifestBuilder {
	b.m.Name = name
	return b
}

// Description sets the description shown on the approval prompt.
func (b *ManifestBuilder) Description(desc string) *ManifestBuilder {
	b.m.Description = desc
	return b
}

// Runtime sets how the entry point is launched.
func (b *ManifestBuilder) Runtime(rt manifest.Runtime) *ManifestBuilder {
	b.m.Runtime = rt
	return b
}

// Entry sets the entry point, relative to the plugin directory.
func (b *ManifestBuilder) Entry(command string, args ...string) *ManifestBuilder {
	b.m.Entry = manifest.Entry{Command: command, Args: args}
	return b
}

// Tool declares a tool. A nil schema accepts any object.
func (b *ManifestBuilder) Tool(name, description string, inputSchema json.RawMessage) *ManifestBuilder {
	b.m.Tools = append(b.m.Tools, manifest.Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
	})
	return b
}

// Permissions sets the plugin's permissions using functional options.
func (b *ManifestBuilder) Permissions(opts ...PermissionOption) *ManifestBuilder {
	for _, opt := range opts {
		opt(&b.m.Permissions)
	}
	return b
}

// Build validates the manifest exactly as the host will and returns it.
func (b *ManifestBuilder) Build() (*manifest.Manifest, error) {
	data, err := b.JSON()
	if err != nil {
		return nil, err
	}
	return manifest.Parse(data)
}

// JSON returns the plugin.json document.
func (b *ManifestBuilder) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(b.m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile validates the manifest and writes it to dir/plugin.json.
func (b *ManifestBuilder) WriteFile(dir string) error {
	if _, err := b.Build(); err != nil {
		return err
	}
	data, err := b.JSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// PermissionOption is a functional option for declaring permissions.
type PermissionOption func(*manifest.Permissions)

// WithNetwork declares the domains the plugin talks to. Any declared
// domain grants outbound network access.
func WithNetwork(domains ...string) PermissionOption {
	return func(p *manifest.Permissions) {
		p.Network = append(p.Network, domains...)
	}
}

// WithFilesystem grants access to a path, absolute or under "~/".
func WithFilesystem(path string, access manifest.Access) PermissionOption {
	return func(p *manifest.Permissions) {
		p.Filesystem = append(p.Filesystem, manifest.FilesystemGrant{Path: path, Access: access})
	}
}

// WithEnvironment passes the named host environment variables through.
func WithEnvironment(names ...string) PermissionOption {
	return func(p *manifest.Permissions) {
		p.Environment = append(p.Environment, names...)
	}
}

// WithClipboard requests clipboard access.
func WithClipboard() PermissionOption {
	return func(p *manifest.Permissions) {
		p.Clipboard = true
	}
}

// WithShell allows the plugin to spawn the named commands.
func WithShell(commands ...string) PermissionOption {
	return func(p *manifest.Permissions) {
		if p.Shell == nil {
			p.Shell = &manifest.ShellPermission{}
		}
		p.Shell.Commands = append(p.Shell.Commands, commands...)
	}
}
