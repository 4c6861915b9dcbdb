package plugin

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/nox-hq/warden/approval"
	"github.com/nox-hq/warden/manifest"
)

// Candidate is a discovered plugin directory, loaded or not.
type Candidate struct {
	Dir string
	// Manifest is nil when plugin.json could not be parsed.
	Manifest *manifest.Manifest
	Status   approval.Status
	Loaded   bool
	// Err is the *LoadError of the last load attempt.
	Err error
}

// ID returns the plugin id, or "" for an invalid manifest.
func (c Candidate) ID() string {
	if c.Manifest == nil {
		return ""
	}
	return c.Manifest.ID
}

// Discover reads every immediate subdirectory of dir that holds a
// plugin.json. A missing dir yields no candidates. Candidates are sorted
// by plugin id; invalid manifests sort first, by directory. A second
// directory claiming an id already seen is rejected.
func Discover(dir string) ([]Candidate, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading plugins directory: %w", err)
	}

	var out []Candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pdir := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(pdir, manifest.FileName)); err != nil {
			continue
		}
		c := Candidate{Dir: pdir}
		m, err := manifest.Load(pdir)
		if err != nil {
			c.Err = &LoadError{Dir: pdir, Stage: StageManifest, Err: err}
		} else {
			c.Manifest = m
		}
		out = append(out, c)
	}

	slices.SortFunc(out, func(a, b Candidate) int {
		return cmp.Or(cmp.Compare(a.ID(), b.ID()), cmp.Compare(a.Dir, b.Dir))
	})
	for i := 1; i < len(out); i++ {
		prev, cur := out[i-1], &out[i]
		if cur.ID() != "" && cur.ID() == prev.ID() {
			cur.Err = &LoadError{
				PluginID: cur.ID(),
				Dir:      cur.Dir,
				Stage:    StageManifest,
				Err:      fmt.Errorf("duplicate plugin id, already provided by %s", prev.Dir),
			}
		}
	}
	return out, nil
}
