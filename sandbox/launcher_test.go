package sandbox

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseLauncherArgs(t *testing.T) {
	allow, argv, err := parseLauncherArgs([]string{
		"--allow", "/usr/bin/node", "--allow", "/usr/bin/git", "--", "/usr/bin/node", "index.js", "--flag",
	})
	if err != nil {
		t.Fatalf("parseLauncherArgs: %v", err)
	}
	if diff := cmp.Diff([]string{"/usr/bin/node", "/usr/bin/git"}, allow); diff != "" {
		t.Errorf("allow mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/usr/bin/node", "index.js", "--flag"}, argv); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLauncherArgs_Errors(t *testing.T) {
	tests := map[string][]string{
		"no command":        {"--allow", "/usr/bin/git", "--"},
		"relative allow":    {"--allow", "git", "--", "/usr/bin/node"},
		"relative command":  {"--", "node", "index.js"},
		"unknown flag":      {"--bogus", "--", "/usr/bin/node"},
		"missing allow arg": {"--allow"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := parseLauncherArgs(args); err == nil {
				t.Errorf("parseLauncherArgs(%q) succeeded", args)
			}
		})
	}
}
