package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nox-hq/warden/manifest"
)

// unixPaths skips tests whose fixtures use slash-rooted paths, which
// filepath.Clean rewrites on Windows.
func unixPaths(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fixtures use unix paths")
	}
}

func testManifest(perms manifest.Permissions) *manifest.Manifest {
	return &manifest.Manifest{
		ID:          "com.example.notes",
		Version:     "1.2.0",
		Runtime:     manifest.RuntimeNode,
		Entry:       manifest.Entry{Command: "index.js"},
		Permissions: perms,
	}
}

func testRuntime() RuntimePaths {
	return RuntimePaths{
		Home:        "/home/alice",
		PluginDir:   "/plugins/notes",
		TempDir:     "/tmp/warden/com.example.notes/abc",
		Interpreter: "/usr/bin/node",
		Libraries:   []string{"/usr/lib", "/lib64"},
		Commands:    map[string]string{"git": "/usr/bin/git"},
	}
}

func found(path string) func(string) (string, error) {
	return func(string) (string, error) { return path, nil }
}

func missing(string) (string, error) {
	return "", errors.New("not found")
}

func TestNewPlan(t *testing.T) {
	unixPaths(t)
	m := testManifest(manifest.Permissions{
		Network: []string{"api.example.com"},
		Filesystem: []manifest.FilesystemGrant{
			{Path: "~/Documents", Access: manifest.AccessRead},
			{Path: "/srv/data", Access: manifest.AccessReadWrite},
		},
		Shell: &manifest.ShellPermission{Commands: []string{"git"}},
	})

	plan, err := NewPlan(m, testRuntime())
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}

	want := []Mount{
		{Path: "/usr/lib", Optional: true},
		{Path: "/lib64", Optional: true},
		{Path: "/usr/bin/node"},
		{Path: "/usr/bin/git"},
		{Path: "/plugins/notes"},
		{Path: "/home/alice/Documents", Optional: true},
		{Path: "/srv/data", Writable: true, Optional: true},
		{Path: "/tmp/warden/com.example.notes/abc", Writable: true},
	}
	if diff := cmp.Diff(want, plan.Mounts); diff != "" {
		t.Errorf("Mounts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/usr/bin/node", "/usr/bin/git"}, plan.Executables); diff != "" {
		t.Errorf("Executables mismatch (-want +got):\n%s", diff)
	}
	if !plan.Network || !plan.Spawn {
		t.Errorf("Network = %v, Spawn = %v, want both true", plan.Network, plan.Spawn)
	}
	if diff := cmp.Diff([]string{"/srv/data", "/tmp/warden/com.example.notes/abc"}, plan.Writes()); diff != "" {
		t.Errorf("Writes mismatch (-want +got):\n%s", diff)
	}
}

func TestNewPlan_BinaryEntry(t *testing.T) {
	unixPaths(t)
	m := testManifest(manifest.Permissions{})
	m.Runtime = manifest.RuntimeBinary
	m.Entry.Command = "bin/tool"
	rt := testRuntime()
	rt.Interpreter = ""

	plan, err := NewPlan(m, rt)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if plan.Entry != "/plugins/notes/bin/tool" {
		t.Errorf("Entry = %q", plan.Entry)
	}
	if plan.Network || plan.Spawn {
		t.Error("empty permissions produced network or spawn access")
	}
}

func TestNewPlan_Errors(t *testing.T) {
	unixPaths(t)
	tests := []struct {
		name   string
		mutate func(*manifest.Manifest, *RuntimePaths)
	}{
		{"relative plugin dir", func(_ *manifest.Manifest, rt *RuntimePaths) { rt.PluginDir = "plugins/notes" }},
		{"missing temp dir", func(_ *manifest.Manifest, rt *RuntimePaths) { rt.TempDir = "" }},
		{"unresolved interpreter", func(_ *manifest.Manifest, rt *RuntimePaths) { rt.Interpreter = "" }},
		{"unresolved command", func(m *manifest.Manifest, rt *RuntimePaths) {
			m.Permissions.Shell = &manifest.ShellPermission{Commands: []string{"make"}}
		}},
		{"home unknown", func(m *manifest.Manifest, rt *RuntimePaths) {
			m.Permissions.Filesystem = []manifest.FilesystemGrant{{Path: "~/x", Access: manifest.AccessRead}}
			rt.Home = ""
		}},
		{"parent component", func(m *manifest.Manifest, _ *RuntimePaths) {
			m.Permissions.Filesystem = []manifest.FilesystemGrant{{Path: "/srv/../etc", Access: manifest.AccessRead}}
		}},
		{"bad access", func(m *manifest.Manifest, _ *RuntimePaths) {
			m.Permissions.Filesystem = []manifest.FilesystemGrant{{Path: "/srv", Access: "write"}}
		}},
		{"escaping binary entry", func(m *manifest.Manifest, _ *RuntimePaths) {
			m.Runtime = manifest.RuntimeBinary
			m.Entry.Command = "../other/bin"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManifest(manifest.Permissions{})
			rt := testRuntime()
			tt.mutate(m, &rt)
			_, err := NewPlan(m, rt)
			var se *SandboxError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want SandboxError", err)
			}
			if se.PluginID != m.ID {
				t.Errorf("PluginID = %q", se.PluginID)
			}
		})
	}
}

func TestBubblewrap_DenyByDefault(t *testing.T) {
	unixPaths(t)
	g := &BubblewrapGenerator{Config: Config{GOARCH: "amd64", LookPath: found("/usr/bin/bwrap"), Launcher: "/opt/warden/warden"}}
	d, err := g.Generate(testManifest(manifest.Permissions{}), testRuntime())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if d.Kind() != KindBubblewrap || !d.Kind().Enforced() {
		t.Fatalf("Kind = %v", d.Kind())
	}
	bw := d.(*BubblewrapArgs)
	if len(bw.Seccomp) == 0 || len(bw.Seccomp)%8 != 0 {
		t.Errorf("Seccomp = %d bytes, want a sock_filter array", len(bw.Seccomp))
	}
	if bw.Launcher != "" {
		t.Errorf("Launcher = %q without a shell grant", bw.Launcher)
	}
	joined := strings.Join(bw.Args, " ")

	for _, want := range []string{
		"--unshare-all",
		"--die-with-parent",
		"--new-session",
		"--seccomp 3",
		"--ro-bind /usr/bin/node /usr/bin/node",
		"--ro-bind /plugins/notes /plugins/notes",
		"--bind /tmp/warden/com.example.notes/abc /tmp/warden/com.example.notes/abc",
		"--chdir /plugins/notes",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q:\n%s", want, joined)
		}
	}
	for _, banned := range []string{"--share-net", "/usr/bin/git", "/home/alice", "/etc/resolv.conf", "--ro-bind /usr/bin /usr/bin", "/opt/warden"} {
		if strings.Contains(joined, banned) {
			t.Errorf("args contain %q:\n%s", banned, joined)
		}
	}
}

func TestBubblewrap_Grants(t *testing.T) {
	unixPaths(t)
	m := testManifest(manifest.Permissions{
		Network: []string{"api.example.com"},
		Filesystem: []manifest.FilesystemGrant{
			{Path: "~/Documents", Access: manifest.AccessRead},
			{Path: "~/Notes", Access: manifest.AccessReadWrite},
		},
		Shell: &manifest.ShellPermission{Commands: []string{"git"}},
	})
	g := &BubblewrapGenerator{Config: Config{LookPath: found("/usr/bin/bwrap"), Launcher: "/opt/warden/warden"}}
	d, err := g.Generate(m, testRuntime())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	bw := d.(*BubblewrapArgs)
	if bw.Seccomp != nil {
		t.Error("seccomp program set although the plugin may spawn")
	}
	if diff := cmp.Diff([]string{"/usr/bin/node", "/usr/bin/git"}, bw.Allow); diff != "" {
		t.Errorf("Allow mismatch (-want +got):\n%s", diff)
	}
	joined := strings.Join(bw.Args, " ")
	if strings.Contains(joined, "--seccomp") {
		t.Errorf("args contain --seccomp:\n%s", joined)
	}
	for _, want := range []string{
		"--share-net",
		"--ro-bind /opt/warden/warden /opt/warden/warden",
		"--ro-bind-try /etc/resolv.conf /etc/resolv.conf",
		"--ro-bind /usr/bin/git /usr/bin/git",
		"--ro-bind-try /home/alice/Documents /home/alice/Documents",
		"--bind-try /home/alice/Notes /home/alice/Notes",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q:\n%s", want, joined)
		}
	}
}

func TestBubblewrap_Wrap(t *testing.T) {
	d := &BubblewrapArgs{Exec: "/usr/bin/bwrap", Args: []string{"--unshare-all"}}
	got := d.Wrap([]string{"/usr/bin/node", "index.js"})
	want := []string{"/usr/bin/bwrap", "--unshare-all", "--", "/usr/bin/node", "index.js"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Wrap mismatch (-want +got):\n%s", diff)
	}

	d.Launcher = "/opt/warden/warden"
	d.Allow = []string{"/usr/bin/node", "/usr/bin/git"}
	got = d.Wrap([]string{"/usr/bin/node", "index.js"})
	want = []string{
		"/usr/bin/bwrap", "--unshare-all", "--",
		"/opt/warden/warden", LauncherCommand, "--allow", "/usr/bin/node", "--allow", "/usr/bin/git", "--",
		"/usr/bin/node", "index.js",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Wrap with launcher mismatch (-want +got):\n%s", diff)
	}
}

func TestBubblewrap_ShellNeedsLauncher(t *testing.T) {
	unixPaths(t)
	m := testManifest(manifest.Permissions{Shell: &manifest.ShellPermission{Commands: []string{"git"}}})
	g := &BubblewrapGenerator{Config: Config{LookPath: found("/usr/bin/bwrap")}}

	_, err := g.Generate(m, testRuntime())
	var se *SandboxError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SandboxError", err)
	}
}

func TestBubblewrap_UnknownArch(t *testing.T) {
	unixPaths(t)
	g := &BubblewrapGenerator{Config: Config{GOARCH: "mips", LookPath: found("/usr/bin/bwrap")}}

	_, err := g.Generate(testManifest(manifest.Permissions{}), testRuntime())
	var se *SandboxError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SandboxError", err)
	}
}

func TestSeatbelt_DenyByDefault(t *testing.T) {
	unixPaths(t)
	g := &SeatbeltGenerator{Config: Config{LookPath: found(DefaultSandboxExec)}}
	d, err := g.Generate(testManifest(manifest.Permissions{}), testRuntime())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	sp := d.(*SeatbeltProfile)
	if !strings.HasPrefix(sp.Profile, "(version 1)\n(deny default)\n") {
		t.Errorf("profile does not start deny-by-default:\n%s", sp.Profile)
	}
	for _, want := range []string{
		`(literal "/usr/bin/node")`,
		`(subpath "/plugins/notes")`,
		`(subpath "/tmp/warden/com.example.notes/abc")`,
	} {
		if !strings.Contains(sp.Profile, want) {
			t.Errorf("profile missing %q", want)
		}
	}
	for _, banned := range []string{"network-outbound", "process-fork", "/home/alice", "/usr/bin/git"} {
		if strings.Contains(sp.Profile, banned) {
			t.Errorf("profile contains %q:\n%s", banned, sp.Profile)
		}
	}

	argv := sp.Wrap([]string{"/usr/bin/node", "index.js"})
	if argv[0] != DefaultSandboxExec || argv[1] != "-p" || argv[2] != sp.Profile || argv[3] != "/usr/bin/node" {
		t.Errorf("Wrap = %q", argv)
	}
}

func TestSeatbelt_Grants(t *testing.T) {
	unixPaths(t)
	m := testManifest(manifest.Permissions{
		Network: []string{"api.example.com"},
		Filesystem: []manifest.FilesystemGrant{
			{Path: "/Users/alice/Notes", Access: manifest.AccessReadWrite},
		},
		Shell: &manifest.ShellPermission{Commands: []string{"git"}},
	})
	profile := SeatbeltPolicy(mustPlan(t, m))
	for _, want := range []string{
		"(allow network-outbound)",
		"(allow process-fork)",
		`(literal "/usr/bin/git")`,
		"(allow file-read* file-write*\n  (subpath \"/Users/alice/Notes\")",
	} {
		if !strings.Contains(profile, want) {
			t.Errorf("profile missing %q:\n%s", want, profile)
		}
	}
}

func TestSbplString(t *testing.T) {
	if got := sbplString(`/a "b"\c`); got != `"/a \"b\"\\c"` {
		t.Errorf("sbplString = %s", got)
	}
}

func TestAppContainer(t *testing.T) {
	unixPaths(t)
	m := testManifest(manifest.Permissions{
		Filesystem: []manifest.FilesystemGrant{{Path: "/data", Access: manifest.AccessRead}},
	})
	d, err := (&AppContainerGenerator{}).Generate(m, testRuntime())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	p := d.(*AppContainerProfile)
	if p.Name != "warden.com.example.notes" {
		t.Errorf("Name = %q", p.Name)
	}
	if len(p.Capabilities) != 0 {
		t.Errorf("Capabilities = %v, want none", p.Capabilities)
	}
	if p.Job.ActiveProcessLimit != 1 || !p.Job.KillOnJobClose {
		t.Errorf("Job = %+v", p.Job)
	}

	access := map[string]Access{}
	for _, g := range p.Grants {
		access[g.Path] = g.Access
	}
	want := map[string]Access{
		"/usr/lib":                          AccessRead,
		"/lib64":                            AccessRead,
		"/usr/bin/node":                     AccessExecute,
		"/plugins/notes":                    AccessRead,
		"/data":                             AccessRead,
		"/tmp/warden/com.example.notes/abc": AccessReadWrite,
	}
	if diff := cmp.Diff(want, access); diff != "" {
		t.Errorf("grants mismatch (-want +got):\n%s", diff)
	}

	m.Permissions.Network = []string{"example.com"}
	m.Permissions.Shell = &manifest.ShellPermission{Commands: []string{"git"}}
	p = AppContainerPolicy(mustPlan(t, m))
	if !slices.Contains(p.Capabilities, CapabilityInternetClient) {
		t.Errorf("Capabilities = %v, want internetClient", p.Capabilities)
	}
	// The node entry plus one git at a time.
	if p.Job.ActiveProcessLimit != 2 {
		t.Errorf("ActiveProcessLimit = %d with one command granted, want 2", p.Job.ActiveProcessLimit)
	}
}

func TestProfileName_Long(t *testing.T) {
	id := "com.example." + strings.Repeat("a", 80)
	name := ProfileName(id)
	if len(name) > maxProfileName || !strings.HasPrefix(name, "warden.") {
		t.Errorf("ProfileName = %q", name)
	}
	if name != ProfileName(id) {
		t.Error("ProfileName is not deterministic")
	}
}

func TestMechanismMissing(t *testing.T) {
	unixPaths(t)
	m := testManifest(manifest.Permissions{})

	for _, goos := range []string{"linux", "darwin", "plan9"} {
		t.Run(goos, func(t *testing.T) {
			g := ForPlatform(Config{GOOS: goos, LookPath: missing})
			_, err := g.Generate(m, testRuntime())
			var se *SandboxError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want SandboxError", err)
			}

			g = ForPlatform(Config{GOOS: goos, LookPath: missing, AllowUnenforced: true})
			d, err := g.Generate(m, testRuntime())
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if d.Kind() != KindEnvironmentOnly || d.Kind().Enforced() {
				t.Errorf("Kind = %v, want environment-only", d.Kind())
			}
			eo := d.(*EnvironmentOnly)
			if eo.Reason == "" || eo.PluginID() != m.ID || eo.Version() != m.Version {
				t.Errorf("descriptor = %+v", eo)
			}
			argv := []string{"node", "index.js"}
			if diff := cmp.Diff(argv, eo.Wrap(argv)); diff != "" {
				t.Errorf("Wrap changed argv: %s", diff)
			}
		})
	}
}

func TestForPlatform(t *testing.T) {
	tests := map[string]Kind{
		"linux":   KindBubblewrap,
		"darwin":  KindSeatbelt,
		"windows": KindAppContainer,
	}
	for goos, want := range tests {
		g := ForPlatform(Config{GOOS: goos, LookPath: found("/bin/x")})
		var got Kind
		switch g.(type) {
		case *BubblewrapGenerator:
			got = KindBubblewrap
		case *SeatbeltGenerator:
			got = KindSeatbelt
		case *AppContainerGenerator:
			got = KindAppContainer
		}
		if got != want {
			t.Errorf("ForPlatform(%s) = %T", goos, g)
		}
	}
}

func TestResolve(t *testing.T) {
	unixPaths(t)
	root := t.TempDir()
	pluginDir := filepath.Join(root, "plugin")
	tempDir := filepath.Join(root, "tmp")
	prefix := filepath.Join(root, "node")
	for _, dir := range []string{pluginDir, tempDir, filepath.Join(prefix, "bin"), filepath.Join(prefix, "lib")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	node := filepath.Join(prefix, "bin", "node")
	if err := os.WriteFile(node, nil, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "node-link")
	if err := os.Symlink(node, link); err != nil {
		t.Fatal(err)
	}

	m := testManifest(manifest.Permissions{Shell: &manifest.ShellPermission{Commands: []string{"git"}}})
	m.Dir = pluginDir
	cfg := Config{
		GOOS: "linux",
		Home: "/home/alice",
		LookPath: func(name string) (string, error) {
			if name == "node" || name == "git" {
				return link, nil
			}
			return "", errors.New("not found")
		},
		ExtraLibraries: []string{"/opt/lib"},
	}

	rt, err := Resolve(m, tempDir, cfg)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	realNode, _ := filepath.EvalSymlinks(node)
	if rt.Interpreter != realNode {
		t.Errorf("Interpreter = %q, want %q", rt.Interpreter, realNode)
	}
	if rt.Commands["git"] != realNode {
		t.Errorf("Commands = %v", rt.Commands)
	}
	realLib, _ := filepath.EvalSymlinks(filepath.Join(prefix, "lib"))
	for _, want := range []string{"/usr/lib", "/opt/lib"} {
		if !slices.Contains(rt.Libraries, want) {
			t.Errorf("Libraries missing %q: %v", want, rt.Libraries)
		}
	}
	if !slices.Contains(rt.Libraries, realLib) && !slices.Contains(rt.Libraries, filepath.Join(filepath.Dir(filepath.Dir(realNode)), "lib")) {
		t.Errorf("Libraries missing runtime lib: %v", rt.Libraries)
	}
	if rt.Home != "/home/alice" {
		t.Errorf("Home = %q", rt.Home)
	}

	m.Permissions.Shell.Commands = []string{"make"}
	_, err = Resolve(m, tempDir, cfg)
	var se *SandboxError
	if !errors.As(err, &se) || !strings.Contains(se.Reason, "make") {
		t.Errorf("err = %v, want SandboxError naming make", err)
	}
}

func mustPlan(t *testing.T, m *manifest.Manifest) *Plan {
	t.Helper()
	plan, err := NewPlan(m, testRuntime())
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return plan
}
