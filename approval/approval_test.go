package approval

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nox-hq/warden/manifest"
)

var fixedTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, WithClock(func() time.Time { return fixedTime }))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func testManifest(id string, network ...string) *manifest.Manifest {
	return &manifest.Manifest{
		ID:          id,
		Version:     "1.0.0",
		Permissions: manifest.Permissions{Network: network},
	}
}

func approve(t *testing.T, s *Store, m *manifest.Manifest, d Decision) {
	t.Helper()
	if err := s.RecordDecision(m.ID, m.Version, m.Hash(), d); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
}

func TestStatus_Lifecycle(t *testing.T) {
	s := newTestStore(t, filepath.Join(t.TempDir(), "approvals.json"))
	m := testManifest("com.example.weather", "api.weather.example")

	if got := s.Status(m); got != StatusPending {
		t.Errorf("Status = %v, want pending", got)
	}
	if !s.NeedsPrompt(m) || s.Authorized(m) {
		t.Fatal("unknown plugin must need a prompt and not be authorized")
	}

	approve(t, s, m, Approved)
	if s.NeedsPrompt(m) || !s.Authorized(m) {
		t.Error("approved plugin with unchanged permissions must run without prompt")
	}

	changed := testManifest("com.example.weather", "api.weather.example", "tracker.example")
	if got := s.Status(changed); got != StatusStale {
		t.Errorf("Status = %v, want stale", got)
	}
	if !s.NeedsPrompt(changed) {
		t.Error("changed permissions must need a prompt")
	}
	if s.Authorized(changed) {
		t.Error("stale approval must not authorize execution")
	}
}

func TestDeniedUnchanged_NoPrompt(t *testing.T) {
	s := newTestStore(t, filepath.Join(t.TempDir(), "approvals.json"))
	m := testManifest("com.example.clip")

	approve(t, s, m, Denied)
	if got := s.Status(m); got != StatusDenied {
		t.Errorf("Status = %v, want denied", got)
	}
	if s.NeedsPrompt(m) {
		t.Error("denied plugin with unchanged permissions must not be prompted again")
	}
	if s.Authorized(m) {
		t.Error("denied plugin must not be authorized")
	}

	changed := testManifest("com.example.clip", "example.com")
	if !s.NeedsPrompt(changed) {
		t.Error("denied plugin whose permissions changed must be prompted")
	}
}

func TestRecordDecision_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "approvals.json")
	s := newTestStore(t, path)
	m := testManifest("com.example.notes")
	approve(t, s, m, Approved)

	reopened := newTestStore(t, path)
	rec, ok := reopened.Get(m.ID)
	if !ok {
		t.Fatal("record not persisted")
	}
	if rec.Decision != Approved || rec.PermissionsHash != m.Hash() || rec.Version != "1.0.0" {
		t.Errorf("record = %+v", rec)
	}
	if !rec.DecidedAt.Equal(fixedTime) {
		t.Errorf("DecidedAt = %v, want %v", rec.DecidedAt, fixedTime)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"version": 1`, `"plugins"`, `"permissions_hash": "sha256:`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("state file missing %s:\n%s", want, data)
		}
	}
}

func TestOpen_Missing(t *testing.T) {
	s := newTestStore(t, filepath.Join(t.TempDir(), "nope.json"))
	if len(s.Records()) != 0 {
		t.Errorf("Records = %v, want empty", s.Records())
	}
}

func TestOpen_CorruptMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "approvals.json")
	if err := os.WriteFile(path, []byte(`{"plugins": {`), 0o600); err != nil {
		t.Fatal(err)
	}

	s := newTestStore(t, path)
	if len(s.Records()) != 0 {
		t.Errorf("Records = %v, want empty", s.Records())
	}
	if !s.NeedsPrompt(testManifest("com.example.any")) {
		t.Error("corrupt state must require prompts")
	}

	aside := fmt.Sprintf("%s.corrupt-%d", path, fixedTime.Unix())
	if _, err := os.Stat(aside); err != nil {
		t.Errorf("corrupt file not moved aside: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("corrupt file still in place: %v", err)
	}
}

func TestRecordDecision_MergesOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	a := newTestStore(t, path)
	b := newTestStore(t, path)

	ma := testManifest("com.example.a")
	mb := testManifest("com.example.b")
	approve(t, a, ma, Approved)
	approve(t, b, mb, Denied)

	if _, ok := b.Get(ma.ID); !ok {
		t.Error("second writer dropped the first writer's record")
	}
	c := newTestStore(t, path)
	if len(c.Records()) != 2 {
		t.Errorf("Records = %v, want 2 entries", c.Records())
	}
}

func TestRecordDecision_Concurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	s := newTestStore(t, path)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := testManifest(fmt.Sprintf("com.example.p%d", i))
			if err := s.RecordDecision(m.ID, m.Version, m.Hash(), Approved); err != nil {
				t.Errorf("RecordDecision: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(newTestStore(t, path).Records()); got != 16 {
		t.Errorf("persisted %d records, want 16", got)
	}
}

func TestRecordDecision_FailureLeavesMemory(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, "state")
	s := newTestStore(t, filepath.Join(stateDir, "approvals.json"))
	m := testManifest("com.example.x")

	// A regular file where the state directory should be.
	if err := os.WriteFile(stateDir, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	err := s.RecordDecision(m.ID, m.Version, m.Hash(), Approved)
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StoreError", err)
	}
	if _, ok := s.Get(m.ID); ok {
		t.Error("memory updated despite failed write")
	}
}

func TestRecordDecision_CreatesStateDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home", ".warden", "approvals.json")
	s := newTestStore(t, path)
	m := testManifest("com.example.fresh")

	approve(t, s, m, Approved)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("state file not written: %v", err)
	}
}

func TestRecordDecision_DirSyncFailureKeepsDecision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	s := newTestStore(t, path)
	s.dirSync = func(string) error { return errors.New("sync unsupported") }
	m := testManifest("com.example.x")

	approve(t, s, m, Approved)
	if got := s.Status(m); got != StatusApproved {
		t.Errorf("Status = %v, want approved", got)
	}
	if got := newTestStore(t, path).Status(m); got != StatusApproved {
		t.Errorf("reopened Status = %v, want approved", got)
	}
}

func TestRecordDecision_Invalid(t *testing.T) {
	s := newTestStore(t, filepath.Join(t.TempDir(), "approvals.json"))
	m := testManifest("com.example.x")

	if err := s.RecordDecision(m.ID, m.Version, m.Hash(), "maybe"); err == nil {
		t.Error("invalid decision accepted")
	}
	if err := s.RecordDecision(m.ID, m.Version, manifest.Digest{}, Approved); err == nil {
		t.Error("empty hash accepted")
	}
}

func TestStatus_String(t *testing.T) {
	want := map[Status]string{
		StatusPending:  "pending",
		StatusApproved: "approved",
		StatusDenied:   "denied",
		StatusStale:    "stale",
		Status(42):     "unknown",
	}
	for s, w := range want {
		if got := s.String(); got != w {
			t.Errorf("Status(%d).String() = %q, want %q", s, got, w)
		}
	}
}
