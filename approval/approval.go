// Package approval persists the user's approve/deny decisions per plugin,
// keyed by the permission hash the decision was made against. A decision
// never carries over to a changed permission set.
package approval

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nox-hq/warden/manifest"
)

// Decision is the user's answer to an approval prompt.
type Decision string

const (
	Approved Decision = "approved"
	Denied   Decision = "denied"
)

func (d Decision) valid() bool {
	return d == Approved || d == Denied
}

// Record is the stored decision for one plugin.
type Record struct {
	Decision        Decision        `json:"decision"`
	PermissionsHash manifest.Digest `json:"permissions_hash"`
	Version         string          `json:"version"`
	DecidedAt       time.Time       `json:"decided_at"`
}

// Status is the approval state of a manifest against its stored record.
type Status int

const (
	// StatusPending means no decision has been recorded.
	StatusPending Status = iota
	StatusApproved
	StatusDenied
	// StatusStale means a decision exists for different permissions.
	StatusStale
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusDenied:
		return "denied"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// StoreError reports a failure to read or persist approval state.
type StoreError struct {
	Path string
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("approval store %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store holds approval records in memory, backed by a JSON file. It is
// safe for concurrent use, including by several processes sharing the
// same file.
type Store struct {
	path    string
	logger  *slog.Logger
	now     func() time.Time
	dirSync func(dir string) error
	mu      sync.Mutex
	records map[string]Record
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the time source for DecidedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open loads the store at path. A missing file is an empty store. A
// corrupt file is moved aside and the store starts empty, so every plugin
// needs a fresh decision.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:    path,
		logger:  slog.Default(),
		now:     time.Now,
		dirSync: syncDir,
		records: make(map[string]Record),
	}
	for _, opt := range opts {
		opt(s)
	}

	records, err := s.read()
	if err != nil {
		return nil, err
	}
	s.records = records
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the record for a plugin.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	return r, ok
}

// Records returns a copy of every stored record.
func (s *Store) Records() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.records)
}

// RecordDecision durably stores a decision for the given permission hash.
// The in-memory view changes only after the file has been written; on
// failure it is left as it was.
func (s *Store) RecordDecision(id, version string, hash manifest.Digest, d Decision) error {
	if !d.valid() {
		return &StoreError{Path: s.path, Op: "record", Err: fmt.Errorf("invalid decision %q", d)}
	}
	if hash.IsZero() {
		return &StoreError{Path: s.path, Op: "record", Err: fmt.Errorf("empty permissions hash for %q", id)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		Decision:        d,
		PermissionsHash: hash,
		Version:         version,
		DecidedAt:       s.now().UTC(),
	}

	// The lock file lives next to the state file, so the directory has
	// to exist before the first decision is recorded.
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return &StoreError{Path: s.path, Op: "mkdir", Err: err}
	}

	var merged map[string]Record
	err := withFileLock(s.path+".lock", func() error {
		onDisk, err := s.read()
		if err != nil {
			return err
		}
		merged = onDisk
		merged[id] = rec
		return s.write(merged)
	})
	if err != nil {
		return err
	}

	s.records = merged
	s.logger.Info("approval recorded", "plugin", id, "decision", d, "permissions_hash", hash.String())
	return nil
}

// Status compares m against its stored record.
func (s *Store) Status(m *manifest.Manifest) Status {
	rec, ok := s.Get(m.ID)
	switch {
	case !ok:
		return StatusPending
	case rec.PermissionsHash != m.Hash():
		return StatusStale
	case rec.Decision == Approved:
		return StatusApproved
	default:
		return StatusDenied
	}
}

// NeedsPrompt reports whether the user must be asked about m: there is no
// decision, or the decision was made for different permissions. A plugin
// denied under its current permissions is not asked again.
func (s *Store) NeedsPrompt(m *manifest.Manifest) bool {
	st := s.Status(m)
	return st == StatusPending || st == StatusStale
}

// Authorized reports whether m may run: approved under exactly its
// current permissions.
func (s *Store) Authorized(m *manifest.Manifest) bool {
	return s.Status(m) == StatusApproved
}
