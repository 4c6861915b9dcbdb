package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const stateVersion = 1

type stateFile struct {
	Version int               `json:"version"`
	Plugins map[string]Record `json:"plugins"`
}

// read loads the file, moving it aside if it cannot be decoded.
func (s *Store) read() (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]Record), nil
	}
	if err != nil {
		return nil, &StoreError{Path: s.path, Op: "read", Err: err}
	}

	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil || st.Version > stateVersion {
		if err == nil {
			err = fmt.Errorf("unsupported state version %d", st.Version)
		}
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if rerr := os.Rename(s.path, aside); rerr != nil {
			return nil, &StoreError{Path: s.path, Op: "quarantine", Err: errors.Join(err, rerr)}
		}
		s.logger.Warn("approval state unreadable, starting empty; every plugin will need approval again",
			"path", s.path, "moved_to", aside, "error", err)
		return make(map[string]Record), nil
	}

	records := make(map[string]Record, len(st.Plugins))
	for id, rec := range st.Plugins {
		if !rec.Decision.valid() || rec.PermissionsHash.IsZero() {
			s.logger.Warn("dropping invalid approval record", "plugin", id)
			continue
		}
		records[id] = rec
	}
	return records, nil
}

// write replaces the file atomically: temp file, fsync, rename, then
// fsync of the directory. Once the rename has happened the new records
// are what the next Open sees, so a failed directory fsync is only
// logged.
func (s *Store) write(records map[string]Record) error {
	fail := func(op string, err error) error {
		return &StoreError{Path: s.path, Op: op, Err: err}
	}

	dir := filepath.Dir(s.path)

	data, err := json.MarshalIndent(stateFile{Version: stateVersion, Plugins: records}, "", "  ")
	if err != nil {
		return fail("encode", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fail("write", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		cleanup()
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fail("write", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fail("rename", err)
	}
	if err := s.dirSync(dir); err != nil {
		s.logger.Warn("approval state renamed but directory sync failed", "path", s.path, "error", err)
	}
	return nil
}
