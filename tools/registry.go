package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/nox-hq/warden/manifest"
)

// BuiltinOwner is the owner name recorded for built-in tools.
const BuiltinOwner = "builtin"

// ErrUnknownTool is returned by Dispatch when no executor owns the name.
var ErrUnknownTool = errors.New("unknown tool")

// DispatchError reports a failed routing decision.
type DispatchError struct {
	Tool string
	Err  error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatching %q: %v", e.Tool, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Executor runs the tools of one owner.
type Executor interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*Result, error)
}

// BuiltinFunc implements a built-in tool.
type BuiltinFunc func(ctx context.Context, args map[string]any) (*Result, error)

type builtinExecutor struct {
	fn BuiltinFunc
}

func (b builtinExecutor) CallTool(ctx context.Context, _ string, args map[string]any) (*Result, error) {
	return b.fn(ctx, args)
}

// Entry is one registered tool.
type Entry struct {
	Tool  manifest.Tool
	Owner string
	exec  Executor
}

// Builtin reports whether the tool is provided by the host itself.
func (e Entry) Builtin() bool {
	return e.Owner == BuiltinOwner
}

// Collision records a tool that could not be registered because another
// owner registered the same name first.
type Collision struct {
	Tool     string
	Owner    string
	Existing string
}

// Registry maps tool names to their owning executors. Lookups may run
// concurrently; registration and removal take an exclusive lock.
type Registry struct {
	entries map[string]Entry
	mu      sync.RWMutex
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger means slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]Entry),
		logger:  logger,
	}
}

// RegisterBuiltin adds a host-provided tool. It reports false if the name
// is already taken.
func (r *Registry) RegisterBuiltin(tool manifest.Tool, fn BuiltinFunc) bool {
	return len(r.Register(BuiltinOwner, []manifest.Tool{tool}, builtinExecutor{fn: fn})) == 0
}

// Register adds the tools of one owner. Names already registered by
// another owner are skipped: the first registration wins and the
// collision is logged and returned.
func (r *Registry) Register(owner string, tools []manifest.Tool, exec Executor) []Collision {
	r.mu.Lock()
	defer r.mu.Unlock()

	var collisions []Collision
	for _, t := range tools {
		if existing, ok := r.entries[t.Name]; ok {
			c := Collision{Tool: t.Name, Owner: owner, Existing: existing.Owner}
			collisions = append(collisions, c)
			r.logger.Warn("tool name collision, keeping first registration",
				"tool", t.Name,
				"owner", owner,
				"registered_by", existing.Owner,
			)
			continue
		}
		r.entries[t.Name] = Entry{Tool: t, Owner: owner, exec: exec}
	}
	return collisions
}

// Remove drops every tool owned by owner and returns how many were removed.
func (r *Registry) Remove(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for name, e := range r.entries {
		if e.Owner == owner {
			delete(r.entries, name)
			n++
		}
	}
	return n
}

// Reset removes every plugin-owned tool, keeping built-ins. It is the
// first step of a full rebuild.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, e := range r.entries {
		if !e.Builtin() {
			delete(r.entries, name)
		}
	}
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Tools returns all entries sorted by tool name.
func (r *Registry) Tools() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return strings.Compare(a.Tool.Name, b.Tool.Name)
	})
	return out
}

// Owned returns the tools registered by owner, sorted by name.
func (r *Registry) Owned(owner string) []manifest.Tool {
	var out []manifest.Tool
	for _, e := range r.Tools() {
		if e.Owner == owner {
			out = append(out, e.Tool)
		}
	}
	return out
}

// Dispatch routes an invocation to the owning executor. The registry lock
// is not held while the tool runs.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (*Result, error) {
	e, ok := r.Lookup(name)
	if !ok {
		return nil, &DispatchError{Tool: name, Err: ErrUnknownTool}
	}
	return e.exec.CallTool(ctx, name, args)
}
