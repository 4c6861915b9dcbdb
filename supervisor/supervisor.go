// Package supervisor spawns plugin processes inside their sandbox and
// owns them until they are stopped. A Process that becomes unreachable
// without Stop is killed by the runtime.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/nox-hq/warden/manifest"
	"github.com/nox-hq/warden/sandbox"
)

// StopGrace is how long Stop waits after the polite termination request
// before killing the process tree.
const StopGrace = 5 * time.Second

var stopGrace = StopGrace

// EOFGrace replaces StopGrace on platforms without a polite termination
// signal, where closing stdin is the only request to exit.
const EOFGrace = 500 * time.Millisecond

var eofGrace = EOFGrace

// errNoSignal is returned by terminate when the platform has no polite
// termination signal.
var errNoSignal = errors.New("no termination signal")

// DefaultStderrLimit bounds captured stderr when Spec.StderrLimit is zero.
const DefaultStderrLimit = 64 << 10

// Spec describes one plugin launch.
type Spec struct {
	PluginID string
	// Dir is the working directory, normally the plugin directory.
	Dir string
	// Argv is the unwrapped command line, see Command.
	Argv []string
	// Env is the already filtered environment, as K=V pairs.
	Env        []string
	Descriptor sandbox.Descriptor
	// StderrLimit bounds the retained stderr tail in bytes.
	StderrLimit int
	Logger      *slog.Logger
}

// SupervisorError reports a failed process operation.
type SupervisorError struct {
	PluginID string
	Op       string
	Err      error
}

// Error implements the error interface.
func (e *SupervisorError) Error() string {
	return fmt.Sprintf("plugin %q: %s: %v", e.PluginID, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SupervisorError) Unwrap() error {
	return e.Err
}

// handle is the platform part of a running process.
type handle interface {
	pid() int
	// terminate asks the process tree to exit, or returns errNoSignal.
	terminate() error
	// kill force-terminates the process tree. Safe to call after exit.
	kill() error
	// wait blocks until the process exits.
	wait() error
	// release frees OS resources once the process has exited.
	release()
}

// exitState is shared with the wait goroutine. It must not reference the
// Process, or the cleanup attached to the Process would never run.
type exitState struct {
	done chan struct{}
	err  error
}

// Process is a running plugin. Its stdin and stdout carry the protocol;
// stderr is retained as a bounded tail for diagnostics.
type Process struct {
	pluginID string
	kind     sandbox.Kind
	logger   *slog.Logger

	h      handle
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *tailBuffer
	exit   *exitState

	cleanup  runtime.Cleanup
	stopOnce sync.Once
	stopErr  error
}

// Spawn starts spec inside its sandbox descriptor. ctx bounds only the
// launch; the process lives until Stop.
func Spawn(ctx context.Context, spec Spec) (*Process, error) {
	fail := func(op string, err error) (*Process, error) {
		return nil, &SupervisorError{PluginID: spec.PluginID, Op: op, Err: err}
	}
	if len(spec.Argv) == 0 {
		return fail("spawn", errors.New("empty command line"))
	}
	if spec.Descriptor == nil {
		return fail("spawn", errors.New("no sandbox descriptor"))
	}
	if err := ctx.Err(); err != nil {
		return fail("spawn", err)
	}

	logger := spec.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := spec.StderrLimit
	if limit <= 0 {
		limit = DefaultStderrLimit
	}
	stderr := newTailBuffer(limit)

	var (
		s   *started
		err error
	)
	switch d := spec.Descriptor.(type) {
	case *sandbox.AppContainerProfile:
		s, err = startAppContainer(spec, d, stderr)
	case sandbox.Wrapper:
		s, err = startWrapped(spec, d.Wrap(spec.Argv), seccompOf(d), stderr)
	default:
		err = fmt.Errorf("unsupported descriptor %T", d)
	}
	if err != nil {
		return fail("spawn", err)
	}

	p := &Process{
		pluginID: spec.PluginID,
		kind:     spec.Descriptor.Kind(),
		logger:   logger,
		h:        s.h,
		stdin:    s.stdin,
		stdout:   s.stdout,
		stderr:   stderr,
		exit:     &exitState{done: make(chan struct{})},
	}

	go func(h handle, st *exitState) {
		st.err = h.wait()
		close(st.done)
	}(s.h, p.exit)

	p.cleanup = runtime.AddCleanup(p, func(h handle) {
		_ = h.kill()
	}, s.h)

	logger.Debug("plugin process started", "plugin", spec.PluginID, "pid", s.h.pid(), "sandbox", p.kind)
	return p, nil
}

// seccompOf returns the seccomp program a descriptor hands to its front
// end, if any.
func seccompOf(d sandbox.Descriptor) []byte {
	if b, ok := d.(*sandbox.BubblewrapArgs); ok {
		return b.Seccomp
	}
	return nil
}

// started is what a platform launcher hands back to Spawn.
type started struct {
	h      handle
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// WithProcess spawns spec, runs fn, and always stops the process.
func WithProcess(ctx context.Context, spec Spec, fn func(*Process) error) error {
	p, err := Spawn(ctx, spec)
	if err != nil {
		return err
	}
	ferr := fn(p)
	return errors.Join(ferr, p.Stop())
}

// PluginID returns the plugin the process belongs to.
func (p *Process) PluginID() string { return p.pluginID }

// Kind returns the sandbox kind the process runs under.
func (p *Process) Kind() sandbox.Kind { return p.kind }

// Pid returns the OS process id.
func (p *Process) Pid() int { return p.h.pid() }

// Stdin is the write side of the plugin's standard input.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Stdout is the read side of the plugin's standard output.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Stderr returns the retained tail of the plugin's standard error.
func (p *Process) Stderr() string { return p.stderr.String() }

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} { return p.exit.done }

// ExitErr returns the wait error once Done is closed.
func (p *Process) ExitErr() error {
	select {
	case <-p.exit.done:
		return p.exit.err
	default:
		return nil
	}
}

// Stop closes stdin, asks the process tree to terminate, waits StopGrace,
// then kills it. Stop is idempotent and safe for concurrent use.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		p.cleanup.Stop()
		var errs []error

		if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("closing stdin: %w", err))
		}

		select {
		case <-p.exit.done:
		default:
			grace := stopGrace
			switch err := p.h.terminate(); {
			case errors.Is(err, errNoSignal):
				grace = eofGrace
			case err != nil:
				_ = p.h.kill()
			}
			select {
			case <-p.exit.done:
			case <-time.After(grace):
				p.logger.Warn("plugin ignored termination, killing", "plugin", p.pluginID, "pid", p.h.pid())
				if err := p.h.kill(); err != nil {
					errs = append(errs, fmt.Errorf("killing process: %w", err))
				}
				<-p.exit.done
			}
		}
		// Sweep anything the process left behind in its group or job.
		_ = p.h.kill()
		p.h.release()

		if err := p.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, fmt.Errorf("closing stdout: %w", err))
		}
		if len(errs) > 0 {
			p.stopErr = &SupervisorError{PluginID: p.pluginID, Op: "stop", Err: errors.Join(errs...)}
		}
		p.logger.Debug("plugin process stopped", "plugin", p.pluginID, "exit", p.exit.err)
	})
	return p.stopErr
}

// Command builds the unwrapped command line for m. Script runtimes run the
// entry through the resolved interpreter; binaries run directly.
func Command(m *manifest.Manifest, rt sandbox.RuntimePaths) ([]string, error) {
	if !filepath.IsLocal(filepath.FromSlash(m.Entry.Command)) {
		return nil, fmt.Errorf("entry command %q escapes the plugin directory", m.Entry.Command)
	}
	entry := filepath.Join(rt.PluginDir, filepath.FromSlash(m.Entry.Command))

	var argv []string
	switch m.Runtime {
	case manifest.RuntimeNode:
		argv = []string{rt.Interpreter, entry}
	case manifest.RuntimePython:
		argv = []string{rt.Interpreter, "-u", entry}
	case manifest.RuntimeBinary:
		argv = []string{entry}
	default:
		return nil, fmt.Errorf("unsupported runtime %q", m.Runtime)
	}
	if argv[0] == "" {
		return nil, fmt.Errorf("no %s interpreter resolved", m.Runtime)
	}
	return append(argv, m.Entry.Args...), nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if n >= b.limit {
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		b.truncated = true
		return n, nil
	}
	if over := len(b.buf) + n - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return "[...]" + string(b.buf)
	}
	return string(b.buf)
}

// drain copies r into the buffer until EOF.
func (b *tailBuffer) drain(r io.ReadCloser) {
	defer r.Close()
	_, _ = io.Copy(b, r)
}
