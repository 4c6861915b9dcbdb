//go:build !windows

package supervisor

import (
	"errors"
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/nox-hq/warden/sandbox"
)

// execHandle signals the whole process group the child leads.
type execHandle struct {
	cmd  *exec.Cmd
	pgid int
}

func newExecHandle(cmd *exec.Cmd) (handle, error) {
	return &execHandle{cmd: cmd, pgid: cmd.Process.Pid}, nil
}

func (h *execHandle) pid() int { return h.cmd.Process.Pid }

func (h *execHandle) terminate() error {
	return signalGroup(h.pgid, unix.SIGTERM)
}

func (h *execHandle) kill() error {
	return signalGroup(h.pgid, unix.SIGKILL)
}

func (h *execHandle) wait() error {
	return h.cmd.Wait()
}

func (h *execHandle) release() {}

func signalGroup(pgid int, sig unix.Signal) error {
	err := unix.Kill(-pgid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func startAppContainer(spec Spec, _ *sandbox.AppContainerProfile, _ *tailBuffer) (*started, error) {
	return nil, fmt.Errorf("appcontainer descriptor for %q requires windows", spec.PluginID)
}
