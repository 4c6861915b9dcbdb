//go:build windows

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/nox-hq/warden/sandbox"
)

// Not exported by x/sys/windows.
const procThreadAttributeSecurityCapabilities = 0x00020009

// HRESULT_FROM_WIN32(ERROR_ALREADY_EXISTS)
const hresultAlreadyExists = 0x800700B7

var (
	modUserenv                                       = windows.NewLazySystemDLL("userenv.dll")
	procCreateAppContainerProfile                    = modUserenv.NewProc("CreateAppContainerProfile")
	procDeriveAppContainerSidFromAppContainerProfile = modUserenv.NewProc("DeriveAppContainerSidFromAppContainerProfile")
)

type securityCapabilities struct {
	AppContainerSid *windows.SID
	Capabilities    *windows.SIDAndAttributes
	CapabilityCount uint32
	Reserved        uint32
}

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NO_WINDOW}
}

// execHandle runs an unconfined child inside a kill-on-close job so the
// whole tree goes away with it.
type execHandle struct {
	cmd *exec.Cmd
	job windows.Handle
}

func newExecHandle(cmd *exec.Cmd) (handle, error) {
	job, err := newJob(sandbox.JobLimits{KillOnJobClose: true})
	if err != nil {
		return nil, err
	}
	proc, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(cmd.Process.Pid))
	if err != nil {
		_ = windows.CloseHandle(job)
		return nil, fmt.Errorf("opening process: %w", err)
	}
	defer windows.CloseHandle(proc)
	if err := windows.AssignProcessToJobObject(job, proc); err != nil {
		_ = windows.CloseHandle(job)
		return nil, fmt.Errorf("assigning job: %w", err)
	}
	return &execHandle{cmd: cmd, job: job}, nil
}

func (h *execHandle) pid() int { return h.cmd.Process.Pid }

// Windows has no polite termination signal; closing stdin is the request.
func (h *execHandle) terminate() error { return errNoSignal }

func (h *execHandle) kill() error {
	return windows.TerminateJobObject(h.job, 1)
}

func (h *execHandle) wait() error { return h.cmd.Wait() }

func (h *execHandle) release() {
	_ = windows.CloseHandle(h.job)
}

// containerHandle is a process launched inside an AppContainer.
type containerHandle struct {
	proc   windows.Handle
	procID uint32
	job    windows.Handle
	revoke func()
}

func (h *containerHandle) pid() int { return int(h.procID) }

func (h *containerHandle) terminate() error { return errNoSignal }

func (h *containerHandle) kill() error {
	return windows.TerminateJobObject(h.job, 1)
}

func (h *containerHandle) wait() error {
	if _, err := windows.WaitForSingleObject(h.proc, windows.INFINITE); err != nil {
		return err
	}
	var code uint32
	if err := windows.GetExitCodeProcess(h.proc, &code); err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("exit status %d", code)
	}
	return nil
}

func (h *containerHandle) release() {
	_ = windows.CloseHandle(h.job)
	_ = windows.CloseHandle(h.proc)
	h.revoke()
}

// startAppContainer launches the entry inside the profile's AppContainer:
// container SID and capabilities on the token, ACL grants for exactly the
// profile's paths, and a job object carrying the profile's limits.
func startAppContainer(spec Spec, p *sandbox.AppContainerProfile, stderr *tailBuffer) (s *started, err error) {
	sid, err := containerSID(p.Name, p.DisplayName)
	if err != nil {
		return nil, err
	}

	applied, err := setGrants(sid, p.Grants, windows.GRANT_ACCESS)
	revoke := func() { _, _ = setGrants(sid, applied, windows.REVOKE_ACCESS) }
	if err != nil {
		revoke()
		return nil, err
	}
	defer func() {
		if err != nil {
			revoke()
		}
	}()

	caps := make([]windows.SIDAndAttributes, 0, len(p.Capabilities))
	for _, c := range p.Capabilities {
		capSID, err := windows.StringToSid(c)
		if err != nil {
			return nil, fmt.Errorf("capability %s: %w", c, err)
		}
		caps = append(caps, windows.SIDAndAttributes{Sid: capSID, Attributes: windows.SE_GROUP_ENABLED})
	}
	sc := securityCapabilities{AppContainerSid: sid, CapabilityCount: uint32(len(caps))}
	if len(caps) > 0 {
		sc.Capabilities = &caps[0]
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW)
		return nil, err
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, err
	}
	childEnds := []windows.Handle{windows.Handle(inR.Fd()), windows.Handle(outW.Fd()), windows.Handle(errW.Fd())}
	for _, h := range childEnds {
		if err := windows.SetHandleInformation(h, windows.HANDLE_FLAG_INHERIT, windows.HANDLE_FLAG_INHERIT); err != nil {
			closeAll(inR, inW, outR, outW, errR, errW)
			return nil, err
		}
	}

	attrs, err := windows.NewProcThreadAttributeList(2)
	if err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, err
	}
	defer attrs.Delete()
	if err := attrs.Update(procThreadAttributeSecurityCapabilities, unsafe.Pointer(&sc), unsafe.Sizeof(sc)); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, fmt.Errorf("security capabilities: %w", err)
	}
	if err := attrs.Update(windows.PROC_THREAD_ATTRIBUTE_HANDLE_LIST, unsafe.Pointer(&childEnds[0]), uintptr(len(childEnds))*unsafe.Sizeof(childEnds[0])); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, fmt.Errorf("handle list: %w", err)
	}

	si := &windows.StartupInfoEx{ProcThreadAttributeList: attrs.List()}
	si.Cb = uint32(unsafe.Sizeof(*si))
	si.Flags = windows.STARTF_USESTDHANDLES
	si.StdInput, si.StdOutput, si.StdErr = childEnds[0], childEnds[1], childEnds[2]

	argv := append([]string{p.Entry}, spec.Argv[1:]...)
	cmdLine, err := windows.UTF16PtrFromString(windows.ComposeCommandLine(argv))
	if err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, err
	}
	dir, err := windows.UTF16PtrFromString(spec.Dir)
	if err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, err
	}
	env := envBlock(spec.Env)

	job, err := newJob(p.Job)
	if err != nil {
		closeAll(inR, inW, outR, outW, errR, errW)
		return nil, err
	}

	var pi windows.ProcessInformation
	flags := uint32(windows.EXTENDED_STARTUPINFO_PRESENT | windows.CREATE_SUSPENDED |
		windows.CREATE_UNICODE_ENVIRONMENT | windows.CREATE_NO_WINDOW)
	err = windows.CreateProcess(nil, cmdLine, nil, nil, true, flags, &env[0], dir, &si.StartupInfo, &pi)
	closeAll(inR, outW, errW)
	if err != nil {
		_ = windows.CloseHandle(job)
		closeAll(inW, outR, errR)
		return nil, fmt.Errorf("CreateProcess %s: %w", p.Entry, err)
	}
	defer windows.CloseHandle(pi.Thread)

	if err := windows.AssignProcessToJobObject(job, pi.Process); err != nil {
		_ = windows.TerminateProcess(pi.Process, 1)
		_ = windows.CloseHandle(pi.Process)
		_ = windows.CloseHandle(job)
		closeAll(inW, outR, errR)
		return nil, fmt.Errorf("assigning job: %w", err)
	}
	if _, err := windows.ResumeThread(pi.Thread); err != nil {
		_ = windows.TerminateJobObject(job, 1)
		_ = windows.CloseHandle(pi.Process)
		_ = windows.CloseHandle(job)
		closeAll(inW, outR, errR)
		return nil, fmt.Errorf("resuming process: %w", err)
	}

	go stderr.drain(errR)

	h := &containerHandle{proc: pi.Process, procID: pi.ProcessId, job: job, revoke: revoke}
	return &started{h: h, stdin: inW, stdout: outR}, nil
}

// containerSID creates the AppContainer profile, or derives the SID of an
// existing one. The SID is copied into Go memory.
func containerSID(name, display string) (*windows.SID, error) {
	name16, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	display16, err := windows.UTF16PtrFromString(display)
	if err != nil {
		return nil, err
	}

	var sid *windows.SID
	hr, _, _ := procCreateAppContainerProfile.Call(
		uintptr(unsafe.Pointer(name16)),
		uintptr(unsafe.Pointer(display16)),
		uintptr(unsafe.Pointer(display16)),
		0, 0,
		uintptr(unsafe.Pointer(&sid)),
	)
	if uint32(hr) == hresultAlreadyExists {
		hr, _, _ = procDeriveAppContainerSidFromAppContainerProfile.Call(
			uintptr(unsafe.Pointer(name16)),
			uintptr(unsafe.Pointer(&sid)),
		)
	}
	if hr != 0 {
		return nil, fmt.Errorf("appcontainer profile %s: HRESULT %#x", name, uint32(hr))
	}
	defer windows.FreeSid(sid)
	return sid.Copy()
}

// setGrants applies mode for sid on every grant path and returns the
// grants it changed. Optional grants on missing paths are skipped.
func setGrants(sid *windows.SID, grants []sandbox.Grant, mode windows.ACCESS_MODE) ([]sandbox.Grant, error) {
	var applied []sandbox.Grant
	var errs []error
	for _, g := range grants {
		info, err := os.Stat(g.Path)
		if err != nil {
			if g.Optional && errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = append(errs, fmt.Errorf("grant %s: %w", g.Path, err))
			if mode == windows.GRANT_ACCESS {
				break
			}
			continue
		}

		ea := windows.EXPLICIT_ACCESS{
			AccessPermissions: accessMask(g.Access),
			AccessMode:        mode,
			Inheritance:       windows.NO_INHERITANCE,
			Trustee: windows.TRUSTEE{
				TrusteeForm:  windows.TRUSTEE_IS_SID,
				TrusteeType:  windows.TRUSTEE_IS_UNKNOWN,
				TrusteeValue: windows.TrusteeValueFromSID(sid),
			},
		}
		if info.IsDir() {
			ea.Inheritance = windows.SUB_CONTAINERS_AND_OBJECTS_INHERIT
		}
		if err := updateDACL(g.Path, ea); err != nil {
			errs = append(errs, fmt.Errorf("grant %s: %w", g.Path, err))
			if mode == windows.GRANT_ACCESS {
				break
			}
			continue
		}
		applied = append(applied, g)
	}
	return applied, errors.Join(errs...)
}

func updateDACL(path string, ea windows.EXPLICIT_ACCESS) error {
	sd, err := windows.GetNamedSecurityInfo(path, windows.SE_FILE_OBJECT, windows.DACL_SECURITY_INFORMATION)
	if err != nil {
		return err
	}
	dacl, _, err := sd.DACL()
	if err != nil {
		return err
	}
	merged, err := windows.ACLFromEntries([]windows.EXPLICIT_ACCESS{ea}, dacl)
	if err != nil {
		return err
	}
	return windows.SetNamedSecurityInfo(path, windows.SE_FILE_OBJECT, windows.DACL_SECURITY_INFORMATION, nil, nil, merged, nil)
}

func accessMask(a sandbox.Access) windows.ACCESS_MASK {
	switch a {
	case sandbox.AccessReadWrite:
		return windows.GENERIC_READ | windows.GENERIC_WRITE | windows.GENERIC_EXECUTE | windows.DELETE
	default:
		return windows.GENERIC_READ | windows.GENERIC_EXECUTE
	}
}

func newJob(limits sandbox.JobLimits) (windows.Handle, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return 0, fmt.Errorf("creating job object: %w", err)
	}
	var info windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION
	if limits.KillOnJobClose {
		info.BasicLimitInformation.LimitFlags |= windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE
	}
	if limits.DieOnUnhandledException {
		info.BasicLimitInformation.LimitFlags |= windows.JOB_OBJECT_LIMIT_DIE_ON_UNHANDLED_EXCEPTION
	}
	if limits.ActiveProcessLimit > 0 {
		info.BasicLimitInformation.LimitFlags |= windows.JOB_OBJECT_LIMIT_ACTIVE_PROCESS
		info.BasicLimitInformation.ActiveProcessLimit = limits.ActiveProcessLimit
	}
	if _, err := windows.SetInformationJobObject(job, windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)), uint32(unsafe.Sizeof(info))); err != nil {
		_ = windows.CloseHandle(job)
		return 0, fmt.Errorf("configuring job object: %w", err)
	}
	return job, nil
}

// envBlock encodes env as a double-NUL-terminated UTF-16 block.
func envBlock(env []string) []uint16 {
	var block []uint16
	for _, kv := range env {
		block = append(block, utf16.Encode([]rune(kv))...)
		block = append(block, 0)
	}
	if len(block) == 0 {
		block = append(block, 0)
	}
	return append(block, 0)
}
