package supervisor

import (
	"fmt"
	"os"
	"os/exec"
)

// startWrapped runs argv, already wrapped by the sandbox front end, with
// plain pipes so the child's ends are closed in the parent as soon as it
// starts and stdout reaches EOF when the child exits. A non-empty seccomp
// program is readable by the child on sandbox.SeccompFD.
func startWrapped(spec Spec, argv []string, seccomp []byte, stderr *tailBuffer) (*started, error) {
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(inR, inW, outR, outW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.SysProcAttr = sysProcAttr()

	var filterR *os.File
	if len(seccomp) > 0 {
		if filterR, err = filterPipe(seccomp); err != nil {
			closeAll(inR, inW, outR, outW, errR, errW)
			return nil, err
		}
		cmd.ExtraFiles = []*os.File{filterR}
	}

	if err := cmd.Start(); err != nil {
		closeAll(inR, inW, outR, outW, errR, errW, filterR)
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}
	closeAll(inR, outW, errW, filterR)

	go stderr.drain(errR)

	h, err := newExecHandle(cmd)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		closeAll(inW, outR)
		return nil, err
	}
	return &started{h: h, stdin: inW, stdout: outR}, nil
}

// filterPipe returns the read end of a pipe already holding prog. The
// program is far below the pipe buffer size, so the write cannot block.
func filterPipe(prog []byte) (*os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("seccomp pipe: %w", err)
	}
	_, err = w.Write(prog)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("writing seccomp program: %w", err)
	}
	return r, nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
