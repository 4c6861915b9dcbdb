package sandbox

import (
	"bufio"
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/landlock-lsm/go-landlock/landlock"
	llsys "github.com/landlock-lsm/go-landlock/landlock/syscall"
	"golang.org/x/sys/unix"
)

// RunLauncher restricts exec to the allowlisted binaries and their
// loaders, then replaces the current process with the command. It only
// returns on failure; a kernel without Landlock is a failure.
func RunLauncher(args []string) error {
	allow, argv, err := parseLauncherArgs(args)
	if err != nil {
		return fmt.Errorf("%s: %w", LauncherCommand, err)
	}
	paths, err := execClosure(allow)
	if err != nil {
		return fmt.Errorf("%s: %w", LauncherCommand, err)
	}

	execute := landlock.AccessFSSet(llsys.AccessFSExecute)
	if err := landlock.MustConfig(execute).RestrictPaths(landlock.PathAccess(execute, paths...)); err != nil {
		return fmt.Errorf("%s: restricting exec: %w", LauncherCommand, err)
	}
	if err := unix.Exec(argv[0], argv, os.Environ()); err != nil {
		return fmt.Errorf("%s: exec %s: %w", LauncherCommand, argv[0], err)
	}
	return nil
}

// maxInterpreterDepth bounds "#!" chains.
const maxInterpreterDepth = 4

// execClosure adds to paths everything the kernel opens for execution
// when one of them is run: ELF program interpreters and "#!" interpreters.
func execClosure(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	var visit func(path string, depth int) error
	visit = func(path string, depth int) error {
		if seen[path] {
			return nil
		}
		if depth > maxInterpreterDepth {
			return fmt.Errorf("interpreter chain too deep at %s", path)
		}
		seen[path] = true
		out = append(out, path)

		interp, err := interpreterOf(path)
		if err != nil {
			return err
		}
		if interp == "" {
			return nil
		}
		return visit(interp, depth+1)
	}
	for _, p := range paths {
		if err := visit(p, 0); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// interpreterOf returns the ELF PT_INTERP or "#!" interpreter of path,
// or "" for a static binary.
func interpreterOf(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 2)
	if _, err := io.ReadFull(f, head); err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if bytes.Equal(head, []byte("#!")) {
		line, err := bufio.NewReader(f).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return "", fmt.Errorf("empty interpreter line in %s", path)
		}
		return fields[0], nil
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		return "", fmt.Errorf("%s is neither ELF nor a script: %w", path, err)
	}
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_INTERP {
			continue
		}
		data, err := io.ReadAll(prog.Open())
		if err != nil {
			return "", fmt.Errorf("reading interpreter of %s: %w", path, err)
		}
		return string(bytes.TrimRight(data, "\x00")), nil
	}
	return "", nil
}
