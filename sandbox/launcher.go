package sandbox

import (
	"errors"
	"flag"
	"io"
	"strings"
)

// LauncherCommand is the first argument that switches a launcher binary
// into restricted exec mode:
//
//	<launcher> sandbox-exec --allow PATH... -- ARGV...
const LauncherCommand = "sandbox-exec"

type pathList []string

func (l *pathList) String() string { return strings.Join(*l, ",") }

func (l *pathList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// parseLauncherArgs splits the arguments after LauncherCommand into the
// exec allowlist and the command to run.
func parseLauncherArgs(args []string) (allow, argv []string, err error) {
	fs := flag.NewFlagSet(LauncherCommand, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var paths pathList
	fs.Var(&paths, "allow", "executable the command may run (repeatable)")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	argv = fs.Args()
	if len(argv) == 0 {
		return nil, nil, errors.New("no command to run")
	}
	for _, p := range append([]string{argv[0]}, paths...) {
		if !isAbs(p) {
			return nil, nil, errors.New("launcher paths must be absolute: " + p)
		}
	}
	return paths, argv, nil
}
