// Package main is the entry point for the warden CLI.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nox-hq/warden/sandbox"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalOptions are the flags accepted before the command name.
type globalOptions struct {
	configPath string
	verbose    bool
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI and returns the exit code.
// 0 = success, 1 = the operation failed, 2 = usage or setup error.
func run(args []string) int {
	fs := flag.NewFlagSet("warden", flag.ContinueOnError)

	var (
		opts        globalOptions
		versionFlag bool
	)

	fs.StringVar(&opts.configPath, "config", "", "path to config.yaml (default: $WARDEN_HOME/config.yaml)")
	fs.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")
	fs.BoolVar(&opts.verbose, "v", false, "enable debug logging (shorthand)")
	fs.BoolVar(&versionFlag, "version", false, "print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: warden [flags] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  list                 List discovered plugins and their approval status\n")
		fmt.Fprintf(os.Stderr, "  show <id>            Show a plugin's permissions, risk and tools\n")
		fmt.Fprintf(os.Stderr, "  approve <id>         Approve a plugin's current permissions\n")
		fmt.Fprintf(os.Stderr, "  deny <id>            Deny a plugin's current permissions\n")
		fmt.Fprintf(os.Stderr, "  tools                List every dispatchable tool\n")
		fmt.Fprintf(os.Stderr, "  call <tool> [json]   Call a tool with JSON arguments\n")
		fmt.Fprintf(os.Stderr, "  run <tool> <text>    Generate arguments from text, then call the tool\n")
		fmt.Fprintf(os.Stderr, "  serve [--watch]      Serve every tool as an MCP server on stdio\n")
		fmt.Fprintf(os.Stderr, "  init <id>            Scaffold a new Go plugin project\n")
		fmt.Fprintf(os.Stderr, "  version              Print version and exit\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if versionFlag {
		printVersion()
		return 0
	}

	remaining := fs.Args()
	if len(remaining) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: warden <command> [args]")
		return 2
	}

	command, rest := remaining[0], remaining[1:]
	switch command {
	case "list":
		return runList(opts, rest)
	case "show":
		return runShow(opts, rest)
	case "approve":
		return runDecide(opts, rest, true)
	case "deny":
		return runDecide(opts, rest, false)
	case "tools":
		return runTools(opts, rest)
	case "call":
		return runCall(opts, rest)
	case "run":
		return runRun(opts, rest)
	case "serve":
		return runServe(opts, rest)
	case "init":
		return runInit(rest)
	case "version":
		printVersion()
		return 0
	case sandbox.LauncherCommand:
		// Runs inside a plugin sandbox; returns only on failure.
		if err := sandbox.RunLauncher(rest); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		fmt.Fprintln(os.Stderr, "Usage: warden <command> [args]")
		return 2
	}
}

func printVersion() {
	fmt.Printf("warden %s (commit: %s, built: %s)\n", displayVersion(), commit, date)
}
