package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nox-hq/warden/approval"
	"github.com/nox-hq/warden/cli/tui"
)

// runDecide implements "warden approve" and "warden deny". Approving
// shows the permission prompt unless --yes is given; without a terminal
// --yes is required. The decision binds the plugin's current permission
// hash.
func runDecide(opts globalOptions, args []string, approve bool) int {
	name := "deny"
	if approve {
		name = "approve"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	var yes bool
	fs.BoolVar(&yes, "yes", false, "approve without the interactive prompt")
	fs.BoolVar(&yes, "y", false, "approve without the interactive prompt (shorthand)")
	positional, err := parseFlags(fs, args, "yes", "y")
	if err != nil {
		return 2
	}
	if len(positional) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: warden %s <id>\n", name)
		return 2
	}

	e, err := loadEnv(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	host, err := e.newHost()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	c, err := findCandidate(host, positional[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCode(err)
	}
	m := c.Manifest

	decision := approval.Denied
	if approve {
		decision = approval.Approved
		if !yes {
			if !isTerminal() {
				fmt.Fprintln(os.Stderr, "error: no terminal for the approval prompt; review with 'warden show' and pass --yes")
				return 2
			}
			choice, err := tui.Prompt(m, c.Status, os.Stdin, os.Stdout)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				return 1
			}
			switch choice {
			case tui.ChoiceApprove:
			case tui.ChoiceDeny:
				decision = approval.Denied
			default:
				fmt.Fprintln(os.Stderr, "No decision recorded.")
				return 1
			}
		}
	}

	if err := e.store.RecordDecision(m.ID, m.Version, m.Hash(), decision); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	verb := "Denied"
	if decision == approval.Approved {
		verb = "Approved"
	}
	fmt.Printf("%s %s %s (permissions %s)\n", verb, m.ID, m.Version, m.Hash())
	return 0
}
