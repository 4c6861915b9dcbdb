package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nox-hq/warden/cli/tui"
	"github.com/nox-hq/warden/manifest"
)

type showJSON struct {
	Manifest *manifest.Manifest    `json:"manifest"`
	Status   string                `json:"status"`
	Risk     string                `json:"risk"`
	Points   int                   `json:"risk_points"`
	Factors  []manifest.RiskFactor `json:"risk_factors"`
	Hash     string                `json:"permissions_hash"`
}

// runShow implements the "warden show" command.
func runShow(opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	var jsonOutput bool
	fs.BoolVar(&jsonOutput, "json", false, "output as JSON")
	positional, err := parseFlags(fs, args, "json")
	if err != nil {
		return 2
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: warden show <id> [--json]")
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
	if jsonOutput {
		factors := manifest.Breakdown(m.Permissions)
		if factors == nil {
			factors = []manifest.RiskFactor{}
		}
		return printJSON(showJSON{
			Manifest: m,
			Status:   c.Status.String(),
			Risk:     m.Risk().String(),
			Points:   manifest.Points(m.Permissions),
			Factors:  factors,
			Hash:     m.Hash().String(),
		})
	}

	fmt.Print(tui.RenderManifest(m, c.Status, 80))
	return 0
}
