package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/nox-hq/warden/cli/tui"
	"github.com/nox-hq/warden/plugin"
)

type candidateJSON struct {
	ID      string   `json:"id,omitempty"`
	Dir     string   `json:"dir"`
	Version string   `json:"version,omitempty"`
	Risk    string   `json:"risk,omitempty"`
	Status  string   `json:"status,omitempty"`
	Tools   []string `json:"tools,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type toolJSON struct {
	Name        string `json:"name"`
	Owner       string `json:"owner"`
	Description string `json:"description,omitempty"`
}

// runList prints every discovered plugin with its approval status. No
// plugin is started.
func runList(opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	var jsonOutput bool
	fs.BoolVar(&jsonOutput, "json", false, "output as JSON")
	if err := fs.Parse(args); err != nil {
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
	candidates, err := host.Candidates()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	if jsonOutput {
		out := make([]candidateJSON, len(candidates))
		for i, c := range candidates {
			out[i] = toCandidateJSON(c)
		}
		return printJSON(out)
	}

	if len(candidates) == 0 {
		fmt.Printf("No plugins found in %s\n", e.cfg.PluginsDir)
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVERSION\tRISK\tSTATUS\tTOOLS")
	for _, c := range candidates {
		if c.Manifest == nil {
			fmt.Fprintf(w, "%s\t-\t-\tinvalid\t%v\n", c.Dir, c.Err)
			continue
		}
		m := c.Manifest
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", m.ID, m.Version, tui.RiskBadge(m.Risk()), tui.StatusBadge(c.Status), len(m.Tools))
	}
	w.Flush()
	return 0
}

func toCandidateJSON(c plugin.Candidate) candidateJSON {
	cj := candidateJSON{Dir: c.Dir}
	if c.Err != nil {
		cj.Error = c.Err.Error()
	}
	if m := c.Manifest; m != nil {
		cj.ID = m.ID
		cj.Version = m.Version
		cj.Risk = m.Risk().String()
		cj.Status = c.Status.String()
		cj.Tools = m.ToolNames()
	}
	return cj
}

// runTools starts every approved plugin and prints the resulting tool
// registry, built-ins included.
func runTools(opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("tools", flag.ContinueOnError)
	var jsonOutput bool
	fs.BoolVar(&jsonOutput, "json", false, "output as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	e, err := loadEnv(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	host, code := startHost(e)
	if host == nil {
		return code
	}
	defer host.Close()

	entries := host.Tools()
	if jsonOutput {
		out := make([]toolJSON, len(entries))
		for i, te := range entries {
			out[i] = toolJSON{Name: te.Tool.Name, Owner: te.Owner, Description: te.Tool.Description}
		}
		return printJSON(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tOWNER\tDESCRIPTION")
	for _, te := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", te.Tool.Name, te.Owner, te.Tool.Description)
	}
	w.Flush()
	return 0
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: encoding JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
