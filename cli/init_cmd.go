package main

import (
	"embed"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/nox-hq/warden/sdk"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

const greetSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "description": "Who to greet"}
  },
  "required": ["name"],
  "additionalProperties": false
}`

// initData holds template variables for scaffolding a plugin project.
type initData struct {
	ID          string // e.g. "acme.greeter"
	ShortName   string // e.g. "greeter"
	Module      string // e.g. "example.com/greeter"
	Description string
	Tool        string // e.g. "greet"
	Binary      string // e.g. "bin/greeter"
}

// runInit scaffolds a Go plugin project: a plugin.json declaring one tool
// and no permissions, a main.go serving it with the sdk, and a
// conformance test.
func runInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	var (
		module      string
		description string
		toolName    string
		outDir      string
	)
	fs.StringVar(&module, "module", "", "Go module path (default: example.com/<name>)")
	fs.StringVar(&description, "description", "", "one-line plugin description")
	fs.StringVar(&toolName, "tool", "greet", "name of the first tool")
	fs.StringVar(&outDir, "output", "", "output directory (default: derived from id)")
	positional, err := parseFlags(fs, args)
	if err != nil {
		return 2
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: warden init <id> [--module path] [--tool name] [--output dir]")
		fmt.Fprintln(os.Stderr, "\nThe id is a lowercase dotted name such as acme.greeter.")
		return 2
	}

	data := buildInitData(positional[0], module, description, toolName)
	if outDir == "" {
		outDir = data.ShortName
	}

	if err := scaffoldPlugin(outDir, data); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Printf("Created plugin project in %s/\n", outDir)
	fmt.Printf("  ID:   %s\n", data.ID)
	fmt.Printf("  Tool: %s\n", data.Tool)
	fmt.Println("\nNext steps:")
	fmt.Printf("  cd %s\n", outDir)
	fmt.Println("  go mod tidy")
	fmt.Println("  make test")
	fmt.Println("  make build")
	fmt.Printf("  then copy or link the directory into the plugins directory and run: warden approve %s\n", data.ID)
	return 0
}

// buildInitData derives the template variables from the plugin id.
func buildInitData(id, module, description, toolName string) initData {
	short := id
	if i := strings.LastIndexByte(id, '.'); i >= 0 {
		short = id[i+1:]
	}
	if module == "" {
		module = "example.com/" + short
	}
	if description == "" {
		description = "The " + short + " plugin."
	}
	return initData{
		ID:          id,
		ShortName:   short,
		Module:      module,
		Description: description,
		Tool:        toolName,
		Binary:      "bin/" + short,
	}
}

// scaffoldPlugin writes plugin.json and the rendered templates into outDir.
// An existing plugin.json is never overwritten.
func scaffoldPlugin(outDir string, data initData) error {
	if _, err := os.Stat(filepath.Join(outDir, "plugin.json")); err == nil {
		return fmt.Errorf("%s already contains a plugin.json", outDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	err := sdk.NewManifest(data.ID, "0.1.0").
		Description(data.Description).
		Entry(data.Binary).
		Tool(data.Tool, "Greets someone by name.", json.RawMessage(greetSchema)).
		WriteFile(outDir)
	if err != nil {
		return err
	}

	// File mappings: template name → output path
	files := []struct {
		tmpl string
		out  string
	}{
		{"templates/main.go.tmpl", "main.go"},
		{"templates/main_test.go.tmpl", "main_test.go"},
		{"templates/go.mod.tmpl", "go.mod"},
		{"templates/Makefile.tmpl", "Makefile"},
		{"templates/README.md.tmpl", "README.md"},
	}

	for _, f := range files {
		content, err := templateFS.ReadFile(f.tmpl)
		if err != nil {
			return fmt.Errorf("reading template %s: %w", f.tmpl, err)
		}

		tmpl, err := template.New(f.tmpl).Parse(string(content))
		if err != nil {
			return fmt.Errorf("parsing template %s: %w", f.tmpl, err)
		}

		out, err := os.Create(filepath.Join(outDir, f.out))
		if err != nil {
			return fmt.Errorf("creating %s: %w", f.out, err)
		}

		if err := tmpl.Execute(out, data); err != nil {
			out.Close()
			return fmt.Errorf("executing template %s: %w", f.tmpl, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("writing %s: %w", f.out, err)
		}
	}
	return nil
}
