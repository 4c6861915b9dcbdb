package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nox-hq/warden/approval"
	"github.com/nox-hq/warden/assist"
	"github.com/nox-hq/warden/manifest"
	"github.com/nox-hq/warden/plugin"
	"github.com/nox-hq/warden/tools"
)

// startHost loads every approved plugin. Plugins that fail to load are
// reported on stderr and skipped; plugins waiting for a decision get a
// hint. A nil host means setup failed and code is the exit code.
func startHost(e *env, extra ...plugin.HostOption) (*plugin.Host, int) {
	host, err := e.newHost(extra...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return nil, 2
	}
	if err := host.Refresh(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: some plugins were not loaded:\n%v\n", err)
	}
	reportPending(host)
	return host, 0
}

func reportPending(host *plugin.Host) {
	candidates, err := host.Candidates()
	if err != nil {
		return
	}
	for _, c := range candidates {
		if c.Manifest == nil {
			continue
		}
		switch c.Status {
		case approval.StatusPending:
			fmt.Fprintf(os.Stderr, "note: %s is waiting for approval: warden approve %s\n", c.ID(), c.ID())
		case approval.StatusStale:
			fmt.Fprintf(os.Stderr, "note: %s changed its permissions and needs a new decision: warden approve %s\n", c.ID(), c.ID())
		}
	}
}

// runCall implements "warden call <tool> [json-args]".
func runCall(opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	var (
		jsonOutput bool
		timeout    time.Duration
	)
	fs.BoolVar(&jsonOutput, "json", false, "print the full result as JSON")
	fs.DurationVar(&timeout, "timeout", 0, "overall timeout (default: the policy's call timeout)")
	positional, err := parseFlags(fs, args, "json")
	if err != nil {
		return 2
	}
	if len(positional) < 1 || len(positional) > 2 {
		fmt.Fprintln(os.Stderr, "Usage: warden call <tool> ['{\"arg\": \"value\"}'] [--json]")
		return 2
	}

	toolArgs := map[string]any{}
	if len(positional) == 2 {
		if err := json.Unmarshal([]byte(positional[1]), &toolArgs); err != nil {
			fmt.Fprintf(os.Stderr, "error: arguments must be a JSON object: %v\n", err)
			return 2
		}
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

	ctx, cancel := commandContext(timeout)
	defer cancel()
	return dispatch(ctx, host, positional[0], toolArgs, jsonOutput)
}

// runRun implements "warden run <tool> <text...>": arguments are
// generated from the text by the configured chat model, then the tool is
// called with them.
func runRun(opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var (
		jsonOutput bool
		dryRun     bool
		model      string
	)
	fs.BoolVar(&jsonOutput, "json", false, "print the full result as JSON")
	fs.BoolVar(&dryRun, "dry-run", false, "print the generated arguments without calling the tool")
	fs.StringVar(&model, "model", "", "chat model (default: config assist.model)")
	positional, err := parseFlags(fs, args, "json", "dry-run")
	if err != nil {
		return 2
	}
	if len(positional) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: warden run <tool> <text...> [--dry-run] [--json]")
		return 2
	}
	toolName, text := positional[0], strings.Join(positional[1:], " ")

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

	tool, ok := lookupTool(host, toolName)
	if !ok {
		fmt.Fprintf(os.Stderr, "error: unknown tool %q\n", toolName)
		return 1
	}

	ctx, cancel := commandContext(0)
	defer cancel()

	gen := assist.NewArgumentGenerator(newProvider(e.cfg.Assist, model), assist.WithLogger(e.logger))
	toolArgs, usage, err := gen.Generate(ctx, tool, text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	e.logger.Debug("arguments generated", "tool", toolName, "prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens, "requests", usage.Requests)

	if dryRun {
		return printJSON(toolArgs)
	}
	return dispatch(ctx, host, toolName, toolArgs, jsonOutput)
}

func newProvider(cfg plugin.AssistConfig, model string) assist.Provider {
	var opts []assist.OpenAIOption
	if model == "" {
		model = cfg.Model
	}
	if model != "" {
		opts = append(opts, assist.WithModel(model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, assist.WithBaseURL(cfg.BaseURL))
	}
	if cfg.TimeoutSeconds > 0 {
		opts = append(opts, assist.WithTimeout(time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, assist.WithMaxTokens(cfg.MaxTokens))
	}
	if cfg.NoJSONMode {
		opts = append(opts, assist.WithJSONMode(false))
	}
	return assist.NewOpenAIProvider(opts...)
}

func lookupTool(host *plugin.Host, name string) (manifest.Tool, bool) {
	for _, te := range host.Tools() {
		if te.Tool.Name == name {
			return te.Tool, true
		}
	}
	return manifest.Tool{}, false
}

// commandContext is cancelled on SIGINT/SIGTERM and, when timeout is
// positive, after timeout.
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

func dispatch(ctx context.Context, host *plugin.Host, name string, args map[string]any, jsonOutput bool) int {
	res, err := host.Dispatch(ctx, name, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, tools.ErrUnknownTool) {
			fmt.Fprintln(os.Stderr, "Run 'warden tools' to see available tools.")
		}
		return 1
	}
	if res.Redacted() {
		for _, r := range res.Redactions {
			fmt.Fprintf(os.Stderr, "note: redacted %d %s match(es)\n", r.Count, r.Label)
		}
	}
	if jsonOutput {
		if code := printJSON(res); code != 0 {
			return code
		}
	} else {
		printResult(res)
	}
	if res.IsError {
		return 1
	}
	return 0
}

func printResult(res *tools.Result) {
	if res.Text != "" {
		fmt.Println(res.Text)
	}
	if res.Command != "" && !strings.Contains(res.Text, res.Command) {
		fmt.Printf("command: %s\n", res.Command)
	}
	if res.Text == "" && res.Structured != nil {
		data, err := json.MarshalIndent(res.Structured, "", "  ")
		if err == nil {
			fmt.Println(string(data))
		}
	}
}
