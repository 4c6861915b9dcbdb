package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nox-hq/warden/plugin"
	"github.com/nox-hq/warden/server"
)

// runServe implements "warden serve": every dispatchable tool is offered
// to an MCP client on stdin/stdout. With --watch, plugin directories are
// reloaded as they change and the client is told the tool list changed.
func runServe(opts globalOptions, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var (
		watch    bool
		debounce time.Duration
	)
	fs.BoolVar(&watch, "watch", false, "reload plugins when the plugins directory changes")
	fs.DurationVar(&debounce, "debounce", plugin.DefaultWatchDebounce, "quiet period before a reload")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	e, err := loadEnv(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	var srv *server.Server
	host, err := e.newHost(plugin.WithToolsChanged(func() {
		if srv != nil {
			srv.Sync()
		}
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	defer host.Close()
	srv = server.New(host, displayVersion(), server.WithLogger(e.logger))

	if err := host.Refresh(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: some plugins were not loaded:\n%v\n", err)
	}
	reportPending(host)

	ctx, cancel := commandContext(0)
	defer cancel()

	if watch {
		go func() {
			if err := host.Watch(ctx, debounce); err != nil {
				e.logger.Error("watching plugins", "dir", e.cfg.PluginsDir, "error", err)
			}
		}()
	}

	e.logger.Info("serving tools on stdio", "tools", len(host.Tools()), "watch", watch)
	if err := srv.ServeStdio(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
