// Package app is the Server Orchestrator (C11): CLI mode selection,
// wiring C1 through C10 together, and the stdio JSON-RPC dispatch loop
// tool-serving mode runs once registration completes.
//
// Grounded on cmd/at/main.go's run(ctx) shape (config load, provider
// construction, a blocking loop) and pkg/mcp/server.go's line-delimited
// stdin/stdout JSON-RPC serving loop (see DESIGN.md's C9/C11 entries),
// extended here with the --list-providers/-local-auth/--check-token/
// --refresh-token mode switch spec.md §4.10 and SPEC_FULL.md §4 describe.
package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/rakunlabs/chatgate/internal/authserver"
	"github.com/rakunlabs/chatgate/internal/config"
	"github.com/rakunlabs/chatgate/internal/provider"
	gctools "github.com/rakunlabs/chatgate/internal/tools/googlechat"
	"github.com/rakunlabs/chatgate/pkg/registry"
)

// Options is the CLI surface spec.md §6 defines, plus the check-token/
// refresh-token modes SPEC_FULL.md §4 supplements from original_source/'s
// standalone scripts.
type Options struct {
	ConfigName    string
	Provider      string
	ListProviders bool
	LocalAuth     bool
	Host          string
	Port          int
	Debug         bool
	CheckToken    bool
	RefreshToken  bool
}

// Run dispatches to the selected mode. A non-nil error maps to exit code
// 1 per spec.md §6 ("configuration or import error" / "missing token file
// in tool-serving mode"); nil maps to exit code 0.
func Run(ctx context.Context, opts Options, stdin io.Reader, stdout io.Writer) error {
	cfgStore, err := config.Load(ctx, opts.ConfigName)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if opts.ListProviders {
		for name, desc := range cfgStore.ListProviders() {
			fmt.Fprintf(stdout, "%s\t%s\n", name, desc)
		}
		return nil
	}

	if opts.Provider == "" {
		return fmt.Errorf("--provider is required unless --list-providers is given")
	}

	toolServing := !opts.LocalAuth && !opts.CheckToken && !opts.RefreshToken

	rt, err := provider.Load(ctx, cfgStore, opts.Provider, toolServing)
	if err != nil {
		return err
	}

	switch {
	case opts.CheckToken:
		return runCheckToken(ctx, rt, stdout)
	case opts.RefreshToken:
		return runRefreshToken(ctx, rt, stdout)
	case opts.LocalAuth:
		return runLocalAuth(ctx, rt, opts)
	default:
		return runToolServing(ctx, rt, stdin, stdout)
	}
}

// runCheckToken is the check_token.py supplemented mode: print credential
// status without starting any server.
func runCheckToken(ctx context.Context, rt *provider.Runtime, stdout io.Writer) error {
	if rt.Tokens == nil {
		fmt.Fprintln(stdout, "status: not_applicable (backend has no refreshable token)")
		return nil
	}

	cred, err := rt.Tokens.GetCredential(ctx)
	if err != nil {
		return err
	}
	if cred == nil {
		fmt.Fprintln(stdout, "status: not_authenticated")
		return nil
	}

	status := "valid"
	if !cred.Valid() {
		status = "expired"
	}
	fmt.Fprintf(stdout, "status: %s\nexpiry: %s\nscopes: %v\nhas_refresh_token: %t\n",
		status, time.Time(cred.Expiry).Format(time.RFC3339), cred.Scopes, cred.RefreshToken != "")
	return nil
}

// runRefreshToken is the refresh_token.py supplemented mode: force a
// refresh and report the outcome.
func runRefreshToken(ctx context.Context, rt *provider.Runtime, stdout io.Writer) error {
	if rt.Tokens == nil {
		return fmt.Errorf("backend %s has no refreshable token", rt.Config.Backend)
	}
	ok, err := rt.Tokens.Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "refreshed: %t\n", ok)
	return nil
}

// runLocalAuth launches the Auth Server and blocks until ctx is cancelled.
func runLocalAuth(ctx context.Context, rt *provider.Runtime, opts Options) error {
	if rt.OAuthConfig == nil || rt.Tokens == nil {
		return fmt.Errorf("backend %s does not support the authorization-code flow", rt.Config.Backend)
	}
	addr := fmt.Sprintf("%s:%d", orDefault(opts.Host, "localhost"), orDefaultInt(opts.Port, 8000))
	srv := authserver.New(rt.OAuthConfig, rt.Tokens, addr)
	return srv.Run(ctx)
}

// runToolServing registers every tool for the provider and enters the
// dispatch loop: one line-delimited JSON-RPC request per line of stdin,
// one response per line of stdout, matching pkg/mcp's stdio transport.
func runToolServing(ctx context.Context, rt *provider.Runtime, stdin io.Reader, stdout io.Writer) error {
	reg := registry.New()
	if err := gctools.Register(reg, rt.Name, rt.Backend, rt.Fetcher, rt.Search); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	descs := reg.ListProvider(rt.Name)
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	slog.Info("tool registry populated", "provider", rt.Name, "tools", names)

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	enc := json.NewEncoder(stdout)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req registry.Request
		if err := json.Unmarshal(line, &req); err != nil {
			slog.Warn("tool-serving: malformed request line", "error", err)
			continue
		}

		resp := reg.Dispatch(ctx, rt.Name, req)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write dispatch response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read dispatch request: %w", err)
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(n, def int) int {
	if n == 0 {
		return def
	}
	return n
}
