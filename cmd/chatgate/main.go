package main

import (
	"context"
	"flag"
	"os"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/chatgate/internal/app"
	"github.com/rakunlabs/chatgate/internal/config"
)

var (
	name    = "chatgate"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	opts := parseFlags()

	into.Init(func(ctx context.Context) error {
		return app.Run(ctx, opts, os.Stdin, os.Stdout)
	},
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

func parseFlags() app.Options {
	var opts app.Options

	flag.StringVar(&opts.Provider, "provider", "", "provider name to serve")
	flag.BoolVar(&opts.ListProviders, "list-providers", false, "print configured provider names and descriptions")
	flag.BoolVar(&opts.LocalAuth, "local-auth", false, "launch the local auth server and block until signalled")
	flag.StringVar(&opts.Host, "host", "localhost", "auth server bind host")
	flag.IntVar(&opts.Port, "port", 8000, "auth server bind port")
	flag.BoolVar(&opts.Debug, "debug", false, "enable debug logging")
	flag.BoolVar(&opts.CheckToken, "check-token", false, "print token status and exit")
	flag.BoolVar(&opts.RefreshToken, "refresh-token", false, "force a token refresh and exit")
	flag.Parse()

	opts.ConfigName = name
	if opts.Debug {
		_ = os.Setenv("CG_LOG_LEVEL", "debug")
	}
	return opts
}
