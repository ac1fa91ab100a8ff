package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/dreschagin/plugin-webroot/pkg/config"
	"github.com/dreschagin/plugin-webroot/pkg/logger"
)

type Globals struct {
	PluginsDir string `name:"plugins-dir" help:"Directory holding one sub-directory per plugin (overrides PLUGINS_DIR)."`
	LogLevel   string `name:"log-level" help:"Log level: debug, info, warn or error (overrides LOG_LEVEL)."`
	LogFormat  string `name:"log-format" help:"Log format: json or text (overrides LOG_FORMAT)."`
}

type CLI struct {
	Globals

	Serve ServeCmd `cmd:"" default:"withargs" help:"Serve plugin webroots over HTTP."`
	Check CheckCmd `cmd:"" help:"Load every plugin webroot and print the mount table."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("webroot"),
		kong.Description("Static asset host for plugin webroots."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cli.Globals.apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	kctx.FatalIfErrorf(kctx.Run(cfg, log))
}

// apply overrides environment configuration with flags that were set.
func (g Globals) apply(cfg *config.Config) error {
	if g.PluginsDir != "" {
		cfg.PluginsDir = g.PluginsDir
	}
	if g.LogLevel != "" {
		cfg.LogLevel = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.LogFormat = g.LogFormat
	}
	return config.Validate(cfg)
}
