package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/dreschagin/plugin-webroot/internal/plugin"
	"github.com/dreschagin/plugin-webroot/internal/registry"
	"github.com/dreschagin/plugin-webroot/internal/server"
	s3storage "github.com/dreschagin/plugin-webroot/internal/storage/s3"
	"github.com/dreschagin/plugin-webroot/pkg/config"
)

type ServeCmd struct {
	Port string `help:"Listen port (overrides SERVER_PORT)."`
}

func (c *ServeCmd) Run(cfg *config.Config, logger *slog.Logger) error {
	if c.Port != "" {
		cfg.Server.Port = c.Port
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(logger)
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Error("failed to close webroots", "error", err)
		}
	}()

	loader := plugin.NewLoader(reg, bucketOpener(cfg.S3), logger)
	if _, err := loader.LoadAll(ctx, cfg.PluginsDir); err != nil {
		return err
	}

	srv, err := server.New(cfg, reg, logger)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

type CheckCmd struct{}

func (c *CheckCmd) Run(cfg *config.Config, logger *slog.Logger) error {
	reg := registry.New(logger)
	defer reg.Close()

	plugins, err := plugin.NewLoader(reg, bucketOpener(cfg.S3), logger).LoadAll(context.Background(), cfg.PluginsDir)
	if err != nil {
		return err
	}
	return printMounts(os.Stdout, reg, plugins)
}

func printMounts(w io.Writer, reg *registry.Registry, plugins []plugin.Info) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MOUNT\tROOT\tINDEX\tDESCRIPTION")
	for _, info := range plugins {
		h, ok := reg.Lookup(info.Name)
		if !ok {
			continue
		}
		fmt.Fprintf(tw, "/%s/\t%s\t%s\t%s\n", h.Name(), h.Dir(), h.IndexFile(), info.Manifest.Description)
	}
	return tw.Flush()
}

// bucketOpener creates the S3 client on first use, so hosts without
// s3:// webroots never touch AWS configuration.
func bucketOpener(cfg config.S3Config) plugin.BucketOpener {
	var (
		once      sync.Once
		api       s3storage.API
		clientErr error
	)
	return func(ctx context.Context, bucket, prefix string) (fs.FS, error) {
		once.Do(func() {
			client, err := s3storage.NewClient(ctx, s3storage.Config{
				Region:          cfg.Region,
				Endpoint:        cfg.Endpoint,
				AccessKeyID:     cfg.AccessKeyID,
				SecretAccessKey: cfg.SecretAccessKey,
				UsePathStyle:    cfg.UsePathStyle,
			})
			if err != nil {
				clientErr = err
				return
			}
			api = client
		})
		if clientErr != nil {
			return nil, clientErr
		}
		return s3storage.Opener(api, cfg.Timeout)(ctx, bucket, prefix)
	}
}
