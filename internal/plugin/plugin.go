package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dreschagin/plugin-webroot/internal/registry"
	s3storage "github.com/dreschagin/plugin-webroot/internal/storage/s3"
	"github.com/dreschagin/plugin-webroot/internal/webroot"
)

// DefaultWebrootDir is the build output directory served when the manifest
// does not name one.
const DefaultWebrootDir = "dist"

// Info is what the host knows about a plugin when it loads it.
type Info struct {
	Name     string
	RootDir  string
	Manifest Manifest
}

// Discover lists the plugins below dir. Every non-hidden sub-directory is a
// plugin; its name comes from the manifest or, failing that, the directory.
func Discover(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}

	plugins := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		root := filepath.Join(dir, entry.Name())
		manifest, err := ReadManifest(root)
		if err != nil {
			return nil, err
		}

		name := manifest.Name
		if name == "" {
			name = entry.Name()
		}
		plugins = append(plugins, Info{Name: name, RootDir: root, Manifest: manifest})
	}

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Name < plugins[j].Name
	})
	return plugins, nil
}

// BucketOpener opens an object storage prefix as a file system.
type BucketOpener func(ctx context.Context, bucket, prefix string) (fs.FS, error)

// Loader registers plugin webroots in a registry.
type Loader struct {
	registry   *registry.Registry
	openBucket BucketOpener
	logger     *slog.Logger
}

// NewLoader returns a loader. openBucket may be nil, in which case plugins
// with an s3:// webroot fail to load.
func NewLoader(reg *registry.Registry, openBucket BucketOpener, logger *slog.Logger) *Loader {
	return &Loader{
		registry:   reg,
		openBucket: openBucket,
		logger:     logger,
	}
}

// Load registers the webroot of one plugin: <RootDir>/dist served with
// index.html, unless the manifest says otherwise.
func (l *Loader) Load(ctx context.Context, info Info) (*webroot.Handle, error) {
	wm := info.Manifest.Webroot
	cfg := webroot.Config{
		Name:          info.Name,
		IndexFile:     wm.Index,
		SPAFallback:   wm.SPA,
		MaxAge:        wm.MaxAge,
		AllowDotfiles: wm.Dotfiles,
		Logger:        l.logger,
	}

	dir := strings.TrimSpace(wm.Dir)
	if dir == "" {
		dir = DefaultWebrootDir
	}

	var (
		h   *webroot.Handle
		err error
	)
	if s3storage.IsURL(dir) {
		cfg.Dir = dir
		h, err = l.loadBucket(ctx, cfg)
	} else {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(info.RootDir, dir)
		}
		cfg.Dir = dir
		h, err = webroot.Register(cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := l.registry.Register(h); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

func (l *Loader) loadBucket(ctx context.Context, cfg webroot.Config) (*webroot.Handle, error) {
	if l.openBucket == nil {
		return nil, &webroot.ConfigurationError{Mount: cfg.Name, Dir: cfg.Dir, Err: errors.New("object storage is not configured")}
	}

	bucket, prefix, err := s3storage.ParseURL(cfg.Dir)
	if err != nil {
		return nil, &webroot.ConfigurationError{Mount: cfg.Name, Dir: cfg.Dir, Err: err}
	}

	fsys, err := l.openBucket(ctx, bucket, prefix)
	if err != nil {
		return nil, &webroot.ConfigurationError{Mount: cfg.Name, Dir: cfg.Dir, Err: err}
	}
	return webroot.NewFS(cfg, fsys)
}

// LoadAll discovers and loads every plugin below dir. The first failure
// aborts loading.
func (l *Loader) LoadAll(ctx context.Context, dir string) ([]Info, error) {
	plugins, err := Discover(dir)
	if err != nil {
		return nil, err
	}

	for _, info := range plugins {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := l.Load(ctx, info); err != nil {
			return nil, fmt.Errorf("load plugin %q from %s: %w", info.Name, info.RootDir, err)
		}
		l.logger.Debug("plugin loaded", "plugin", info.Name, "description", info.Manifest.Description)
	}

	l.logger.Info("plugins loaded", "count", len(plugins), "dir", dir)
	return plugins, nil
}
