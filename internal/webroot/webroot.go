package webroot

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"regexp"
	"strings"
	"time"
)

// DefaultIndexFile is served for requests that resolve to a directory.
const DefaultIndexFile = "index.html"

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("webroot configuration error")
	// ErrNotFound is reported for paths with no file and no directory index.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is reported for paths that try to leave the root.
	ErrForbidden = errors.New("forbidden")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidName reports whether name can be used as a mount name.
func ValidName(name string) bool {
	return namePattern.MatchString(name) && !strings.Contains(name, "..")
}

// ConfigurationError is returned when a mount cannot be registered.
type ConfigurationError struct {
	Mount string
	Dir   string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Dir == "" {
		return fmt.Sprintf("webroot %q: %v", e.Mount, e.Err)
	}
	return fmt.Sprintf("webroot %q: root %q: %v", e.Mount, e.Dir, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Config describes a single mount registration.
type Config struct {
	// Name is the mount name, used as the URL prefix by the registry.
	Name string
	// Dir is the root directory. For NewFS it is only used in messages.
	Dir string
	// IndexFile defaults to DefaultIndexFile.
	IndexFile string
	// SPAFallback answers missing extension-less paths with the root index.
	SPAFallback bool
	// MaxAge sets Cache-Control on non-index files when positive.
	MaxAge time.Duration
	// AllowDotfiles exposes files and directories whose name starts with a dot.
	AllowDotfiles bool

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.IndexFile) == "" {
		c.IndexFile = DefaultIndexFile
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

func (c Config) validate() error {
	if !ValidName(c.Name) {
		return &ConfigurationError{Mount: c.Name, Dir: c.Dir, Err: errors.New("invalid mount name")}
	}
	if c.IndexFile == "." || strings.ContainsAny(c.IndexFile, `/\`) || !fs.ValidPath(c.IndexFile) {
		return &ConfigurationError{Mount: c.Name, Dir: c.Dir, Err: fmt.Errorf("invalid index file %q", c.IndexFile)}
	}
	if c.MaxAge < 0 {
		return &ConfigurationError{Mount: c.Name, Dir: c.Dir, Err: errors.New("max age must not be negative")}
	}
	return nil
}

// Handle is an immutable, registered mount. It serves GET and HEAD requests
// whose URL path is relative to the mount.
type Handle struct {
	name     string
	dir      string
	index    string
	spa      bool
	dotfiles bool
	maxAge   time.Duration

	fsys   fs.FS
	root   *os.Root
	logger *slog.Logger
}

// Register opens cfg.Dir and returns a handle serving files below it.
// The directory must exist and be readable; otherwise a *ConfigurationError
// is returned and nothing is served.
func Register(cfg Config) (*Handle, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, &ConfigurationError{Mount: cfg.Name, Err: errors.New("root directory is required")}
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, &ConfigurationError{Mount: cfg.Name, Dir: cfg.Dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &ConfigurationError{Mount: cfg.Name, Dir: cfg.Dir, Err: errors.New("not a directory")}
	}

	root, err := os.OpenRoot(cfg.Dir)
	if err != nil {
		return nil, &ConfigurationError{Mount: cfg.Name, Dir: cfg.Dir, Err: err}
	}
	if err := checkReadable(root); err != nil {
		_ = root.Close()
		return nil, &ConfigurationError{Mount: cfg.Name, Dir: cfg.Dir, Err: err}
	}

	h := newHandle(cfg, root.FS())
	h.root = root
	return h, nil
}

// NewFS returns a handle serving files from fsys, e.g. embedded assets or an
// object storage prefix. The root of fsys must be a directory.
func NewFS(cfg Config, fsys fs.FS) (*Handle, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if fsys == nil {
		return nil, &ConfigurationError{Mount: cfg.Name, Dir: cfg.Dir, Err: errors.New("file system is required")}
	}

	info, err := fs.Stat(fsys, ".")
	if err != nil {
		return nil, &ConfigurationError{Mount: cfg.Name, Dir: cfg.Dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &ConfigurationError{Mount: cfg.Name, Dir: cfg.Dir, Err: errors.New("not a directory")}
	}

	return newHandle(cfg, fsys), nil
}

func newHandle(cfg Config, fsys fs.FS) *Handle {
	return &Handle{
		name:     cfg.Name,
		dir:      cfg.Dir,
		index:    cfg.IndexFile,
		spa:      cfg.SPAFallback,
		dotfiles: cfg.AllowDotfiles,
		maxAge:   cfg.MaxAge,
		fsys:     fsys,
		logger:   cfg.Logger,
	}
}

func checkReadable(root *os.Root) error {
	f, err := root.Open(".")
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.ReadDir(1); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Name returns the mount name.
func (h *Handle) Name() string {
	return h.name
}

// Dir returns the configured root, as given at registration.
func (h *Handle) Dir() string {
	return h.dir
}

// IndexFile returns the index file name.
func (h *Handle) IndexFile() string {
	return h.index
}

// Close releases the root directory, if any.
func (h *Handle) Close() error {
	if h.root == nil {
		return nil
	}
	return h.root.Close()
}

func hasDotSegment(name string) bool {
	if name == "." {
		return false
	}
	for _, segment := range strings.Split(name, "/") {
		if strings.HasPrefix(segment, ".") {
			return true
		}
	}
	return false
}

func isIndexName(name, index string) bool {
	return path.Base(name) == index
}
