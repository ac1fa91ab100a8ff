package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/dreschagin/plugin-webroot/internal/webroot"
)

var (
	ErrDuplicateMount = errors.New("mount already registered")
	ErrReservedName   = errors.New("mount name is reserved")
	ErrFrozen         = errors.New("registry no longer accepts mounts")
)

// Host endpoints that a mount must not shadow.
var reservedNames = map[string]struct{}{
	"healthz": {},
	"readyz":  {},
	"metrics": {},
}

// Wrapper decorates the handler of a single mount, e.g. with metrics.
type Wrapper func(mount string, next http.Handler) http.Handler

// Registry is the host routing table. Mounts are added during startup and the
// table becomes read-only once Routes has been called.
type Registry struct {
	mu       sync.RWMutex
	mounts   map[string]*webroot.Handle
	fallback *webroot.Handle
	frozen   bool
	logger   *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		mounts: make(map[string]*webroot.Handle),
		logger: logger,
	}
}

// Register adds h under /<name>/.
func (r *Registry) Register(h *webroot.Handle) error {
	if h == nil {
		return errors.New("registry: nil handle")
	}
	name := h.Name()
	if _, ok := reservedNames[name]; ok {
		return fmt.Errorf("register %q: %w", name, ErrReservedName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %q: %w", name, ErrFrozen)
	}
	if _, ok := r.mounts[name]; ok {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateMount)
	}

	r.mounts[name] = h
	r.logger.Info("webroot registered", "mount", name, "root", h.Dir(), "index", h.IndexFile())
	return nil
}

// SetDefault sets the handle that answers requests outside every mount.
func (r *Registry) SetDefault(h *webroot.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("set default: %w", ErrFrozen)
	}
	r.fallback = h
	return nil
}

// Lookup returns the mount registered under name.
func (r *Registry) Lookup(name string) (*webroot.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.mounts[name]
	return h, ok
}

// Mounts returns the registered mount names in sorted order.
func (r *Registry) Mounts() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.mounts))
	for name := range r.mounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Frozen reports whether Routes has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Routes freezes the registry and builds the router. Each mount is reachable
// at /<name> (redirected to the slash form) and below /<name>/.
func (r *Registry) Routes(wrap Wrapper) http.Handler {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()

	if wrap == nil {
		wrap = func(_ string, next http.Handler) http.Handler { return next }
	}

	router := chi.NewRouter()
	for _, name := range r.Mounts() {
		h := r.mounts[name]
		handler := wrap(name, http.StripPrefix("/"+name, h))
		router.Handle("/"+name, handler)
		router.Handle("/"+name+"/*", handler)
	}

	if r.fallback != nil {
		router.Handle("/*", wrap(r.fallback.Name(), r.fallback))
	}

	return router
}

// Close releases every registered root.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, h := range r.mounts {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	if r.fallback != nil {
		if err := r.fallback.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close default: %w", err))
		}
	}
	return errors.Join(errs...)
}
