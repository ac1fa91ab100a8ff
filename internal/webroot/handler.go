package webroot

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"
)

// errNoIndex marks a directory that exists but has no index file. It is
// never answered with the SPA fallback.
var errNoIndex = fmt.Errorf("%w: directory has no index", ErrNotFound)

type target struct {
	name     string
	info     fs.FileInfo
	index    bool
	redirect bool
}

// resolve maps a request path relative to the mount onto a file in the root.
func (h *Handle) resolve(rel string) (target, error) {
	if strings.ContainsAny(rel, "\\\x00") {
		return target{}, ErrForbidden
	}
	for _, segment := range strings.Split(rel, "/") {
		if segment == ".." {
			return target{}, ErrForbidden
		}
	}

	name := strings.Trim(path.Clean("/"+rel), "/")
	if name == "" {
		name = "."
	}
	if !fs.ValidPath(name) {
		return target{}, ErrForbidden
	}
	if !h.dotfiles && hasDotSegment(name) {
		return target{}, ErrNotFound
	}

	info, err := fs.Stat(h.fsys, name)
	if err != nil {
		return target{}, h.statError(name, err)
	}

	if info.IsDir() {
		if !strings.HasSuffix(rel, "/") {
			return target{name: name, info: info, redirect: true}, nil
		}
		indexName := path.Join(name, h.index)
		indexInfo, err := fs.Stat(h.fsys, indexName)
		if err != nil {
			if err = h.statError(indexName, err); err == ErrNotFound {
				return target{}, errNoIndex
			}
			return target{}, err
		}
		if !indexInfo.Mode().IsRegular() {
			return target{}, errNoIndex
		}
		return target{name: indexName, info: indexInfo, index: true}, nil
	}

	if !info.Mode().IsRegular() {
		return target{}, ErrNotFound
	}
	return target{name: name, info: info, index: isIndexName(name, h.index)}, nil
}

func (h *Handle) statError(name string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrForbidden
	default:
		// os.Root refuses symlinks that leave the root with an unexported error.
		h.logger.Warn("webroot stat failed", "mount", h.name, "path", name, "error", err)
		return ErrNotFound
	}
}

// ServeHTTP serves r.URL.Path, which must already be relative to the mount.
func (h *Handle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rel := r.URL.Path
	t, err := h.resolve(rel)
	if err == ErrNotFound && h.fallsBack(rel) {
		t, err = h.resolve("/")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if t.redirect {
		h.redirectToDir(w, r, rel)
		return
	}

	h.serveFile(w, r, t)
}

func (h *Handle) fallsBack(rel string) bool {
	if !h.spa {
		return false
	}
	base := path.Base(strings.TrimSuffix(rel, "/"))
	return path.Ext(base) == "" && (h.dotfiles || !strings.HasPrefix(base, "."))
}

func (h *Handle) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrForbidden) {
		h.logger.Debug("webroot request rejected", "mount", h.name, "path", r.URL.Path)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	http.NotFound(w, r)
}

// redirectToDir sends a relative redirect so it stays correct behind any
// prefix stripping done by the router.
func (h *Handle) redirectToDir(w http.ResponseWriter, r *http.Request, rel string) {
	base := path.Base(rel)
	if rel == "" || base == "/" || base == "." {
		base = h.name
	}
	location := base + "/"
	if r.URL.RawQuery != "" {
		location += "?" + r.URL.RawQuery
	}
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusMovedPermanently)
}

func (h *Handle) serveFile(w http.ResponseWriter, r *http.Request, t target) {
	f, err := h.fsys.Open(t.name)
	if err != nil {
		h.fail(w, r, h.statError(t.name, err))
		return
	}
	defer f.Close()

	content, ok := f.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(f)
		if err != nil {
			h.logger.Error("webroot read failed", "mount", h.name, "path", t.name, "error", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		content = bytes.NewReader(data)
	}

	ctype, err := contentType(t.name, content)
	if err != nil {
		h.logger.Error("webroot read failed", "mount", h.name, "path", t.name, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	header := w.Header()
	header.Set("Content-Type", ctype)
	header.Set("X-Content-Type-Options", "nosniff")
	switch {
	case t.index:
		header.Set("Cache-Control", "no-cache")
	case h.maxAge > 0:
		header.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.maxAge.Seconds())))
	}

	http.ServeContent(w, r, t.info.Name(), t.info.ModTime(), content)
}
