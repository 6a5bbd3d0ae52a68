// Package static serves the pre-built single-page client with an
// index.html fallback for client-side routes.
package static

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzhttp"
)

// ErrNoBundle is returned when the static directory does not exist.
var ErrNoBundle = errors.New("static bundle not found")

// Handler serves files from a directory. Unknown GET paths outside the API
// get index.html so the client router can take over.
type Handler struct {
	root  http.Dir
	index string
	files http.Handler
}

// New returns a gzip-enabled handler for dir, or ErrNoBundle when dir is
// missing or has no index.html.
func New(dir string) (http.Handler, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoBundle, dir)
	}
	index := filepath.Join(dir, "index.html")
	if _, err := os.Stat(index); err != nil {
		return nil, fmt.Errorf("%w: %s has no index.html", ErrNoBundle, dir)
	}

	h := &Handler{
		root:  http.Dir(dir),
		index: index,
		files: http.FileServer(http.Dir(dir)),
	}
	return gzhttp.GzipHandler(h), nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}

	p := path.Clean("/" + r.URL.Path)
	if reserved(p) {
		http.NotFound(w, r)
		return
	}

	if h.isFile(p) || p == "/" {
		h.files.ServeHTTP(w, r)
		return
	}
	http.ServeFile(w, r, h.index)
}

func reserved(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/") || p == "/metrics"
}

func (h *Handler) isFile(p string) bool {
	f, err := h.root.Open(p)
	if err != nil {
		return false
	}
	defer f.Close()
	info, err := f.Stat()
	return err == nil && !info.IsDir()
}
