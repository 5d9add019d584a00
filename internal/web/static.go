package web

import (
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// hashedAssetRe matches build outputs with a content hash in the
// filename; those are safe to cache forever.
var hashedAssetRe = regexp.MustCompile(`[.-][A-Za-z0-9]{8,}\.\w+$`)

const (
	cacheImmutable = "public, max-age=31536000, immutable"
	cacheDaily     = "public, max-age=86400"
	cacheNever     = "no-cache"
)

// staticHandler serves the SPA bundle with cache headers by file kind
// and falls back to index.html for client-side routes. Without a
// configured static directory every non-API path is 404.
func (h *Handler) staticHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.staticDir == "" {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}

		name := strings.TrimPrefix(filepath.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		full := filepath.Join(h.staticDir, name)

		// Clean removed any traversal, but double-check the result
		// still lives under the root.
		root := filepath.Clean(h.staticDir) + string(filepath.Separator)
		if !strings.HasPrefix(full, root) {
			writeError(w, http.StatusNotFound, "Not found")
			return
		}

		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			// Unknown paths get the SPA shell so client routing works.
			h.serveIndex(w, r)
			return
		}

		switch {
		case name == "index.html":
			w.Header().Set("Cache-Control", cacheNever)
		case hashedAssetRe.MatchString(name):
			w.Header().Set("Cache-Control", cacheImmutable)
		default:
			w.Header().Set("Cache-Control", cacheDaily)
		}
		http.ServeFile(w, r, full)
	})
}

func (h *Handler) serveIndex(w http.ResponseWriter, r *http.Request) {
	index := filepath.Join(h.staticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	w.Header().Set("Cache-Control", cacheNever)
	http.ServeFile(w, r, index)
}
