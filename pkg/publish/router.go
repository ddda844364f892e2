package publish

import (
	"encoding/json"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/vaultforge/syncd/pkg/errs"
	"github.com/vaultforge/syncd/pkg/metrics"
	"github.com/vaultforge/syncd/pkg/storage"
)

// Router serves a published site's public content: GET /publish/{slug}
// returns the file index, GET /publish/{slug}/{path} returns one file's
// contents. It never writes, so it needs no ownership check.
type Router struct {
	store storage.Store
}

// NewRouter builds a Router reading from store.
func NewRouter(store storage.Store) *Router {
	return &Router{store: store}
}

// ServeHTTP implements http.Handler, to be mounted at the "/publish/"
// prefix.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	timer := metrics.NewTimer()
	slug, path, ok := splitPublishPath(req.URL.Path)
	if !ok {
		http.NotFound(w, req)
		return
	}

	site, err := r.store.GetSlug(slug)
	if err != nil {
		metrics.PublishRequestsTotal.WithLabelValues(slug, "404").Inc()
		http.NotFound(w, req)
		return
	}

	if path == "" {
		r.serveIndex(w, site.ID, slug)
	} else {
		r.serveFile(w, site.ID, slug, path)
	}
	timer.ObserveDurationVec(metrics.PublishRequestDuration, slug)
}

func (r *Router) serveIndex(w http.ResponseWriter, siteID, slug string) {
	files, err := r.store.GetPublishFiles(siteID)
	if err != nil {
		metrics.PublishRequestsTotal.WithLabelValues(slug, "500").Inc()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for i := range files {
		files[i].Data = ""
	}

	w.Header().Set("Content-Type", "application/json")
	metrics.PublishRequestsTotal.WithLabelValues(slug, "200").Inc()
	_ = json.NewEncoder(w).Encode(files)
}

func (r *Router) serveFile(w http.ResponseWriter, siteID, slug, path string) {
	file, err := r.store.GetPublishFile(siteID, path)
	if err != nil {
		status := "500"
		code := http.StatusInternalServerError
		if errs.KindOf(err) == errs.NotFound {
			status, code = "404", http.StatusNotFound
		}
		metrics.PublishRequestsTotal.WithLabelValues(slug, status).Inc()
		http.Error(w, http.StatusText(code), code)
		return
	}
	if file.Deleted {
		metrics.PublishRequestsTotal.WithLabelValues(slug, "404").Inc()
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	metrics.PublishRequestsTotal.WithLabelValues(slug, "200").Inc()
	_, _ = w.Write([]byte(file.Data))
}

// splitPublishPath parses "/publish/{slug}" or "/publish/{slug}/{path}"
// into its two segments. The slug is always the first path element after
// the prefix; path may be empty (index request) or contain further
// slashes (nested site paths).
func splitPublishPath(urlPath string) (slug, path string, ok bool) {
	const prefix = "/publish/"
	if !strings.HasPrefix(urlPath, prefix) {
		return "", "", false
	}
	trimmed := strings.TrimPrefix(urlPath, prefix)
	if trimmed == "" {
		return "", "", false
	}

	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		return parts[0], parts[1], true
	}
	return parts[0], "", true
}
