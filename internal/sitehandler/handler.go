package sitehandler

import (
	"io/fs"
	"net/http"
)

// Handler serves the marketing site from whatever content snapshot is
// currently active. Each request resolves the snapshot once, so a hot swap
// mid-request never mixes files from two releases.
type Handler struct {
	opts Options
}

func New(opts *Options) (*Handler, error) {
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Handler{opts: *opts}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// hardening: only allow GET/HEAD
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap, ok := h.opts.Content.Get()

	// serve maintenance page if no active content snapshot
	if !ok {
		h.serveMaintenance(w, r)
		return
	}

	file, redirectTo, found := resolvePath(r.URL.Path, snap.FS)
	if redirectTo != "" {
		// 308 keeps the method even though we only allow GET/HEAD
		http.Redirect(w, r, redirectTo, http.StatusPermanentRedirect)
		return
	}
	if !found {
		h.serveNotFound(w, r, snap.FS)
		return
	}

	if cc := cacheControlForFile(file, &h.opts); cc != "" {
		w.Header().Set("Cache-Control", cc)
	}

	http.ServeFileFS(w, r, snap.FS, file)
}

func (h *Handler) serveMaintenance(w http.ResponseWriter, r *http.Request) {
	// maintenance should never be cached
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", "60")

	serveFileWithStatus(w, r, http.StatusServiceUnavailable, h.opts.FallbackFS, h.opts.MaintenanceFile)
}

func (h *Handler) serveNotFound(w http.ResponseWriter, r *http.Request, siteFS fs.FS) {
	// avoid caching 404 responses
	w.Header().Set("Cache-Control", "no-store")

	// prefer themed 404 from the active snapshot
	if existsFile(siteFS, h.opts.Site404File) {
		serveFileWithStatus(w, r, http.StatusNotFound, siteFS, h.opts.Site404File)
		return
	}

	if existsFile(h.opts.FallbackFS, h.opts.Fallback404File) {
		serveFileWithStatus(w, r, http.StatusNotFound, h.opts.FallbackFS, h.opts.Fallback404File)
		return
	}

	// last resort: plain text
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("404 page not found"))
}

// http.ServeFileFS writes its own status code, so to serve a file body with a
// forced status (404/503) we intercept the first WriteHeader call.
type statusOverrideWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusOverrideWriter) WriteHeader(code int) {
	if w.wroteHeader {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(w.status)
}

func serveFileWithStatus(w http.ResponseWriter, r *http.Request, status int, fsys fs.FS, name string) {
	sw := &statusOverrideWriter{ResponseWriter: w, status: status}
	http.ServeFileFS(sw, r, fsys, name)
}
