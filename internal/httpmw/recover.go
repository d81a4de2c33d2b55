package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/cleanplanet/cleanplanet-web/internal/log"
	"github.com/cleanplanet/cleanplanet-web/internal/xerrors"
)

// Recover catches handler panics, logs them with a stack, reports them via
// onPanic (metrics) and serves a 500 if nothing was written yet.
func Recover(base log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// net/http uses this to signal a dead client; nothing to serve
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				if onPanic != nil {
					onPanic()
				}

				L := base
				if L == nil {
					L = log.FromContext(r.Context())
				}
				L.Error(r.Context(), xerrors.Newf("panic: %v", rec), "recovered handler panic",
					"url.path", r.URL.Path,
					"http.request.method", r.Method,
					"stack", string(debug.Stack()),
				)

				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"internal server error"}`))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
