package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cleanplanet/cleanplanet-web/internal/httpmw"
	"github.com/cleanplanet/cleanplanet-web/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	// APIRoutes mounts the JSON endpoints (leads, address proxy, probes)
	// onto the site router.
	APIRoutes func(chi.Router)

	// SiteHandler serves everything no API route claims.
	SiteHandler http.Handler

	// MetricsMW wraps the handler with request instrumentation.
	MetricsMW func(http.Handler) http.Handler

	// RateLimitMW is the site-wide flood limiter. It runs after client IP
	// resolution so it keys on the resolved identity.
	RateLimitMW func(http.Handler) http.Handler

	// ContentInfo backs the X-Content-Bundle-Version and X-Content-Hash headers.
	ContentInfo httpmw.ContentInfo

	UseRecoverMW bool
	OnPanic      func()

	// MaxBodyBytes caps request bodies. Zero uses DefaultMaxBodyBytes,
	// sized for the lead form JSON payload.
	MaxBodyBytes int64
}
