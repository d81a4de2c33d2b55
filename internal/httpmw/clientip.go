package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// UnknownClient is the sentinel identity used when no network origin can be
// determined. All such requests share one rate-limit bucket.
const UnknownClient = "unknown"

// ClientIP extracts the client identity from the request and stores it in the
// context. Resolution order: first X-Forwarded-For entry, then X-Real-Ip,
// then the peer address, then the "unknown" sentinel. The site runs behind a
// single reverse proxy that always sets X-Forwarded-For, so the header is
// preferred over the peer address.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClientIP(r.Context(), resolveClientAddr(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func resolveClientAddr(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		// leftmost entry is the originating client
		first := strings.TrimSpace(strings.Split(xf, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}

	if xr := strings.TrimSpace(r.Header.Get("X-Real-Ip")); xr != "" {
		if net.ParseIP(xr) != nil {
			return xr
		}
	}

	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil && host != "" {
			return host
		}
		// RemoteAddr without a port (some test servers do this)
		if net.ParseIP(r.RemoteAddr) != nil {
			return r.RemoteAddr
		}
	}

	return UnknownClient
}

// ClientIPFromContext returns the resolved client identity, or the "unknown"
// sentinel when the middleware did not run.
func ClientIPFromContext(ctx context.Context) string {
	if ip, _ := ctx.Value(clientIPKey{}).(string); ip != "" {
		return ip
	}
	return UnknownClient
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
