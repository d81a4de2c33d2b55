package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func resolveThroughMiddleware(t *testing.T, mutate func(*http.Request)) string {
	t.Helper()

	var got string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodPost, "/api/leads", nil)
	mutate(r)
	ClientIP(inner).ServeHTTP(httptest.NewRecorder(), r)
	return got
}

func TestClientIP_PrefersForwardedFor(t *testing.T) {
	got := resolveThroughMiddleware(t, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		r.Header.Set("X-Real-Ip", "198.51.100.2")
		r.RemoteAddr = "10.0.0.1:54321"
	})
	if got != "203.0.113.7" {
		t.Fatalf("client ip = %q, want first XFF entry", got)
	}
}

func TestClientIP_FallsBackToRealIP(t *testing.T) {
	got := resolveThroughMiddleware(t, func(r *http.Request) {
		r.Header.Set("X-Real-Ip", "198.51.100.2")
		r.RemoteAddr = "10.0.0.1:54321"
	})
	if got != "198.51.100.2" {
		t.Fatalf("client ip = %q, want X-Real-Ip", got)
	}
}

func TestClientIP_FallsBackToPeer(t *testing.T) {
	got := resolveThroughMiddleware(t, func(r *http.Request) {
		r.RemoteAddr = "192.0.2.9:1234"
	})
	if got != "192.0.2.9" {
		t.Fatalf("client ip = %q, want peer host", got)
	}
}

func TestClientIP_GarbageForwardedForIgnored(t *testing.T) {
	got := resolveThroughMiddleware(t, func(r *http.Request) {
		r.Header.Set("X-Forwarded-For", "not-an-ip")
		r.RemoteAddr = "192.0.2.9:1234"
	})
	if got != "192.0.2.9" {
		t.Fatalf("client ip = %q, malformed XFF should be skipped", got)
	}
}

func TestClientIP_UnknownSentinel(t *testing.T) {
	got := resolveThroughMiddleware(t, func(r *http.Request) {
		r.RemoteAddr = ""
	})
	if got != UnknownClient {
		t.Fatalf("client ip = %q, want sentinel", got)
	}
}

func TestClientIPFromContext_DefaultsToUnknown(t *testing.T) {
	if got := ClientIPFromContext(context.Background()); got != UnknownClient {
		t.Fatalf("bare context client ip = %q", got)
	}
}
