package opshttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cleanplanet/cleanplanet-web/internal/health"
	"github.com/cleanplanet/cleanplanet-web/internal/xerrors"
)

func doGet(t *testing.T, mux *http.ServeMux, path string) (*http.Response, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	res := rec.Result()
	body, _ := io.ReadAll(res.Body)
	return res, string(body)
}

func TestNewMux_HealthEndpoints(t *testing.T) {
	mux := NewMux(Options{
		Health:    health.Fixed(true, ""),
		Readiness: health.Fixed(true, ""),
	})

	res, body := doGet(t, mux, "/-/healthy")
	if res.StatusCode != http.StatusOK || !strings.Contains(body, "ok") {
		t.Fatalf("healthy = %d %q", res.StatusCode, body)
	}

	res, body = doGet(t, mux, "/-/ready")
	if res.StatusCode != http.StatusOK || !strings.Contains(body, "ready") {
		t.Fatalf("ready = %d %q", res.StatusCode, body)
	}
}

func TestNewMux_NotReady(t *testing.T) {
	mux := NewMux(Options{
		Health: health.Fixed(true, ""),
		Readiness: health.CheckFunc(func(context.Context) error {
			return xerrors.New("content not loaded")
		}),
	})

	res, body := doGet(t, mux, "/-/ready")
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", res.StatusCode)
	}
	if !strings.Contains(body, "content not loaded") {
		t.Fatalf("body = %q, want reason", body)
	}
}

func TestNewMux_Metrics(t *testing.T) {
	mux := NewMux(Options{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# HELP test\n"))
		}),
	})

	res, body := doGet(t, mux, "/metrics")
	if res.StatusCode != http.StatusOK || !strings.Contains(body, "# HELP") {
		t.Fatalf("metrics = %d %q", res.StatusCode, body)
	}
}

func TestNewMux_PprofDisabled(t *testing.T) {
	mux := NewMux(Options{})

	res, _ := doGet(t, mux, "/debug/pprof/")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("pprof disabled status = %d, want 404", res.StatusCode)
	}
}

func TestNewMux_PprofEnabled(t *testing.T) {
	mux := NewMux(Options{EnablePprof: true})

	res, body := doGet(t, mux, "/debug/pprof/")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pprof enabled status = %d", res.StatusCode)
	}
	if !strings.Contains(body, "pprof") {
		t.Fatalf("body = %q, want pprof index", body)
	}
}
