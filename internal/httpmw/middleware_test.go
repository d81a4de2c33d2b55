package httpmw

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cleanplanet/cleanplanet-web/internal/log"
)

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	var ctxID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	RequestID("")(inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	hdr := w.Header().Get("X-Request-Id")
	if hdr == "" || hdr != ctxID {
		t.Fatalf("header id %q, context id %q", hdr, ctxID)
	}
	if len(hdr) != 32 {
		t.Errorf("generated id length = %d, want 32 hex chars", len(hdr))
	}
}

func TestRequestID_PropagatesExisting(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Id", "upstream-id")
	w := httptest.NewRecorder()
	RequestID("X-Request-Id")(inner).ServeHTTP(w, r)

	if got := w.Header().Get("X-Request-Id"); got != "upstream-id" {
		t.Fatalf("id = %q, want propagated value", got)
	}
}

func TestMaxBody_RejectsOversizedRead(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		if err == nil {
			t.Error("read of oversized body should fail")
		}
		var maxErr *http.MaxBytesError
		if !errors.As(err, &maxErr) {
			t.Errorf("err = %v, want MaxBytesError", err)
		}
	})

	body := strings.NewReader(strings.Repeat("a", 64))
	r := httptest.NewRequest(http.MethodPost, "/", body)
	MaxBody(16)(inner).ServeHTTP(httptest.NewRecorder(), r)
}

func TestRecover_Serves500AndReports(t *testing.T) {
	var panicked bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	h := Recover(log.Nop(), func() { panicked = true })(inner)
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !panicked {
		t.Error("onPanic callback not invoked")
	}
	if !strings.Contains(w.Body.String(), "internal server error") {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestRecover_PassesThroughNormally(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	Recover(log.Nop(), nil)(inner).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusTeapot {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestChain_OrderAndNilSkips(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { order = append(order, "handler") }),
		mw("outer"), nil, mw("inner"),
	)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := "outer,inner,handler"
	if got := strings.Join(order, ","); got != want {
		t.Fatalf("order = %s, want %s", got, want)
	}
}

func TestSecurityHeaders_Present(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, h := range []string{
		"Strict-Transport-Security",
		"Content-Security-Policy",
		"X-Content-Type-Options",
		"X-Frame-Options",
	} {
		if w.Header().Get(h) == "" {
			t.Errorf("missing %s header", h)
		}
	}
}

type fakeContentInfo struct{ version, hash string }

func (f fakeContentInfo) ContentVersion() string { return f.version }
func (f fakeContentInfo) ContentHash() string    { return f.hash }

func TestContentHeaders_ShortensHash(t *testing.T) {
	info := fakeContentInfo{version: "v12", hash: strings.Repeat("ab", 32)}

	w := httptest.NewRecorder()
	ContentHeaders(info)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := w.Header().Get("X-Content-Bundle-Version"); got != "v12" {
		t.Errorf("version header = %q", got)
	}
	if got := w.Header().Get("X-Content-Hash"); len(got) != 12 {
		t.Errorf("hash header = %q, want 12 chars", got)
	}
}
