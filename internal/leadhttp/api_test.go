package leadhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cleanplanet/cleanplanet-web/internal/espo"
	"github.com/cleanplanet/cleanplanet-web/internal/httpmw"
	"github.com/cleanplanet/cleanplanet-web/internal/ratelimit"
)

type fakeCRM struct {
	mu     sync.Mutex
	inputs []espo.CreateLeadInput
	lead   *espo.Lead
	err    error
}

func (f *fakeCRM) CreateLead(ctx context.Context, in espo.CreateLeadInput) (*espo.Lead, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.lead, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAPI(crm *fakeCRM) (*API, *testClock, chi.Router) {
	clk := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	limiter := ratelimit.NewWindow(
		ratelimit.WithWindow(5, time.Minute),
		ratelimit.WithClock(clk.Now),
	)
	api := NewAPI(limiter, crm, nil)
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return api, clk, r
}

func postLead(r http.Handler, clientIP, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/leads", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(httpmw.WithClientIP(req.Context(), clientIP))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSubmit_MinimalLeadNormalizedAndCreated(t *testing.T) {
	crm := &fakeCRM{lead: &espo.Lead{ID: "lead-42"}}
	_, _, r := newTestAPI(crm)

	rec := postLead(r, "203.0.113.1", `{"name":"Иван Иванов","phoneNumber":"+7 (999) 123-45-67"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp successResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.LeadID != "lead-42" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Message != "Заявка успешно создана. Мы свяжемся с вами в ближайшее время." {
		t.Errorf("message = %q", resp.Message)
	}

	// absent optionals reach the CRM as empty strings
	in := crm.inputs[0]
	if in.Name != "Иван Иванов" || in.PhoneNumber != "+7 (999) 123-45-67" {
		t.Errorf("crm input = %+v", in)
	}
	if in.Address != "" || in.Description != "" {
		t.Errorf("optionals not normalized: %+v", in)
	}
}

func TestSubmit_RateLimitHeadersOnSuccess(t *testing.T) {
	crm := &fakeCRM{lead: &espo.Lead{ID: "x"}}
	_, clk, r := newTestAPI(crm)

	rec := postLead(r, "203.0.113.1", `{"name":"Иван Иванов","phoneNumber":"+79991234567"}`)
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want 4", got)
	}
	wantReset := strconv.FormatInt(clk.Now().Add(time.Minute).Unix(), 10)
	if got := rec.Header().Get("X-RateLimit-Reset"); got != wantReset {
		t.Errorf("X-RateLimit-Reset = %q, want %s", got, wantReset)
	}
}

func TestSubmit_ValidationFailure(t *testing.T) {
	crm := &fakeCRM{lead: &espo.Lead{ID: "x"}}
	_, _, r := newTestAPI(crm)

	rec := postLead(r, "203.0.113.1", `{"name":"A","phoneNumber":"123"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp errorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q", resp.Code)
	}
	if resp.Error != "Неверные данные формы" {
		t.Errorf("error = %q", resp.Error)
	}
	if len(resp.Details) != 2 {
		t.Errorf("details = %v, want name and phoneNumber", resp.Details)
	}
	if len(crm.inputs) != 0 {
		t.Error("invalid submission must not reach the CRM")
	}
}

func TestSubmit_MalformedJSON(t *testing.T) {
	crm := &fakeCRM{lead: &espo.Lead{ID: "x"}}
	_, _, r := newTestAPI(crm)

	rec := postLead(r, "203.0.113.1", `{"name": "Ив`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp errorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestSubmit_RateLimitSixthDenied(t *testing.T) {
	crm := &fakeCRM{lead: &espo.Lead{ID: "x"}}
	_, clk, r := newTestAPI(crm)

	valid := `{"name":"Иван Иванов","phoneNumber":"+79991234567"}`
	for i := 0; i < 5; i++ {
		if rec := postLead(r, "203.0.113.1", valid); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}

	rec := postLead(r, "203.0.113.1", valid)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("request 6: status = %d, want 429", rec.Code)
	}
	var resp errorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q", resp.Code)
	}
	if resp.Error != "Слишком много запросов. Попробуйте позже." {
		t.Errorf("error = %q", resp.Error)
	}
	if len(crm.inputs) != 5 {
		t.Errorf("crm calls = %d, want 5", len(crm.inputs))
	}

	// another client is unaffected
	if rec := postLead(r, "203.0.113.2", valid); rec.Code != http.StatusOK {
		t.Fatalf("other client: status = %d", rec.Code)
	}

	// the window expiring restores service
	clk.Advance(61 * time.Second)
	if rec := postLead(r, "203.0.113.1", valid); rec.Code != http.StatusOK {
		t.Fatalf("after window: status = %d", rec.Code)
	}
}

func TestSubmit_InvalidSubmissionsConsumeBudget(t *testing.T) {
	crm := &fakeCRM{lead: &espo.Lead{ID: "x"}}
	_, _, r := newTestAPI(crm)

	for i := 0; i < 5; i++ {
		postLead(r, "203.0.113.1", `{"name":"A","phoneNumber":"123"}`)
	}
	rec := postLead(r, "203.0.113.1", `{"name":"Иван Иванов","phoneNumber":"+79991234567"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after five invalid attempts", rec.Code)
	}
}

func TestSubmit_UpstreamFailure(t *testing.T) {
	crm := &fakeCRM{err: &espo.RejectedError{StatusCode: 500, Body: "boom"}}
	_, _, r := newTestAPI(crm)

	rec := postLead(r, "203.0.113.1", `{"name":"Иван Иванов","phoneNumber":"+79991234567"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var resp errorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q", resp.Code)
	}
	if resp.Error != "Ошибка создания заявки. Пожалуйста, попробуйте позже." {
		t.Errorf("error = %q", resp.Error)
	}
}

func TestSubmit_NotConfiguredCRMIsInternalError(t *testing.T) {
	crm := &fakeCRM{err: espo.ErrNotConfigured}
	_, _, r := newTestAPI(crm)

	rec := postLead(r, "203.0.113.1", `{"name":"Иван Иванов","phoneNumber":"+79991234567"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestSubmit_UnknownClientsShareBudget(t *testing.T) {
	crm := &fakeCRM{lead: &espo.Lead{ID: "x"}}
	_, _, r := newTestAPI(crm)

	valid := `{"name":"Иван Иванов","phoneNumber":"+79991234567"}`
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/leads", strings.NewReader(valid))
		// no ClientIP middleware ran, context resolves to the sentinel
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/leads", strings.NewReader(valid))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth anonymous request: status = %d, want 429", rec.Code)
	}
}
