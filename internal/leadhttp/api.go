// Package leadhttp serves the lead submission endpoint: rate limit by
// client, validate the form, create the lead in the CRM.
package leadhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cleanplanet/cleanplanet-web/internal/espo"
	"github.com/cleanplanet/cleanplanet-web/internal/httpmw"
	"github.com/cleanplanet/cleanplanet-web/internal/leadform"
	"github.com/cleanplanet/cleanplanet-web/internal/log"
	"github.com/cleanplanet/cleanplanet-web/internal/metrics"
	"github.com/cleanplanet/cleanplanet-web/internal/ratelimit"
)

// Stable machine-readable error codes for form clients.
const (
	codeRateLimited = "RATE_LIMIT_EXCEEDED"
	codeValidation  = "VALIDATION_ERROR"
	codeInternal    = "INTERNAL_ERROR"
)

// User-facing Russian messages; the form shows these verbatim.
const (
	msgCreated     = "Заявка успешно создана. Мы свяжемся с вами в ближайшее время."
	msgRateLimited = "Слишком много запросов. Попробуйте позже."
	msgBadForm     = "Неверные данные формы"
	msgInternal    = "Ошибка создания заявки. Пожалуйста, попробуйте позже."
)

// LeadCreator is the CRM side of the gateway.
type LeadCreator interface {
	CreateLead(ctx context.Context, in espo.CreateLeadInput) (*espo.Lead, error)
}

// API handles lead submissions.
type API struct {
	validator *leadform.Validator
	limiter   *ratelimit.WindowLimiter
	crm       LeadCreator
	metrics   *metrics.ServerMetrics
}

// NewAPI constructs the lead API. metrics may be nil in tests.
func NewAPI(limiter *ratelimit.WindowLimiter, crm LeadCreator, m *metrics.ServerMetrics) *API {
	return &API{
		validator: leadform.NewValidator(),
		limiter:   limiter,
		crm:       crm,
		metrics:   m,
	}
}

// RegisterRoutes attaches POST /api/leads.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Method(http.MethodPost, "/api/leads", http.HandlerFunc(api.handleSubmit))
}

type successResponse struct {
	Success bool   `json:"success"`
	LeadID  string `json:"leadId"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string                `json:"error"`
	Code    string                `json:"code"`
	Details []leadform.FieldError `json:"details,omitempty"`
}

func (api *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)
	clientID := httpmw.ClientIPFromContext(ctx)

	// every submission attempt consumes budget, valid or not
	if !api.limiter.Allow(clientID) {
		api.countOutcome(metrics.LeadOutcomeRateLimited)
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error: msgRateLimited,
			Code:  codeRateLimited,
		})
		return
	}

	var sub leadform.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		api.countOutcome(metrics.LeadOutcomeInvalid)
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: msgBadForm,
			Code:  codeValidation,
		})
		return
	}

	if fieldErrs := api.validator.Validate(&sub); fieldErrs != nil {
		api.countOutcome(metrics.LeadOutcomeInvalid)
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   msgBadForm,
			Code:    codeValidation,
			Details: fieldErrs,
		})
		return
	}

	start := time.Now()
	lead, err := api.crm.CreateLead(ctx, espo.CreateLeadInput{
		Name:        sub.Name,
		PhoneNumber: sub.PhoneNumber,
		Address:     sub.Address,
		Description: sub.Description,
	})
	if api.metrics != nil {
		api.metrics.ObserveLeadUpstreamDuration(time.Since(start).Seconds())
	}
	if err != nil {
		api.countOutcome(metrics.LeadOutcomeUpstreamError)
		logUpstreamFailure(ctx, L, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: msgInternal,
			Code:  codeInternal,
		})
		return
	}

	api.countOutcome(metrics.LeadOutcomeCreated)
	L.Info(ctx, "lead created", "lead_id", lead.ID)

	remaining, resetAt := api.limiter.Remaining(clientID)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

	writeJSON(w, http.StatusOK, successResponse{
		Success: true,
		LeadID:  lead.ID,
		Message: msgCreated,
	})
}

func (api *API) countOutcome(outcome string) {
	if api.metrics != nil {
		api.metrics.IncLeadOutcome(outcome)
	}
}

func logUpstreamFailure(ctx context.Context, L log.Logger, err error) {
	var rej *espo.RejectedError
	switch {
	case errors.Is(err, espo.ErrNotConfigured):
		L.Warn(ctx, "lead dropped, crm not configured")
	case errors.Is(err, espo.ErrUnreachable):
		L.Error(ctx, err, "crm unreachable")
	case errors.As(err, &rej):
		L.Error(ctx, err, "crm rejected lead", "upstream_status", rej.StatusCode)
	default:
		L.Error(ctx, err, "crm lead creation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// encoding the fixed response shapes cannot fail
	_ = json.NewEncoder(w).Encode(v)
}
