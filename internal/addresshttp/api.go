// Package addresshttp proxies the form's address-autocomplete calls to the
// DaData suggestion service, keeping the API key server-side.
package addresshttp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cleanplanet/cleanplanet-web/internal/log"
	"github.com/cleanplanet/cleanplanet-web/internal/metrics"
)

// Suggester is the upstream side of the proxy.
type Suggester interface {
	Suggest(ctx context.Context, query string) ([]byte, error)
	Geolocate(ctx context.Context, lat, lon float64) ([]byte, error)
}

// API handles the address endpoints.
type API struct {
	upstream Suggester
	metrics  *metrics.ServerMetrics
}

// NewAPI constructs the address API. m may be nil in tests.
func NewAPI(upstream Suggester, m *metrics.ServerMetrics) *API {
	return &API{upstream: upstream, metrics: m}
}

// RegisterRoutes attaches POST /api/address/suggest and /api/address/geolocate.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Method(http.MethodPost, "/api/address/suggest", http.HandlerFunc(api.handleSuggest))
	r.Method(http.MethodPost, "/api/address/geolocate", http.HandlerFunc(api.handleGeolocate))
}

type suggestRequest struct {
	Query string `json:"query"`
}

type geolocateRequest struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

func (api *API) handleSuggest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req suggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// treat an unreadable body as an empty query
		req.Query = ""
	}

	data, err := api.upstream.Suggest(ctx, req.Query)
	if err != nil {
		api.count("suggest", "upstream_error")
		log.FromContext(ctx).Error(ctx, err, "address suggest failed")
		writeError(w, http.StatusInternalServerError, "Failed to fetch address suggestions")
		return
	}

	api.count("suggest", "ok")
	relayJSON(w, data)
}

func (api *API) handleGeolocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req geolocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Lat == nil || req.Lon == nil {
		api.count("geolocate", "bad_request")
		writeError(w, http.StatusBadRequest, "Latitude and longitude are required")
		return
	}

	data, err := api.upstream.Geolocate(ctx, *req.Lat, *req.Lon)
	if err != nil {
		api.count("geolocate", "upstream_error")
		log.FromContext(ctx).Error(ctx, err, "address geolocate failed")
		writeError(w, http.StatusInternalServerError, "Failed to geolocate address")
		return
	}

	api.count("geolocate", "ok")
	relayJSON(w, data)
}

func (api *API) count(endpoint, outcome string) {
	if api.metrics != nil {
		api.metrics.IncAddressProxy(endpoint, outcome)
	}
}

// relayJSON passes the upstream body through untouched.
func relayJSON(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
