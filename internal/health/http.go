package health

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthzHandler serves a liveness probe: 200 "ok" or 503 with the reason.
// A nil probe is treated as always healthy.
func HealthzHandler(p Probe) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
}

// ReadyzHandler serves a readiness probe: 200 "ready" or 503 with the reason.
func ReadyzHandler(p Probe) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready\n"))
	})
}

// API registers the probe endpoints on the site router, so load balancers
// and uptime checks can reach them without access to the ops port.
type API struct {
	Live  Probe
	Ready Probe
}

func NewAPI(live, ready Probe) *API {
	return &API{Live: live, Ready: ready}
}

// RegisterRoutes attaches /-/ping, /-/healthy, /-/ready.
func (api *API) RegisterRoutes(r chi.Router) {
	// super-dumb liveness: "is the process up and answering?"
	r.Method(http.MethodGet, "/-/ping",
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("pong\n"))
		}),
	)

	r.Method(http.MethodGet, "/-/healthy", HealthzHandler(api.Live))
	r.Method(http.MethodGet, "/-/ready", ReadyzHandler(api.Ready))
}
