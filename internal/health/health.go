// Package health provides HTTP liveness and readiness handlers for the
// companion process.
//
//   - /healthz — liveness; a process that can serve HTTP is alive.
//   - /readyz  — readiness; passes only when every registered probe passes,
//     typically the state store and the inference engine.
//
// Both endpoints respond with a JSON body carrying a "status" field and,
// for readiness, a per-probe "checks" map.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds how long a single readiness probe may run.
const probeTimeout = 5 * time.Second

// Probe is a named readiness check. Fn returns nil when the dependency is
// usable and an error describing the failure otherwise. It must respect
// context cancellation.
type Probe struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Pinger is implemented by stores that can verify their backing medium is
// reachable, such as a database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreProbe builds a Probe from any store exposing a Ping method.
func StoreProbe(name string, p Pinger) Probe {
	return Probe{Name: name, Fn: p.Ping}
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz routes. The probe list is fixed
// at construction time, so the handler is safe for concurrent use.
type Handler struct {
	probes []Probe
}

// New creates a [Handler] that runs the given probes, in order, on each
// /readyz request.
func New(probes ...Probe) *Handler {
	p := make([]Probe, len(probes))
	copy(p, probes)
	return &Handler{probes: p}
}

// Healthz always answers 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz answers 200 only when every probe passes. Each probe runs under a
// [probeTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.probes))
	ready := true

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Fn(ctx)
		cancel()

		if err != nil {
			checks[p.Name] = "fail: " + err.Error()
			ready = false
		} else {
			checks[p.Name] = "ok"
		}
	}

	res := response{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !ready {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
