// Package health reports component readiness over HTTP.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Check probes one component. A nil error means healthy.
type Check func() error

// Handler serves GET /health from a set of named component checks.
type Handler struct {
	checks map[string]Check
	logger *logrus.Logger
}

// NewHandler creates a handler with no checks registered.
func NewHandler(logger *logrus.Logger) *Handler {
	return &Handler{checks: make(map[string]Check), logger: logger}
}

// Register adds a component check.
func (h *Handler) Register(name string, check Check) {
	h.checks[name] = check
}

// Response is the health endpoint's JSON body.
type Response struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// ServeHTTP implements http.Handler. Any failing component degrades the
// overall status to 503.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := Response{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(h.checks)),
	}

	code := http.StatusOK
	for name, check := range h.checks {
		if err := check(); err != nil {
			resp.Components[name] = err.Error()
			resp.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			h.logger.WithFields(logrus.Fields{
				"component": name,
				"error":     err,
			}).Warn("Health check failed")
			continue
		}
		resp.Components[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
