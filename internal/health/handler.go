// Package health exposes the /api/v1/health and /api/v1/ready HTTP handlers.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/d9705996/schoolhub/internal/api/jsonapi"
	"github.com/d9705996/schoolhub/internal/version"
)

// Pinger is implemented by anything that can check a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check names one dependency probed by /ready.
type Check struct {
	Name   string
	Pinger Pinger
}

// Handler holds dependencies for the health and ready endpoints.
type Handler struct {
	checks    []Check
	startTime time.Time
}

// New creates a Handler. A check with a nil Pinger is treated as not yet
// initialised and makes /ready return 503.
func New(checks ...Check) *Handler {
	return &Handler{checks: checks, startTime: time.Now()}
}

// healthAttrs is the JSON:API attributes payload for the health response.
type healthAttrs struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"build_date"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ServeHealth handles GET /api/v1/health.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type: "health",
		ID:   "1",
		Attributes: healthAttrs{
			Status:        "ok",
			Version:       version.Version,
			Commit:        version.Commit,
			BuildDate:     version.Date,
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		},
	})
}

// ServeReady handles GET /api/v1/ready.
// Returns 200 when every dependency answers a ping; 503 otherwise, with one
// error per failing dependency.
func (h *Handler) ServeReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	var errs []jsonapi.ErrorObject
	for _, c := range h.checks {
		if c.Pinger == nil {
			errs = append(errs, unavailable(c.Name, c.Name+" is not initialised"))
			status[c.Name] = "down"
			continue
		}
		if err := c.Pinger.Ping(ctx); err != nil {
			errs = append(errs, unavailable(c.Name, c.Name+" is unreachable: "+err.Error()))
			status[c.Name] = "down"
			continue
		}
		status[c.Name] = "ok"
	}
	if len(errs) > 0 {
		jsonapi.RenderErrors(w, http.StatusServiceUnavailable, errs)
		return
	}

	status["status"] = "ok"
	jsonapi.RenderOne(w, http.StatusOK, jsonapi.ResourceObject{
		Type:       "ready",
		ID:         "1",
		Attributes: status,
	})
}

func unavailable(name, detail string) jsonapi.ErrorObject {
	return jsonapi.ErrorObject{
		Status: http.StatusText(http.StatusServiceUnavailable),
		Code:   "dependency_unavailable",
		Title:  "Service Unavailable",
		Detail: detail,
		Source: &jsonapi.ErrorSource{Parameter: name},
	}
}
