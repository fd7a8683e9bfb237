package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/logging"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp   ComponentStatus = "up"
	ComponentStatusDown ComponentStatus = "down"
)

type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	LatencyMs float64         `json:"latency_ms"`
}

type readiness struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

// handleHealth is the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether both stores answer.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]func(context.Context) error{
		"database": s.deps.Repo.Ping,
		"storage":  s.deps.Store.Ping,
	}
	res := readiness{Status: "ok", Timestamp: time.Now().UTC(), Components: make(map[string]ComponentHealth, len(checks))}
	for name, check := range checks {
		start := time.Now()
		err := check(ctx)
		ch := ComponentHealth{Status: ComponentStatusUp, LatencyMs: float64(time.Since(start).Microseconds()) / 1000}
		if err != nil {
			logging.FromContext(r.Context()).Warn("readiness check failed", zap.String("component", name), zap.Error(err))
			ch.Status = ComponentStatusDown
			res.Status = "not_ready"
		}
		res.Components[name] = ch
	}

	status := http.StatusOK
	if res.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}
