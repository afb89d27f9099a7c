package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
)

// Pinger is a dependency that can report its own reachability.
// *database.PostgresDB and *database.RedisDB implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles liveness and readiness probes.
type HealthHandler struct {
	deps    map[string]Pinger
	timeout time.Duration
}

// NewHealthHandler creates a health handler checking the named deps.
//
// Example:
//
//	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
//	    "postgres": postgresDB,
//	    "redis":    redisDB,
//	})
//	r.Get("/health", healthHandler.Health)
//	r.Get("/ready", healthHandler.Ready)
func NewHealthHandler(deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{deps: deps, timeout: 5 * time.Second}
}

// HealthResponse is returned by both probes.
//
// JSON example:
//
//	{
//	  "status": "ok",
//	  "timestamp": "2026-03-14T21:00:00Z",
//	  "services": {
//	    "postgres": "healthy",
//	    "redis": "healthy"
//	  }
//	}
type HealthResponse struct {
	Status    string            `json:"status"`             // "ok" or "degraded"
	Timestamp time.Time         `json:"timestamp"`          // Current server time
	Services  map[string]string `json:"services,omitempty"` // Per dependency (readiness only)
}

// Health is the liveness probe. It does not touch dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Ready is the readiness probe: 200 when every dependency answers a ping
// within the timeout, 503 otherwise.
//
// The scheduler cannot fire deadlines without Redis and no transition can
// be stored without Postgres, so either one down takes the instance out of
// rotation.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	services := make(map[string]string, len(h.deps))
	allHealthy := true

	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			log.Error().Err(err).Str("dependency", name).Msg("Health check failed")
			services[name] = "unhealthy"
			allHealthy = false
			continue
		}
		services[name] = "healthy"
	}

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Services:  services,
	}

	statusCode := http.StatusOK
	if !allHealthy {
		response.Status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	utils.RespondWithJSON(w, r, statusCode, response)
}
