// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"context"
	"net/http"
)

// Pinger is anything that can report connectivity.
// Satisfied by *store.PostgresStore and *store.RedisStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports per-dependency status. Cache may be nil when Redis is disabled.
type HealthHandler struct {
	DB    Pinger
	Cache Pinger
}

// CheckHealth returns 200 if every configured dependency answers, 503 otherwise.
func (h *HealthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	postgresStatus, redisStatus := "ok", "disabled"

	if err := h.DB.Ping(r.Context()); err != nil {
		logError(r, "postgres health check failed", "error", err)
		postgresStatus = "error"
	}
	if h.Cache != nil {
		redisStatus = "ok"
		if err := h.Cache.Ping(r.Context()); err != nil {
			logError(r, "redis health check failed", "error", err)
			redisStatus = "error"
		}
	}

	status := http.StatusOK
	if postgresStatus == "error" || redisStatus == "error" {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, struct {
		Success  bool   `json:"success"`
		Postgres string `json:"postgres"`
		Redis    string `json:"redis"`
	}{status == http.StatusOK, postgresStatus, redisStatus})
}
