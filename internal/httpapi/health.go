package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatingest/chatcore/internal/counterstore"
	"github.com/chatingest/chatcore/internal/searchindex"
)

// HealthChecker pings each backing service independently so /health
// can report which one, specifically, is down.
type HealthChecker struct {
	DB      *pgxpool.Pool
	Counter *counterstore.RedisStore
	Index   *searchindex.Index
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	services := map[string]string{}
	healthy := true

	if err := s.Health.DB.Ping(ctx); err != nil {
		services["postgres"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		services["postgres"] = "healthy"
	}

	if err := s.Health.Counter.Ping(ctx); err != nil {
		services["redis"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		services["redis"] = "healthy"
	}

	if err := s.Health.Index.Ping(ctx); err != nil {
		services["elasticsearch"] = "unhealthy: " + err.Error()
		healthy = false
	} else {
		services["elasticsearch"] = "healthy"
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, healthResponse{Status: status, Services: services})
}
