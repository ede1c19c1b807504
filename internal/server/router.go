package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/web8kameleon-hub/tokengate/internal/auth"
	"github.com/web8kameleon-hub/tokengate/internal/handlers"
	"github.com/web8kameleon-hub/tokengate/internal/middleware"
)

// NewRouter constructs a ServeMux with the tokengate API routes registered.
// throttle may be nil.
func NewRouter(h *handlers.Handler, authMW *middleware.AuthMiddleware, throttle *middleware.Throttle) http.Handler {
	mux := http.NewServeMux()

	// Telemetry and status
	mux.HandleFunc("POST /api/v1/telemetry", h.Telemetry)
	mux.HandleFunc("GET /api/v1/status", h.Status)
	mux.HandleFunc("GET /api/v1/info", h.Info)

	// Operator endpoints
	mux.HandleFunc("POST /api/v1/transfers", authMW.RequireRole(auth.RoleOperator, h.Transfer))
	mux.HandleFunc("POST /api/v1/physical/sign", authMW.RequireRole(auth.RoleOperator, h.SignPayload))
	mux.HandleFunc("POST /api/v1/physical/verify", h.VerifyPayload)

	// Health endpoints
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	if throttle != nil {
		handler = throttle.Handler(handler)
	}
	return middleware.RequestID(instrument(handler))
}
