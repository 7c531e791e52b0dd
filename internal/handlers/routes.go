package handlers

import (
	"net/http"

	"github.com/ukydev/where-is-my-bus/internal/middleware"
)

// NewRouter wires the API routes. A nil limiter leaves updates unthrottled.
func NewRouter(h *BusHandler, corsOrigin string, limiter *middleware.RateLimiter) http.Handler {
	mux := http.NewServeMux()

	var update http.Handler = http.HandlerFunc(h.UpdateBus)
	if limiter != nil {
		update = limiter.Middleware(update)
	}

	mux.Handle("/api/updateBus", update)
	mux.HandleFunc("/api/buses", h.ListBuses)
	mux.HandleFunc("/api/nearest", h.Nearest)
	mux.HandleFunc("/api/gtfs-rt/vehicle-positions", h.VehiclePositions)
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/", h.Root)

	return middleware.Chain(mux, middleware.RequestLogger, middleware.CORS(corsOrigin))
}
