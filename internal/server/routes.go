package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limitBody)
		r.Use(jsonContentType)
		r.Use(corsMiddleware(s.corsOrigin))

		r.Get("/devices", s.handleListDevices)
		r.Post("/devices/{deviceID}/connect", s.handleConnectDevice)
		r.Post("/devices/{deviceID}/disconnect", s.handleDisconnectDevice)
		r.Post("/devices/{deviceID}/cmd", s.handleDeviceCommand)
		r.Delete("/devices/{deviceID}", s.handleForgetDevice)

		r.Get("/state/{deviceID}", s.handleGetState)
		r.Get("/stream/{deviceID}", s.handleStateStream)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
