package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	d, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "device not connected")
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}
