package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"baerlink/internal/models"
	"baerlink/internal/transport"
)

// deviceListing is a stored device plus its live connection status, if any.
type deviceListing struct {
	models.KnownDevice
	Status models.Status `json:"status"`
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing devices")
		return
	}

	listings := make([]deviceListing, 0, len(devices))
	for _, dev := range devices {
		listing := deviceListing{KnownDevice: dev, Status: models.StatusDisconnected}
		if d, ok := s.registry.Get(dev.ID); ok {
			listing.Status = d.Status()
		}
		listings = append(listings, listing)
	}
	writeJSON(w, http.StatusOK, listings)
}

func (s *Server) handleConnectDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	dev, err := s.store.GetDevice(id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading device")
		return
	}

	d, err := s.registry.GetOrCreate(r.Context(), *dev)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d.Snapshot())
}

func (s *Server) handleDisconnectDevice(w http.ResponseWriter, r *http.Request) {
	s.registry.Remove(chi.URLParam(r, "deviceID"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForgetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	s.registry.Remove(id)
	if err := s.store.DeleteDevice(id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown device")
			return
		}
		writeError(w, http.StatusInternalServerError, "deleting device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "deviceID")
	d, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "device not connected")
		return
	}

	var cmd models.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid command body")
		return
	}
	if err := cmd.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := d.Send(r.Context(), cmd); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			writeError(w, http.StatusConflict, "device not connected")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
