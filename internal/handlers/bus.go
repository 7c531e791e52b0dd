package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/where-is-my-bus/internal/db"
	"github.com/ukydev/where-is-my-bus/internal/gtfsrt"
	"github.com/ukydev/where-is-my-bus/internal/ingest"
	"github.com/ukydev/where-is-my-bus/internal/models"
	"github.com/ukydev/where-is-my-bus/internal/nearest"
)

// Banner is the plain-text body served at the root path.
const Banner = "Where Is My Bus Backend Running 🚍"

// BusHandler serves the tracker API
type BusHandler struct {
	store        db.VehicleStore
	engine       *nearest.Engine
	maxBodyBytes int64
	now          func() time.Time
}

// NewBusHandler creates a new bus handler. A non-positive maxBodyBytes
// disables the request body cap.
func NewBusHandler(store db.VehicleStore, engine *nearest.Engine, maxBodyBytes int64) *BusHandler {
	return &BusHandler{
		store:        store,
		engine:       engine,
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
	}
}

// UpdateBus accepts a tracker record and replaces the stored state of the
// vehicle it names
func (h *BusHandler) UpdateBus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	fields, err := models.DecodeFields(data)
	if err != nil {
		writeClientError(w, err)
		return
	}

	state, err := ingest.Submit(h.store, fields)
	if err != nil {
		writeClientError(w, err)
		return
	}

	log.WithField("bus_id", state.VehicleID).Debug("Updated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// ListBuses returns every stored vehicle in first-insertion order
func (h *BusHandler) ListBuses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.store.List())
}

// Nearest returns the vehicles closest to the lat/lng query point
func (h *BusHandler) Nearest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	params := r.URL.Query()
	q, err := h.engine.ParseQuery(params.Get("lat"), params.Get("lng"), params.Get("limit"), params.Get("radius"))
	if err != nil {
		writeClientError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.engine.Nearest(q))
}

// VehiclePositions exports the store as a GTFS-Realtime feed
func (h *BusHandler) VehiclePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	data, err := gtfsrt.Marshal(h.store.List(), h.now())
	if err != nil {
		log.WithError(err).Error("Failed to encode GTFS-RT feed")
		writeError(w, http.StatusInternalServerError, "Failed to encode feed")
		return
	}
	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Health reports liveness and the number of tracked vehicles
func (h *BusHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"vehicles": h.store.Len(),
	})
}

// Root serves the banner. Unknown paths get 404.
func (h *BusHandler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, Banner)
}

func writeClientError(w http.ResponseWriter, err error) {
	var cie *models.ClientInputError
	if errors.As(err, &cie) {
		writeError(w, http.StatusBadRequest, cie.Message)
		return
	}
	log.WithError(err).Error("Request failed")
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
