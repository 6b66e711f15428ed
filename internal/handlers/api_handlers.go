package handlers

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"
	"strconv"
	"time"

	"timekeeper-go/internal/config"
	"timekeeper-go/internal/core/attendance"
	"timekeeper-go/internal/core/models"
	"timekeeper-go/internal/ledger"
	"timekeeper-go/internal/recognition"
	"timekeeper-go/internal/server/sse"
	"timekeeper-go/internal/utils"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultEventLimit = 100

// maxEnrollmentUpload bounds the multipart memory for enrollment images.
const maxEnrollmentUpload = 10 << 20 // 10 MB

// APIHandler holds dependencies for API endpoints.
type APIHandler struct {
	Cfg      *config.Config
	DB       *gorm.DB
	Ledger   ledger.Ledger
	Engine   *attendance.Engine
	Enroller *recognition.Enroller
	Catalog  *recognition.Catalog
	Hub      *sse.Hub
}

// NewAPIHandler creates a new API handler with dependencies.
func NewAPIHandler(cfg *config.Config, db *gorm.DB, led ledger.Ledger, engine *attendance.Engine, enroller *recognition.Enroller, catalog *recognition.Catalog, hub *sse.Hub) *APIHandler {
	return &APIHandler{
		Cfg:      cfg,
		DB:       db,
		Ledger:   led,
		Engine:   engine,
		Enroller: enroller,
		Catalog:  catalog,
		Hub:      hub,
	}
}

// RegisterRoutes sets up the API endpoints using chi.Router
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleGetEvents)
	r.Get("/events/export", h.handleExportEvents)
	r.Get("/events/stream", h.handleEventStream)

	r.Get("/identities", h.handleGetIdentities)
	r.Get("/identities/{name}/status", h.handleGetIdentityStatus)
	r.Post("/identities/{name}/faces", h.handleEnrollFace)

	r.Get("/system", h.handleSystemStats)
}

// handleGetEvents returns recent attendance events, newest first.
func (h *APIHandler) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	events, err := h.Ledger.Recent(limit)
	if err != nil {
		log.Errorf("Error reading recent events from ledger: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to read events")
		return
	}

	respondWithJSON(w, http.StatusOK, events)
}

// handleExportEvents streams the complete ledger as a CSV download.
func (h *APIHandler) handleExportEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Ledger.Recent(math.MaxInt32)
	if err != nil {
		log.Errorf("Error reading ledger for export: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to read events")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"attendance-%s.csv\"", time.Now().Format("2006-01-02")))

	cw := csv.NewWriter(w)
	if err := cw.Write(ledger.Columns); err != nil {
		log.Errorf("Error writing export header: %v", err)
		return
	}
	// Recent returns newest first; the export is chronological.
	for i := len(events) - 1; i >= 0; i-- {
		ev := &events[i]
		record := []string{
			ev.Name,
			ev.Date,
			ev.Time,
			string(ev.Status),
			strconv.FormatFloat(ev.Confidence, 'f', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			log.Errorf("Error writing export row: %v", err)
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Errorf("Error flushing export: %v", err)
	}
}

// handleEventStream serves committed attendance events over SSE.
func (h *APIHandler) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := make(sse.Client, 16)
	h.Hub.Register(client)
	defer h.Hub.Unregister(client)

	// Initial comment keeps proxies from buffering the response.
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case message, ok := <-client:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", message)
			flusher.Flush()
		}
	}
}

// identityResponse is the API view of one enrolled identity.
type identityResponse struct {
	ID         uint          `json:"id"`
	Name       string        `json:"name"`
	ExternalID string        `json:"external_id,omitempty"`
	FaceCount  int           `json:"face_count"`
	Status     models.Status `json:"status"`
}

// handleGetIdentities lists all enrolled identities with their current
// attendance status.
func (h *APIHandler) handleGetIdentities(w http.ResponseWriter, r *http.Request) {
	var identities []models.Identity
	if err := h.DB.Preload("EnrolledFaces").Order("name ASC").Find(&identities).Error; err != nil {
		log.Errorf("Error fetching identities: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to fetch identities")
		return
	}

	response := make([]identityResponse, 0, len(identities))
	for i := range identities {
		id := &identities[i]
		status := models.StatusOut
		if state, ok := h.Engine.State(id.Name); ok {
			status = state.Status
		}
		response = append(response, identityResponse{
			ID:         id.ID,
			Name:       id.Name,
			ExternalID: id.ExternalID,
			FaceCount:  len(id.EnrolledFaces),
			Status:     status,
		})
	}

	respondWithJSON(w, http.StatusOK, response)
}

// statusResponse is the API view of one identity's attendance state.
type statusResponse struct {
	Name          string        `json:"name"`
	Status        models.Status `json:"status"`
	LastEventTime *time.Time    `json:"last_event_time,omitempty"`
}

// handleGetIdentityStatus returns the current IN/OUT state of one identity.
// Identities never seen this session (or ever) report OUT.
func (h *APIHandler) handleGetIdentityStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Missing identity name")
		return
	}

	response := statusResponse{Name: name, Status: models.StatusOut}
	if state, ok := h.Engine.State(name); ok {
		response.Status = state.Status
		response.LastEventTime = &state.LastEventTime
	}

	respondWithJSON(w, http.StatusOK, response)
}

// handleEnrollFace registers a reference face image for an identity.
func (h *APIHandler) handleEnrollFace(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name == models.UnknownIdentity {
		respondWithError(w, http.StatusBadRequest, "Invalid identity name")
		return
	}

	if err := r.ParseMultipartForm(maxEnrollmentUpload); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Missing image file")
		return
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		log.Warnf("Enrollment upload for '%s' is not a decodable image: %v", name, err)
		respondWithError(w, http.StatusBadRequest, "Unsupported image format")
		return
	}

	log.Infof("Received enrollment image '%s' for identity '%s'", header.Filename, name)

	face, err := h.Enroller.Enroll(r.Context(), name, img, header.Filename)
	if err != nil {
		switch {
		case errors.Is(err, recognition.ErrNoFace):
			respondWithError(w, http.StatusUnprocessableEntity, "No face detected in image")
		case errors.Is(err, recognition.ErrModelUnavailable):
			respondWithError(w, http.StatusServiceUnavailable, "Recognition service unavailable")
		default:
			log.Errorf("Enrollment failed for '%s': %v", name, err)
			respondWithError(w, http.StatusInternalServerError, "Enrollment failed")
		}
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"identity": name,
		"face_id":  face.ID,
	})
}

// handleSystemStats returns runtime statistics for the dashboard.
func (h *APIHandler) handleSystemStats(w http.ResponseWriter, r *http.Request) {
	stats := utils.GetSystemStats()
	stats.CatalogSize = h.Catalog.Count()
	stats.PendingWrites = h.Engine.PendingWrites()

	respondWithJSON(w, http.StatusOK, stats)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// Helper function to send JSON responses
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("Failed to marshal JSON response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("{\"error\": \"Internal Server Error\"}"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Errorf("Failed to write JSON response: %v", err)
	}
}
