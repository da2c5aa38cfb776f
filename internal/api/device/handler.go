package device

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	domain "github.com/oshokin/smart-alarm/internal/domain/alarm"
	"github.com/oshokin/smart-alarm/internal/logger"
)

// maxScanBodySize caps uploaded camera frames. ESP32-CAM JPEG frames are
// well under a megabyte; anything bigger is not a frame.
const maxScanBodySize = 5 << 20

// Service abstracts the core operations the device transport depends on.
type Service interface {
	DevicePoll(ctx context.Context) (string, error)
	DeviceScan(ctx context.Context, imageBytes []byte) (*domain.ScanResult, error)
}

// Handler serves the HTTP API the confirmation device polls.
type Handler struct {
	service Service
}

// NewHandler wires the core service into an HTTP handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// NewRouter registers the device routes.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", handler.health)
	r.Get("/api/device/poll", handler.poll)
	r.Post("/api/device/scan", handler.scan)

	return r
}

// pollResponse is the wire format for poll answers.
type pollResponse struct {
	State string `json:"state"`
}

// scanResponse is the wire format for scan outcomes.
type scanResponse struct {
	Action      string `json:"action"`
	Message     string `json:"message,omitempty"`
	WakeSeconds *int64 `json:"wake_time_seconds,omitempty"`
}

// healthResponse is the wire format for the root health route.
type healthResponse struct {
	Status      string `json:"status"`
	DeviceState string `json:"device_state"`
}

// errorResponse is the wire format for failures.
type errorResponse struct {
	Error string `json:"error"`
}

// health reports liveness and the current device state.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.DevicePoll(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "storage unavailable")

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, healthResponse{
		Status:      "running",
		DeviceState: state,
	})
}

// poll answers the device's periodic state query.
func (h *Handler) poll(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.DevicePoll(r.Context())
	if err != nil {
		logger.ErrorKV(r.Context(), "Device poll failed", "error", err)
		writeError(r.Context(), w, http.StatusInternalServerError, "storage unavailable")

		return
	}

	writeJSON(r.Context(), w, http.StatusOK, pollResponse{State: state})
}

// scan accepts a raw camera frame and reports the action to take.
func (h *Handler) scan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxScanBodySize)

	imageBytes, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "image too large")

			return
		}

		writeError(r.Context(), w, http.StatusBadRequest, "unreadable body")

		return
	}

	if len(imageBytes) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "no image")

		return
	}

	result, err := h.service.DeviceScan(r.Context(), imageBytes)
	if err != nil {
		logger.ErrorKV(r.Context(), "Device scan failed", "error", err)
		writeError(r.Context(), w, http.StatusInternalServerError, "storage unavailable")

		return
	}

	response := scanResponse{
		Action:  result.Action,
		Message: result.Message,
	}
	if result.Action == domain.ActionStop {
		wakeSeconds := result.WakeSeconds
		response.WakeSeconds = &wakeSeconds
	}

	writeJSON(r.Context(), w, http.StatusOK, response)
}

// writeJSON serialises a payload, logging encode failures.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.ErrorKV(ctx, "Failed to encode response", "error", err)
	}
}

// writeError serialises an error payload.
func writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	writeJSON(ctx, w, status, errorResponse{Error: message})
}
