package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/internal/limiter"
)

func HelloHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"message":   "Hello! Your request was successful.",
		"timestamp": time.Now().Format(time.RFC3339),
	}

	writeJSON(w, http.StatusOK, response)
}

func StatusHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}

	writeJSON(w, http.StatusOK, response)
}

// AdminHandler exposes quota inspection and administrative resets. These
// endpoints sit outside the rate-limited groups.
type AdminHandler struct {
	limiter *limiter.Limiter
	logger  *zap.Logger
}

func NewAdminHandler(l *limiter.Limiter, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{limiter: l, logger: logger}
}

// Usage reports the identifier's current request count. An optional ?window=
// query (seconds) overrides the default window.
func (h *AdminHandler) Usage(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	windowSeconds := 0
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "window must be a positive integer",
			})
			return
		}
		windowSeconds = parsed
	}

	usage, err := h.limiter.Usage(r.Context(), identifier, windowSeconds)
	if err != nil {
		h.logger.Error("usage lookup failed", zap.String("identifier", identifier), zap.Error(err))
		writeJSON(w, storeErrorStatus(err), map[string]string{"error": "usage lookup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identifier": identifier,
		"usage":      usage,
	})
}

// Reset wipes the identifier's quota state.
func (h *AdminHandler) Reset(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	existed, err := h.limiter.Reset(r.Context(), identifier)
	if err != nil {
		h.logger.Error("reset failed", zap.String("identifier", identifier), zap.Error(err))
		writeJSON(w, storeErrorStatus(err), map[string]string{"error": "reset failed"})
		return
	}

	h.logger.Info("rate limit reset", zap.String("identifier", identifier), zap.Bool("existed", existed))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identifier": identifier,
		"existed":    existed,
	})
}

func storeErrorStatus(err error) int {
	if errors.Is(err, limiter.ErrInvalidPolicy) {
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
