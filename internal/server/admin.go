package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/karteio/geosearch/internal/auth/apikey"
	"github.com/karteio/geosearch/pkg/logger"
)

// AdminHandler manages API keys. Nil validator disables the endpoints.
type AdminHandler struct {
	validator *apikey.Validator
}

func NewAdminHandler(validator *apikey.Validator) *AdminHandler {
	return &AdminHandler{validator: validator}
}

type createKeyRequest struct {
	Name      string     `json:"name"`
	RateLimit int        `json:"rate_limit"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateKey handles POST /api/v1/admin/keys. The raw key is returned once
// and never retrievable again.
func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	if h.validator == nil {
		writeAdminError(w, http.StatusServiceUnavailable, "key management is disabled")
		return
	}
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeAdminError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.RateLimit <= 0 {
		req.RateLimit = 60
	}
	rawKey, err := h.validator.CreateKey(r.Context(), req.Name, req.RateLimit, req.ExpiresAt)
	if err != nil {
		logger.FromContext(r.Context()).Error("key creation failed", "name", req.Name, "error", err)
		writeAdminError(w, http.StatusInternalServerError, "key creation failed")
		return
	}
	writeAdminJSON(w, http.StatusCreated, map[string]any{
		"key":        rawKey,
		"name":       req.Name,
		"rate_limit": req.RateLimit,
	})
}

// ListKeys handles GET /api/v1/admin/keys.
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	if h.validator == nil {
		writeAdminError(w, http.StatusServiceUnavailable, "key management is disabled")
		return
	}
	keys, err := h.validator.ListKeys(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("key listing failed", "error", err)
		writeAdminError(w, http.StatusInternalServerError, "key listing failed")
		return
	}
	writeAdminJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func writeAdminJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	writeAdminJSON(w, status, map[string]string{"error": message})
}
