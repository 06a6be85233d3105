package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/stevkan/support-tracker/internal/interfaces"
	"github.com/stevkan/support-tracker/internal/models"
)

// SecretsHandler serves the typed secret store over HTTP. Only keys of the
// closed set are accepted.
type SecretsHandler struct {
	secrets interfaces.SecretStorage
	logger  arbor.ILogger
}

// NewSecretsHandler creates a new secrets handler
func NewSecretsHandler(secrets interfaces.SecretStorage, logger arbor.ILogger) *SecretsHandler {
	return &SecretsHandler{secrets: secrets, logger: logger}
}

// keyFromPath extracts the secret key from /api/secrets/{key}
func keyFromPath(path string) string {
	return strings.TrimPrefix(path, "/api/secrets/")
}

// SecretRouteHandler dispatches /api/secrets/{key} by method
func (h *SecretsHandler) SecretRouteHandler(w http.ResponseWriter, r *http.Request) {
	key := keyFromPath(r.URL.Path)
	if key == "" {
		WriteError(w, http.StatusBadRequest, "Missing secret key")
		return
	}
	if !models.IsValidSecretKey(key) {
		WriteError(w, http.StatusBadRequest, "Unsupported secret key")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getSecret(w, r, key)
	case http.MethodPut:
		h.setSecret(w, r, key)
	case http.MethodDelete:
		h.deleteSecret(w, r, key)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// getSecret handles GET /api/secrets/{key}. The value is only included when
// reveal=true is passed.
func (h *SecretsHandler) getSecret(w http.ResponseWriter, r *http.Request, key string) {
	value, err := h.secrets.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, interfaces.ErrSecretNotFound) {
			WriteJSON(w, http.StatusOK, map[string]interface{}{"hasValue": false})
			return
		}
		h.logger.Error().Err(err).Str("key", key).Msg("Failed to read secret")
		WriteError(w, http.StatusInternalServerError, "Failed to read secret")
		return
	}

	response := map[string]interface{}{"hasValue": value != ""}
	if r.URL.Query().Get("reveal") == "true" {
		response["value"] = value
	}
	WriteJSON(w, http.StatusOK, response)
}

// setSecret handles PUT /api/secrets/{key}
func (h *SecretsHandler) setSecret(w http.ResponseWriter, r *http.Request, key string) {
	var req struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Value == "" {
		WriteError(w, http.StatusBadRequest, "Value is required")
		return
	}

	if err := h.secrets.Set(r.Context(), key, req.Value); err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("Failed to store secret")
		WriteError(w, http.StatusInternalServerError, "Failed to store secret")
		return
	}

	WriteSuccess(w)
}

// deleteSecret handles DELETE /api/secrets/{key}
func (h *SecretsHandler) deleteSecret(w http.ResponseWriter, r *http.Request, key string) {
	if err := h.secrets.Delete(r.Context(), key); err != nil && !errors.Is(err, interfaces.ErrSecretNotFound) {
		h.logger.Error().Err(err).Str("key", key).Msg("Failed to delete secret")
		WriteError(w, http.StatusInternalServerError, "Failed to delete secret")
		return
	}

	WriteSuccess(w)
}

// CheckSecretsHandler handles POST /api/secrets/check, reporting which of the
// requested keys have stored values
func (h *SecretsHandler) CheckSecretsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result := make(map[string]bool, len(req.Keys))
	for _, key := range req.Keys {
		if !models.IsValidSecretKey(key) {
			WriteError(w, http.StatusBadRequest, "Unsupported secret key: "+key)
			return
		}
		has, err := h.secrets.Has(r.Context(), key)
		if err != nil {
			h.logger.Error().Err(err).Str("key", key).Msg("Failed to check secret")
			WriteError(w, http.StatusInternalServerError, "Failed to check secrets")
			return
		}
		result[key] = has
	}

	WriteJSON(w, http.StatusOK, result)
}
