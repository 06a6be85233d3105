package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/stevkan/support-tracker/internal/interfaces"
)

// SettingsHandler serves the settings document
type SettingsHandler struct {
	settings interfaces.SettingsStorage
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings interfaces.SettingsStorage, logger arbor.ILogger) *SettingsHandler {
	return &SettingsHandler{settings: settings, validate: validator.New(), logger: logger}
}

// GetSettingsHandler handles GET /api/settings
func (h *SettingsHandler) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read settings")
		WriteError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}

	WriteJSON(w, http.StatusOK, settings)
}

// PatchSettingsHandler handles PATCH /api/settings with a partial document
func (h *SettingsHandler) PatchSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var partial map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(partial) == 0 {
		WriteError(w, http.StatusBadRequest, "Empty settings patch")
		return
	}

	previous, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read settings")
		WriteError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}

	updated, err := h.settings.Patch(r.Context(), partial)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to patch settings")
		WriteError(w, http.StatusBadRequest, "Failed to apply settings patch")
		return
	}

	if err := h.validate.Struct(updated.QueryDefaults); err != nil {
		// Roll the document back; a patch must not leave invalid defaults
		if restoreErr := h.settings.Save(r.Context(), previous); restoreErr != nil {
			h.logger.Error().Err(restoreErr).Msg("Failed to restore settings after invalid patch")
		}
		WriteError(w, http.StatusBadRequest, "Invalid query defaults: "+err.Error())
		return
	}

	h.logger.Debug().Int("patched_keys", len(partial)).Msg("Settings patched")
	WriteJSON(w, http.StatusOK, updated)
}

// SettingsRouteHandler dispatches /api/settings by method
func (h *SettingsHandler) SettingsRouteHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.GetSettingsHandler(w, r)
	case http.MethodPatch:
		h.PatchSettingsHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
