package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/stevkan/support-tracker/internal/clients/devops"
	"github.com/stevkan/support-tracker/internal/clients/github"
	"github.com/stevkan/support-tracker/internal/clients/stackexchange"
	"github.com/stevkan/support-tracker/internal/common"
	"github.com/stevkan/support-tracker/internal/interfaces"
	"github.com/stevkan/support-tracker/internal/models"
	"github.com/stevkan/support-tracker/internal/upstream"
)

// ValidateHandler serves the one-shot credential validation endpoints. POST
// validates the supplied payload; GET validates the stored credentials.
type ValidateHandler struct {
	config   *common.Config
	settings interfaces.SettingsStorage
	secrets  interfaces.SecretStorage
	logger   arbor.ILogger
}

// NewValidateHandler creates a new validation handler
func NewValidateHandler(config *common.Config, settings interfaces.SettingsStorage, secrets interfaces.SecretStorage, logger arbor.ILogger) *ValidateHandler {
	return &ValidateHandler{config: config, settings: settings, secrets: secrets, logger: logger}
}

// writeOutcome renders {valid, error?}
func writeOutcome(w http.ResponseWriter, vErr *upstream.Error) {
	if vErr == nil {
		WriteJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"valid": false,
		"error": vErr.Message,
	})
}

// ValidateRouteHandler dispatches /api/validate/{target}
func (h *ValidateHandler) ValidateRouteHandler(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimPrefix(r.URL.Path, "/api/validate/")
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	switch target {
	case "tracker":
		h.validateTracker(w, r)
	case "scm":
		h.validateSCM(w, r)
	case "qa-internal":
		h.validateQAInternal(w, r)
	default:
		WriteError(w, http.StatusNotFound, "Unknown validation target")
	}
}

// validateTracker verifies work-item tracker credentials
func (h *ValidateHandler) validateTracker(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Org        string `json:"org"`
		Project    string `json:"project"`
		APIVersion string `json:"apiVersion"`
		Username   string `json:"username"`
		PAT        string `json:"pat"`
	}

	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		settings, err := h.settings.Get(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to read settings")
			return
		}
		payload.Org = settings.AzureDevOps.Org
		payload.Project = settings.AzureDevOps.Project
		payload.APIVersion = settings.AzureDevOps.APIVersion
		payload.Username, _ = h.secrets.Get(r.Context(), models.SecretTrackerUsername)
		payload.PAT, _ = h.secrets.Get(r.Context(), models.SecretTrackerPAT)
	}

	client := devops.NewClient(
		h.config.Upstreams.DevOpsURL,
		payload.Org,
		payload.Project,
		payload.APIVersion,
		payload.Username,
		payload.PAT,
		devops.WithLogger(h.logger),
	)
	writeOutcome(w, client.Validate(r.Context()))
}

// validateSCM verifies the SCM token
func (h *ValidateHandler) validateSCM(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token  string `json:"token"`
		APIURL string `json:"apiUrl"`
	}

	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		payload.Token, _ = h.secrets.Get(r.Context(), models.SecretSCMToken)
	}

	if payload.APIURL == "" {
		if settings, err := h.settings.Get(r.Context()); err == nil {
			payload.APIURL = settings.GitHub.APIURL
		}
	}

	if payload.Token == "" {
		writeOutcome(w, upstream.New(upstream.ServiceGitHub, upstream.KindConfiguration, "SCM token is not set"))
		return
	}

	client := github.NewClient(payload.APIURL, payload.Token, github.WithLogger(h.logger))
	writeOutcome(w, client.Validate(r.Context()))
}

// validateQAInternal verifies the internal Q&A API key
func (h *ValidateHandler) validateQAInternal(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Key    string `json:"key"`
		APIURL string `json:"apiUrl"`
	}

	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		payload.Key, _ = h.secrets.Get(r.Context(), models.SecretQAInternalKey)
	}

	if payload.APIURL == "" {
		payload.APIURL = h.config.Upstreams.QAInternalURL
	}

	if payload.APIURL == "" {
		writeOutcome(w, upstream.New(upstream.ServiceInternalStackOverflow, upstream.KindConfiguration, "internal Q&A endpoint is not configured"))
		return
	}
	if payload.Key == "" {
		writeOutcome(w, upstream.New(upstream.ServiceInternalStackOverflow, upstream.KindConfiguration, "internal Q&A API key is not set"))
		return
	}

	client := stackexchange.NewInternal(payload.APIURL, payload.Key, stackexchange.WithLogger(h.logger))
	writeOutcome(w, client.Validate(r.Context()))
}
