package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ai_gateway/internal/models"
	"ai_gateway/internal/storage"
	"ai_gateway/internal/utils"
)

// configurationView is the external shape of a configuration. Encrypted
// credentials never leave the storage layer.
type configurationView struct {
	ID           uuid.UUID `json:"id"`
	ProviderType string    `json:"provider_type"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

func viewOf(cfg *models.UserAIConfiguration) configurationView {
	return configurationView{
		ID:           cfg.ID,
		ProviderType: string(cfg.ProviderType),
		IsActive:     cfg.IsActive,
		CreatedAt:    cfg.CreatedAt,
	}
}

// callerID reads the authenticated platform user from the X-User-ID header.
// The gateway runs behind the platform's app server, which authenticates the
// user and forwards their ID.
func callerID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return uuid.Nil, errors.New("missing X-User-ID header")
	}
	return uuid.Parse(raw)
}

// setupProviderRequest is the body for POST /api/providers
type setupProviderRequest struct {
	ProviderType string             `json:"provider_type"`
	Credentials  models.Credentials `json:"credentials"`
	Activate     bool               `json:"activate"`
}

// handleProviders routes POST (setup) and GET (list) for /api/providers
func (d *Dependencies) handleProviders(w http.ResponseWriter, r *http.Request) {
	userID, err := callerID(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "missing or invalid user identity")
		return
	}

	switch r.Method {
	case http.MethodPost:
		d.setupProvider(w, r, userID)
	case http.MethodGet:
		d.listProviders(w, r, userID)
	default:
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (d *Dependencies) setupProvider(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	var body setupProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cfg, err := d.Gateway.SetupProvider(r.Context(), userID,
		models.ProviderType(body.ProviderType), body.Credentials, body.Activate)
	if err != nil {
		writeError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, viewOf(cfg))
}

func (d *Dependencies) listProviders(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	configs, err := d.Gateway.ListConfigurations(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]configurationView, 0, len(configs))
	for _, cfg := range configs {
		views = append(views, viewOf(cfg))
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"configurations": views})
}

// activateRequest is the body for activate/deactivate calls
type activateRequest struct {
	ConfigurationID uuid.UUID `json:"configuration_id"`
}

// handleProviderActivate makes a configuration the user's active one. The
// previous active configuration, if any, is deactivated in the same
// transaction.
func (d *Dependencies) handleProviderActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID, err := callerID(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "missing or invalid user identity")
		return
	}

	var body activateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ConfigurationID == uuid.Nil {
		utils.RespondWithError(w, http.StatusBadRequest, "configuration_id is required")
		return
	}

	if err := d.Gateway.ActivateConfiguration(r.Context(), userID, body.ConfigurationID); err != nil {
		writeError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"status": "activated"})
}

// handleProviderDeactivate turns a configuration off without activating
// another; the user may end up with no active configuration.
func (d *Dependencies) handleProviderDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID, err := callerID(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "missing or invalid user identity")
		return
	}

	var body activateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ConfigurationID == uuid.Nil {
		utils.RespondWithError(w, http.StatusBadRequest, "configuration_id is required")
		return
	}

	if err := d.Gateway.DeactivateConfiguration(r.Context(), userID, body.ConfigurationID); err != nil {
		writeError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
}

// handleProviderActive resolves the user's active configuration
func (d *Dependencies) handleProviderActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID, err := callerID(r)
	if err != nil {
		utils.RespondWithError(w, http.StatusUnauthorized, "missing or invalid user identity")
		return
	}

	cfg, err := d.Gateway.ActiveConfiguration(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNoActiveConfiguration) {
			utils.RespondWithError(w, http.StatusNotFound, "no active configuration")
			return
		}
		writeError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, viewOf(cfg))
}

type modelView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Default     bool   `json:"default"`
}

// handleModels lists the static model catalog for a provider type. Public:
// the catalog carries no per-user data and needs no network access.
func (d *Dependencies) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	pt := models.ProviderType(r.URL.Query().Get("provider"))
	descriptors, defaultModel, err := d.Gateway.ListModels(pt)
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]modelView, 0, len(descriptors))
	for _, desc := range descriptors {
		views = append(views, modelView{
			ID:          desc.ID,
			DisplayName: desc.DisplayName,
			Default:     desc.ID == defaultModel,
		})
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"provider": string(pt),
		"models":   views,
	})
}
