package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-channel-broker/core"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB

type parametersPayload struct {
	APIToken       string `json:"api_token"`
	ChannelID      string `json:"channel_id"`
	ChannelName    string `json:"channel_name"`
	ChannelTopic   string `json:"channel_topic"`
	ChannelPurpose string `json:"channel_purpose"`
	Label          string `json:"label"`
}

func (p parametersPayload) toDomain() core.InstanceParameters {
	return core.InstanceParameters{
		APIToken:       strings.TrimSpace(p.APIToken),
		ChannelID:      strings.TrimSpace(p.ChannelID),
		ChannelName:    strings.TrimSpace(p.ChannelName),
		ChannelTopic:   p.ChannelTopic,
		ChannelPurpose: p.ChannelPurpose,
		Label:          strings.TrimSpace(p.Label),
	}
}

type provisionPayload struct {
	OrganizationGUID string `json:"organization_guid"`
	// Pointer distinguishes "replace with empty" from "omitted".
	ServiceCredentials *string           `json:"service_credentials"`
	Parameters         parametersPayload `json:"parameters"`
}

type patchPayload struct {
	Parameters parametersPayload `json:"parameters"`
}

type bindPayload struct {
	Credentials string `json:"credentials"`
}

type eventPayload struct {
	Source     string         `json:"source"`
	InstanceID string         `json:"instance_id"`
	DeliveryID string         `json:"delivery_id"`
	Payload    map[string]any `json:"payload"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		badRequest(w, "unreadable request body")
		return false
	}
	if len(body) == 0 {
		badRequest(w, "request body is required")
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		badRequest(w, "malformed request body")
		return false
	}
	return true
}

func (a *API) handleProvision(w http.ResponseWriter, r *http.Request) {
	var payload provisionPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	req := core.ProvisionRequest{
		InstanceID:     chi.URLParam(r, "instanceID"),
		OrganizationID: strings.TrimSpace(payload.OrganizationGUID),
		Parameters:     payload.Parameters.toDomain(),
	}
	if payload.ServiceCredentials != nil {
		req.ServiceCredentials = *payload.ServiceCredentials
		req.HasServiceCredentials = true
	}

	result, err := a.service.Provision(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceEnvelope{
		InstanceID:   result.Instance.ID,
		DashboardURL: result.DashboardURL,
	})
}

func (a *API) handlePatch(w http.ResponseWriter, r *http.Request) {
	var payload patchPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	result, err := a.service.Patch(r.Context(), core.PatchRequest{
		InstanceID: chi.URLParam(r, "instanceID"),
		Parameters: payload.Parameters.toDomain(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instanceEnvelope{
		InstanceID:   result.Instance.ID,
		DashboardURL: result.DashboardURL,
	})
}

func (a *API) handleDeprovision(w http.ResponseWriter, r *http.Request) {
	if err := a.service.Deprovision(r.Context(), chi.URLParam(r, "instanceID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleBind(w http.ResponseWriter, r *http.Request) {
	var payload bindPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	if _, err := a.service.Bind(r.Context(), core.BindRequest{
		InstanceID:  chi.URLParam(r, "instanceID"),
		ToolchainID: chi.URLParam(r, "toolchainID"),
		Credentials: payload.Credentials,
	}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUnbind(w http.ResponseWriter, r *http.Request) {
	if _, err := a.service.Unbind(r.Context(), core.UnbindRequest{
		InstanceID:  chi.URLParam(r, "instanceID"),
		ToolchainID: chi.URLParam(r, "toolchainID"),
	}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUnbindAll(w http.ResponseWriter, r *http.Request) {
	if _, err := a.service.UnbindAll(r.Context(), chi.URLParam(r, "instanceID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEvent(w http.ResponseWriter, r *http.Request) {
	var payload eventPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	if strings.TrimSpace(payload.InstanceID) == "" {
		badRequest(w, "event instance_id is required")
		return
	}

	deliveryID := strings.TrimSpace(payload.DeliveryID)
	if deliveryID == "" {
		deliveryID = strings.TrimSpace(r.Header.Get("X-Delivery-Id"))
	}

	outcome, err := a.dispatcher.Dispatch(r.Context(), core.EventEnvelope{
		Source:     payload.Source,
		InstanceID: payload.InstanceID,
		DeliveryID: deliveryID,
		Payload:    payload.Payload,
	})
	if err != nil {
		status, envelope := errorResponse(err)
		// An event for an unknown instance reads as a caller error here,
		// unlike everywhere else in the API.
		if status == http.StatusNotFound {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, envelope)
		return
	}
	if outcome.Deduplicated {
		w.Header().Set("X-Deduplicated", "true")
	}
	w.WriteHeader(http.StatusNoContent)
}
