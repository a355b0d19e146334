package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/goliatone/go-channel-broker/core"
	goerrors "github.com/goliatone/go-errors"
)

type instanceEnvelope struct {
	InstanceID   string `json:"instance_id"`
	DashboardURL string `json:"dashboard_url,omitempty"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, envelope := errorResponse(err)
	writeJSON(w, status, envelope)
}

func errorResponse(err error) (int, errorEnvelope) {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		status := richErr.Code
		if status < http.StatusBadRequest || status > http.StatusNetworkAuthenticationRequired {
			status = http.StatusInternalServerError
		}
		code := strings.TrimSpace(richErr.TextCode)
		if code == "" {
			code = core.BrokerErrorInternal
		}
		return status, errorEnvelope{Code: code, Message: richErr.Message}
	}
	return http.StatusInternalServerError, errorEnvelope{
		Code:    core.BrokerErrorInternal,
		Message: err.Error(),
	}
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorEnvelope{
		Code:    core.BrokerErrorBadInput,
		Message: message,
	})
}
