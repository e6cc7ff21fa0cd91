package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"mcpgate/internal/oauth"
	"mcpgate/internal/proxy"
	"mcpgate/internal/registry"
	"mcpgate/pkg/logging"
)

// errorResponse is the JSON body of every error the edge produces.
type errorResponse struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// statusForError maps an error to an HTTP status and a machine-readable code.
func statusForError(err error) (int, string) {
	var upstream *proxy.UpstreamHTTPError
	switch {
	case errors.Is(err, registry.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found"
	case errors.Is(err, proxy.ErrProxyDisabled):
		return http.StatusForbidden, "proxy_disabled"
	case errors.Is(err, proxy.ErrInvalidTargetURL):
		return http.StatusBadRequest, "invalid_target_url"
	case errors.Is(err, proxy.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, oauth.ErrAlreadyAuthorized):
		return http.StatusConflict, "already_authorized"
	case errors.As(err, &upstream):
		return upstream.StatusCode, "upstream_error"
	case errors.Is(err, oauth.ErrDiscoveryFailed):
		return http.StatusInternalServerError, "discovery_failed"
	case errors.Is(err, oauth.ErrRegistrationFailed):
		return http.StatusInternalServerError, "registration_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError writes err as JSON. Upstream errors keep the upstream status,
// status text and, when it is JSON, the upstream body.
func writeError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	resp := errorResponse{Error: code, Message: err.Error()}

	if upstream, ok := proxy.IsUpstreamError(err); ok {
		resp.Message = upstream.Status
		if json.Valid(upstream.Body) {
			resp.Details = upstream.Body
		}
	}

	if status >= http.StatusInternalServerError {
		logging.Error("Server", err, "Request failed")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Server", "Failed to encode response: %v", err)
	}
}
