package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mcpgate/internal/proxy"
	"mcpgate/pkg/logging"
)

type healthResponse struct {
	Status   string `json:"status"`
	Services int    `json:"services"`
}

type authorizeResponse struct {
	AuthURL string `json:"authUrl"`
}

// rpcRequest is the body of a POST /proxy/{service} without target.
type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Services: len(s.services.List())})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	services := s.services.List()
	for i := range services {
		services[i] = services[i].Redacted()
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")

	authURL, err := s.broker.InitiateAuthorization(r.Context(), service)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, authorizeResponse{AuthURL: authURL})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.broker.Revoke(r.Context(), chi.URLParam(r, "service")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.broker.Status(r.Context(), chi.URLParam(r, "service"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	req := &proxy.Request{
		Service:       chi.URLParam(r, "service"),
		HTTPMethod:    r.Method,
		Target:        r.URL.Query().Get("target"),
		ClientHeaders: r.Header,
	}

	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", proxy.ErrInvalidRequest, err))
			return
		}
		if len(body) > maxRequestBody {
			writeError(w, fmt.Errorf("%w: body too large", proxy.ErrInvalidRequest))
			return
		}

		if req.Target != "" {
			req.Body = body
		} else {
			var rpc rpcRequest
			if err := json.Unmarshal(body, &rpc); err != nil {
				writeError(w, fmt.Errorf("%w: %v", proxy.ErrInvalidRequest, err))
				return
			}
			req.Method, req.Params, req.ID = rpc.Method, rpc.Params, rpc.ID
		}
	}

	resp, err := s.proxy.Forward(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	if resp.IsStream() {
		if err := s.proxy.ServeStream(r.Context(), w, resp); err != nil {
			logging.Debug("Server", "Stream for %s ended with error: %v", req.Service, err)
		}
		return
	}

	for name, values := range resp.Header {
		w.Header()[name] = values
	}
	if len(resp.Body) > 0 && w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		logging.Debug("Server", "Failed to write response for %s: %v", req.Service, err)
	}
}
