package oauth

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"

	"github.com/Masterminds/sprig/v3"

	"mcpgate/pkg/logging"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(
	template.New("pages").Funcs(sprig.HtmlFuncMap()).ParseFS(templateFS, "templates/*.html"),
)

// Callback error kinds reported to the error redirect.
const (
	CallbackErrorInvalidSession      = "invalid_session"
	CallbackErrorOAuth               = "oauth_error"
	CallbackErrorTokenExchangeFailed = "token_exchange_failed"
)

// Handler serves the OAuth redirect endpoint.
type Handler struct {
	broker        *Broker
	errorRedirect string
}

// NewHandler creates a callback handler. When errorRedirect is set, failed
// callbacks redirect there with an error query parameter instead of
// rendering an error page.
func NewHandler(broker *Broker, errorRedirect string) *Handler {
	return &Handler{broker: broker, errorRedirect: errorRedirect}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := CallbackParams{
		Code:             query.Get("code"),
		State:            query.Get("state"),
		Error:            query.Get("error"),
		ErrorDescription: query.Get("error_description"),
	}

	service, err := h.broker.HandleCallback(r.Context(), params)
	if err != nil {
		kind, message := classifyCallbackError(err)
		logging.Warn("Broker", "OAuth callback failed (%s): %v", kind, err)

		if h.errorRedirect != "" {
			http.Redirect(w, r, h.errorRedirectURL(kind, service), http.StatusFound)
			return
		}

		code := ""
		var oauthErr *OAuthError
		if errors.As(err, &oauthErr) {
			code = oauthErr.Code
		}
		renderPage(w, http.StatusBadRequest, "callback_error.html", pageData{
			Title:   "Authorization Failed",
			Service: service,
			Message: message,
			Code:    code,
		})
		return
	}

	logging.Info("Broker", "Authorization completed for %s", service)
	renderPage(w, http.StatusOK, "callback_success.html", pageData{
		Title:   "Authorization Successful",
		Service: service,
	})
}

func (h *Handler) errorRedirectURL(kind, service string) string {
	u, err := url.Parse(h.errorRedirect)
	if err != nil {
		return h.errorRedirect
	}
	q := u.Query()
	q.Set("error", kind)
	if service != "" {
		q.Set("service", service)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func classifyCallbackError(err error) (kind, message string) {
	var oauthErr *OAuthError
	switch {
	case errors.Is(err, ErrInvalidSession):
		return CallbackErrorInvalidSession, "This authorization link is invalid or has expired."
	case errors.As(err, &oauthErr):
		if oauthErr.Description != "" {
			return CallbackErrorOAuth, oauthErr.Description
		}
		return CallbackErrorOAuth, "The authorization server denied the request."
	default:
		return CallbackErrorTokenExchangeFailed, "The authorization code could not be exchanged for a token."
	}
}

type pageData struct {
	Title   string
	Service string
	Message string
	Code    string
}

// setSecurityHeaders sets the headers every callback page is served with.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

func renderPage(w http.ResponseWriter, status int, name string, data pageData) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		logging.Error("Broker", err, "Failed to render %s", name)
	}
}
