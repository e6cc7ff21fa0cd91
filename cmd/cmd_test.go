package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgate/internal/oauth"
	"mcpgate/internal/registry"
)

// fakeGateway serves the management API of a gateway with two services.
type fakeGateway struct {
	*httptest.Server
	authorized atomic.Bool
	revoked    atomic.Value
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /services", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, http.StatusOK, []registry.ServiceDescriptor{
			{Name: "jira", Type: registry.TransportHTTP, URL: "https://jira.example/mcp", Proxy: true},
			{Name: "local", Type: registry.TransportStdio, Command: "npx local-mcp"},
		})
	})
	mux.HandleFunc("GET /proxy/{service}/status", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("service") != "jira" {
			writeTestJSON(w, http.StatusOK, oauth.ServiceStatus{})
			return
		}
		authorized := g.authorized.Load()
		writeTestJSON(w, http.StatusOK, oauth.ServiceStatus{
			IsAuthorized: authorized,
			HasToken:     authorized,
			IsProxy:      true,
			TargetURL:    "https://jira.example/mcp",
		})
	})
	mux.HandleFunc("POST /authorize/{service}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("service") {
		case "jira":
			writeTestJSON(w, http.StatusOK, map[string]string{"authUrl": "https://auth.example/authorize?state=abc"})
		case "static":
			writeTestJSON(w, http.StatusConflict, map[string]string{"error": "already_authorized", "message": "static token"})
		default:
			writeTestJSON(w, http.StatusNotFound, map[string]string{"error": "service_not_found", "message": "unknown"})
		}
	})
	mux.HandleFunc("DELETE /authorize/{service}", func(w http.ResponseWriter, r *http.Request) {
		g.revoked.Store(r.PathValue("service"))
		w.WriteHeader(http.StatusNoContent)
	})

	g.Server = httptest.NewServer(mux)
	t.Cleanup(g.Close)
	return g
}

func writeTestJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// run executes a fresh command tree against the fake gateway.
func run(t *testing.T, g *fakeGateway, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--gateway", g.URL, "--config-path", t.TempDir()))
	err := cmd.Execute()
	return out.String(), err
}

func stubBrowser(t *testing.T) *[]string {
	t.Helper()
	var opened []string
	original := openBrowser
	openBrowser = func(url string) error {
		opened = append(opened, url)
		return nil
	}
	t.Cleanup(func() { openBrowser = original })
	return &opened
}

func TestVersionCommand(t *testing.T) {
	g := newFakeGateway(t)
	out, err := run(t, g, "version")
	require.NoError(t, err)
	assert.Equal(t, "mcpgate version "+GetVersion()+"\n", out)
}

func TestSelfUpdate_RefusesDevVersion(t *testing.T) {
	original := version
	defer SetVersion(original)
	SetVersion("dev")

	err := runSelfUpdate(newSelfUpdateCmd(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "development version")
}

func TestServicesList(t *testing.T) {
	g := newFakeGateway(t)
	out, err := run(t, g, "services", "list")
	require.NoError(t, err)

	assert.Contains(t, out, "jira")
	assert.Contains(t, out, "https://jira.example/mcp")
	assert.Contains(t, out, "npx local-mcp")
	assert.Contains(t, out, "oauth")
}

func TestAuthStatus_All(t *testing.T) {
	g := newFakeGateway(t)
	out, err := run(t, g, "auth", "status")
	require.NoError(t, err)

	assert.Contains(t, out, "jira")
	assert.Contains(t, out, "local")
}

func TestAuthStatus_SingleUnauthorized(t *testing.T) {
	g := newFakeGateway(t)
	_, err := run(t, g, "auth", "status", "jira")

	var authRequired *AuthRequiredError
	require.ErrorAs(t, err, &authRequired)
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(err))
}

func TestAuthStatus_SingleAuthorized(t *testing.T) {
	g := newFakeGateway(t)
	g.authorized.Store(true)

	out, err := run(t, g, "auth", "status", "jira")
	require.NoError(t, err)
	assert.Contains(t, out, "yes")
}

func TestAuthLogin_PrintsAndOpensURL(t *testing.T) {
	g := newFakeGateway(t)
	opened := stubBrowser(t)

	out, err := run(t, g, "auth", "login", "jira")
	require.NoError(t, err)

	assert.Contains(t, out, "https://auth.example/authorize?state=abc")
	assert.Equal(t, []string{"https://auth.example/authorize?state=abc"}, *opened)
}

func TestAuthLogin_NoBrowser(t *testing.T) {
	g := newFakeGateway(t)
	opened := stubBrowser(t)

	_, err := run(t, g, "auth", "login", "jira", "--no-browser")
	require.NoError(t, err)
	assert.Empty(t, *opened)
}

func TestAuthLogin_StaticToken(t *testing.T) {
	g := newFakeGateway(t)
	stubBrowser(t)

	out, err := run(t, g, "auth", "login", "static")
	require.NoError(t, err)
	assert.Contains(t, out, "static token")
}

func TestAuthLogin_UnknownService(t *testing.T) {
	g := newFakeGateway(t)
	stubBrowser(t)

	_, err := run(t, g, "auth", "login", "nope")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, ExitCodeAuthFailed, getExitCode(err))
}

func TestAuthLogin_Wait(t *testing.T) {
	g := newFakeGateway(t)
	stubBrowser(t)

	original := authPollInterval
	authPollInterval = 10 * time.Millisecond
	defer func() { authPollInterval = original }()

	time.AfterFunc(50*time.Millisecond, func() { g.authorized.Store(true) })

	out, err := run(t, g, "auth", "login", "jira", "--no-browser", "--wait", "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "jira is authorized")
}

func TestAuthLogin_WaitTimesOut(t *testing.T) {
	g := newFakeGateway(t)
	stubBrowser(t)

	original := authPollInterval
	authPollInterval = 10 * time.Millisecond
	defer func() { authPollInterval = original }()

	_, err := run(t, g, "auth", "login", "jira", "--no-browser", "--wait", "--timeout", "50ms")

	var authFailed *AuthFailedError
	require.ErrorAs(t, err, &authFailed)
	assert.True(t, strings.Contains(err.Error(), "no callback"))
}

func TestAuthLogout(t *testing.T) {
	g := newFakeGateway(t)
	out, err := run(t, g, "auth", "logout", "jira")
	require.NoError(t, err)

	assert.Contains(t, out, "Removed the stored token for jira")
	assert.Equal(t, "jira", g.revoked.Load())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCodeError, getExitCode(errors.New("boom")))
	assert.Equal(t, ExitCodeAuthRequired, getExitCode(&AuthRequiredError{Service: "a"}))
	assert.Equal(t, ExitCodeAuthFailed, getExitCode(&AuthFailedError{Service: "a", Reason: errors.New("x")}))
}
