package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codermrrob/loginbridge/internal/backend"
	"github.com/codermrrob/loginbridge/internal/bridge"
	"github.com/codermrrob/loginbridge/internal/config"
	"github.com/codermrrob/loginbridge/internal/cookie"
	"github.com/codermrrob/loginbridge/internal/crypto"
	"github.com/codermrrob/loginbridge/internal/flowerr"
	"github.com/codermrrob/loginbridge/internal/flowstore"
	"github.com/codermrrob/loginbridge/internal/identity"
)

type fakeBackend struct {
	sessionCalls   atomic.Int32
	hydrationCalls atomic.Int32
	sessionStatus  int
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+backend.SessionPath, func(w http.ResponseWriter, r *http.Request) {
		f.sessionCalls.Add(1)
		if f.sessionStatus != 0 {
			w.WriteHeader(f.sessionStatus)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"authenticationToken":"sess1"}`))
	})
	mux.HandleFunc("POST "+backend.HydrationPath, func(w http.ResponseWriter, r *http.Request) {
		f.hydrationCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"salt":"42","address":"0xDEAD"}`))
	})
	return mux
}

type fixture struct {
	bridge  *httptest.Server
	backend *fakeBackend
	client  *http.Client
}

func newFixture(t *testing.T, sessionStatus int) *fixture {
	t.Helper()

	// The fixture servers are plain http; outside dev mode the marker
	// cookie is Secure and the jar would never replay it to them.
	t.Setenv("LOGINBRIDGE_ENV", "dev")

	fb := &fakeBackend{sessionStatus: sessionStatus}
	backendSrv := httptest.NewServer(fb.handler())
	t.Cleanup(backendSrv.Close)

	scriptSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("// gsi client"))
	}))
	t.Cleanup(scriptSrv.Close)

	cfg := config.BridgeConfig{
		Name:       "loginbridge",
		Google:     config.GoogleConfig{ClientID: "client-id", ScriptURL: scriptSrv.URL},
		Backend:    config.BackendConfig{BaseURL: backendSrv.URL},
		EjectDelay: config.Duration(10 * time.Millisecond),
		FlowTTL:    config.Duration(time.Minute),
	}

	signer := crypto.NewMarkerSigner([]byte("test-marker-key"), time.Minute)
	store := flowstore.NewStore(time.Minute)
	scripts := identity.NewScriptCache(scriptSrv.URL)
	backendClient := backend.NewClient(backendSrv.URL, "")

	handlers := NewHandlers(cfg, store, signer, scripts, backendClient)
	bridgeSrv := httptest.NewServer(handlers.Routes())
	t.Cleanup(bridgeSrv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &fixture{
		bridge:  bridgeSrv,
		backend: fb,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := f.client.Get(f.bridge.URL + path)
	require.NoError(t, err)
	return resp
}

func (f *fixture) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := f.client.Post(f.bridge.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (f *fixture) state(t *testing.T) bridge.State {
	t.Helper()
	resp := f.get(t, "/bridge/state")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state bridge.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	return state
}

// statusIs is a require.Eventually condition; it must not fail the test from
// inside the polling goroutine, so errors just read as "not yet".
func (f *fixture) statusIs(want bridge.Status) func() bool {
	return func() bool {
		resp, err := f.client.Get(f.bridge.URL + "/bridge/state")
		if err != nil {
			return false
		}
		defer resp.Body.Close()

		var state bridge.State
		if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
			return false
		}
		return state.Status == want
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestLoginCreatesFlowAndRedirects(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.get(t, "/login?source=obsidian&nonce=abc123")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/bridge", resp.Header.Get("Location"))

	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == cookie.MarkerCookie {
			found = true
			assert.True(t, c.HttpOnly)
		}
	}
	assert.True(t, found, "marker cookie should be set")
}

func TestLoginInvalidLaunchShowsIdle(t *testing.T) {
	f := newFixture(t, 0)

	for _, query := range []string{
		"",
		"?source=obsidian",
		"?source=browser&nonce=abc",
		"?nonce=abc",
	} {
		resp := f.get(t, "/login"+query)
		body := readBody(t, resp)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "Waiting for a sign-in request")
		assert.Empty(t, resp.Cookies(), "no flow cookie for %q", query)
	}

	assert.Zero(t, f.backend.sessionCalls.Load(), "invalid launches must not reach the backend")
}

func TestBridgePageWithoutFlowShowsIdle(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.get(t, "/bridge")
	body := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Waiting for a sign-in request")
}

func TestBridgePageRendersSignInButton(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.get(t, "/login?source=obsidian&nonce=abc123")
	resp.Body.Close()

	resp = f.get(t, "/bridge")
	body := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "signin-button")
	assert.Contains(t, body, "client-id")
	assert.Contains(t, body, "abc123")

	assert.Equal(t, bridge.StatusReady, f.state(t).Status)
}

func TestBridgePageReloadKeepsState(t *testing.T) {
	f := newFixture(t, 0)

	f.get(t, "/login?source=obsidian&nonce=abc123").Body.Close()
	f.get(t, "/bridge").Body.Close()
	f.post(t, "/bridge/authenticating", "").Body.Close()

	resp := f.get(t, "/bridge")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, bridge.StatusAuthenticating, f.state(t).Status)
}

func TestFullHandoff(t *testing.T) {
	f := newFixture(t, 0)

	f.get(t, "/login?source=obsidian&nonce=abc123").Body.Close()
	f.get(t, "/bridge").Body.Close()
	f.post(t, "/bridge/authenticating", "").Body.Close()

	resp := f.post(t, "/bridge/credential", `{"credential":"tok1"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, f.statusIs(bridge.StatusSuccess), time.Second, 10*time.Millisecond)

	state := f.state(t)
	assert.Equal(t, "obsidian://enoki-auth?jwt=tok1&azure_token=sess1&salt=42&address=0xDEAD", state.Deeplink)
	require.NotNil(t, state.Data)
	assert.Equal(t, "tok1", state.Data.IdentityToken)
	assert.Equal(t, "sess1", state.Data.SessionToken)
	assert.Equal(t, "42", state.Data.Salt)
	assert.Equal(t, "0xDEAD", state.Data.Address)

	assert.Equal(t, int32(1), f.backend.sessionCalls.Load())
	assert.Equal(t, int32(1), f.backend.hydrationCalls.Load())
}

func TestCredentialWithoutInteractionStillCompletes(t *testing.T) {
	f := newFixture(t, 0)

	f.get(t, "/login?source=obsidian&nonce=abc123").Body.Close()
	f.get(t, "/bridge").Body.Close()

	// The provider callback can land before the button beacon does.
	resp := f.post(t, "/bridge/credential", `{"credential":"tok1"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, f.statusIs(bridge.StatusSuccess), time.Second, 10*time.Millisecond)
}

func TestExchangeFailureEndsFlow(t *testing.T) {
	f := newFixture(t, http.StatusUnauthorized)

	f.get(t, "/login?source=obsidian&nonce=abc123").Body.Close()
	f.get(t, "/bridge").Body.Close()
	f.post(t, "/bridge/authenticating", "").Body.Close()
	f.post(t, "/bridge/credential", `{"credential":"tok1"}`).Body.Close()

	require.Eventually(t, f.statusIs(bridge.StatusError), time.Second, 10*time.Millisecond)

	state := f.state(t)
	require.NotNil(t, state.Err)
	assert.Equal(t, flowerr.ExchangeFailed, state.Err.Kind)
	assert.Empty(t, state.Deeplink)

	assert.Zero(t, f.backend.hydrationCalls.Load(), "hydration must not run after a failed exchange")
}

func TestEmptyCredentialIsAborted(t *testing.T) {
	f := newFixture(t, 0)

	f.get(t, "/login?source=obsidian&nonce=abc123").Body.Close()
	f.get(t, "/bridge").Body.Close()
	f.post(t, "/bridge/authenticating", "").Body.Close()

	resp := f.post(t, "/bridge/credential", `{"credential":""}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	state := f.state(t)
	assert.Equal(t, bridge.StatusError, state.Status)
	require.NotNil(t, state.Err)
	assert.Equal(t, flowerr.AuthenticationAborted, state.Err.Kind)
	assert.Zero(t, f.backend.sessionCalls.Load())
}

func TestCredentialWithoutFlowIs404(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.post(t, "/bridge/credential", `{"credential":"tok1"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMalformedCredentialPayload(t *testing.T) {
	f := newFixture(t, 0)

	f.get(t, "/login?source=obsidian&nonce=abc123").Body.Close()
	f.get(t, "/bridge").Body.Close()

	resp := f.post(t, "/bridge/credential", `{not json`)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSecondCredentialIsConflict(t *testing.T) {
	f := newFixture(t, 0)

	f.get(t, "/login?source=obsidian&nonce=abc123").Body.Close()
	f.get(t, "/bridge").Body.Close()
	f.post(t, "/bridge/authenticating", "").Body.Close()
	f.post(t, "/bridge/credential", `{"credential":"tok1"}`).Body.Close()

	resp := f.post(t, "/bridge/credential", `{"credential":"tok2"}`)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	assert.Equal(t, int32(1), f.backend.sessionCalls.Load())
}

func TestTeardownCancelsActiveFlow(t *testing.T) {
	f := newFixture(t, 0)

	f.get(t, "/login?source=obsidian&nonce=abc123").Body.Close()
	f.get(t, "/bridge").Body.Close()

	resp := f.post(t, "/bridge/teardown", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	stateResp := f.get(t, "/bridge/state")
	stateResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, stateResp.StatusCode)
}

func TestTeardownKeepsTerminalFlow(t *testing.T) {
	f := newFixture(t, 0)

	f.get(t, "/login?source=obsidian&nonce=abc123").Body.Close()
	f.get(t, "/bridge").Body.Close()
	f.post(t, "/bridge/credential", `{"credential":"tok1"}`).Body.Close()

	require.Eventually(t, f.statusIs(bridge.StatusSuccess), time.Second, 10*time.Millisecond)

	resp := f.post(t, "/bridge/teardown", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, bridge.StatusSuccess, f.state(t).Status)
}

func TestProviderScriptServedSameOrigin(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.get(t, "/gsi/client")
	body := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/javascript")
	assert.Equal(t, "// gsi client", body)
}

func TestProviderScriptUnavailable(t *testing.T) {
	f := newFixture(t, 0)

	scriptSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(scriptSrv.Close)

	// Rebuild the handler set around an unreachable script source.
	cfg := config.BridgeConfig{
		Name:   "loginbridge",
		Google: config.GoogleConfig{ClientID: "client-id", ScriptURL: scriptSrv.URL},
	}
	handlers := NewHandlers(cfg,
		flowstore.NewStore(time.Minute),
		crypto.NewMarkerSigner([]byte("test-marker-key"), time.Minute),
		identity.NewScriptCache(scriptSrv.URL),
		backend.NewClient(f.bridge.URL, ""))
	srv := httptest.NewServer(handlers.Routes())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/gsi/client")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTamperedMarkerIsIgnored(t *testing.T) {
	f := newFixture(t, 0)

	req, err := http.NewRequest(http.MethodGet, f.bridge.URL+"/bridge/state", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: cookie.MarkerCookie, Value: "bogus:0:deadbeef"})

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, 0)

	resp := f.get(t, "/health")
	body := readBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}
