package server

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/codermrrob/loginbridge/internal/backend"
	"github.com/codermrrob/loginbridge/internal/bridge"
	"github.com/codermrrob/loginbridge/internal/config"
	"github.com/codermrrob/loginbridge/internal/cookie"
	"github.com/codermrrob/loginbridge/internal/crypto"
	"github.com/codermrrob/loginbridge/internal/flowstore"
	"github.com/codermrrob/loginbridge/internal/identity"
	jsonwriter "github.com/codermrrob/loginbridge/internal/json"
	"github.com/codermrrob/loginbridge/internal/launch"
	"github.com/codermrrob/loginbridge/internal/log"
)

// maxCredentialBody bounds the provider credential POST body.
const maxCredentialBody = 1 << 20

// Handlers wires the HTTP surface to the per-flow state machines.
type Handlers struct {
	cfg     config.BridgeConfig
	store   *flowstore.Store
	signer  crypto.MarkerSigner
	scripts *identity.ScriptCache
	backend *backend.Client
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(cfg config.BridgeConfig, store *flowstore.Store, signer crypto.MarkerSigner, scripts *identity.ScriptCache, backendClient *backend.Client) *Handlers {
	return &Handlers{
		cfg:     cfg,
		store:   store,
		signer:  signer,
		scripts: scripts,
		backend: backendClient,
	}
}

// Routes builds the route table.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", h.Login)
	mux.HandleFunc("GET /bridge", h.BridgePage)
	mux.HandleFunc("GET /bridge/state", h.FlowState)
	mux.HandleFunc("POST /bridge/authenticating", h.Authenticating)
	mux.HandleFunc("POST /bridge/credential", h.Credential)
	mux.HandleFunc("POST /bridge/teardown", h.Teardown)
	mux.HandleFunc("GET /gsi/client", h.ProviderScript)
	mux.Handle("GET /health", NewHealthHandler())
	return mux
}

// Login is the launch URL. A valid launch creates a flow and redirects to
// the clean bridge path, stripping the launch parameters from the visible
// URL before any network call is issued. Invalid launch parameters route to
// the idle display, not to an error.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := launch.Parse(r.URL.Query())
	if !ok {
		log.LogDebugWithFields("server", "Invalid launch parameters, showing idle page", nil)
		h.renderIdle(w)
		return
	}

	flowID, err := crypto.GenerateSecureToken()
	if err != nil {
		log.LogError("Failed to generate flow ID: %v", err)
		jsonwriter.WriteInternalServerError(w, "could not start the sign-in flow")
		return
	}

	signIn := identity.NewGoogleSignIn(h.cfg.Google.ClientID, req.Prompt, h.scripts)
	machine := bridge.NewMachine(signIn, h.backend, h.backend, h.cfg.EjectDelay.Std())

	h.store.Put(&flowstore.Flow{
		ID:      flowID,
		Request: req,
		SignIn:  signIn,
		Machine: machine,
	})

	cookie.SetMarker(w, h.signer.Sign(flowID), h.cfg.FlowTTL.Std())

	log.LogInfoWithFields("server", "Flow created", map[string]any{
		"nonceLength": len(req.Nonce),
		"redirect":    req.Redirect,
	})

	http.Redirect(w, r, "/bridge", http.StatusSeeOther)
}

// BridgePage renders the handoff page for the flow identified by the
// correlation marker. Start is idempotent, so a page reload re-renders the
// current state instead of restarting the flow.
func (h *Handlers) BridgePage(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.flowFromRequest(r)
	if !ok {
		h.renderIdle(w)
		return
	}

	if err := flow.Machine.Start(r.Context(), flow.Request); err != nil {
		// Already reflected in the machine's state; the page renders it.
		log.LogErrorWithFields("server", "Flow start failed", map[string]any{
			"error": err.Error(),
		})
	}

	state := flow.Machine.State()

	var button template.HTML
	if state.Status == bridge.StatusReady || state.Status == bridge.StatusAuthenticating {
		var err error
		button, err = flow.SignIn.RenderButton("signin-button", identity.ButtonOptions{
			Theme: h.cfg.Button.Theme,
			Size:  h.cfg.Button.Size,
			Text:  h.cfg.Button.Text,
		})
		if err != nil {
			log.LogError("Failed to render sign-in button: %v", err)
			jsonwriter.WriteInternalServerError(w, "could not render the sign-in page")
			return
		}
	}

	h.renderBridge(w, BridgePageData{
		Name:     h.cfg.Name,
		Message:  state.Message,
		Err:      state.Err,
		Button:   button,
		Deeplink: template.URL(state.Deeplink),
	})
}

// FlowState exposes the machine's state for the page to poll.
func (h *Handlers) FlowState(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.flowFromRequest(r)
	if !ok {
		jsonwriter.WriteNotFound(w, "no active sign-in flow")
		return
	}
	_ = jsonwriter.Write(w, flow.Machine.State())
}

// Authenticating records the user interacting with the sign-in button.
func (h *Handlers) Authenticating(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.flowFromRequest(r)
	if !ok {
		jsonwriter.WriteNotFound(w, "no active sign-in flow")
		return
	}

	flow.Machine.BeginAuthentication()
	_ = jsonwriter.Write(w, flow.Machine.State())
}

type credentialRequest struct {
	Credential string `json:"credential"`
}

// Credential receives the identity provider's callback. An empty credential
// is still delivered: the machine treats it as an aborted authentication.
func (h *Handlers) Credential(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.flowFromRequest(r)
	if !ok {
		jsonwriter.WriteNotFound(w, "no active sign-in flow")
		return
	}

	var req credentialRequest
	body := http.MaxBytesReader(w, r.Body, maxCredentialBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		jsonwriter.WriteBadRequest(w, "malformed credential payload")
		return
	}

	if !flow.SignIn.Deliver(identity.Credential{Token: req.Credential}) {
		jsonwriter.WriteConflict(w, "no sign-in in progress for this flow")
		return
	}

	_ = jsonwriter.Write(w, flow.Machine.State())
}

// Teardown is the page's unload beacon: it cancels the flow so a late
// provider callback cannot mutate state for a defunct flow.
func (h *Handlers) Teardown(w http.ResponseWriter, r *http.Request) {
	flow, ok := h.flowFromRequest(r)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Keep terminal flows around so a still-open page can re-read its
	// state; everything else is torn down.
	state := flow.Machine.State()
	if state.Status != bridge.StatusSuccess && state.Status != bridge.StatusError {
		h.store.Delete(flow.ID)
		cookie.ClearMarker(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ProviderScript serves the memoized provider script same-origin.
func (h *Handlers) ProviderScript(w http.ResponseWriter, r *http.Request) {
	if err := h.scripts.Load(r.Context()); err != nil {
		log.LogError("Provider script unavailable: %v", err)
		jsonwriter.WriteServiceUnavailable(w, "sign-in service unavailable")
		return
	}

	body, ok := h.scripts.Script()
	if !ok {
		jsonwriter.WriteServiceUnavailable(w, "sign-in service unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write(body)
}

func (h *Handlers) flowFromRequest(r *http.Request) (*flowstore.Flow, bool) {
	marker, err := cookie.GetMarker(r)
	if err != nil {
		return nil, false
	}
	flowID, ok := h.signer.Verify(marker)
	if !ok {
		return nil, false
	}
	return h.store.Get(flowID)
}

func (h *Handlers) renderIdle(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := idlePageTemplate.Execute(w, IdlePageData{Name: h.cfg.Name}); err != nil {
		log.LogError("Failed to render idle page: %v", err)
	}
}

func (h *Handlers) renderBridge(w http.ResponseWriter, data BridgePageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := bridgePageTemplate.Execute(w, data); err != nil {
		log.LogError("Failed to render bridge page: %v", err)
	}
}
