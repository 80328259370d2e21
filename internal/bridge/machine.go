// Package bridge orchestrates the authentication handoff: launch ingestion,
// identity provider sign-in, session exchange, hydration, and deeplink
// emission, in strict forward order.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/codermrrob/loginbridge/internal/backend"
	"github.com/codermrrob/loginbridge/internal/deeplink"
	"github.com/codermrrob/loginbridge/internal/flowerr"
	"github.com/codermrrob/loginbridge/internal/identity"
	"github.com/codermrrob/loginbridge/internal/launch"
	"github.com/codermrrob/loginbridge/internal/log"
)

// DefaultEjectDelay is how long the machine stays in ejecting after the
// deeplink navigation is issued before settling on success. A single fixed
// delay, not a retry loop: it gives the operating system a chance to hand
// off to the desktop application before the fallback link is shown.
const DefaultEjectDelay = 2500 * time.Millisecond

// SessionExchanger exchanges an identity token for a backend session token.
type SessionExchanger interface {
	ExchangeSession(ctx context.Context, identityToken string) (string, error)
}

// Hydrator exchanges the identity and session tokens for the user's derived
// identity.
type Hydrator interface {
	Hydrate(ctx context.Context, identityToken, sessionToken string) (backend.DerivedIdentity, error)
}

// Machine is the per-flow handoff orchestrator. All state mutation happens
// under one mutex; the adapter calls themselves run outside it so the UI
// can read the current state while an operation is in flight.
type Machine struct {
	provider   identity.Provider
	exchanger  SessionExchanger
	hydrator   Hydrator
	ejectDelay time.Duration

	mu         sync.Mutex
	state      State
	request    launch.Request
	generation int
	ejectTimer *time.Timer
}

// NewMachine creates a machine in the idle state. ejectDelay <= 0 selects
// DefaultEjectDelay.
func NewMachine(provider identity.Provider, exchanger SessionExchanger, hydrator Hydrator, ejectDelay time.Duration) *Machine {
	if ejectDelay <= 0 {
		ejectDelay = DefaultEjectDelay
	}
	return &Machine{
		provider:   provider,
		exchanger:  exchanger,
		hydrator:   hydrator,
		ejectDelay: ejectDelay,
		state:      State{Status: StatusIdle, Message: "Waiting for a launch request"},
	}
}

// State returns a snapshot of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state
	if m.state.Data != nil {
		data := *m.state.Data
		snapshot.Data = &data
	}
	return snapshot
}

// Start moves the machine out of idle for a validated launch request: it
// loads the provider script and initializes the sign-in with the caller's
// nonce, verbatim. Calling Start again after the machine has left idle is a
// no-op, so a page reload re-renders the current state instead of
// restarting the flow.
func (m *Machine) Start(ctx context.Context, req launch.Request) error {
	m.mu.Lock()
	if m.state.Status != StatusIdle {
		m.mu.Unlock()
		return nil
	}
	m.request = req
	gen := m.generation
	m.setStateLocked(StatusInitializing, "Preparing sign-in")
	m.mu.Unlock()

	if err := m.provider.LoadScript(ctx); err != nil {
		return m.fail(gen, flowerr.From(err, flowerr.ProviderUnavailable, "the sign-in service could not be loaded"))
	}

	onCredential := func(cred identity.Credential) {
		m.handleCredential(gen, cred)
	}
	if err := m.provider.Initialize(req.Nonce, onCredential); err != nil {
		return m.fail(gen, flowerr.From(err, flowerr.CallerContract, "sign-in could not be initialized"))
	}

	m.mu.Lock()
	if m.generation == gen && m.state.Status == StatusInitializing {
		m.setStateLocked(StatusReady, "Ready to sign in")
	}
	m.mu.Unlock()
	return nil
}

// BeginAuthentication records the user interacting with the rendered
// button. It carries no timeout of its own; the provider's UI owns that.
// Returns whether the transition happened.
func (m *Machine) BeginAuthentication() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Status != StatusReady {
		return false
	}
	m.setStateLocked(StatusAuthenticating, "Waiting for the identity provider")
	return true
}

// Cancel is the teardown hook: it cancels the provider integration and
// bumps the flow generation so a late-arriving callback cannot mutate state
// for a defunct flow. In-flight backend requests are not cancelled.
func (m *Machine) Cancel() {
	m.provider.Cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	if m.ejectTimer != nil {
		m.ejectTimer.Stop()
		m.ejectTimer = nil
	}
}

// handleCredential is the provider's single-shot callback. It drives the
// rest of the pipeline: exchange, then hydration, strictly in sequence,
// then deeplink emission.
func (m *Machine) handleCredential(gen int, cred identity.Credential) {
	m.mu.Lock()
	if m.generation != gen || isTerminal(m.state.Status) {
		m.mu.Unlock()
		log.LogWarnWithFields("bridge", "Dropping credential for a defunct flow", map[string]any{
			"status": m.state.Status,
		})
		return
	}

	// The provider callback can outrun the button-interaction beacon.
	if m.state.Status == StatusReady {
		m.setStateLocked(StatusAuthenticating, "Waiting for the identity provider")
	}
	if m.state.Status != StatusAuthenticating {
		m.mu.Unlock()
		log.LogWarnWithFields("bridge", "Dropping credential delivered out of order", map[string]any{
			"status": m.state.Status,
		})
		return
	}

	if cred.Token == "" {
		m.failLocked(flowerr.New(flowerr.AuthenticationAborted,
			"authentication failed or was cancelled", "provider returned no credential"))
		m.mu.Unlock()
		return
	}

	nonce := m.request.Nonce
	m.setStateLocked(StatusExchanging, "Exchanging credentials")
	m.mu.Unlock()

	warnOnNonceMismatch(cred.Token, nonce)

	ctx := context.Background()

	sessionToken, err := m.exchanger.ExchangeSession(ctx, cred.Token)
	if err != nil {
		m.fail(gen, flowerr.From(err, flowerr.ExchangeFailed, "session exchange failed"))
		return
	}

	m.mu.Lock()
	if m.generation != gen || m.state.Status != StatusExchanging {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StatusHydrating, "Fetching account data")
	m.mu.Unlock()

	derived, err := m.hydrator.Hydrate(ctx, cred.Token, sessionToken)
	if err != nil {
		m.fail(gen, flowerr.From(err, flowerr.HydrationFailed, "hydration failed"))
		return
	}

	result := deeplink.Result{
		IdentityToken: cred.Token,
		SessionToken:  sessionToken,
		Salt:          derived.Salt,
		Address:       derived.Address,
	}
	link := deeplink.Encode(result)

	m.mu.Lock()
	if m.generation != gen || m.state.Status != StatusHydrating {
		m.mu.Unlock()
		return
	}
	m.state = State{
		Status:   StatusEjecting,
		Message:  "Returning to Obsidian",
		Data:     &result,
		Deeplink: link,
	}
	m.ejectTimer = time.AfterFunc(m.ejectDelay, func() { m.completeEject(gen) })
	m.mu.Unlock()

	log.LogInfoWithFields("bridge", "Handoff complete, ejecting", map[string]any{
		"identityTokenLength": len(result.IdentityToken),
		"sessionTokenLength":  len(result.SessionToken),
	})
}

// completeEject settles ejecting into success once the fixed delay has
// given the operating system a chance to hand off. The fallback link stays
// available either way.
func (m *Machine) completeEject(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != gen || m.state.Status != StatusEjecting {
		return
	}
	m.state.Status = StatusSuccess
	m.state.Message = "Signed in. You can close this page."
}

// fail converts an adapter failure into the error state, unless the flow
// was cancelled or already terminal. The error is returned for the caller's
// benefit.
func (m *Machine) fail(gen int, fe *flowerr.Error) error {
	m.mu.Lock()
	if m.generation == gen && !isTerminal(m.state.Status) {
		m.failLocked(fe)
	}
	m.mu.Unlock()
	return fe
}

func (m *Machine) failLocked(fe *flowerr.Error) {
	log.LogErrorWithFields("bridge", "Flow failed", map[string]any{
		"kind":   string(fe.Kind),
		"detail": fe.Detail,
		"from":   string(m.state.Status),
	})
	m.state = State{Status: StatusError, Message: fe.Message, Err: fe}
}

func (m *Machine) setStateLocked(status Status, message string) {
	log.LogDebugWithFields("bridge", "State transition", map[string]any{
		"from": string(m.state.Status),
		"to":   string(status),
	})
	m.state = State{Status: status, Message: message}
}
