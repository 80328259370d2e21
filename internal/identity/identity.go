// Package identity wraps the external identity provider's script-based
// sign-in capability behind a minimal capability interface. The provider's
// consent UI is an external collaborator: the bridge only loads its script,
// initializes it with the caller's nonce, renders its button, and receives
// its credential callback.
package identity

import (
	"context"
	"html/template"
)

// Credential is the opaque bearer token delivered by the identity provider
// after the user completes the sign-in flow. The bridge asserts, but never
// verifies, that it carries the caller-supplied nonce as a claim.
type Credential struct {
	Token string `json:"token"`
}

// ButtonOptions configures the rendered sign-in button. All values are
// provider-defined and passed through.
type ButtonOptions struct {
	Theme string
	Size  string
	Text  string
}

// Provider is the capability surface of the identity provider integration.
//
// Whatever nonce is supplied to Initialize is opaque and passed through
// unmodified; implementations must have no code path that can generate,
// cache, or override a nonce. That property is enforced by construction,
// not by a runtime check.
type Provider interface {
	// LoadScript loads the provider's sign-in script. Idempotent and
	// memoized; concurrent calls share one in-flight load.
	LoadScript(ctx context.Context) error

	// Initialize binds the caller's nonce and the single-shot credential
	// callback. Fails if the script is not loaded or the nonce is empty.
	Initialize(nonce string, onCredential func(Credential)) error

	// RenderButton produces the markup that mounts the provider's sign-in
	// button into the given container. Fails if Initialize has not run.
	RenderButton(containerID string, opts ButtonOptions) (template.HTML, error)

	// Cancel tears down the integration so a stale callback cannot fire
	// after the page has navigated away. Safe to call even if Initialize
	// never ran.
	Cancel()
}
