package identity

import (
	"context"
	"errors"
	"html/template"
	"strings"
	"sync"

	"github.com/codermrrob/loginbridge/internal/log"
)

var (
	// ErrScriptNotLoaded is returned by Initialize when LoadScript has not
	// completed successfully.
	ErrScriptNotLoaded = errors.New("provider script not loaded")

	// ErrNonceRequired is returned by Initialize when the nonce is empty.
	// The nonce is caller input; it must never be defaulted or substituted.
	ErrNonceRequired = errors.New("nonce is required and must be caller-supplied")

	// ErrNotInitialized is returned by RenderButton before Initialize.
	ErrNotInitialized = errors.New("sign-in not initialized")
)

// buttonSnippet mounts the Google Identity Services button. The page is
// expected to define loginbridgeCredential(token) and
// loginbridgeAuthenticating() and to include the script served at
// /gsi/client.
const buttonSnippet = `<div id="{{.ContainerID}}"></div>
<script>
window.addEventListener("load", function () {
  google.accounts.id.initialize({
    client_id: {{.ClientID}},
    nonce: {{.Nonce}},
    {{- if .Prompt}}
    prompt: {{.Prompt}},
    {{- end}}
    callback: function (response) {
      loginbridgeCredential(response && response.credential ? response.credential : "");
    }
  });
  google.accounts.id.renderButton(document.getElementById({{.ContainerID}}), {
    theme: {{.Theme}},
    size: {{.Size}},
    text: {{.Text}},
    click_listener: function () { loginbridgeAuthenticating(); }
  });
});
</script>`

var buttonTemplate = template.Must(template.New("button").Parse(buttonSnippet))

// GoogleSignIn adapts Google's script-based sign-in capability for one
// flow. The nonce given to Initialize is passed through to the provider
// unmodified; this type has no code path that can produce a nonce of its
// own.
type GoogleSignIn struct {
	clientID string
	prompt   string
	scripts  *ScriptCache

	mu           sync.Mutex
	nonce        string
	onCredential func(Credential)
	initialized  bool
	cancelled    bool
}

var _ Provider = (*GoogleSignIn)(nil)

// NewGoogleSignIn creates a per-flow Google sign-in adapter. The prompt is
// the provider-defined pass-through value from the launch request; it may
// be empty. The script cache is shared across flows.
func NewGoogleSignIn(clientID, prompt string, scripts *ScriptCache) *GoogleSignIn {
	return &GoogleSignIn{
		clientID: clientID,
		prompt:   prompt,
		scripts:  scripts,
	}
}

// LoadScript loads the provider script through the shared cache.
func (g *GoogleSignIn) LoadScript(ctx context.Context) error {
	return g.scripts.Load(ctx)
}

// Initialize binds the caller's nonce and the single-shot credential
// callback.
func (g *GoogleSignIn) Initialize(nonce string, onCredential func(Credential)) error {
	if !g.scripts.Loaded() {
		return ErrScriptNotLoaded
	}
	if nonce == "" {
		return ErrNonceRequired
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nonce = nonce
	g.onCredential = onCredential
	g.initialized = true
	g.cancelled = false
	return nil
}

// RenderButton produces the provider button markup for the given container.
func (g *GoogleSignIn) RenderButton(containerID string, opts ButtonOptions) (template.HTML, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.initialized {
		return "", ErrNotInitialized
	}

	if opts.Theme == "" {
		opts.Theme = "outline"
	}
	if opts.Size == "" {
		opts.Size = "large"
	}
	if opts.Text == "" {
		opts.Text = "signin_with"
	}

	var b strings.Builder
	err := buttonTemplate.Execute(&b, struct {
		ContainerID string
		ClientID    string
		Nonce       string
		Prompt      string
		Theme       string
		Size        string
		Text        string
	}{
		ContainerID: containerID,
		ClientID:    g.clientID,
		Nonce:       g.nonce,
		Prompt:      g.prompt,
		Theme:       opts.Theme,
		Size:        opts.Size,
		Text:        opts.Text,
	})
	if err != nil {
		return "", err
	}
	return template.HTML(b.String()), nil
}

// Deliver hands the provider's credential to the registered callback.
// Delivery is single-shot: the callback is cleared before it runs, and a
// delivery after Cancel is dropped. Returns whether the callback ran.
func (g *GoogleSignIn) Deliver(cred Credential) bool {
	g.mu.Lock()
	if g.cancelled || g.onCredential == nil {
		g.mu.Unlock()
		log.LogWarnWithFields("identity", "Dropping credential for inactive sign-in", map[string]any{
			"cancelled": g.cancelled,
		})
		return false
	}
	callback := g.onCredential
	g.onCredential = nil
	g.mu.Unlock()

	callback(cred)
	return true
}

// Cancel tears down the sign-in so a late callback cannot fire. Safe to
// call at any point, including before Initialize.
func (g *GoogleSignIn) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = true
	g.onCredential = nil
}
