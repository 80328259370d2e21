package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Duration wraps time.Duration for config values written as strings
// like "2.5s" or "10m".
type Duration time.Duration

// UnmarshalJSON parses a duration string
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"2.5s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON writes the duration back as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// GoogleConfig configures the identity provider integration
type GoogleConfig struct {
	// ClientIDRaw accepts a literal string or an {"$env": "VAR"} reference;
	// resolved into ClientID at load time. The client ID is not a secret,
	// so literals are allowed.
	ClientIDRaw json.RawMessage `json:"clientId"`
	ClientID    string          `json:"-"`

	// ScriptURL overrides the provider script location; empty selects the
	// Google Identity Services default.
	ScriptURL string `json:"scriptUrl,omitempty"`
}

// BackendConfig configures the session-issuing backend
type BackendConfig struct {
	BaseURL string `json:"baseUrl"`

	// SharedSecretRaw must be an {"$env": "VAR"} reference; resolved into
	// SharedSecret at load time. Optional.
	SharedSecretRaw json.RawMessage `json:"sharedSecret,omitempty"`
	SharedSecret    Secret          `json:"-"`
}

// ButtonConfig configures the rendered sign-in button; all values are
// provider-defined pass-throughs.
type ButtonConfig struct {
	Theme string `json:"theme,omitempty"`
	Size  string `json:"size,omitempty"`
	Text  string `json:"text,omitempty"`
}

// BridgeConfig is the bridge service configuration with resolved values
type BridgeConfig struct {
	BaseURL string `json:"baseUrl"`
	Addr    string `json:"addr"`
	Name    string `json:"name"`

	Google  GoogleConfig  `json:"google"`
	Backend BackendConfig `json:"backend"`
	Button  ButtonConfig  `json:"button,omitempty"`

	// MarkerSecretRaw must be an {"$env": "VAR"} reference; it signs the
	// flow correlation marker.
	MarkerSecretRaw json.RawMessage `json:"markerSecret"`
	MarkerSecret    Secret          `json:"-"`

	EjectDelay Duration `json:"ejectDelay,omitempty"`
	FlowTTL    Duration `json:"flowTtl,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Bridge BridgeConfig `json:"bridge"`
}
