package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"
)

const (
	defaultEjectDelay = 2500 * time.Millisecond
	defaultFlowTTL    = 10 * time.Minute
	defaultName       = "loginbridge"
)

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	cfg.Bridge.MarkerSecret, err = resolveSecret(cfg.Bridge.MarkerSecretRaw, "bridge.markerSecret", true)
	if err != nil {
		return Config{}, err
	}

	cfg.Bridge.Backend.SharedSecret, err = resolveSecret(cfg.Bridge.Backend.SharedSecretRaw, "bridge.backend.sharedSecret", false)
	if err != nil {
		return Config{}, err
	}

	cfg.Bridge.Google.ClientID, err = resolveString(cfg.Bridge.Google.ClientIDRaw, "bridge.google.clientId")
	if err != nil {
		return Config{}, err
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Bridge.Name == "" {
		cfg.Bridge.Name = defaultName
	}
	if cfg.Bridge.EjectDelay == 0 {
		cfg.Bridge.EjectDelay = Duration(defaultEjectDelay)
	}
	if cfg.Bridge.FlowTTL == 0 {
		cfg.Bridge.FlowTTL = Duration(defaultFlowTTL)
	}
}

// resolveSecret resolves an {"$env": "VAR"} reference. Secrets must use
// environment references, never literal strings, so config files stay safe
// to commit and share.
func resolveSecret(raw json.RawMessage, name string, required bool) (Secret, error) {
	if len(raw) == 0 {
		if required {
			return "", fmt.Errorf("%s is required", name)
		}
		return "", nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return "", fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format for security", name)
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("%s must be an environment variable reference: %w", name, err)
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", name)
	}

	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	return Secret(value), nil
}

// resolveString resolves a value that may be a literal string or an
// {"$env": "VAR"} reference.
func resolveString(raw json.RawMessage, name string) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("%s must be a string or an environment variable reference: %w", name, err)
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("%s must be a string or use {\"$env\": \"VAR_NAME\"} format", name)
	}

	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	return value, nil
}

// Validate checks that all required fields are present and well-formed
func Validate(cfg *Config) error {
	b := &cfg.Bridge

	if b.Addr == "" {
		return fmt.Errorf("bridge.addr is required")
	}
	if err := validateURL(b.BaseURL, "bridge.baseUrl"); err != nil {
		return err
	}
	if b.Google.ClientID == "" {
		return fmt.Errorf("bridge.google.clientId is required")
	}
	if err := validateURL(b.Backend.BaseURL, "bridge.backend.baseUrl"); err != nil {
		return err
	}
	if b.MarkerSecret == "" {
		return fmt.Errorf("bridge.markerSecret is required")
	}
	return nil
}

func validateURL(raw, name string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL", name)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
