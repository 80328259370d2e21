// Package backend holds the two opaque RPCs of the session-issuing backend:
// session exchange and hydration. Both are fail-fast: a non-2xx status is a
// hard failure, and a 2xx body missing a required field is still a failure —
// the backend contract is not trusted blindly.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/codermrrob/loginbridge/internal/flowerr"
	"github.com/codermrrob/loginbridge/internal/ioutil"
	"github.com/codermrrob/loginbridge/internal/log"
)

const (
	// SessionPath is the fixed session exchange endpoint path.
	SessionPath = "/api/auth/session"

	// HydrationPath is the fixed hydration endpoint path.
	HydrationPath = "/api/auth/hydrate"

	// ProviderGoogle is the fixed provider discriminator sent to hydration.
	ProviderGoogle = "google"

	// SharedSecretHeader carries the optional shared secret on hydration
	// requests.
	SharedSecretHeader = "X-Shared-Secret"

	// maxErrorBody bounds how much of a failure response body is carried
	// into diagnostics.
	maxErrorBody = 2048
)

// DerivedIdentity is the backend-computed, per-user derived data. It is
// all-or-nothing: a response missing either field is a failure, never a
// partial success.
type DerivedIdentity struct {
	Salt    string `json:"salt"`
	Address string `json:"address"`
}

// Client talks to the session-issuing backend.
type Client struct {
	baseURL      string
	sharedSecret string
	httpClient   *http.Client
}

// NewClient creates a backend client. sharedSecret may be empty; when set
// it is sent on hydration requests.
func NewClient(baseURL, sharedSecret string) *Client {
	return &Client{
		baseURL:      baseURL,
		sharedSecret: sharedSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

type sessionRequest struct {
	IDToken string `json:"id_token"`
}

type sessionResponse struct {
	AuthenticationToken string `json:"authenticationToken"`
}

// ExchangeSession exchanges an identity token for a backend session token.
func (c *Client) ExchangeSession(ctx context.Context, identityToken string) (string, error) {
	resp, err := c.post(ctx, SessionPath, sessionRequest{IDToken: identityToken}, "")
	if err != nil {
		return "", flowerr.From(err, flowerr.NetworkFailure, "could not reach the session service")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := ioutil.ReadLimited(resp.Body, maxErrorBody)
		return "", flowerr.Newf(flowerr.ExchangeFailed, "session exchange was rejected",
			"status %d: %s", resp.StatusCode, body)
	}

	var parsed sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", flowerr.Newf(flowerr.ExchangeFailed, "session exchange returned an unreadable response",
			"decoding body: %v", err)
	}
	if parsed.AuthenticationToken == "" {
		return "", flowerr.New(flowerr.ExchangeFailed, "session exchange returned no session token",
			"success response missing authenticationToken")
	}

	log.LogDebugWithFields("backend", "Session exchange succeeded", map[string]any{
		"tokenLength": len(parsed.AuthenticationToken),
	})
	return parsed.AuthenticationToken, nil
}

type hydrationRequest struct {
	Provider string `json:"provider"`
	IDToken  string `json:"idToken"`
}

type hydrationResponse struct {
	Success bool   `json:"success"`
	Salt    string `json:"salt"`
	Address string `json:"address"`
}

// Hydrate exchanges the identity and session tokens for the user's derived
// identity. The session token is carried as a bearer authorization header.
func (c *Client) Hydrate(ctx context.Context, identityToken, sessionToken string) (DerivedIdentity, error) {
	resp, err := c.post(ctx, HydrationPath, hydrationRequest{
		Provider: ProviderGoogle,
		IDToken:  identityToken,
	}, sessionToken)
	if err != nil {
		return DerivedIdentity{}, flowerr.From(err, flowerr.NetworkFailure, "could not reach the hydration service")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := ioutil.ReadLimited(resp.Body, maxErrorBody)
		return DerivedIdentity{}, flowerr.Newf(flowerr.HydrationFailed, "hydration was rejected",
			"status %d: %s", resp.StatusCode, body)
	}

	var parsed hydrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return DerivedIdentity{}, flowerr.Newf(flowerr.HydrationFailed, "hydration returned an unreadable response",
			"decoding body: %v", err)
	}
	if !parsed.Success || parsed.Salt == "" || parsed.Address == "" {
		return DerivedIdentity{}, flowerr.Newf(flowerr.HydrationFailed, "hydration returned an incomplete identity",
			"success=%t saltPresent=%t addressPresent=%t", parsed.Success, parsed.Salt != "", parsed.Address != "")
	}

	log.LogDebugWithFields("backend", "Hydration succeeded", map[string]any{
		"addressLength": len(parsed.Address),
	})
	return DerivedIdentity{Salt: parsed.Salt, Address: parsed.Address}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, sessionToken string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+sessionToken)
	}
	if sessionToken != "" && c.sharedSecret != "" {
		req.Header.Set(SharedSecretHeader, c.sharedSecret)
	}

	return c.httpClient.Do(req)
}
