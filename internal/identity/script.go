package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/codermrrob/loginbridge/internal/log"
	"golang.org/x/sync/singleflight"
)

// DefaultScriptURL is the Google Identity Services client script.
const DefaultScriptURL = "https://accounts.google.com/gsi/client"

// ScriptCache fetches and caches the provider's sign-in script so the
// bridge can serve it same-origin. The cache is shared across flows;
// concurrent loads collapse onto one in-flight fetch.
type ScriptCache struct {
	url        string
	httpClient *http.Client
	group      singleflight.Group

	mu   sync.RWMutex
	body []byte
}

// NewScriptCache creates a script cache for the given script URL.
func NewScriptCache(scriptURL string) *ScriptCache {
	if scriptURL == "" {
		scriptURL = DefaultScriptURL
	}
	return &ScriptCache{
		url:        scriptURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Load fetches the script if it is not already cached. Concurrent callers
// share a single in-flight fetch.
func (c *ScriptCache) Load(ctx context.Context) error {
	if c.Loaded() {
		return nil
	}

	_, err, _ := c.group.Do("script", func() (any, error) {
		if c.Loaded() {
			return nil, nil
		}

		body, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.body = body
		c.mu.Unlock()

		log.LogInfoWithFields("identity", "Provider script loaded", map[string]any{
			"url":   c.url,
			"bytes": len(body),
		})
		return nil, nil
	})
	return err
}

// Loaded reports whether the script is cached.
func (c *ScriptCache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.body != nil
}

// Script returns the cached script body.
func (c *ScriptCache) Script() ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.body == nil {
		return nil, false
	}
	return c.body, true
}

func (c *ScriptCache) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building script request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching provider script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching provider script: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading provider script: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("fetching provider script: empty body")
	}
	return body, nil
}
