package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoadedSignIn(t *testing.T) *GoogleSignIn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("// gsi client"))
	}))
	t.Cleanup(server.Close)

	cache := NewScriptCache(server.URL)
	require.NoError(t, cache.Load(context.Background()))

	return NewGoogleSignIn("client-id", "", cache)
}

func TestScriptCache_LoadIsMemoized(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte("// gsi client"))
	}))
	defer server.Close()

	cache := NewScriptCache(server.URL)

	require.NoError(t, cache.Load(context.Background()))
	require.NoError(t, cache.Load(context.Background()))
	require.NoError(t, cache.Load(context.Background()))

	assert.Equal(t, int32(1), requests.Load(), "repeat loads must reuse the cached script")

	body, ok := cache.Script()
	require.True(t, ok)
	assert.Equal(t, "// gsi client", string(body))
}

func TestScriptCache_ConcurrentLoadsShareOneFetch(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		<-release
		_, _ = w.Write([]byte("// gsi client"))
	}))
	defer server.Close()

	cache := NewScriptCache(server.URL)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = cache.Load(context.Background())
		}(i)
	}

	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), requests.Load(), "concurrent loads must collapse onto one fetch")
}

func TestScriptCache_LoadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cache := NewScriptCache(server.URL)

	err := cache.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.False(t, cache.Loaded())
}

func TestGoogleSignIn_InitializeRequiresLoadedScript(t *testing.T) {
	cache := NewScriptCache("http://127.0.0.1:0")
	signIn := NewGoogleSignIn("client-id", "", cache)

	err := signIn.Initialize("nonce-1", func(Credential) {})
	assert.ErrorIs(t, err, ErrScriptNotLoaded)
}

func TestGoogleSignIn_InitializeRequiresNonce(t *testing.T) {
	signIn := newLoadedSignIn(t)

	err := signIn.Initialize("", func(Credential) {})
	assert.ErrorIs(t, err, ErrNonceRequired)
}

func TestGoogleSignIn_RenderButtonCarriesCallerNonce(t *testing.T) {
	signIn := newLoadedSignIn(t)
	require.NoError(t, signIn.Initialize("abc123", func(Credential) {}))

	html, err := signIn.RenderButton("signin", ButtonOptions{})
	require.NoError(t, err)

	assert.Contains(t, string(html), `"abc123"`)
	assert.Contains(t, string(html), `"client-id"`)
	assert.Contains(t, string(html), `"signin"`)
	assert.NotContains(t, string(html), "prompt:")
}

func TestGoogleSignIn_RenderButtonPassesPromptThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("// gsi client"))
	}))
	defer server.Close()

	cache := NewScriptCache(server.URL)
	require.NoError(t, cache.Load(context.Background()))

	signIn := NewGoogleSignIn("client-id", "select_account", cache)
	require.NoError(t, signIn.Initialize("abc123", func(Credential) {}))

	html, err := signIn.RenderButton("signin", ButtonOptions{})
	require.NoError(t, err)
	assert.Contains(t, string(html), `"select_account"`)
}

func TestGoogleSignIn_RenderButtonBeforeInitialize(t *testing.T) {
	signIn := newLoadedSignIn(t)

	_, err := signIn.RenderButton("signin", ButtonOptions{})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestGoogleSignIn_DeliverIsSingleShot(t *testing.T) {
	signIn := newLoadedSignIn(t)

	var delivered []string
	require.NoError(t, signIn.Initialize("abc123", func(c Credential) {
		delivered = append(delivered, c.Token)
	}))

	assert.True(t, signIn.Deliver(Credential{Token: "tok1"}))
	assert.False(t, signIn.Deliver(Credential{Token: "tok2"}), "second delivery must be dropped")
	assert.Equal(t, []string{"tok1"}, delivered)
}

func TestGoogleSignIn_CancelDropsLateCredential(t *testing.T) {
	signIn := newLoadedSignIn(t)

	called := false
	require.NoError(t, signIn.Initialize("abc123", func(Credential) { called = true }))

	signIn.Cancel()

	assert.False(t, signIn.Deliver(Credential{Token: "tok1"}))
	assert.False(t, called)
}

func TestGoogleSignIn_CancelBeforeInitializeIsSafe(t *testing.T) {
	signIn := newLoadedSignIn(t)

	assert.NotPanics(t, func() { signIn.Cancel() })
	assert.False(t, signIn.Deliver(Credential{Token: "tok1"}))
}
