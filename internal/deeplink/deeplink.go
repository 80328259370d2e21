// Package deeplink encodes the terminal handoff payload into the private
// URL scheme the desktop application listens on. Decoding the deeplink is
// the receiving application's responsibility.
package deeplink

import (
	"net/url"
	"strings"
)

const (
	// Scheme is the private URL scheme registered by the desktop application.
	Scheme = "obsidian"

	// CallbackPath is the fixed callback path inside the scheme.
	CallbackPath = "enoki-auth"
)

// Result is the terminal aggregate of a completed handoff. It exists only
// transiently between hydration and deeplink emission; it is never persisted
// and never exposed partially populated.
type Result struct {
	IdentityToken string `json:"jwt"`
	SessionToken  string `json:"azure_token"`
	Salt          string `json:"salt"`
	Address       string `json:"address"`
}

// Encode emits the deeplink URL. Every field is percent-encoded as an
// opaque string, in fixed order, all four always present together. Encode
// is total: callers only invoke it with a fully populated Result.
func Encode(r Result) string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString("://")
	b.WriteString(CallbackPath)
	b.WriteString("?jwt=")
	b.WriteString(url.QueryEscape(r.IdentityToken))
	b.WriteString("&azure_token=")
	b.WriteString(url.QueryEscape(r.SessionToken))
	b.WriteString("&salt=")
	b.WriteString(url.QueryEscape(r.Salt))
	b.WriteString("&address=")
	b.WriteString(url.QueryEscape(r.Address))
	return b.String()
}
