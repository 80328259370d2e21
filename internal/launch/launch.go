// Package launch ingests the untrusted launch parameters the desktop
// application puts on the bridge URL.
package launch

import "net/url"

// SourceObsidian is the only launch source the bridge accepts.
const SourceObsidian = "obsidian"

// Request is the validated launch request, built once from the query string
// at page load and never mutated. The nonce is opaque caller input: it
// originated outside the bridge and nothing downstream may generate,
// default, or substitute it.
type Request struct {
	Source   string
	Nonce    string
	Redirect bool
	Prompt   string
}

// Parse validates and extracts the launch parameters. It returns ok=false
// for any missing or malformed required field; invalid input is not an
// error state, it routes the page to the idle display.
func Parse(query url.Values) (Request, bool) {
	source := query.Get("source")
	nonce := query.Get("nonce")

	if source != SourceObsidian || nonce == "" {
		return Request{}, false
	}

	return Request{
		Source:   source,
		Nonce:    nonce,
		Redirect: query.Get("redirect") == "true",
		Prompt:   query.Get("prompt"), // opaque pass-through for the provider
	}, true
}
