package server

import (
	_ "embed"
	"html/template"

	"github.com/codermrrob/loginbridge/internal/flowerr"
)

//go:embed templates/bridge.html
var bridgePageTemplateHTML string

//go:embed templates/idle.html
var idlePageTemplateHTML string

var bridgePageTemplate = template.Must(template.New("bridge").Parse(bridgePageTemplateHTML))
var idlePageTemplate = template.Must(template.New("idle").Parse(idlePageTemplateHTML))

// BridgePageData renders the active handoff page
type BridgePageData struct {
	Name    string
	Message string
	Err     *flowerr.Error
	Button  template.HTML

	// Deeplink is a private-scheme URL built entirely from values this
	// service produced; template.URL keeps html/template from rejecting
	// the non-web scheme.
	Deeplink template.URL
}

// IdlePageData renders the waiting display shown when no valid launch
// request is present. Idle is not an error state.
type IdlePageData struct {
	Name string
}
