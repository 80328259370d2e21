package bridge

import (
	"github.com/codermrrob/loginbridge/internal/deeplink"
	"github.com/codermrrob/loginbridge/internal/flowerr"
)

// Status is the machine's position in the handoff. Transitions only move
// forward; the sole exits out of order are to the error state, which is
// reachable from every non-terminal status.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusInitializing   Status = "initializing"
	StatusReady          Status = "ready"
	StatusAuthenticating Status = "authenticating"
	StatusExchanging     Status = "exchanging"
	StatusHydrating      Status = "hydrating"
	StatusEjecting       Status = "ejecting"
	StatusSuccess        Status = "success"
	StatusError          Status = "error"
)

// State is the single source of UI truth. It is owned exclusively by the
// machine and mutated only through transitions. Data is set only once the
// handoff result is fully populated; it is never exposed partially.
type State struct {
	Status   Status           `json:"status"`
	Message  string           `json:"message"`
	Err      *flowerr.Error   `json:"error,omitempty"`
	Data     *deeplink.Result `json:"data,omitempty"`
	Deeplink string           `json:"deeplink,omitempty"`
}

func isTerminal(s Status) bool {
	return s == StatusSuccess || s == StatusError
}
