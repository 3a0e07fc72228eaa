// Package connectivity drives the device's network mode: join the managed
// network, or host a fallback network an operator can reach.
package connectivity

import (
	"errors"
	"time"
)

type Mode string

const (
	ModeDisconnected Mode = "disconnected"
	ModeConnecting   Mode = "connecting"
	ModeStation      Mode = "station"
	ModeFallbackAP   Mode = "fallback_ap"
)

// State is the manager's view of the link. Target is the managed SSID while
// connecting and the broadcast SSID in fallback mode.
type State struct {
	Mode     Mode      `json:"mode"`
	Target   string    `json:"target,omitempty"`
	Deadline time.Time `json:"deadline,omitempty"`
	Address  string    `json:"address,omitempty"`
}

// ErrTimedOut is the only failure of a managed connect attempt.
var ErrTimedOut = errors.New("managed network connect timed out")
