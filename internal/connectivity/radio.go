package connectivity

import "context"

// JoinRequest asks the radio to associate with a managed network.
type JoinRequest struct {
	SSID     string
	Secret   string
	Hostname string
}

// Radio is the Wi-Fi hardware as the manager sees it. Join only issues the
// request; association progress is observed through Linked.
type Radio interface {
	Join(ctx context.Context, req JoinRequest) error
	Linked(ctx context.Context) (bool, error)
	Address(ctx context.Context) (string, error)
	Leave(ctx context.Context) error
	StartAccessPoint(ctx context.Context, ssid, secret string) (string, error)
	// HardwareID is a stable per-device identifier, usually the radio MAC.
	HardwareID() (string, error)
}
