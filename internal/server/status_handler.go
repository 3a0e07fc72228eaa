package server

import (
	"net/http"

	"nithronos/device/nosfw/internal/connectivity"
	"nithronos/device/nosfw/internal/devconfig"
	"nithronos/device/nosfw/internal/firmware"
	"nithronos/device/nosfw/internal/system"
	"nithronos/device/nosfw/pkg/httpx"
)

// configView is DeviceConfig with the secrets replaced by presence flags.
type configView struct {
	ManagedNetworkID        string `json:"managedNetworkId"`
	ManagedNetworkSecretSet bool   `json:"managedNetworkSecretSet"`
	DeviceLabel             string `json:"deviceLabel"`
	FallbackEnabled         bool   `json:"fallbackEnabled"`
	AccessProtected         bool   `json:"accessProtected"`
	AdminUser               string `json:"adminUser"`
	Provisioned             bool   `json:"provisioned"`
}

func redact(c devconfig.DeviceConfig) configView {
	return configView{
		ManagedNetworkID:        c.ManagedNetworkID,
		ManagedNetworkSecretSet: c.ManagedNetworkSecret != "",
		DeviceLabel:             c.DeviceLabel,
		FallbackEnabled:         c.FallbackEnabled,
		AccessProtected:         c.AccessProtected,
		AdminUser:               c.AdminUser,
		Provisioned:             c.Provisioned(),
	}
}

type statusReport struct {
	Version      string             `json:"version"`
	Device       string             `json:"device"`
	Provisioned  bool               `json:"provisioned"`
	Connectivity connectivity.State `json:"connectivity"`
	Firmware     firmware.Snapshot  `json:"firmware"`
	Host         system.HostInfo    `json:"host"`
}

// GET /api/status
func handleStatus(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg := d.Store.Current()
		rep := statusReport{
			Version:     Version,
			Device:      cfg.DeviceLabel,
			Provisioned: cfg.Provisioned(),
			Host:        system.ReadHostInfo(),
		}
		if d.Conn != nil {
			rep.Connectivity = d.Conn.CurrentState()
		}
		if d.Firmware != nil {
			rep.Firmware = d.Firmware.Status()
		}
		writeJSON(w, rep)
	}
}

// POST /api/reboot
func handleReboot(restart func(string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reason := "operator request"
		if u := adminUser(r); u != "" {
			reason += " by " + u
		}
		if restart != nil {
			restart(reason)
		}
		httpx.WriteJSON(w, http.StatusAccepted, map[string]any{"restarting": true})
	}
}
