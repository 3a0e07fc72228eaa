package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"nithronos/device/nosfw/pkg/shell"
)

const nmcliTimeout = 10 * time.Second

// NMCLIRadio drives a Wi-Fi interface through NetworkManager.
type NMCLIRadio struct {
	Iface string
	Run   shell.Runner
	// Interfaces resolves the interface for addresses and MAC lookups.
	Interfaces func(name string) (*net.Interface, error)
}

func NewNMCLIRadio(iface string) *NMCLIRadio {
	return &NMCLIRadio{Iface: iface, Run: shell.Run, Interfaces: net.InterfaceByName}
}

func (r *NMCLIRadio) nmcli(ctx context.Context, args ...string) (shell.Result, error) {
	return r.Run(ctx, nmcliTimeout, "nmcli", args...)
}

// Join issues the connect without waiting for activation (--wait 0).
func (r *NMCLIRadio) Join(ctx context.Context, req JoinRequest) error {
	if req.Hostname != "" {
		// cosmetic; a failure here does not block the join
		_, _ = r.Run(ctx, nmcliTimeout, "hostnamectl", "set-hostname", sanitizeHostname(req.Hostname))
	}
	args := []string{"--wait", "0", "device", "wifi", "connect", req.SSID, "ifname", r.Iface}
	if req.Secret != "" {
		args = append(args, "password", req.Secret)
	}
	if _, err := r.nmcli(ctx, args...); err != nil {
		return fmt.Errorf("nmcli connect %s: %w", req.SSID, err)
	}
	return nil
}

// Linked reports GENERAL.STATE 100 (connected) for the interface.
func (r *NMCLIRadio) Linked(ctx context.Context) (bool, error) {
	res, err := r.nmcli(ctx, "-t", "-g", "GENERAL.STATE", "device", "show", r.Iface)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(res.Output(), "100"), nil
}

func (r *NMCLIRadio) Address(context.Context) (string, error) {
	ifi, err := r.Interfaces(r.Iface)
	if err != nil {
		return "", err
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && ipn.IP.To4() != nil && !ipn.IP.IsLoopback() {
			return ipn.IP.String(), nil
		}
	}
	return "", errors.New("no IPv4 address on " + r.Iface)
}

func (r *NMCLIRadio) Leave(ctx context.Context) error {
	_, err := r.nmcli(ctx, "device", "disconnect", r.Iface)
	return err
}

// StartAccessPoint uses NetworkManager's hotspot profile, which also runs
// DHCP for clients.
func (r *NMCLIRadio) StartAccessPoint(ctx context.Context, ssid, secret string) (string, error) {
	if _, err := r.nmcli(ctx, "device", "wifi", "hotspot", "ifname", r.Iface, "ssid", ssid, "password", secret); err != nil {
		return "", fmt.Errorf("nmcli hotspot: %w", err)
	}
	return r.Address(ctx)
}

func (r *NMCLIRadio) HardwareID() (string, error) {
	ifi, err := r.Interfaces(r.Iface)
	if err != nil {
		return "", err
	}
	if len(ifi.HardwareAddr) == 0 {
		return "", errors.New("no hardware address on " + r.Iface)
	}
	return ifi.HardwareAddr.String(), nil
}

func sanitizeHostname(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == ' ' || r == '_' || r == '.':
			b.WriteByte('-')
		}
	}
	h := strings.Trim(b.String(), "-")
	if len(h) > 63 {
		h = h[:63]
	}
	if h == "" {
		return "nosfw"
	}
	return h
}
