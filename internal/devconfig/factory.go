package devconfig

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// factoryFile is the image-baked overlay on Defaults. It has
// no admin secret field; the credential is only ever set by provisioning.
type factoryFile struct {
	ManagedNetworkID     *string `yaml:"managed_network_id"`
	ManagedNetworkSecret *string `yaml:"managed_network_secret"`
	DeviceLabel          *string `yaml:"device_label"`
	FallbackEnabled      *bool   `yaml:"fallback_enabled"`
	AccessProtected      *bool   `yaml:"access_protected"`
	AdminUser            *string `yaml:"admin_user"`
}

// LoadFactory returns Defaults overlaid with the YAML file at path. A missing
// file yields plain Defaults.
func LoadFactory(path string) (DeviceConfig, error) {
	c := Defaults()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return c, err
	}
	var f factoryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Defaults(), fmt.Errorf("factory defaults %s: %w", path, err)
	}
	if f.ManagedNetworkID != nil {
		c.ManagedNetworkID = *f.ManagedNetworkID
	}
	if f.ManagedNetworkSecret != nil {
		c.ManagedNetworkSecret = *f.ManagedNetworkSecret
	}
	if f.DeviceLabel != nil && *f.DeviceLabel != "" {
		c.DeviceLabel = *f.DeviceLabel
	}
	if f.FallbackEnabled != nil {
		c.FallbackEnabled = *f.FallbackEnabled
	}
	if f.AccessProtected != nil {
		c.AccessProtected = *f.AccessProtected
	}
	if f.AdminUser != nil && *f.AdminUser != "" {
		c.AdminUser = *f.AdminUser
	}
	return c, nil
}
