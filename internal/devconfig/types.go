// Package devconfig owns the device's persisted configuration record.
package devconfig

import (
	"errors"
	"fmt"
)

const (
	DefaultDeviceLabel = "nosfw-device"
	DefaultAdminUser   = "admin"
)

// DeviceConfig is the durable configuration record. An empty AdminSecret is
// the only representation of "not yet provisioned".
type DeviceConfig struct {
	ManagedNetworkID     string `json:"managedNetworkId"`
	ManagedNetworkSecret string `json:"managedNetworkSecret"`
	DeviceLabel          string `json:"deviceLabel"`
	FallbackEnabled      bool   `json:"fallbackEnabled"`
	AccessProtected      bool   `json:"accessProtected"`
	AdminUser            string `json:"adminUser"`
	AdminSecret          string `json:"adminSecret"`
}

// Defaults returns the record used when nothing has been persisted yet.
func Defaults() DeviceConfig {
	return DeviceConfig{
		DeviceLabel:     DefaultDeviceLabel,
		FallbackEnabled: true,
		AccessProtected: true,
		AdminUser:       DefaultAdminUser,
	}
}

// Provisioned reports whether an administrative credential has been set.
func (c DeviceConfig) Provisioned() bool { return c.AdminSecret != "" }

// StoreReason classifies ConfigStore failures.
type StoreReason string

const (
	ReasonUnreadable   StoreReason = "unreadable"
	ReasonWriteFailure StoreReason = "write_failure"
)

// StoreError is returned by Save, and logged by Load before it falls back to
// defaults.
type StoreError struct {
	Reason StoreReason
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("config store %s: %v", e.Reason, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsWriteFailure reports whether err is a failed save.
func IsWriteFailure(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Reason == ReasonWriteFailure
}
