//go:build !linux

package system

import "errors"

func rebootSystem() error {
	return errors.New("reboot not supported on this platform")
}
