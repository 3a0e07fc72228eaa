// Package system holds the host-facing pieces: restarting the device and
// reading host facts for status reporting.
package system

import (
	"os"

	"github.com/rs/zerolog"
)

// RestartExitCode is non-zero so units with Restart=on-failure bring the
// firmware back up as well as units with Restart=always.
const RestartExitCode = 75

// Restarter ends the running firmware. With Reboot set it asks the kernel to
// restart the board; otherwise it exits and leaves the restart to the
// service manager.
type Restarter struct {
	Reboot bool
	Log    zerolog.Logger
	// Exit defaults to os.Exit.
	Exit func(code int)
}

// Restart does not return under normal operation.
func (r Restarter) Restart(reason string) {
	r.Log.Warn().Str("reason", reason).Bool("reboot", r.Reboot).Msg("restarting")
	if r.Reboot {
		if err := rebootSystem(); err != nil {
			r.Log.Error().Err(err).Msg("reboot failed; exiting instead")
		}
	}
	exit := r.Exit
	if exit == nil {
		exit = os.Exit
	}
	exit(RestartExitCode)
}
