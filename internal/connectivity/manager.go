package connectivity

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPollInterval = 500 * time.Millisecond

	// FallbackPrefix starts every fallback SSID.
	FallbackPrefix = "NOSFW-"
	// FallbackSecret is the WPA2 passphrase of the fallback network. It only
	// admits an operator to the provisioning and recovery surface.
	FallbackSecret = "nosfw-recovery"
)

type Options struct {
	PollInterval time.Duration
	Logger       zerolog.Logger
	// Now overrides the wall clock in tests.
	Now func() time.Time
}

// Manager owns the ConnectivityState.
type Manager struct {
	radio        Radio
	pollInterval time.Duration
	log          zerolog.Logger
	now          func() time.Time

	mu    sync.RWMutex
	state State
}

func NewManager(radio Radio, opts Options) *Manager {
	m := &Manager{
		radio:        radio,
		pollInterval: opts.PollInterval,
		log:          opts.Logger.With().Str("component", "connectivity").Logger(),
		now:          opts.Now,
		state:        State{Mode: ModeDisconnected},
	}
	if m.pollInterval <= 0 {
		m.pollInterval = DefaultPollInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// CurrentState is a pure read.
func (m *Manager) CurrentState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) set(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// AttemptManagedConnect joins ssid and waits until the link is up or timeout
// has elapsed on the wall clock. An empty ssid is an immediate ErrTimedOut
// with no radio activity. On failure the state is left disconnected.
func (m *Manager) AttemptManagedConnect(ctx context.Context, ssid, secret, hostLabel string, timeout time.Duration) (State, error) {
	if ssid == "" {
		m.log.Info().Msg("no managed network configured; skipping join")
		m.set(State{Mode: ModeDisconnected})
		return m.CurrentState(), ErrTimedOut
	}

	deadline := m.now().Add(timeout)
	m.set(State{Mode: ModeConnecting, Target: ssid, Deadline: deadline})
	log := m.log.With().Str("ssid", ssid).Logger()
	log.Info().Dur("timeout", timeout).Msg("joining managed network")

	// bounds every radio call in the attempt
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.radio.Join(dctx, JoinRequest{SSID: ssid, Secret: secret, Hostname: hostLabel}); err != nil {
		log.Warn().Err(err).Msg("join request failed")
		return m.giveUp(ctx, m.attemptErr(ctx, err))
	}

	for {
		linked, err := m.radio.Linked(dctx)
		if err != nil {
			log.Debug().Err(err).Msg("link status poll failed")
		}
		if linked {
			addr, err := m.radio.Address(dctx)
			if err != nil {
				log.Warn().Err(err).Msg("linked but no address yet")
			}
			st := State{Mode: ModeStation, Target: ssid, Address: addr}
			m.set(st)
			log.Info().Str("address", addr).Msg("connected to managed network")
			return st, nil
		}

		remaining := deadline.Sub(m.now())
		if remaining <= 0 {
			log.Warn().Msg("managed network join timed out")
			return m.giveUp(ctx, ErrTimedOut)
		}
		wait := min(m.pollInterval, remaining)
		t := time.NewTimer(wait)
		select {
		case <-dctx.Done():
			t.Stop()
			log.Warn().Msg("managed network join abandoned")
			return m.giveUp(ctx, m.attemptErr(ctx, nil))
		case <-t.C:
		}
	}
}

// attemptErr wraps cause in ErrTimedOut, preferring the caller's
// cancellation over the attempt's own deadline.
func (m *Manager) attemptErr(ctx context.Context, cause error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	if cause == nil {
		return ErrTimedOut
	}
	return fmt.Errorf("%w: %w", ErrTimedOut, cause)
}

func (m *Manager) giveUp(ctx context.Context, err error) (State, error) {
	// a half-configured join would keep retrying underneath the fallback AP
	if lerr := m.radio.Leave(context.WithoutCancel(ctx)); lerr != nil {
		m.log.Debug().Err(lerr).Msg("leave after failed join")
	}
	m.set(State{Mode: ModeDisconnected})
	return m.CurrentState(), err
}

// StartFallback brings up the self-hosted network. Its SSID is derived from
// the radio's hardware id so it is the same on every boot.
func (m *Manager) StartFallback(ctx context.Context) (State, error) {
	hw, err := m.radio.HardwareID()
	if err != nil {
		return m.CurrentState(), fmt.Errorf("fallback: hardware id: %w", err)
	}
	ssid := FallbackSSID(hw)
	addr, err := m.radio.StartAccessPoint(ctx, ssid, FallbackSecret)
	if err != nil {
		m.set(State{Mode: ModeDisconnected})
		return m.CurrentState(), fmt.Errorf("fallback: start access point %s: %w", ssid, err)
	}
	st := State{Mode: ModeFallbackAP, Target: ssid, Address: addr}
	m.set(st)
	m.log.Info().Str("ssid", ssid).Str("address", addr).Msg("fallback access point up")
	return st, nil
}

// FallbackSSID maps a hardware id such as "24:6f:28:aa:bb:cc" to
// "NOSFW-AABBCC", using the last six hex digits.
func FallbackSSID(hardwareID string) string {
	var hex strings.Builder
	for _, r := range strings.ToUpper(hardwareID) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			hex.WriteRune(r)
		}
	}
	digits := hex.String()
	if len(digits) < 6 {
		digits = strings.Repeat("0", 6-len(digits)) + digits
	}
	return FallbackPrefix + digits[len(digits)-6:]
}
