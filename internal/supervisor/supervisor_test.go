package supervisor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"nithronos/device/nosfw/internal/connectivity"
	"nithronos/device/nosfw/internal/devconfig"
	"nithronos/device/nosfw/internal/fsatomic"
)

type fakeRestarter struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeRestarter) Restart(reason string) {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
}

func (f *fakeRestarter) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

func newSupervisor(t *testing.T, cfg *devconfig.DeviceConfig, radio *connectivity.SimRadio) (*Supervisor, *fakeRestarter) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.json")
	if cfg != nil {
		require.NoError(t, fsatomic.SaveJSON(context.Background(), path, cfg, 0o600))
	}
	log := zerolog.Nop()
	r := &fakeRestarter{}
	s := New(Options{
		Logger:         log,
		Store:          devconfig.New(path, devconfig.Defaults(), log),
		Conn:           connectivity.NewManager(radio, connectivity.Options{Logger: log, PollInterval: time.Millisecond}),
		Restarter:      r,
		ConnectTimeout: 30 * time.Millisecond,
	})
	return s, r
}

func TestBootJoinsManagedNetwork(t *testing.T) {
	radio := connectivity.NewSimRadio("24:6f:28:aa:bb:cc")
	radio.Networks["home"] = "wifipass1"
	cfg := devconfig.Defaults()
	cfg.ManagedNetworkID = "home"
	cfg.ManagedNetworkSecret = "wifipass1"
	s, _ := newSupervisor(t, &cfg, radio)

	st := s.Boot(context.Background())
	require.Equal(t, connectivity.ModeStation, st.Mode)
	require.Empty(t, radio.AccessPoint())
}

func TestBootFallsBackWhenUnconfigured(t *testing.T) {
	radio := connectivity.NewSimRadio("24:6f:28:aa:bb:cc")
	s, _ := newSupervisor(t, nil, radio)

	st := s.Boot(context.Background())
	require.Equal(t, connectivity.ModeFallbackAP, st.Mode)
	require.Equal(t, "NOSFW-AABBCC", st.Target)
	require.Empty(t, radio.Joins(), "no join without a configured network")
}

func TestBootStaysOfflineWithoutFallback(t *testing.T) {
	radio := connectivity.NewSimRadio("24:6f:28:aa:bb:cc")
	cfg := devconfig.Defaults()
	cfg.ManagedNetworkID = "home"
	cfg.ManagedNetworkSecret = "wrongpass"
	cfg.FallbackEnabled = false
	radio.Networks["home"] = "wifipass1"
	s, _ := newSupervisor(t, &cfg, radio)

	st := s.Boot(context.Background())
	require.Equal(t, connectivity.ModeDisconnected, st.Mode)
	require.Empty(t, radio.AccessPoint())
	require.Len(t, radio.Joins(), 1)
}

func TestBootSurvivesFallbackFailure(t *testing.T) {
	radio := connectivity.NewSimRadio("24:6f:28:aa:bb:cc")
	radio.APErr = errors.New("radio busy")
	s, _ := newSupervisor(t, nil, radio)

	st := s.Boot(context.Background())
	require.Equal(t, connectivity.ModeDisconnected, st.Mode)
}

func TestServeRestartsAfterRequest(t *testing.T) {
	s, r := newSupervisor(t, nil, connectivity.NewSimRadio("aa"))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- s.Serve(context.Background(), ln, http.NotFoundHandler())
	}()
	s.RequestRestart("firmware committed")
	s.RequestRestart("dropped while pending")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	require.Equal(t, []string{"firmware committed"}, r.got())
}

func TestServeStopsOnContext(t *testing.T) {
	s, r := newSupervisor(t, nil, connectivity.NewSimRadio("aa"))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln, http.NotFoundHandler()) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
	require.Empty(t, r.got())
}
