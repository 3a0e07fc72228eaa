// Package supervisor owns the device lifecycle: bring the network up at
// boot, serve the administrative surface, and restart on request.
package supervisor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"nithronos/device/nosfw/internal/connectivity"
	"nithronos/device/nosfw/internal/devconfig"
)

const shutdownGrace = 10 * time.Second

// Restarter ends the process or the board. system.Restarter is the real one.
type Restarter interface {
	Restart(reason string)
}

type Options struct {
	Logger         zerolog.Logger
	Store          *devconfig.Store
	Conn           *connectivity.Manager
	Restarter      Restarter
	ConnectTimeout time.Duration
}

type Supervisor struct {
	log     zerolog.Logger
	store   *devconfig.Store
	conn    *connectivity.Manager
	restart Restarter
	timeout time.Duration

	restartCh chan string
}

func New(opts Options) *Supervisor {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 20 * time.Second
	}
	return &Supervisor{
		log:       opts.Logger.With().Str("component", "supervisor").Logger(),
		store:     opts.Store,
		conn:      opts.Conn,
		restart:   opts.Restarter,
		timeout:   opts.ConnectTimeout,
		restartCh: make(chan string, 1),
	}
}

// Boot loads the configuration and brings the network up: the managed
// network if one is configured, else the fallback network when enabled,
// else no network at all. It never fails; the returned state says where the
// device ended up.
func (s *Supervisor) Boot(ctx context.Context) connectivity.State {
	cfg := s.store.Load()
	s.log.Info().Str("device", cfg.DeviceLabel).Bool("provisioned", cfg.Provisioned()).
		Bool("fallback", cfg.FallbackEnabled).Msg("booting")

	st, err := s.conn.AttemptManagedConnect(ctx, cfg.ManagedNetworkID, cfg.ManagedNetworkSecret, cfg.DeviceLabel, s.timeout)
	if err == nil {
		return st
	}
	s.log.Warn().Err(err).Str("ssid", cfg.ManagedNetworkID).Msg("managed network unavailable")

	if !cfg.FallbackEnabled {
		s.log.Warn().Msg("fallback disabled; staying offline")
		return s.conn.CurrentState()
	}
	st, err = s.conn.StartFallback(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("fallback network failed; staying offline")
		return s.conn.CurrentState()
	}
	return st
}

// RequestRestart asks Serve to shut down and restart. It never blocks; while
// one request is pending further ones are dropped.
func (s *Supervisor) RequestRestart(reason string) {
	select {
	case s.restartCh <- reason:
		s.log.Info().Str("reason", reason).Msg("restart requested")
	default:
	}
}

// Run listens on addr and serves until ctx ends or a restart is requested.
func (s *Supervisor) Run(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, h)
}

// Serve is Run on an existing listener. In-flight requests are given
// shutdownGrace to finish before the restarter runs, so the response that
// triggered a restart still reaches the client.
func (s *Supervisor) Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
		errCh <- srv.Serve(ln)
	}()

	var reason string
	select {
	case <-ctx.Done():
	case reason = <-s.restartCh:
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn().Err(err).Msg("graceful shutdown incomplete")
	}
	if reason != "" && s.restart != nil {
		s.restart.Restart(reason)
	}
	return nil
}
