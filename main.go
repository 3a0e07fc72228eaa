package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"nithronos/device/nosfw/internal/access"
	"nithronos/device/nosfw/internal/config"
	"nithronos/device/nosfw/internal/connectivity"
	"nithronos/device/nosfw/internal/devconfig"
	"nithronos/device/nosfw/internal/firmware"
	"nithronos/device/nosfw/internal/server"
	"nithronos/device/nosfw/internal/supervisor"
	"nithronos/device/nosfw/internal/system"
	"nithronos/device/nosfw/internal/telemetry"
)

func main() {
	cfg := config.FromEnv()
	logger := *server.Logger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defaults, err := devconfig.LoadFactory(cfg.FactoryPath)
	if err != nil {
		logger.Warn().Err(err).Msg("ignoring factory defaults")
	}
	store := devconfig.New(cfg.DevicePath(), defaults, logger)

	var radio connectivity.Radio
	switch cfg.Radio {
	case "sim":
		radio = connectivity.NewSimRadio("02:00:00:00:00:01")
	default:
		radio = connectivity.NewNMCLIRadio(cfg.WifiIface)
	}
	conn := connectivity.NewManager(radio, connectivity.Options{PollInterval: cfg.PollInterval, Logger: logger})

	sup := supervisor.New(supervisor.Options{
		Logger:         logger,
		Store:          store,
		Conn:           conn,
		Restarter:      system.Restarter{Reboot: cfg.RebootOnRestart, Log: logger},
		ConnectTimeout: cfg.ConnectTimeout,
	})
	st := sup.Boot(ctx)
	logger.Info().Str("mode", string(st.Mode)).Str("address", st.Address).Msg("network ready")

	// the admin surface must come up even when the data dir is unusable
	var sessions *access.SessionCodec
	hashKey, blockKey, err := access.LoadOrCreateKeys(cfg.KeysPath())
	switch {
	case err == nil:
		sessions = access.NewSessionCodec(hashKey, blockKey)
	case hashKey != nil:
		logger.Warn().Err(err).Msg("session keys kept in memory; sessions end on restart")
		sessions = access.NewSessionCodec(hashKey, blockKey)
	default:
		logger.Warn().Err(err).Msg("no session keys; falling back to Basic auth only")
	}
	gate := access.NewGate(store, sessions, logger)

	metrics := server.NewMetrics()
	fw := firmware.NewController(firmware.NewFileSlots(cfg.SlotsDir(), cfg.SlotSize, logger), firmware.Options{
		Logger:    logger,
		OnOutcome: metrics.ObserveOutcome,
		OnCommitted: func(o firmware.Outcome) {
			sup.RequestRestart("firmware " + o.Digest + " committed")
		},
	})

	if hb := startHeartbeat(cfg, logger, radio, store, conn, fw); hb != nil {
		defer hb.Stop()
	}

	h := server.NewRouter(server.Deps{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Gate:     gate,
		Conn:     conn,
		Firmware: fw,
		Metrics:  metrics,
		Restart:  sup.RequestRestart,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port)
	logger.Info().Msgf("nosfw listening on http://%s", addr)
	if err := sup.Run(ctx, addr, h); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func startHeartbeat(cfg config.Config, logger zerolog.Logger, radio connectivity.Radio, store *devconfig.Store,
	conn *connectivity.Manager, fw *firmware.Controller) *telemetry.Heartbeat {
	if cfg.MQTTBroker == "" {
		return nil
	}
	hw, err := radio.HardwareID()
	if err != nil {
		logger.Warn().Err(err).Msg("no hardware id; heartbeat disabled")
		return nil
	}
	device := strings.ToLower(strings.ReplaceAll(hw, ":", ""))
	pub, err := telemetry.DialMQTT(cfg.MQTTBroker, "nosfw-"+device, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("heartbeat disabled")
		return nil
	}
	src := func() (telemetry.Beat, bool) {
		st := conn.CurrentState()
		b := telemetry.Beat{
			Device:  device,
			Label:   store.Current().DeviceLabel,
			Mode:    string(st.Mode),
			Address: st.Address,
			Uptime:  system.ReadHostInfo().Uptime,
			At:      time.Now().UTC(),
		}
		if running := fw.Status().Running; running != nil {
			b.Firmware = running.Label
		}
		return b, st.Mode == connectivity.ModeStation
	}
	hb := telemetry.NewHeartbeat(pub, src, telemetry.Topic(device), logger)
	if err := hb.Start(cfg.Heartbeat); err != nil {
		logger.Warn().Err(err).Str("schedule", cfg.Heartbeat).Msg("heartbeat disabled")
		pub.Close()
		return nil
	}
	return hb
}
