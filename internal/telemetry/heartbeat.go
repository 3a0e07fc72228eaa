// Package telemetry publishes a periodic status heartbeat while the device
// is on its managed network.
package telemetry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule is used when no schedule is configured.
const DefaultSchedule = "@every 1m"

// Beat is one heartbeat message.
type Beat struct {
	Device   string    `json:"device"`
	Label    string    `json:"label"`
	Mode     string    `json:"mode"`
	Address  string    `json:"address,omitempty"`
	Firmware string    `json:"firmware,omitempty"`
	Uptime   uint64    `json:"uptime"`
	At       time.Time `json:"at"`
}

// Source reports the current beat and whether the device is in station mode.
type Source func() (Beat, bool)

// Heartbeat runs Source on a cron schedule and publishes the result.
type Heartbeat struct {
	log   zerolog.Logger
	pub   Publisher
	src   Source
	topic string

	mu   sync.Mutex
	cron *cron.Cron
	sent int
}

func NewHeartbeat(pub Publisher, src Source, topic string, logger zerolog.Logger) *Heartbeat {
	return &Heartbeat{
		log:   logger.With().Str("component", "heartbeat").Logger(),
		pub:   pub,
		src:   src,
		topic: topic,
	}
}

// Start validates the cron schedule and begins publishing.
func (h *Heartbeat) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { h.Beat() }); err != nil {
		return err
	}
	h.mu.Lock()
	h.cron = c
	h.mu.Unlock()
	c.Start()
	h.log.Info().Str("schedule", schedule).Str("topic", h.topic).Msg("heartbeat started")
	return nil
}

// Stop waits for a running beat to finish and closes the publisher.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	c := h.cron
	h.cron = nil
	h.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
	h.pub.Close()
}

// Beat publishes once. It reports whether a message went out.
func (h *Heartbeat) Beat() bool {
	b, station := h.src()
	if !station {
		return false
	}
	payload, err := json.Marshal(b)
	if err != nil {
		h.log.Error().Err(err).Msg("encode beat")
		return false
	}
	if err := h.pub.Publish(h.topic, payload); err != nil {
		h.log.Warn().Err(err).Msg("publish beat")
		return false
	}
	h.mu.Lock()
	h.sent++
	h.mu.Unlock()
	return true
}

// Sent is the number of beats delivered so far.
func (h *Heartbeat) Sent() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent
}

// Topic returns the heartbeat topic for a device id.
func Topic(device string) string {
	return "nosfw/" + device + "/status"
}
