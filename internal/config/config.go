package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds the deployment knobs of the agent. The device's behavioural
// settings live in the persisted device record, not here.
type Config struct {
	Bind     string
	Port     int
	LogLevel zerolog.Level

	DataDir     string
	FactoryPath string

	Radio          string
	WifiIface      string
	ConnectTimeout time.Duration
	PollInterval   time.Duration

	SlotSize int64

	MQTTBroker string
	Heartbeat  string

	// RebootOnRestart makes restarts reboot the board instead of exiting the
	// process. Without it the unit needs Restart=on-failure or Restart=always,
	// since restarts exit with system.RestartExitCode.
	RebootOnRestart bool

	// TrustProxy honours X-Forwarded-For and X-Real-IP when identifying
	// clients. Leave it off unless a reverse proxy sets those headers.
	TrustProxy bool
}

func FromEnv() Config {
	// .env next to the binary is optional
	_ = godotenv.Load()

	cfg := Config{
		Bind:           envString("NOSFW_BIND", "0.0.0.0"),
		Port:           envInt("NOSFW_PORT", 80),
		LogLevel:       zerolog.InfoLevel,
		DataDir:        envString("NOSFW_DATA_DIR", "/var/lib/nosfw"),
		Radio:          envString("NOSFW_RADIO", "nmcli"),
		WifiIface:      envString("NOSFW_WIFI_IFACE", "wlan0"),
		ConnectTimeout: envDuration("NOSFW_CONNECT_TIMEOUT", 20*time.Second),
		PollInterval:   envDuration("NOSFW_POLL_INTERVAL", 500*time.Millisecond),
		SlotSize:       int64(envInt("NOSFW_SLOT_SIZE", 16<<20)),
		MQTTBroker:     os.Getenv("NOSFW_MQTT_BROKER"),
		Heartbeat:      envString("NOSFW_HEARTBEAT", "@every 1m"),
	}
	if v := os.Getenv("NOSFW_LOG"); v != "" {
		if l, err := zerolog.ParseLevel(v); err == nil {
			cfg.LogLevel = l
		}
	}
	cfg.FactoryPath = envString("NOSFW_FACTORY", filepath.Join("/etc", "nosfw", "factory.yaml"))
	if v, err := strconv.ParseBool(os.Getenv("NOSFW_REBOOT")); err == nil {
		cfg.RebootOnRestart = v
	}
	if v, err := strconv.ParseBool(os.Getenv("NOSFW_TRUST_PROXY")); err == nil {
		cfg.TrustProxy = v
	}
	return cfg
}

func (c Config) DevicePath() string { return filepath.Join(c.DataDir, "device.json") }
func (c Config) KeysPath() string { return filepath.Join(c.DataDir, "session.keys") }
func (c Config) SlotsDir() string { return filepath.Join(c.DataDir, "slots") }

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
