package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, err := strconv.Atoi(getEnv(key, strconv.Itoa(def))); err == nil {
		return v
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, def.String())); err == nil {
		return v
	}
	return def
}

// ServerConfig holds configuration for the tymbald service.
type ServerConfig struct {
	Port        int           `yaml:"port"`
	MetricsPort int           `yaml:"metrics_port"`
	RuntimeKey  string        `yaml:"runtime_key"`
	WSPath      string        `yaml:"ws_path"`
	RedisURL    string        `yaml:"redis_url"`
	Keepalive   time.Duration `yaml:"keepalive"`
	MaxMissed   int           `yaml:"max_missed_pongs"`
	SendQueue   int           `yaml:"send_queue"`
	PendQueue   int           `yaml:"pending_queue"`

	LogLevel string `yaml:"log_level"`

	Backend     string `yaml:"backend"` // docker, fleet or remote
	AgentImage  string `yaml:"agent_image"`
	APIURL      string `yaml:"api_url"`
	FleetURL    string `yaml:"fleet_url"`
	FleetToken  string `yaml:"fleet_token"`
	ConfigFile  string `yaml:"-"`
}

// BindFlags populates the struct with defaults from environment variables and
// binds command line flags so main can call flag.Parse().
func (c *ServerConfig) BindFlags() {
	c.Port = getEnvInt("PORT", 8080)
	c.MetricsPort = getEnvInt("METRICS_PORT", c.Port)
	c.RuntimeKey = getEnv("RUNTIME_KEY", "")
	c.WSPath = getEnv("WS_PATH", "/api/runtimes/connect")
	c.RedisURL = getEnv("REDIS_URL", "")
	c.Keepalive = getEnvDuration("KEEPALIVE_INTERVAL", 15*time.Second)
	c.MaxMissed = getEnvInt("MAX_MISSED_PONGS", 3)
	c.SendQueue = getEnvInt("SEND_QUEUE", 32)
	c.PendQueue = getEnvInt("PENDING_QUEUE", 16)
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.Backend = getEnv("BACKEND", "remote")
	c.AgentImage = getEnv("AGENT_IMAGE", "")
	c.APIURL = getEnv("API_URL", "http://localhost:8080")
	c.FleetURL = getEnv("FLEET_URL", "")
	c.FleetToken = getEnv("FLEET_TOKEN", "")

	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	flag.IntVar(&c.MetricsPort, "metrics-port", c.MetricsPort, "Prometheus metrics listen port; defaults to the value of --port")
	flag.StringVar(&c.RuntimeKey, "runtime-key", c.RuntimeKey, "shared key runtimes must present when connecting")
	flag.StringVar(&c.WSPath, "ws-path", c.WSPath, "path runtimes use to establish WebSocket connections")
	flag.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "Redis URL for finalized agent state; empty disables the handoff")
	flag.DurationVar(&c.Keepalive, "keepalive", c.Keepalive, "ping interval per runtime session")
	flag.IntVar(&c.MaxMissed, "max-missed-pongs", c.MaxMissed, "consecutive unanswered pings before a session is dropped")
	flag.IntVar(&c.SendQueue, "send-queue", c.SendQueue, "outbound message bound per session")
	flag.IntVar(&c.PendQueue, "pending-queue", c.PendQueue, "deliveries queued before runtime_ready")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: trace, debug, info, warn, error or none")
	flag.StringVar(&c.Backend, "backend", c.Backend, "execution backend: docker, fleet or remote")
	flag.StringVar(&c.AgentImage, "agent-image", c.AgentImage, "default container image for agents")
	flag.StringVar(&c.APIURL, "api-url", c.APIURL, "base URL injected into agent containers")
	flag.StringVar(&c.FleetURL, "fleet-url", c.FleetURL, "fleet provisioning API base URL")
	flag.StringVar(&c.FleetToken, "fleet-token", c.FleetToken, "fleet provisioning API token")
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML config file overlaid on environment defaults")
}

// LoadFile overlays values from a YAML file onto the config. Fields absent
// from the file keep their current values.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// RuntimeConfig holds configuration for the user-machine runtime daemon.
type RuntimeConfig struct {
	ServerURL       string        `yaml:"server_url"`
	RuntimeKey      string        `yaml:"runtime_key"`
	Channel         string        `yaml:"channel"`
	AgentCommand    []string      `yaml:"agent_command"`
	LogLevel        string        `yaml:"log_level"`
	CheckinInterval time.Duration `yaml:"checkin_interval"`
	Reconnect       bool          `yaml:"reconnect"`
	ConfigFile      string        `yaml:"-"`
}

func (c *RuntimeConfig) BindFlags() {
	c.ServerURL = getEnv("SERVER_URL", "ws://localhost:8080/api/runtimes/connect")
	c.RuntimeKey = getEnv("RUNTIME_KEY", "")
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "runtime-" + uuid.NewString()[:8]
	}
	c.Channel = getEnv("CHANNEL", host)
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.CheckinInterval = getEnvDuration("CHECKIN_INTERVAL", 10*time.Second)
	c.Reconnect = getEnv("RECONNECT", "true") == "true"

	flag.StringVar(&c.ServerURL, "server-url", c.ServerURL, "service websocket url")
	flag.StringVar(&c.RuntimeKey, "runtime-key", c.RuntimeKey, "runtime authentication key")
	flag.StringVar(&c.Channel, "channel", c.Channel, "channel scope this runtime serves")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: trace, debug, info, warn, error or none")
	flag.DurationVar(&c.CheckinInterval, "checkin-interval", c.CheckinInterval, "how often active agents report a checkin")
	flag.BoolVar(&c.Reconnect, "reconnect", c.Reconnect, "reconnect with backoff when the connection drops")
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "YAML config file overlaid on environment defaults")
}

// LoadFile overlays values from a YAML file onto the config.
func (c *RuntimeConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}
