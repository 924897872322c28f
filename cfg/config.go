package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
)

// SinkConfiguration selects and configures the broker client.
type SinkConfiguration struct {
	Type           string   `toml:"type"`   // "kafka" or "nats"
	Format         string   `toml:"format"` // "json" or "msgpack"
	Topic          string   `toml:"topic"`
	Brokers        []string `toml:"brokers"`  // kafka bootstrap servers
	NatsURL        string   `toml:"nats_url"` // nats server URL
	BatchSize      int      `toml:"batch_size"`
	FlushTimeoutMS int      `toml:"flush_timeout_ms"`
}

// IgnoreConfiguration lists entity-type patterns excluded from tracking.
type IgnoreConfiguration struct {
	Patterns []string `toml:"patterns"`
}

// StoreConfiguration points at the SQL entity store. Empty path means the
// host provides its own store.
type StoreConfiguration struct {
	Path string `toml:"path"`
}

// HTTPConfiguration for the demo/ops HTTP server.
type HTTPConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// LoggingConfiguration controls logging behavior.
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics.
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure.
type Configuration struct {
	NodeID   uint64 `toml:"node_id"`
	Hostname string `toml:"hostname"` // overrides os.Hostname in envelopes

	Sink       SinkConfiguration       `toml:"sink"`
	Ignore     IgnoreConfiguration     `toml:"ignore"`
	Store      StoreConfiguration      `toml:"store"`
	HTTP       HTTPConfiguration       `toml:"http"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	HTTPPortFlag   = flag.Int("http-port", 0, "HTTP port (overrides config)")
	TopicFlag      = flag.String("topic", "", "Broker topic (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID: 0, // Auto-generate

	Sink: SinkConfiguration{
		Type:           "kafka",
		Format:         "json",
		Topic:          "changefeed.events",
		Brokers:        []string{"localhost:9092"},
		BatchSize:      100,
		FlushTimeoutMS: 5000,
	},

	// The default excludes mirror the categories that only add noise to
	// the stream: the audit log itself, tag join rows, and credential
	// or user records.
	Ignore: IgnoreConfiguration{
		Patterns: []string{
			"audit.*",
			"tagging.TagAssignment",
			"auth.*",
		},
	},

	HTTP: HTTPConfiguration{
		BindAddress: "0.0.0.0",
		Port:        8080,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides.
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *HTTPPortFlag != 0 {
		Config.HTTP.Port = *HTTPPortFlag
	}
	if *TopicFlag != "" {
		Config.Sink.Topic = *TopicFlag
	}

	if Config.NodeID == 0 {
		id, err := generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node id: %w", err)
		}
		Config.NodeID = id
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	return nil
}

// generateNodeID creates a stable node ID based on machine ID.
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("changefeed")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// ResolveHostname returns the name reported in message envelopes.
func ResolveHostname() string {
	if Config.Hostname != "" {
		return Config.Hostname
	}
	if hostname, err := os.Hostname(); err == nil {
		return hostname
	}
	return fmt.Sprintf("node-%d", Config.NodeID)
}

// Validate checks configuration for errors.
func Validate() error {
	if Config.HTTP.Port < 1 || Config.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", Config.HTTP.Port)
	}

	switch Config.Sink.Type {
	case "kafka":
		if len(Config.Sink.Brokers) == 0 {
			return fmt.Errorf("kafka sink requires at least one broker")
		}
	case "nats":
		if Config.Sink.NatsURL == "" {
			return fmt.Errorf("nats sink requires nats_url")
		}
	case "mock":
		// Accepted for tests and dry runs.
	default:
		return fmt.Errorf("unknown sink type: %s", Config.Sink.Type)
	}

	switch Config.Sink.Format {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unknown sink format: %s", Config.Sink.Format)
	}

	if Config.Sink.Topic == "" {
		return fmt.Errorf("sink topic is required")
	}

	for _, pattern := range Config.Ignore.Patterns {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
	}

	switch Config.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown logging format: %s", Config.Logging.Format)
	}

	return nil
}
