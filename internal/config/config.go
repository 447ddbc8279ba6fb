// Package config loads service configuration from yaml files and the
// environment via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTPConfig represents the HTTP/WebSocket listener configuration.
type HTTPConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// Addr returns the host:port listen address.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WSConfig tunes the connection manager and its sessions.
type WSConfig struct {
	MaxConnections    int           `mapstructure:"max_connections" yaml:"max_connections"`
	SendQueueSize     int           `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout" yaml:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ReadLimit         int64         `mapstructure:"read_limit" yaml:"read_limit"`
	MaxViolations     int           `mapstructure:"max_violations" yaml:"max_violations"`
}

// RedisConfig represents the shared Redis used by the bus bridge and the
// last-value cache.
type RedisConfig struct {
	Address  string `mapstructure:"address" yaml:"address"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

// KafkaConfig represents the optional Kafka bus backend.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers" yaml:"brokers"`
	Topic   string   `mapstructure:"topic" yaml:"topic"`
	GroupID string   `mapstructure:"group_id" yaml:"group_id"`
}

// BusConfig selects and configures the cross-instance fan-out bus.
type BusConfig struct {
	// Backend is "redis", "kafka" or "none".
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Kafka   KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

// AuthConfig configures connect-time token validation. An empty secret
// disables validation entirely.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
}

// Config is the root application configuration.
type Config struct {
	LogLevel string      `mapstructure:"log_level" yaml:"log_level"`
	HTTP     HTTPConfig  `mapstructure:"http" yaml:"http"`
	WS       WSConfig    `mapstructure:"websocket" yaml:"websocket"`
	Redis    RedisConfig `mapstructure:"redis" yaml:"redis"`
	Bus      BusConfig   `mapstructure:"bus" yaml:"bus"`
	Auth     AuthConfig  `mapstructure:"auth" yaml:"auth"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.allowed_origins", []string{"*"})

	v.SetDefault("websocket.max_connections", 1000)
	v.SetDefault("websocket.send_queue_size", 256)
	v.SetDefault("websocket.heartbeat_interval", 30*time.Second)
	v.SetDefault("websocket.pong_timeout", 10*time.Second)
	v.SetDefault("websocket.write_timeout", 10*time.Second)
	v.SetDefault("websocket.read_limit", 64*1024)
	v.SetDefault("websocket.max_violations", 5)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "tradewire:broadcast")

	v.SetDefault("bus.backend", "redis")
	v.SetDefault("bus.kafka.topic", "tradewire-events")
	v.SetDefault("bus.kafka.group_id", "tradewire")
}

// LoadConfig reads configs/config.yaml (or the file named by
// TRADEWIRE_CONFIG_FILE) and merges TRADEWIRE_* environment overrides.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRADEWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
	}

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the manager cannot run with.
func (c *Config) Validate() error {
	if c.WS.MaxConnections <= 0 {
		return fmt.Errorf("websocket.max_connections must be positive, got %d", c.WS.MaxConnections)
	}
	if c.WS.SendQueueSize <= 0 {
		return fmt.Errorf("websocket.send_queue_size must be positive, got %d", c.WS.SendQueueSize)
	}
	if c.WS.HeartbeatInterval <= 0 {
		return fmt.Errorf("websocket.heartbeat_interval must be positive")
	}
	if c.WS.PongTimeout <= 0 {
		return fmt.Errorf("websocket.pong_timeout must be positive")
	}
	switch c.Bus.Backend {
	case "redis", "kafka", "none":
	default:
		return fmt.Errorf("bus.backend must be redis, kafka or none, got %q", c.Bus.Backend)
	}
	return nil
}
