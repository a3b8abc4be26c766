package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Addr          string        `mapstructure:"addr"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type DispatcherConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type RelayConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Batch    int           `mapstructure:"batch"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	DedupeTTL time.Duration `mapstructure:"dedupe_ttl"`
}

type DeadLetterConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Redis      RedisConfig      `mapstructure:"redis"`
	DeadLetter DeadLetterConfig `mapstructure:"deadletter"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_grace", 10*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 16)
	v.SetDefault("database.migrate_on_start", true)

	v.SetDefault("jwt.secret", "")

	v.SetDefault("dispatcher.workers", 4)
	v.SetDefault("dispatcher.queue_size", 256)
	v.SetDefault("dispatcher.max_attempts", 5)
	v.SetDefault("dispatcher.initial_backoff", 200*time.Millisecond)
	v.SetDefault("dispatcher.max_backoff", 10*time.Second)

	v.SetDefault("relay.interval", time.Second)
	v.SetDefault("relay.batch", 100)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "offerflow.notifications")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "offerflow-api")
	v.SetDefault("mqtt.topic_prefix", "offerflow/notifications")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.dedupe_ttl", 72*time.Hour)

	v.SetDefault("deadletter.sqlite_path", "")
}

// Load reads offerflow.yaml from path (when present) and applies
// OFFERFLOW_* environment overrides, e.g. OFFERFLOW_DATABASE_URL.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("offerflow")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix("OFFERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("config: jwt.secret is required")
	}
	if c.Dispatcher.Workers <= 0 || c.Dispatcher.QueueSize <= 0 || c.Dispatcher.MaxAttempts <= 0 {
		return fmt.Errorf("config: dispatcher workers, queue_size and max_attempts must be positive")
	}
	return nil
}
