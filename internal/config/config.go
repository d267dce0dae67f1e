package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the notification engine
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	API       APIConfig       `mapstructure:"api"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`

	// ConfigFile is the file the configuration was read from, empty when none was found
	ConfigFile string `mapstructure:"-"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds Kafka configuration. When disabled, due notifications go
// straight to the in-process worker pool.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	GRPCPort int    `mapstructure:"grpc_port"`
}

// AuthConfig describes how the requesting user reaches the API. Authentication
// itself happens upstream.
type AuthConfig struct {
	UserHeader string `mapstructure:"user_header"`
}

// ChannelsConfig holds third-party provider configurations
type ChannelsConfig struct {
	Email    EmailConfig    `mapstructure:"email"`
	SendGrid SendGridConfig `mapstructure:"sendgrid"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
}

// EmailConfig selects the email provider and sender identity
type EmailConfig struct {
	Provider string `mapstructure:"provider"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

// SendGridConfig holds SendGrid email configuration
type SendGridConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// SMTPConfig holds SMTP email configuration
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// FirebaseConfig holds Firebase push notification configuration
type FirebaseConfig struct {
	CredentialsPath string `mapstructure:"credentials_path"`
}

// WebSocketConfig tunes in-app websocket sessions. An empty AllowedOrigins
// accepts any origin.
type WebSocketConfig struct {
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// DispatchConfig tunes the dispatch engine, worker pool and scheduler
type DispatchConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	SendTimeout     time.Duration `mapstructure:"send_timeout"`
	SendConcurrency int           `mapstructure:"send_concurrency"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	Lease           time.Duration `mapstructure:"lease"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	ScanInterval    time.Duration `mapstructure:"scan_interval"`
	ScanBatch       int           `mapstructure:"scan_batch"`
}

// CacheConfig holds TTLs of cached aggregates
type CacheConfig struct {
	StatsTTL    time.Duration `mapstructure:"stats_ttl"`
	SettingsTTL time.Duration `mapstructure:"settings_ttl"`
}

// MetricsConfig holds monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// LoadConfig loads configuration from environment variables and config files.
// With no paths, ./ and ./config are searched for config.yaml.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	config.ConfigFile = v.ConfigFileUsed()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	switch c.Channels.Email.Provider {
	case "sendgrid", "smtp":
	default:
		errs = append(errs, fmt.Errorf("channels.email.provider must be sendgrid or smtp, got %q", c.Channels.Email.Provider))
	}
	if c.Dispatch.Workers < 1 {
		errs = append(errs, errors.New("dispatch.workers must be at least 1"))
	}
	if c.Dispatch.SendConcurrency < 1 {
		errs = append(errs, errors.New("dispatch.send_concurrency must be at least 1"))
	}
	if c.Dispatch.QueueSize < 1 {
		errs = append(errs, errors.New("dispatch.queue_size must be at least 1"))
	}
	if c.Dispatch.MaxRetries < 0 {
		errs = append(errs, errors.New("dispatch.max_retries must not be negative"))
	}
	if c.Dispatch.SendTimeout <= 0 {
		errs = append(errs, errors.New("dispatch.send_timeout must be positive"))
	}
	if c.Dispatch.Lease <= c.Dispatch.SendTimeout {
		errs = append(errs, errors.New("dispatch.lease must exceed dispatch.send_timeout"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "notifications")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "notifications")
	v.SetDefault("kafka.group_id", "dispatch-workers")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.grpc_port", 9090)
	v.SetDefault("auth.user_header", "X-User-ID")

	// Channel defaults
	v.SetDefault("channels.email.provider", "sendgrid")
	v.SetDefault("channels.email.from", "noreply@example.com")
	v.SetDefault("channels.email.from_name", "Notification Service")
	v.SetDefault("channels.sendgrid.api_key", "")
	v.SetDefault("channels.smtp.host", "")
	v.SetDefault("channels.smtp.port", 587)
	v.SetDefault("channels.smtp.username", "")
	v.SetDefault("channels.smtp.password", "")
	v.SetDefault("channels.firebase.credentials_path", "")

	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.max_message_size", 512)
	v.SetDefault("websocket.allowed_origins", []string{})

	// Dispatch defaults
	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.send_timeout", "10s")
	v.SetDefault("dispatch.send_concurrency", 16)
	v.SetDefault("dispatch.workers", 8)
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.lease", "1m")
	v.SetDefault("dispatch.retry_backoff", "30s")
	v.SetDefault("dispatch.scan_interval", "5s")
	v.SetDefault("dispatch.scan_batch", 100)

	v.SetDefault("cache.stats_ttl", "5m")
	v.SetDefault("cache.settings_ttl", "1h")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9091)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// bindEnv maps the conventional environment variable names
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.user", "DB_USER")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("database.database", "DB_NAME")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	_ = v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	_ = v.BindEnv("channels.email.provider", "EMAIL_PROVIDER")
	_ = v.BindEnv("channels.email.from", "EMAIL_FROM")
	_ = v.BindEnv("channels.sendgrid.api_key", "SENDGRID_API_KEY")
	_ = v.BindEnv("channels.smtp.host", "SMTP_HOST")
	_ = v.BindEnv("channels.smtp.port", "SMTP_PORT")
	_ = v.BindEnv("channels.smtp.username", "SMTP_USERNAME")
	_ = v.BindEnv("channels.smtp.password", "SMTP_PASSWORD")
	_ = v.BindEnv("channels.firebase.credentials_path", "FIREBASE_CREDENTIALS_PATH")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}
