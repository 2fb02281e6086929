package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr     string   `yaml:"listen_addr"`
	LogLevel       string   `yaml:"log_level"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SeedFile       string   `yaml:"seed_file"`

	Storage Storage `yaml:"storage"`
	Auth    Auth    `yaml:"auth"`
	Collab  Collab  `yaml:"collab"`

	// RedisAddr enables the shared token revocation list. Empty keeps it in memory.
	RedisAddr string `yaml:"redis_addr"`
	// JaegerEndpoint enables trace export. Empty disables tracing.
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
}

type Storage struct {
	Type           string `yaml:"type"`
	LocalPath      string `yaml:"local_path"`
	DataSourceName string `yaml:"data_source_name"`
	S3Bucket       string `yaml:"s3_bucket"`
	PostgresDSN    string `yaml:"postgres_dsn"`
}

type Auth struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	OIDCIssuerURL string        `yaml:"oidc_issuer_url"`
	OIDCClientID  string        `yaml:"oidc_client_id"`
}

type Collab struct {
	// IdleTimeout disconnects sessions with neither messages nor heartbeats
	// for this long. Zero disables it.
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	// PingInterval overrides the transports' heartbeat interval when set.
	PingInterval    time.Duration `yaml:"ping_interval"`
	ReapSchedule    string        `yaml:"reap_schedule"`
	OutboxSize      int           `yaml:"outbox_size"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

func Default() *Config {
	return &Config{
		ListenAddr:     ":3002",
		LogLevel:       "info",
		AllowedOrigins: []string{"http://localhost:3000"},
		Storage: Storage{
			Type:           "memory",
			LocalPath:      "./data",
			DataSourceName: "notes.db",
		},
		Auth: Auth{
			TokenTTL: 7 * 24 * time.Hour,
		},
		Collab: Collab{
			IdleTimeout:     30 * time.Minute,
			ReapSchedule:    "@every 30s",
			OutboxSize:      256,
			MaxMessageBytes: 5_000_000,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, and finally environment variables (.env included).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.SeedFile = getEnv("SEED_FILE", c.SeedFile)

	c.Storage.Type = getEnv("STORAGE_TYPE", c.Storage.Type)
	c.Storage.LocalPath = getEnv("LOCAL_STORAGE_PATH", c.Storage.LocalPath)
	c.Storage.DataSourceName = getEnv("DATA_SOURCE_NAME", c.Storage.DataSourceName)
	c.Storage.S3Bucket = getEnv("S3_BUCKET_NAME", c.Storage.S3Bucket)
	c.Storage.PostgresDSN = getEnv("POSTGRES_DSN", c.Storage.PostgresDSN)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenTTL = getEnvDuration("TOKEN_TTL", c.Auth.TokenTTL)
	c.Auth.OIDCIssuerURL = getEnv("OIDC_ISSUER_URL", c.Auth.OIDCIssuerURL)
	c.Auth.OIDCClientID = getEnv("OIDC_CLIENT_ID", c.Auth.OIDCClientID)

	c.Collab.IdleTimeout = getEnvDuration("IDLE_TIMEOUT", c.Collab.IdleTimeout)
	c.Collab.PingInterval = getEnvDuration("PING_INTERVAL", c.Collab.PingInterval)
	c.Collab.ReapSchedule = getEnv("REAP_SCHEDULE", c.Collab.ReapSchedule)
	c.Collab.OutboxSize = getEnvInt("OUTBOX_SIZE", c.Collab.OutboxSize)
	c.Collab.MaxMessageBytes = int64(getEnvInt("MAX_MESSAGE_BYTES", int(c.Collab.MaxMessageBytes)))

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", c.JaegerEndpoint)
}

// OIDCEnabled reports whether ID tokens from an external issuer are accepted.
func (c *Config) OIDCEnabled() bool {
	return c.Auth.OIDCIssuerURL != "" && c.Auth.OIDCClientID != ""
}

func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" && !c.OIDCEnabled() {
		return errors.New("JWT_SECRET or OIDC_ISSUER_URL/OIDC_CLIENT_ID is required")
	}
	if c.Storage.Type == "s3" && c.Storage.S3Bucket == "" {
		return errors.New("S3_BUCKET_NAME is required for s3 storage")
	}
	if c.Storage.Type == "postgres" && c.Storage.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required for postgres storage")
	}
	if c.Collab.OutboxSize <= 0 {
		return fmt.Errorf("OUTBOX_SIZE must be positive, got %d", c.Collab.OutboxSize)
	}
	if c.Collab.IdleTimeout < 0 {
		return fmt.Errorf("IDLE_TIMEOUT must not be negative, got %s", c.Collab.IdleTimeout)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
