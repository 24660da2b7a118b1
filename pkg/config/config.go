package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Feed        FeedConfig
	Membership  MembershipConfig
	Events      EventsConfig
	Attachments AttachmentsConfig
	Digest      DigestConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// FeedConfig tunes wall snapshots, viewer sessions and the live query listener.
type FeedConfig struct {
	SnapshotLimit     int
	SessionIdleTTL    time.Duration
	SweepInterval     time.Duration
	LiveReconnectMin  time.Duration
	LiveReconnectMax  time.Duration
	StreamHeartbeat   time.Duration
	MaxWarningsBuffer int
}

// MembershipConfig governs membership caching.
type MembershipConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// EventsConfig sizes the feed event dispatcher.
type EventsConfig struct {
	Workers    int
	BufferSize int
	Retries    int
	RetryDelay time.Duration
}

// AttachmentsConfig controls attachment metadata policy and signed links.
type AttachmentsConfig struct {
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
	MaxFiles         int
	SignedURLSecret  string
	SignedURLTTL     time.Duration
}

// DigestConfig gates wall digest exports.
type DigestConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Feed = FeedConfig{
		SnapshotLimit:     v.GetInt("FEED_SNAPSHOT_LIMIT"),
		SessionIdleTTL:    parseDuration(v.GetString("FEED_SESSION_IDLE_TTL"), 30*time.Minute),
		SweepInterval:     parseDuration(v.GetString("FEED_SESSION_SWEEP_INTERVAL"), time.Minute),
		LiveReconnectMin:  parseDuration(v.GetString("FEED_LIVE_RECONNECT_MIN"), 10*time.Second),
		LiveReconnectMax:  parseDuration(v.GetString("FEED_LIVE_RECONNECT_MAX"), time.Minute),
		StreamHeartbeat:   parseDuration(v.GetString("FEED_STREAM_HEARTBEAT"), 25*time.Second),
		MaxWarningsBuffer: v.GetInt("FEED_MAX_WARNINGS"),
	}

	cfg.Membership = MembershipConfig{
		CacheEnabled: v.GetBool("ENABLE_MEMBERSHIP_CACHE"),
		CacheTTL:     parseDuration(v.GetString("MEMBERSHIP_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Events = EventsConfig{
		Workers:    v.GetInt("EVENTS_WORKERS"),
		BufferSize: v.GetInt("EVENTS_BUFFER_SIZE"),
		Retries:    v.GetInt("EVENTS_RETRIES"),
		RetryDelay: parseDuration(v.GetString("EVENTS_RETRY_DELAY"), time.Second),
	}

	maxFileSize := v.GetInt64("ATTACHMENTS_MAX_FILE_SIZE")
	if maxFileSize <= 0 {
		maxFileSize = 10 * 1024 * 1024
	}
	cfg.Attachments = AttachmentsConfig{
		MaxFileSizeBytes: maxFileSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("ATTACHMENTS_ALLOWED_MIME_TYPES")),
		MaxFiles:         v.GetInt("ATTACHMENTS_MAX_FILES"),
		SignedURLSecret:  v.GetString("ATTACHMENTS_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("ATTACHMENTS_SIGNED_URL_TTL"), 30*time.Minute),
	}

	cfg.Digest = DigestConfig{
		Enabled: v.GetBool("ENABLE_DIGEST"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "classwall")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "classwall")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("FEED_SNAPSHOT_LIMIT", 200)
	v.SetDefault("FEED_SESSION_IDLE_TTL", "30m")
	v.SetDefault("FEED_SESSION_SWEEP_INTERVAL", "1m")
	v.SetDefault("FEED_LIVE_RECONNECT_MIN", "10s")
	v.SetDefault("FEED_LIVE_RECONNECT_MAX", "1m")
	v.SetDefault("FEED_STREAM_HEARTBEAT", "25s")
	v.SetDefault("FEED_MAX_WARNINGS", 50)

	v.SetDefault("ENABLE_MEMBERSHIP_CACHE", true)
	v.SetDefault("MEMBERSHIP_CACHE_TTL", "10m")

	v.SetDefault("EVENTS_WORKERS", 2)
	v.SetDefault("EVENTS_BUFFER_SIZE", 64)
	v.SetDefault("EVENTS_RETRIES", 3)
	v.SetDefault("EVENTS_RETRY_DELAY", "1s")

	v.SetDefault("ATTACHMENTS_MAX_FILE_SIZE", 10*1024*1024)
	v.SetDefault("ATTACHMENTS_ALLOWED_MIME_TYPES", "image/jpeg,image/png,image/gif,application/pdf,application/vnd.openxmlformats-officedocument.wordprocessingml.document,application/vnd.openxmlformats-officedocument.presentationml.presentation")
	v.SetDefault("ATTACHMENTS_MAX_FILES", 10)
	v.SetDefault("ATTACHMENTS_SIGNED_URL_SECRET", "dev_attachments_secret")
	v.SetDefault("ATTACHMENTS_SIGNED_URL_TTL", "30m")

	v.SetDefault("ENABLE_DIGEST", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
