package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"livedepartures/pkg/gtfsrt"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string        `validate:"required"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`

	FeedURL          string        `validate:"required,url"`
	FeedPollInterval time.Duration `validate:"gt=0"`
	FeedTimeout      time.Duration `validate:"gt=0"`
	FeedUserAgent    string        `validate:"required"`

	Timezone   string `validate:"required"`
	BoardLimit int    `validate:"gt=0,lte=100"`

	StaticGTFSURL            string        `validate:"omitempty,url"`
	StaticGTFSUpdateInterval time.Duration `validate:"gt=0"`

	SQLiteDatabase string
	DatabaseURL    string

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	RedisEnabled     bool
	RedisAddr        string `validate:"required_if=RedisEnabled true"`
	RedisPassword    string
	RedisDB          int           `validate:"gte=0"`
	CacheTTL         time.Duration `validate:"gt=0"`
	CacheWarmOnStart bool

	NATSURL           string
	NATSSubjectPrefix string `validate:"required"`

	RateLimitPerWindow int           `validate:"gte=0"`
	RateLimitWindow    time.Duration `validate:"gt=0"`
	RateLimitWhitelist []string

	CORSOrigins []string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first, and CONFIG_FILE may name a YAML file of the
// same keys; real environment variables win over both.
func Load() (*Config, error) {
	_ = godotenv.Load()

	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readYAML(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	cfg := &Config{
		LogLevel:        src.getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        src.getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     src.getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    src.getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: src.getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		FeedURL:          src.getEnv("FEED_URL", "https://realtime.gtfs.de/realtime-free.pb"),
		FeedPollInterval: src.getDurationEnv("FEED_POLL_INTERVAL", time.Second),
		FeedTimeout:      src.getDurationEnv("FEED_TIMEOUT", 300*time.Second),
		FeedUserAgent:    src.getEnv("FEED_USER_AGENT", gtfsrt.DefaultUserAgent),

		Timezone:   src.getEnv("TIMEZONE", "Europe/Berlin"),
		BoardLimit: src.getIntEnv("BOARD_LIMIT", 10),

		StaticGTFSURL:            src.getEnv("STATIC_GTFS_URL", ""),
		StaticGTFSUpdateInterval: src.getDurationEnv("STATIC_GTFS_UPDATE_INTERVAL", 24*time.Hour),

		SQLiteDatabase: src.getEnv("SQLITE_DATABASE", "livedepartures.db"),
		DatabaseURL:    src.getEnv("DATABASE_URL", ""),

		Neo4jURI:      src.getEnv("NEO4J_URI", ""),
		Neo4jUser:     src.getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword: src.getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase: src.getEnv("NEO4J_DATABASE", "neo4j"),

		RedisEnabled:     src.getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:        src.getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    src.getEnv("REDIS_PASSWORD", ""),
		RedisDB:          src.getIntEnv("REDIS_DB", 0),
		CacheTTL:         src.getDurationEnv("CACHE_TTL", time.Hour),
		CacheWarmOnStart: src.getBoolEnv("CACHE_WARM_ON_START", true),

		NATSURL:           src.getEnv("NATS_URL", ""),
		NATSSubjectPrefix: src.getEnv("NATS_SUBJECT_PREFIX", "livedepartures"),

		RateLimitPerWindow: src.getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    src.getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: src.getCSVEnv("RATE_LIMIT_WHITELIST"),

		CORSOrigins: src.getCSVEnv("CORS_ORIGINS"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}

	return cfg, nil
}

func readYAML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var file map[string]string
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return file, nil
}

// source resolves a key from the environment, then from the config file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s source) getEnv(key, defaultVal string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return defaultVal
}

func (s source) getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := s.lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func (s source) getIntEnv(key string, defaultVal int) int {
	if v := s.lookup(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func (s source) getBoolEnv(key string, defaultVal bool) bool {
	if v := s.lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func (s source) getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func (s source) getCSVEnv(key string) []string {
	v := strings.TrimSpace(s.lookup(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
