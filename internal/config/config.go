package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/thereayou/signal-relay/internal/models"
)

const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

type Config struct {
	ListenAddr string

	StoreBackend   string
	RedisURL       string
	RedisKeyPrefix string
	DatabaseURL    string
	MongoURI       string
	MongoDatabase  string

	RoomTTL          time.Duration
	RoomMode         models.RoomMode
	MaxClients       int
	MaxSignalBytes   int64
	CreateRateLimit  int
	CreateRateWindow time.Duration
	JanitorInterval  time.Duration

	AdminJWTSecret string
	AdminTokenTTL  time.Duration
	// IssueAdminToken makes the process print an operator token and exit.
	IssueAdminToken bool

	LogLevel        string
	LogFormat       string
	GinMode         string
	ShutdownTimeout time.Duration
}

// LoadDotEnv reads .env.local, then .env. Missing files are not an error.
func LoadDotEnv() bool {
	if err := godotenv.Load(".env.local"); err != nil {
		if err := godotenv.Load(); err != nil {
			return false
		}
	}
	return true
}

// Load builds the configuration from the environment and lets args
// override a few of the settings.
func Load(args []string) (*Config, error) {
	var errs []error
	env := envReader{errs: &errs}

	cfg := &Config{
		ListenAddr:       env.str("LISTEN_ADDR", ":"+env.str("PORT", "8080")),
		StoreBackend:     env.str("STORE_BACKEND", BackendRedis),
		RedisURL:         env.str("REDIS_URL", "redis://localhost:6379/0"),
		RedisKeyPrefix:   env.str("REDIS_KEY_PREFIX", ""),
		DatabaseURL:      env.str("DATABASE_URL", ""),
		MongoURI:         env.str("MONGO_URI", ""),
		MongoDatabase:    env.str("MONGO_DATABASE", "signal_relay"),
		RoomTTL:          env.duration("ROOM_TTL", 300*time.Second),
		MaxClients:       env.int("MAX_CLIENTS", 0),
		MaxSignalBytes:   int64(env.int("MAX_SIGNAL_BYTES", 64<<10)),
		CreateRateLimit:  env.int("CREATE_RATE_LIMIT", 30),
		CreateRateWindow: env.duration("CREATE_RATE_WINDOW", time.Minute),
		JanitorInterval:  env.duration("JANITOR_INTERVAL", 30*time.Second),
		AdminJWTSecret:   env.str("ADMIN_JWT_SECRET", ""),
		AdminTokenTTL:    env.duration("ADMIN_TOKEN_TTL", 24*time.Hour),
		LogLevel:         env.str("LOG_LEVEL", "info"),
		LogFormat:        env.str("LOG_FORMAT", "json"),
		GinMode:          env.str("GIN_MODE", "release"),
		ShutdownTimeout:  env.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	roomMode := env.str("ROOM_MODE", string(models.ModePair))

	fs := pflag.NewFlagSet("signal-relay", pflag.ContinueOnError)
	fs.StringVarP(&cfg.ListenAddr, "listen-addr", "a", cfg.ListenAddr, "http listen address")
	fs.StringVarP(&cfg.StoreBackend, "store", "s", cfg.StoreBackend, "store backend: redis, postgres, mongo or memory")
	fs.StringVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel, "log level")
	fs.StringVar(&roomMode, "room-mode", roomMode, "default room mode: pair or multi")
	fs.BoolVar(&cfg.IssueAdminToken, "issue-admin-token", false, "print an admin token and exit")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	mode, err := models.ParseRoomMode(roomMode)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RoomMode = mode

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	c.StoreBackend = strings.ToLower(c.StoreBackend)
	switch c.StoreBackend {
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis store"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case BackendMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required for the mongo store"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}

	if c.RoomTTL < time.Second {
		errs = append(errs, fmt.Errorf("ROOM_TTL must be at least 1s, got %s", c.RoomTTL))
	}
	if c.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("MAX_CLIENTS must not be negative, got %d", c.MaxClients))
	}
	if c.MaxSignalBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_SIGNAL_BYTES must be positive, got %d", c.MaxSignalBytes))
	}
	if c.JanitorInterval <= 0 {
		errs = append(errs, fmt.Errorf("JANITOR_INTERVAL must be positive, got %s", c.JanitorInterval))
	}
	if c.IssueAdminToken && c.AdminJWTSecret == "" {
		errs = append(errs, errors.New("ADMIN_JWT_SECRET is required to issue admin tokens"))
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("GIN_MODE must be debug, release or test, got %q", c.GinMode))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// AdminEnabled reports whether the operator endpoints are served.
func (c *Config) AdminEnabled() bool {
	return c.AdminJWTSecret != ""
}

type envReader struct {
	errs *[]error
}

func (e envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func (e envReader) int(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

// duration accepts Go durations ("90s", "5m") and bare seconds ("300").
func (e envReader) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
