package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds dashboard configuration loaded from environment.
type Config struct {
	Server  ServerConfig
	API     APIConfig
	Redis   RedisConfig
	Session SessionConfig
	Tables  TablesConfig
	Login   LoginConfig
	AWS     AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// APIConfig points at the card backend.
type APIConfig struct {
	BaseURL       string
	StaticBaseURL string // card images are served from <StaticBaseURL>/cards/<filename>
	TimeoutSec    int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig holds dashboard browser-session settings.
type SessionConfig struct {
	CookieName   string
	CookieSecure bool
	TTLHours     int // lifetime of the persisted backend token per browser
	IdleMinutes  int // in-memory workspaces are dropped after this much inactivity
}

// TablesConfig holds table refresh settings.
type TablesConfig struct {
	PollSeconds  int // live views of batches and cards re-fetch on this cadence
	StaleMinutes int
}

// LoginConfig throttles POST /login per client IP.
type LoginConfig struct {
	RatePerMinute int
	Burst         int
}

// AWSConfig holds AWS credentials and the bucket of generated card images.
// An empty CardsBucket serves images from APIConfig.StaticBaseURL instead.
// A public bucket is linked directly, without signing.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	CardsBucket          string
	CardsPublic          bool
	PresignExpireMinutes int
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	apiBase := strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8000"), "/")
	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		API: APIConfig{
			BaseURL:       apiBase,
			StaticBaseURL: strings.TrimRight(getEnv("STATIC_BASE_URL", apiBase), "/"),
			TimeoutSec:    getEnvInt("API_TIMEOUT_SEC", 30),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Session: SessionConfig{
			CookieName:   getEnv("SESSION_COOKIE_NAME", "cards_sid"),
			CookieSecure: getEnvBool("SESSION_COOKIE_SECURE", false),
			TTLHours:     getEnvInt("SESSION_TTL_HOURS", 24),
			IdleMinutes:  getEnvInt("WORKSPACE_IDLE_MINUTES", 30),
		},
		Tables: TablesConfig{
			PollSeconds:  getEnvInt("TABLE_POLL_SECONDS", 5),
			StaleMinutes: getEnvInt("TABLE_STALE_MINUTES", 5),
		},
		Login: LoginConfig{
			RatePerMinute: getEnvInt("LOGIN_RATE_PER_MINUTE", 10),
			Burst:         getEnvInt("LOGIN_BURST", 5),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			CardsBucket:          getEnv("AWS_S3_CARDS_BUCKET", ""),
			CardsPublic:          getEnvBool("AWS_S3_CARDS_PUBLIC", false),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.Tables.PollSeconds < 0 {
		return fmt.Errorf("TABLE_POLL_SECONDS must not be negative")
	}
	if c.Session.TTLHours <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}
	return nil
}

// APITimeout is the per-request timeout towards the backend.
func (c APIConfig) APITimeout() time.Duration { return time.Duration(c.TimeoutSec) * time.Second }

// TTL is the lifetime of a persisted token.
func (c SessionConfig) TTL() time.Duration { return time.Duration(c.TTLHours) * time.Hour }

// IdleTTL is how long an unused workspace stays in memory.
func (c SessionConfig) IdleTTL() time.Duration { return time.Duration(c.IdleMinutes) * time.Minute }

// PollInterval is the live-table refresh cadence; zero disables polling.
func (c TablesConfig) PollInterval() time.Duration { return time.Duration(c.PollSeconds) * time.Second }

// StaleAfter is how long fetched rows are reused by page renders.
func (c TablesConfig) StaleAfter() time.Duration { return time.Duration(c.StaleMinutes) * time.Minute }

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// SplitOrigins splits a comma-separated origin list.
func SplitOrigins(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
