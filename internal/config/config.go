package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Attest    AttestConfig
	RateLimit RateLimitConfig
	Broker    BrokerConfig
}

// AttestConfig configures the device attestation pipeline.
type AttestConfig struct {
	TeamID               string
	BundleID             string
	ChallengeTTLSeconds  int
	KeyRetentionDays     int
	PurgeIntervalMinutes int
}

// RateLimitConfig configures the two throttling tiers. Rates are
// tokens per second; bursts are bucket capacities.
type RateLimitConfig struct {
	Enabled        bool
	PreAuthRate    float64
	PreAuthBurst   int
	PostAuthRate   float64
	PostAuthBurst  int
	SyncLockTTLSec int
}

// BrokerConfig configures outbound forwarding to external collaborators.
type BrokerConfig struct {
	VoiceAPIBaseURL string
	VoiceAPIKey     string
	OAuthTokenURL   string
	OAuthClientID   string
	OAuthClientKey  string
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "voxguard"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "voxguard"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Attest: AttestConfig{
			TeamID:               strings.TrimSpace(getenv("ATTEST_TEAM_ID", "")),
			BundleID:             strings.TrimSpace(getenv("ATTEST_BUNDLE_ID", "")),
			ChallengeTTLSeconds:  getenvInt("ATTEST_CHALLENGE_TTL_SECONDS", 300),
			KeyRetentionDays:     getenvInt("ATTEST_KEY_RETENTION_DAYS", 90),
			PurgeIntervalMinutes: getenvInt("ATTEST_PURGE_INTERVAL_MINUTES", 60),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("RATE_LIMIT_ENABLED", true),
			PreAuthRate:    getenvFloat("RATE_LIMIT_PREAUTH_RATE", 1),
			PreAuthBurst:   getenvInt("RATE_LIMIT_PREAUTH_BURST", 10),
			PostAuthRate:   getenvFloat("RATE_LIMIT_POSTAUTH_RATE", 5),
			PostAuthBurst:  getenvInt("RATE_LIMIT_POSTAUTH_BURST", 30),
			SyncLockTTLSec: getenvInt("SYNC_LOCK_TTL_SECONDS", 30),
		},
		Broker: BrokerConfig{
			VoiceAPIBaseURL: strings.TrimSpace(getenv("VOICE_API_BASE_URL", "")),
			VoiceAPIKey:     strings.TrimSpace(getenv("VOICE_API_KEY", "")),
			OAuthTokenURL:   strings.TrimSpace(getenv("OAUTH_TOKEN_URL", "")),
			OAuthClientID:   strings.TrimSpace(getenv("OAUTH_CLIENT_ID", "")),
			OAuthClientKey:  strings.TrimSpace(getenv("OAUTH_CLIENT_SECRET", "")),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
