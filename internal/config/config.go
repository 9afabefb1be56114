package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the base server configuration.
type Config struct {
	Host                     string
	Port                     string
	SQLiteDBPath             string
	NodeEnv                  string
	AllowTestMode            bool
	JWTSecret                string
	JWTAccessTokenExpirySec  int
	JWTRefreshTokenExpirySec int

	LogLevel  string
	LogFormat string

	// CacheBackend selects the TTL cache: "memory" or "redis".
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// PMS client and reconciliation
	PMSTimeoutMs       int
	PMSRetryCount      int
	PMSCacheTTLSeconds int

	// Device sync
	SyncCacheTTLSeconds          int
	DeviceOnlineThresholdSeconds int
	DeviceRateLimitPerMinute     int

	// Realtime hub
	WSPingIntervalSeconds int

	CORSAllowedOrigins []string

	// Bootstrap admin, created only when the admins table is empty.
	AdminUsername string
	AdminPassword string
}

// fileConfig mirrors Config for the optional YAML file named by HUB_CONFIG_FILE.
// Keys use the same names as the environment variables, lower-cased.
type fileConfig map[string]any

// Load reads configuration from environment variables with defaults.
// Values from HUB_CONFIG_FILE fill in anything the environment leaves unset.
func Load() (Config, error) {
	if path := os.Getenv("HUB_CONFIG_FILE"); path != "" {
		if err := applyFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg := Config{
		Host:                         envString("HOST", "0.0.0.0"),
		Port:                         envString("PORT", "9100"),
		SQLiteDBPath:                 envString("SQLITE_DB_PATH", "./data/hotel-hub.db"),
		NodeEnv:                      envString("NODE_ENV", "development"),
		AllowTestMode:                envBool("ALLOW_TEST_MODE", false),
		JWTSecret:                    envString("JWT_SECRET", ""),
		JWTAccessTokenExpirySec:      envInt("JWT_ACCESS_TOKEN_EXPIRY", 3600),
		JWTRefreshTokenExpirySec:     envInt("JWT_REFRESH_TOKEN_EXPIRY", 2592000),
		LogLevel:                     envString("LOG_LEVEL", "info"),
		LogFormat:                    envString("LOG_FORMAT", "json"),
		CacheBackend:                 envString("CACHE_BACKEND", "memory"),
		RedisAddr:                    envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword:                envString("REDIS_PASSWORD", ""),
		RedisDB:                      envInt("REDIS_DB", 0),
		PMSTimeoutMs:                 envInt("PMS_TIMEOUT_MS", 10000),
		PMSRetryCount:                envInt("PMS_RETRY_COUNT", 1),
		PMSCacheTTLSeconds:           envInt("PMS_CACHE_TTL_SECONDS", 120),
		SyncCacheTTLSeconds:          envInt("SYNC_CACHE_TTL_SECONDS", 300),
		DeviceOnlineThresholdSeconds: envInt("DEVICE_ONLINE_THRESHOLD_SECONDS", 600),
		DeviceRateLimitPerMinute:     envInt("DEVICE_RATE_LIMIT_PER_MINUTE", 120),
		WSPingIntervalSeconds:        envInt("WS_PING_INTERVAL_SECONDS", 30),
		CORSAllowedOrigins:           envCSV("CORS_ALLOWED_ORIGINS"),
		AdminUsername:                envString("ADMIN_USERNAME", ""),
		AdminPassword:                envString("ADMIN_PASSWORD", ""),
	}

	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.CacheBackend != "memory" && cfg.CacheBackend != "redis" {
		return Config{}, fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", cfg.CacheBackend)
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	return cfg, nil
}

// applyFile exports every key of the YAML file into the environment unless
// the environment already defines it.
func applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var values fileConfig
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	for key, value := range values {
		envKey := strings.ToUpper(key)
		if _, exists := os.LookupEnv(envKey); exists {
			continue
		}
		var rendered string
		switch v := value.(type) {
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			rendered = strings.Join(parts, ",")
		default:
			rendered = fmt.Sprint(v)
		}
		if err := os.Setenv(envKey, rendered); err != nil {
			return fmt.Errorf("apply config key %s: %w", key, err)
		}
	}
	return nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}

func envCSV(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return []string{}
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
