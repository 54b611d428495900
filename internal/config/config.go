package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr       string
	LogLevel   string
	CORSOrigin string
	// Upstream platform
	APIURL        string
	WSURL         string
	APIToken      string
	WSChannels    []string
	HTTPTimeout   time.Duration
	ReconnectWait time.Duration
	PageSize      int
	// Redis response cache
	RedisURL string
	CacheTTL time.Duration
	// Direct Postgres catalog source
	DatabaseURL string
	PGSchema    string
	// Meilisearch record index
	MeiliURL       string
	MeiliMasterKey string
	// Snapshot export
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

func Load() Config {
	return Config{
		Addr:          getenv("WORKSPACE_ADDR", ":8787"),
		LogLevel:      getenv("WORKSPACE_LOG_LEVEL", "info"),
		CORSOrigin:    getenv("WORKSPACE_CORS_ORIGIN", "*"),
		APIURL:        getenv("ALTAN_API_URL", "https://api.altan.ai"),
		WSURL:         getenv("ALTAN_WS_URL", ""),
		APIToken:      getenv("ALTAN_API_TOKEN", ""),
		WSChannels:    splitList(getenv("ALTAN_WS_CHANNELS", "")),
		HTTPTimeout:   time.Duration(getenvInt("WORKSPACE_HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		ReconnectWait: time.Duration(getenvInt("WORKSPACE_RECONNECT_SECONDS", 2)) * time.Second,
		PageSize:      getenvInt("WORKSPACE_PAGE_SIZE", 50),
		RedisURL:      getenv("REDIS_URL", ""),
		CacheTTL:      time.Duration(getenvInt("WORKSPACE_CACHE_TTL_SECONDS", 30)) * time.Second,
		DatabaseURL:   getenv("DATABASE_URL", ""),
		PGSchema:      getenv("WORKSPACE_PG_SCHEMA", "public"),
		// Search and snapshots stay disabled unless configured
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		MinioEndpoint:  getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getenv("MINIO_BUCKET", "workspace-snapshots"),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", false),
	}
}

// SlogLevel maps LogLevel onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var items []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
