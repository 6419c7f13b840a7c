package app

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrMissingAPIKey = errors.New("TMDB_API_KEY is not set")

type Config struct {
	HTTPAddr          string
	LogLevel          string
	LogFormat         string
	UserAgent         string
	TMDBAPIKey        string
	TMDBBaseURL       string
	TMDBLanguage      string
	TMDBTimeout       time.Duration
	TMDBRateLimit     float64
	TMDBRateBurst     int
	TMDBMaxConcurrent int
	SearchDebounce    time.Duration
	RedisURL          string
	CacheTTL          time.Duration
	CacheDisabled     bool
	HTTPRateLimit     float64
	HTTPRateBurst     int
	WSRateLimit       float64
	WSRateBurst       int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:         getEnv("USER_AGENT", "movie-stream-search/1.0"),
		TMDBAPIKey:        strings.TrimSpace(os.Getenv("TMDB_API_KEY")),
		TMDBBaseURL:       getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		TMDBLanguage:      getEnv("TMDB_LANGUAGE", ""),
		TMDBTimeout:       time.Duration(getEnvInt("TMDB_TIMEOUT_SECONDS", 15)) * time.Second,
		TMDBRateLimit:     float64(getEnvInt("TMDB_RATE_LIMIT_RPS", 40)),
		TMDBRateBurst:     getEnvInt("TMDB_RATE_LIMIT_BURST", 20),
		TMDBMaxConcurrent: getEnvInt("TMDB_MAX_CONCURRENT", 8),
		SearchDebounce:    time.Duration(getEnvInt("SEARCH_DEBOUNCE_MS", 300)) * time.Millisecond,
		RedisURL:          getEnv("REDIS_URL", ""),
		CacheTTL:          time.Duration(getEnvInt("TMDB_CACHE_TTL_MINUTES", 10)) * time.Minute,
		CacheDisabled:     getEnvBool("TMDB_CACHE_DISABLED", false),
		HTTPRateLimit:     float64(getEnvInt("HTTP_RATE_LIMIT_RPS", 50)),
		HTTPRateBurst:     getEnvInt("HTTP_RATE_LIMIT_BURST", 100),
		WSRateLimit:       float64(getEnvInt("WS_RATE_LIMIT_RPS", 5)),
		WSRateBurst:       getEnvInt("WS_RATE_LIMIT_BURST", 10),
	}
}

// Validate reports configuration the service cannot start without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TMDBAPIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
