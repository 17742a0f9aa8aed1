// Package config builds runtime configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full server configuration.
type Config struct {
	Addr        string
	DatabaseURL string
	Redis       RedisConfig

	// Routing (travel-time ranking). Empty MapsAPIKey disables the travel
	// stage; ranking degrades to geometric order.
	MapsAPIKey  string
	MapsBaseURL string

	// Push (FCM v1). Empty FCMProjectID disables push; notified donors then
	// rely on the live-update channel.
	FCMProjectID   string
	FCMAccessToken string
	PushClickLink  string

	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	ShortlistSize  int
	DispatchPolicy string
	NotifyTTL      time.Duration
	ReaperInterval time.Duration
}

// RedisConfig captures Redis connection settings. An empty URL means Redis
// is not configured; callers fall back to in-process equivalents.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables, with development
// defaults for everything but credentials.
func FromEnv() Config {
	return Config{
		Addr:        getEnv("LIFECONNECT_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intEnv("REDIS_POOL_SIZE", 10),
			MinIdleConns: intEnv("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		MapsAPIKey:     os.Getenv("MAPS_API_KEY"),
		MapsBaseURL:    getEnv("MAPS_BASE_URL", "https://maps.googleapis.com"),
		FCMProjectID:   os.Getenv("FCM_PROJECT_ID"),
		FCMAccessToken: os.Getenv("FCM_ACCESS_TOKEN"),
		PushClickLink:  os.Getenv("PUSH_CLICK_LINK"),
		// Development default only; override in production.
		JWTSigningKey:  getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:      getEnv("JWT_ISSUER", "lifeconnect"),
		JWTAudience:    getEnv("JWT_AUDIENCE", "lifeconnect-api"),
		ShortlistSize:  intEnv("MATCH_SHORTLIST_SIZE", 10),
		DispatchPolicy: getEnv("DISPATCH_POLICY", "broadcast"),
		NotifyTTL:      durationEnv("NOTIFY_TTL", 15*time.Minute),
		ReaperInterval: durationEnv("NOTIFY_REAPER_INTERVAL", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
