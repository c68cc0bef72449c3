package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session backends selectable through SESSION_BACKEND.
const (
	SessionBackendMemory   = "memory"
	SessionBackendRedis    = "redis"
	SessionBackendDynamoDB = "dynamodb"
)

// Config holds the storefront core configuration.
type Config struct {
	Env            string
	Port           string
	BackendURL     string
	RequestTimeout time.Duration // 0 keeps the transport default

	ProfileID      string
	SessionBackend string
	RedisURL       string
	SessionTable   string
	CartCacheTTL   time.Duration

	RefreshAttempts int
	RefreshInterval time.Duration

	AuthGraceDelay time.Duration
	LoginPath      string

	StripeSecretKey   string
	StripeSecretName  string
	StripeSecretField string // key inside a JSON secret; empty uses the raw string
	StripeReturnURL   string

	AWSRegion              string
	AWSEndpoint            string
	AWSAccessKeyID         string
	AWSSecretAccessKey     string
	ReconciliationTopicARN string
	CloudWatchEnabled      bool
	CloudWatchNamespace    string

	GatewayRateLimit       float64
	GatewayBurst           int
	GatewayBreakerFailures uint32

	AllowedOrigins      []string
	ClientRatePerMinute int
	ClientBurst         int
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		Port:                   getEnv("PORT", "8080"),
		BackendURL:             strings.TrimRight(os.Getenv("STOREFRONT_BACKEND_URL"), "/"),
		RequestTimeout:         getDuration("REQUEST_TIMEOUT", 0),
		ProfileID:              getEnv("STOREFRONT_PROFILE", "default"),
		SessionBackend:         getEnv("SESSION_BACKEND", SessionBackendMemory),
		RedisURL:               os.Getenv("REDIS_URL"),
		SessionTable:           getEnv("SESSION_TABLE", "storefront-sessions"),
		CartCacheTTL:           getDuration("CART_CACHE_TTL", 24*time.Hour),
		RefreshAttempts:        getInt("CART_REFRESH_ATTEMPTS", 3),
		RefreshInterval:        getDuration("CART_REFRESH_INTERVAL", time.Second),
		AuthGraceDelay:         getDuration("AUTH_GRACE_DELAY", 1500*time.Millisecond),
		LoginPath:              getEnv("LOGIN_PATH", "/login"),
		StripeSecretKey:        os.Getenv("STRIPE_API_KEY"),
		StripeSecretName:       os.Getenv("STRIPE_SECRET_NAME"),
		StripeSecretField:      os.Getenv("STRIPE_SECRET_FIELD"),
		StripeReturnURL:        os.Getenv("STRIPE_RETURN_URL"),
		AWSRegion:              os.Getenv("AWS_REGION"),
		AWSEndpoint:            os.Getenv("AWS_ENDPOINT"),
		AWSAccessKeyID:         os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey:     os.Getenv("AWS_SECRET_ACCESS_KEY"),
		ReconciliationTopicARN: os.Getenv("RECONCILIATION_TOPIC_ARN"),
		CloudWatchEnabled:      os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace:    getEnv("CLOUDWATCH_NAMESPACE", "Storefront"),
		GatewayRateLimit:       getFloat("GATEWAY_RATE_LIMIT", 10),
		GatewayBurst:           getInt("GATEWAY_BURST", 20),
		GatewayBreakerFailures: uint32(getInt("GATEWAY_BREAKER_FAILURES", 5)),
		AllowedOrigins:         strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		ClientRatePerMinute:    getInt("CLIENT_RATE_PER_MINUTE", 100),
		ClientBurst:            getInt("CLIENT_BURST", 50),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports missing or inconsistent settings.
func (c *Config) Validate() error {
	var missing []string
	if c.BackendURL == "" {
		missing = append(missing, "STOREFRONT_BACKEND_URL")
	}
	switch c.SessionBackend {
	case SessionBackendMemory:
	case SessionBackendRedis:
		if c.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	case SessionBackendDynamoDB:
		if c.SessionTable == "" {
			missing = append(missing, "SESSION_TABLE")
		}
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.RefreshAttempts < 1 {
		return fmt.Errorf("CART_REFRESH_ATTEMPTS must be at least 1")
	}
	return nil
}

// UsesAWS reports whether any AWS-backed component is configured.
func (c *Config) UsesAWS() bool {
	return c.SessionBackend == SessionBackendDynamoDB || c.StripeSecretName != "" ||
		c.ReconciliationTopicARN != "" || c.CloudWatchEnabled
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}
