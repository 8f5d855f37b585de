package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable the application reads from the environment.
type Config struct {
	Environment string
	ServiceName string
	HTTPAddr    string
	DatabaseDSN string

	Currency       string
	CommissionRate float64

	Gateway   GatewayConfig
	Windows   WindowConfig
	Sweep     SweepConfig
	Shipment  ShipmentConfig
	Scrape    ScrapeConfig
	Kafka     KafkaConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Tracing   TracingConfig
}

// GatewayConfig holds the payment processor credentials.
type GatewayConfig struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	// PayoutAccount is the platform account payouts are debited from.
	PayoutAccount string
}

// WindowConfig defines how long a deal may sit in each waiting state.
type WindowConfig struct {
	Accept  time.Duration
	Payment time.Duration
	Address time.Duration
	Order   time.Duration
	// StaleOrderAfter forces a refund when an order placed by the
	// cardholder has not shipped within this duration.
	StaleOrderAfter time.Duration
}

// SweepConfig controls the background sweep loops.
type SweepConfig struct {
	Interval      time.Duration
	StaleInterval time.Duration
	BatchSize     int
}

// ShipmentConfig tunes the shipment detection probe.
type ShipmentConfig struct {
	Interval  time.Duration
	BatchSize int
	// TrackingURL is a template with a %s placeholder for the tracking
	// reference. Empty disables the detector.
	TrackingURL  string
	ProbeTimeout time.Duration
}

// ScrapeConfig tunes the product fetch admission queue and cache.
type ScrapeConfig struct {
	Concurrency  int
	BatchDelay   time.Duration
	FetchTimeout time.Duration
	CacheTTL     time.Duration
	RedisAddr    string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type AuthConfig struct {
	JWTSecret string
}

type RateLimitConfig struct {
	CreateDealLimit  int
	CreateDealWindow time.Duration
}

type TracingConfig struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	SamplingRatio    float64
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads the configuration from the environment and applies defaults.
func Load() Config {
	cfg := Config{
		Environment:    envString("DEALBRIDGE_ENV", "development"),
		ServiceName:    envString("DEALBRIDGE_SERVICE_NAME", "dealbridge"),
		HTTPAddr:       envString("DEALBRIDGE_HTTP_ADDR", ":8080"),
		DatabaseDSN:    envString("DEALBRIDGE_DATABASE_DSN", "file:dealbridge.db?_pragma=busy_timeout(5000)"),
		Currency:       envString("DEALBRIDGE_CURRENCY", "INR"),
		CommissionRate: envFloat("DEALBRIDGE_COMMISSION_RATE", 0.05),
		Gateway: GatewayConfig{
			BaseURL:       envString("DEALBRIDGE_GATEWAY_BASE_URL", "https://api.razorpay.com/v1"),
			KeyID:         envString("DEALBRIDGE_GATEWAY_KEY_ID", ""),
			KeySecret:     envString("DEALBRIDGE_GATEWAY_KEY_SECRET", ""),
			WebhookSecret: envString("DEALBRIDGE_GATEWAY_WEBHOOK_SECRET", ""),
			PayoutAccount: envString("DEALBRIDGE_GATEWAY_PAYOUT_ACCOUNT", ""),
		},
		Windows: WindowConfig{
			Accept:          envDuration("DEALBRIDGE_WINDOW_ACCEPT", 5*time.Minute),
			Payment:         envDuration("DEALBRIDGE_WINDOW_PAYMENT", 15*time.Minute),
			Address:         envDuration("DEALBRIDGE_WINDOW_ADDRESS", 30*time.Minute),
			Order:           envDuration("DEALBRIDGE_WINDOW_ORDER", 24*time.Hour),
			StaleOrderAfter: envDuration("DEALBRIDGE_STALE_ORDER_AFTER", 7*24*time.Hour),
		},
		Sweep: SweepConfig{
			Interval:      envDuration("DEALBRIDGE_SWEEP_INTERVAL", time.Minute),
			StaleInterval: envDuration("DEALBRIDGE_SWEEP_STALE_INTERVAL", 24*time.Hour),
			BatchSize:     envInt("DEALBRIDGE_SWEEP_BATCH_SIZE", 50),
		},
		Shipment: ShipmentConfig{
			Interval:     envDuration("DEALBRIDGE_SHIPMENT_INTERVAL", 10*time.Minute),
			BatchSize:    envInt("DEALBRIDGE_SHIPMENT_BATCH_SIZE", 20),
			TrackingURL:  envString("DEALBRIDGE_SHIPMENT_TRACKING_URL", ""),
			ProbeTimeout: envDuration("DEALBRIDGE_SHIPMENT_PROBE_TIMEOUT", 8*time.Second),
		},
		Scrape: ScrapeConfig{
			Concurrency:  envInt("DEALBRIDGE_SCRAPE_CONCURRENCY", 2),
			BatchDelay:   envDuration("DEALBRIDGE_SCRAPE_BATCH_DELAY", 3*time.Second),
			FetchTimeout: envDuration("DEALBRIDGE_SCRAPE_FETCH_TIMEOUT", 8*time.Second),
			CacheTTL:     envDuration("DEALBRIDGE_SCRAPE_CACHE_TTL", time.Hour),
			RedisAddr:    envString("DEALBRIDGE_SCRAPE_REDIS_ADDR", ""),
		},
		Kafka: KafkaConfig{
			Brokers: envList("DEALBRIDGE_KAFKA_BROKERS"),
			Topic:   envString("DEALBRIDGE_KAFKA_TOPIC", "dealbridge.deal-events"),
		},
		Auth: AuthConfig{
			JWTSecret: envString("DEALBRIDGE_JWT_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			CreateDealLimit:  envInt("DEALBRIDGE_RATE_CREATE_LIMIT", 10),
			CreateDealWindow: envDuration("DEALBRIDGE_RATE_CREATE_WINDOW", time.Minute),
		},
		Tracing: TracingConfig{
			Enabled:          envBool("DEALBRIDGE_TRACING_ENABLED", false),
			ExporterEndpoint: envString("DEALBRIDGE_TRACING_ENDPOINT", ""),
			ExporterProtocol: envString("DEALBRIDGE_TRACING_PROTOCOL", "grpc"),
			SamplingRatio:    envFloat("DEALBRIDGE_TRACING_SAMPLING_RATIO", 0.1),
		},
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.CommissionRate <= 0 || c.CommissionRate >= 1 {
		c.CommissionRate = 0.05
	}
	if c.Sweep.BatchSize <= 0 {
		c.Sweep.BatchSize = 50
	}
	if c.Shipment.Interval <= 0 {
		c.Shipment.Interval = 10 * time.Minute
	}
	if c.Shipment.BatchSize <= 0 {
		c.Shipment.BatchSize = 20
	}
	if c.Scrape.Concurrency <= 0 {
		c.Scrape.Concurrency = 2
	}
	if c.Scrape.FetchTimeout <= 0 {
		c.Scrape.FetchTimeout = 8 * time.Second
	}
	if c.RateLimit.CreateDealLimit <= 0 {
		c.RateLimit.CreateDealLimit = 10
	}
	if c.RateLimit.CreateDealWindow <= 0 {
		c.RateLimit.CreateDealWindow = time.Minute
	}
	return c
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
