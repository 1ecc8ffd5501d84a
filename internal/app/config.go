package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (HOUND_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (HOUND_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `default:"" usage:"Redis connection URL; empty disables the fast-path cache" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (HOUND_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Provider     ProviderConfig
	Sources      SourcesConfig
	Limits       LimitsConfig
	Kafka        KafkaConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// ProviderConfig controls the shopping search provider client.
type ProviderConfig struct {
	APIKey       string        `usage:"Search provider API key (HOUND_PROVIDER_API_KEY or SERPAPI_KEY)" flag:"provider-api-key"`
	BaseURL      string        `default:"https://serpapi.com/search" usage:"Search provider endpoint" flag:"provider-base-url"`
	GoogleDomain string        `default:"google.com.au" usage:"Google domain for shopping queries" flag:"provider-google-domain"`
	Country      string        `default:"au" usage:"Country code for shopping queries" flag:"provider-country"`
	Language     string        `default:"en" usage:"Language code for shopping queries" flag:"provider-language"`
	FetchCount   int           `default:"40" usage:"Results requested per provider call" flag:"provider-fetch-count"`
	Timeout      time.Duration `default:"10s" usage:"Provider request timeout" flag:"provider-timeout"`
}

// SourcesConfig controls which retailers are kept and how often each one's
// prices are considered to change.
type SourcesConfig struct {
	Allowed  []string       `default:"coles,woolworths,aldi,iga,amazon" usage:"Retailers to keep from provider results"`
	Cadences map[string]int `default:"coles:1,woolworths:1,aldi:7,iga:7,amazon:1" usage:"Per-retailer price change cadence in days"`
}

// LimitsConfig controls batch sizes and cache lifetimes.
type LimitsConfig struct {
	AnonymousBatch     int           `default:"2" usage:"Max products per request for guests" flag:"anonymous-batch"`
	AuthenticatedBatch int           `default:"10" usage:"Max products per request with a valid API key" flag:"authenticated-batch"`
	Featured           int           `default:"3" usage:"Default size of the best-deals listing"`
	CacheTTL           time.Duration `default:"24h" usage:"Deal cache entry lifetime" flag:"cache-ttl"`
	SuggestTTL         time.Duration `default:"1h" usage:"Autocomplete cache lifetime" flag:"suggest-ttl"`
}

// KafkaConfig controls search event publishing. An empty broker disables it.
type KafkaConfig struct {
	Broker string `default:"" usage:"Kafka broker address; empty disables event publishing" flag:"kafka-broker"`
	Topic  string `default:"dealhound.searches" usage:"Kafka topic for search events" flag:"kafka-topic"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "HOUND",
		Files:     []string{"config.yaml", "/etc/dealhound/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set HOUND_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Provider.APIKey != "" && len(cfg.Sources.Allowed) == 0 {
		return nil, errors.New("at least one allowed source is required when a provider key is set")
	}
	if cfg.Limits.AnonymousBatch <= 0 || cfg.Limits.AuthenticatedBatch < cfg.Limits.AnonymousBatch {
		return nil, errors.Errorf("invalid batch limits: anonymous=%d authenticated=%d",
			cfg.Limits.AnonymousBatch, cfg.Limits.AuthenticatedBatch)
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's HOUND_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisURL == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisURL = v
		}
	}
	if c.Provider.APIKey == "" {
		if v := os.Getenv("SERPAPI_KEY"); v != "" {
			c.Provider.APIKey = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
