package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by STORAGE_BACKEND.
const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
)

// Event publisher names accepted by EVENTS_BACKEND.
const (
	EventsNone  = "none"
	EventsSQS   = "sqs"
	EventsKafka = "kafka"
)

// Config holds every setting the service consumes. It is loaded once in
// main and passed explicitly into constructors.
type Config struct {
	HTTPAddr string
	RunLocal bool

	Storage StorageConfig
	Cache   CacheConfig
	Jobs    JobsConfig
	Fetch   FetchConfig
	Scraper ScraperConfig
	Events  EventsConfig
	Metrics MetricsConfig
}

// StorageConfig selects and parameterizes the persistence engine.
type StorageConfig struct {
	Backend       string // dynamodb | postgres
	JobsTable     string // DynamoDB jobs table
	ProductsTable string // DynamoDB products table
	PostgresDSN   string
}

// CacheConfig controls product freshness and the optional Redis overlay.
type CacheConfig struct {
	TTL         time.Duration // freshness window for cached products
	RedisAddr   string        // when set, products are cached in Redis
	RedisPrefix string
}

// JobsConfig controls the dedup core.
type JobsConfig struct {
	Timeout        time.Duration // active job older than this is reaped
	CreateRetryMax int           // bounded retries on creation conflicts
	WriteRetryMax  int           // bounded retries on Complete/Fail persistence
	Retention      time.Duration // terminal rows older than this are pruned
	ReapInterval   time.Duration // periodic reaper cadence
}

// FetchConfig bounds the background fetch workers.
type FetchConfig struct {
	MaxConcurrent int
}

// ScraperConfig parameterizes the ScraperAPI-backed adapters.
type ScraperConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	MaxPolls     int
	HTTPTimeout  time.Duration
}

// EventsConfig selects the price-event publisher.
type EventsConfig struct {
	Backend     string // none | sqs | kafka
	SQSQueueURL string
	KafkaBroker string
	KafkaTopic  string
}

// MetricsConfig controls CloudWatch metric publication.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// Load reads configuration from the environment, optionally seeded from a
// .env file. A missing .env file is not an error; the process environment
// alone is enough.
func Load(envFilePath string) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load env file %s: %w", envFilePath, err)
			}
		}
	}

	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		RunLocal: getEnvAsBool("RUN_LOCAL", false),
		Storage: StorageConfig{
			Backend:       strings.ToLower(getEnv("STORAGE_BACKEND", BackendDynamoDB)),
			JobsTable:     getEnv("JOBS_TABLE", "price-jobs"),
			ProductsTable: getEnv("PRODUCTS_TABLE", "price-products"),
			PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		},
		Cache: CacheConfig{
			TTL:         time.Duration(getEnvAsInt("CACHE_TTL_HOURS", 24)) * time.Hour,
			RedisAddr:   getEnv("REDIS_ADDR", ""),
			RedisPrefix: getEnv("REDIS_PREFIX", "pricewatch:product:"),
		},
		Jobs: JobsConfig{
			Timeout:        time.Duration(getEnvAsInt("REQUEST_TIMEOUT_MINUTES", 10)) * time.Minute,
			CreateRetryMax: getEnvAsInt("CREATE_RETRY_MAX", 2),
			WriteRetryMax:  getEnvAsInt("WRITE_RETRY_MAX", 2),
			Retention:      time.Duration(getEnvAsInt("JOB_RETENTION_HOURS", 24)) * time.Hour,
			ReapInterval:   getEnvAsDuration("REAP_INTERVAL", time.Minute),
		},
		Fetch: FetchConfig{
			MaxConcurrent: getEnvAsInt("MAX_CONCURRENT_FETCHES", 8),
		},
		Scraper: ScraperConfig{
			APIKey:       getEnv("SCRAPER_API_KEY", ""),
			BaseURL:      getEnv("SCRAPER_API_BASE_URL", "https://async.scraperapi.com"),
			PollInterval: getEnvAsDuration("SCRAPER_POLL_INTERVAL", 3*time.Second),
			MaxPolls:     getEnvAsInt("SCRAPER_MAX_POLLS", 20),
			HTTPTimeout:  getEnvAsDuration("SCRAPER_HTTP_TIMEOUT", 30*time.Second),
		},
		Events: EventsConfig{
			Backend:     strings.ToLower(getEnv("EVENTS_BACKEND", EventsNone)),
			SQSQueueURL: getEnv("PRICE_EVENTS_QUEUE_URL", ""),
			KafkaBroker: getEnv("KAFKA_BROKER", "localhost:9092"),
			KafkaTopic:  getEnv("KAFKA_TOPIC", "price-events"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvAsBool("METRICS_ENABLED", false),
			Namespace: getEnv("METRICS_NAMESPACE", "Pricewatch"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case BackendDynamoDB:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("STORAGE_BACKEND=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}

	switch c.Events.Backend {
	case EventsNone, EventsKafka:
	case EventsSQS:
		if c.Events.SQSQueueURL == "" {
			return fmt.Errorf("EVENTS_BACKEND=sqs requires PRICE_EVENTS_QUEUE_URL")
		}
	default:
		return fmt.Errorf("unknown EVENTS_BACKEND %q", c.Events.Backend)
	}

	if c.Jobs.Timeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_MINUTES must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL_HOURS must be positive")
	}
	return nil
}

// getEnv returns the environment variable value or a fallback if unset.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
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

func getEnvAsBool(key string, fallback bool) bool {
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

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
