package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	Port        string `envconfig:"PORT" default:"8080"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	JWTSecret   string `envconfig:"JWT_SECRET"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"cardgen"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	StorageDriver      string `envconfig:"STORAGE_DRIVER" default:"file"`
	StoragePath        string `envconfig:"STORAGE_PATH" default:"./storage"`
	StorageBaseURL     string `envconfig:"STORAGE_BASE_URL"`
	S3Bucket           string `envconfig:"S3_BUCKET"`
	S3Region           string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Endpoint         string `envconfig:"S3_ENDPOINT"`
	S3AccessKey        string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey        string `envconfig:"S3_SECRET_KEY"`
	GCSBucket          string `envconfig:"GCS_BUCKET"`
	GCSCredentialsJSON string `envconfig:"GCS_CREDENTIALS_JSON"`

	GeoIPDBPath string   `envconfig:"GEOIP_DB_PATH"`
	CORSOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIOrg        string `envconfig:"OPENAI_ORG"`
	OpenAIChatModel  string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIImageModel string `envconfig:"OPENAI_IMAGE_MODEL" default:"gpt-image-1"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL    string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiModel      string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash-image"`
	KlingAccessKey   string `envconfig:"KLING_ACCESS_KEY"`
	KlingSecretKey   string `envconfig:"KLING_SECRET_KEY"`
	KlingBaseURL     string `envconfig:"KLING_BASE_URL" default:"https://api-singapore.klingai.com"`
	KlingModel       string `envconfig:"KLING_MODEL" default:"kling-v2-1"`

	PhotoProvider       string `envconfig:"PHOTO_PROVIDER" default:"openai"`
	DescriptionProvider string `envconfig:"DESCRIPTION_PROVIDER" default:"openai"`
	EditProvider        string `envconfig:"EDIT_PROVIDER" default:"gemini"`
	VideoProvider       string `envconfig:"VIDEO_PROVIDER" default:"kling"`

	StaleAfter         time.Duration `envconfig:"STALE_AFTER" default:"10m"`
	VideoStaleAfter    time.Duration `envconfig:"VIDEO_STALE_AFTER" default:"30m"`
	ReaperInterval     time.Duration `envconfig:"REAPER_INTERVAL" default:"5m"`
	RetrySweepInterval time.Duration `envconfig:"RETRY_SWEEP_INTERVAL" default:"1m"`
	MaxTaskRetries     int           `envconfig:"MAX_TASK_RETRIES" default:"3"`
	ProviderTimeout    time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"3m"`
	SourceFetchTimeout time.Duration `envconfig:"SOURCE_FETCH_TIMEOUT" default:"30s"`
	PriceCacheTTL      time.Duration `envconfig:"PRICE_CACHE_TTL" default:"5m"`
	MaxCardsPerJob     int           `envconfig:"MAX_CARDS_PER_JOB" default:"10"`
	WorkerConcurrency  int           `envconfig:"WORKER_CONCURRENCY" default:"8"`

	PubSubProject   string `envconfig:"PUBSUB_PROJECT"`
	PubSubTopic     string `envconfig:"PUBSUB_TOPIC" default:"generation-notifications"`
	PostHogAPIKey   string `envconfig:"POSTHOG_API_KEY"`
	PostHogEndpoint string `envconfig:"POSTHOG_ENDPOINT" default:"https://app.posthog.com"`
	OTLPEndpoint    string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	HTTPReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	HTTPWriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"30s"`
	HTTPIdleTimeout  time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	RateLimitPerMin  int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30"`
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.StorageBaseURL == "" {
		cfg.StorageBaseURL = fmt.Sprintf("http://localhost:%s/static", cfg.Port)
	}
	cfg.StorageBaseURL = strings.TrimRight(cfg.StorageBaseURL, "/")
	if cfg.MaxCardsPerJob <= 0 {
		cfg.MaxCardsPerJob = 10
	}
	if cfg.MaxTaskRetries < 0 {
		cfg.MaxTaskRetries = 0
	}
	return &cfg, nil
}

// ValidateAPI checks settings only the HTTP surface needs.
func (c *Config) ValidateAPI() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
