package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	FusionBaseURL          string `env:"FUSION_BASE_URL,required=true"`
	FusionUsername         string `env:"FUSION_USERNAME,required=true"`
	FusionPassword         string `env:"FUSION_PASSWORD,required=true"`
	FusionRESTVersion      string `env:"FUSION_REST_VERSION,default=11.13.18.05"`
	FusionExternalRefField string `env:"FUSION_EXTERNAL_REF_FIELD,default=ExternalReference"`
	FusionTimeoutSec       int    `env:"FUSION_TIMEOUT_SEC,default=30"`
	FusionRateLimitPerSec  int    `env:"FUSION_RATE_LIMIT_PER_SEC,default=10"`

	WorkerConcurrency int `env:"WORKER_CONCURRENCY,default=4"`
	JobMaxAttempts    int `env:"JOB_MAX_ATTEMPTS,default=3"`
	JobBackoffBaseSec int `env:"JOB_BACKOFF_BASE_SEC,default=5"`

	RetentionKeepCompleted int `env:"RETENTION_KEEP_COMPLETED,default=100"`
	RetentionKeepFailed    int `env:"RETENTION_KEEP_FAILED,default=50"`

	ApprovalSyncIntervalSec int `env:"APPROVAL_SYNC_INTERVAL_SEC,default=60"`

	MaxFileSize int    `env:"MAX_FILE_SIZE,default=10485760"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"FUSION_BASE_URL": c.FusionBaseURL,
		"FUSION_USERNAME": c.FusionUsername,
		"FUSION_PASSWORD": c.FusionPassword,
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must not be blank", name)
		}
	}
	positive := map[string]int{
		"FUSION_TIMEOUT_SEC":         c.FusionTimeoutSec,
		"FUSION_RATE_LIMIT_PER_SEC":  c.FusionRateLimitPerSec,
		"WORKER_CONCURRENCY":         c.WorkerConcurrency,
		"JOB_MAX_ATTEMPTS":           c.JobMaxAttempts,
		"JOB_BACKOFF_BASE_SEC":       c.JobBackoffBaseSec,
		"MAX_FILE_SIZE":              c.MaxFileSize,
		"APPROVAL_SYNC_INTERVAL_SEC": c.ApprovalSyncIntervalSec,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be greater than zero", name)
		}
	}
	if c.RetentionKeepCompleted < 0 || c.RetentionKeepFailed < 0 {
		return fmt.Errorf("retention limits must not be negative")
	}
	return nil
}

func (c *Config) FusionTimeout() time.Duration {
	return time.Duration(c.FusionTimeoutSec) * time.Second
}

func (c *Config) JobBackoffBase() time.Duration {
	return time.Duration(c.JobBackoffBaseSec) * time.Second
}

func (c *Config) ApprovalSyncInterval() time.Duration {
	return time.Duration(c.ApprovalSyncIntervalSec) * time.Second
}
