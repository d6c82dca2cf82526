package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Reward     RewardConfig
	Issuer     IssuerConfig
	Cloudinary CloudinaryConfig
	Webhook    WebhookConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	Issuer        string
}

// RewardConfig tunes the point ledger and the redemption lifecycle.
type RewardConfig struct {
	PointsPerFeedback int
	// IdempotencyWindow bounds how far back duplicate redemption requests
	// (same customer, voucher and Idempotency-Key) are rejected.
	IdempotencyWindow time.Duration
	// ProcessingTimeout is how long a redemption may sit in PROCESSING
	// before the sweeper treats it as failed and refunds the points.
	ProcessingTimeout time.Duration
	SweepInterval     time.Duration
}

// IssuerConfig points at the external voucher-code supplier.
type IssuerConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
}

type WebhookConfig struct {
	// FeedbackSecret authenticates approval events from the feedback subsystem.
	FeedbackSecret string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         envStr("PORT", "8080"),
			Env:          envStr("APP_ENV", "development"),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:             envStr("DATABASE_DSN", "tably:tably@tcp(localhost:3306)/tably?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret:  envStr("JWT_ACCESS_SECRET", "change-me-in-production"),
			RefreshSecret: envStr("JWT_REFRESH_SECRET", "change-me-refresh"),
			AccessExpiry:  15 * time.Minute,
			RefreshExpiry: 168 * time.Hour,
			Issuer:        "tably",
		},
		Reward: RewardConfig{
			PointsPerFeedback: envInt("REWARD_POINTS_PER_FEEDBACK", 1),
			IdempotencyWindow: envDuration("REWARD_IDEMPOTENCY_WINDOW", 24*time.Hour),
			ProcessingTimeout: envDuration("REWARD_PROCESSING_TIMEOUT", 10*time.Minute),
			SweepInterval:     envDuration("REWARD_SWEEP_INTERVAL", time.Minute),
		},
		Issuer: IssuerConfig{
			BaseURL: envStr("ISSUER_BASE_URL", "https://voucher-api.tably.io"),
			APIKey:  envStr("ISSUER_API_KEY", ""),
			Timeout: envDuration("ISSUER_TIMEOUT", 15*time.Second),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: envStr("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:    envStr("CLOUDINARY_API_KEY", ""),
			APISecret: envStr("CLOUDINARY_API_SECRET", ""),
		},
		Webhook: WebhookConfig{
			FeedbackSecret: envStr("FEEDBACK_WEBHOOK_SECRET", ""),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
