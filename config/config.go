package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const devSecretKey = "dev-secret-key-change-me"

// Config holds the application configuration.
type Config struct {
	Env              string
	Port             int
	DatabaseURL      string
	RedisURL         string
	SecretKey        string
	SendGridAPIKey   string
	MailFrom         string
	MailFromName     string
	BaseURL          string
	ResetTokenMaxAge time.Duration
	SessionTTL       time.Duration
	LogLevel         string
}

// IsProduction reports whether the app runs with APP_ENV=production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load loads configuration from environment variables or sets defaults.
// Outside production a .env file in the working directory is read first.
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil {
			log.Debug().Msg("no .env file found, continuing")
		}
	}

	port, err := strconv.Atoi(getEnv("PORT", "8080"))
	if err != nil {
		return nil, errors.New("PORT must be an integer")
	}
	maxAge, err := time.ParseDuration(getEnv("RESET_TOKEN_MAX_AGE", "1h"))
	if err != nil {
		return nil, errors.New("RESET_TOKEN_MAX_AGE must be a duration")
	}
	sessionTTL, err := time.ParseDuration(getEnv("SESSION_TTL", "24h"))
	if err != nil {
		return nil, errors.New("SESSION_TTL must be a duration")
	}

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		Port:             port,
		DatabaseURL:      getEnv("DATABASE_URL", "sqlite://notes.db"),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SecretKey:        getEnv("SECRET_KEY", ""),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		MailFrom:         getEnv("MAIL_FROM", "donotreply@notekeep.app"),
		MailFromName:     getEnv("MAIL_FROM_NAME", "Notekeep Support"),
		BaseURL:          getEnv("BASE_URL", ""),
		ResetTokenMaxAge: maxAge,
		SessionTTL:       sessionTTL,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if cfg.SecretKey == "" {
		if cfg.IsProduction() {
			return nil, errors.New("SECRET_KEY is required in production")
		}
		log.Warn().Msg("SECRET_KEY not set, using development fallback")
		cfg.SecretKey = devSecretKey
	}

	return cfg, nil
}

// Helper to get an environment variable with a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
