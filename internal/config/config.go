package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Trigger + webhook auth
	CronSecret    string // bearer secret for the scheduler trigger endpoint
	WebhookSecret string // signing secret for inbound delivery webhooks

	// Outbound transport
	Transport     string // "resend", "ses" or "log"
	ResendAPIKey  string
	ResendBaseURL string
	AWSRegion     string
	FromEmail     string
	FromName      string

	// Eligibility policy
	InactiveAfterDays int // days without activity before a reminder is due
	CooldownDays      int // minimum days between notifications of one type

	// Optional in-process trigger. When empty, only the HTTP trigger runs.
	CronSpec string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "coursepulse",
		DBPassword: "",
		DBName:     "coursepulse",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		Transport:     "log",
		ResendBaseURL: "https://api.resend.com",
		AWSRegion:     "us-east-1",
		FromEmail:     "courses@coursepulse.local",
		FromName:      "CoursePulse",

		InactiveAfterDays: 3,
		CooldownDays:      7,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	cfg.CronSecret = os.Getenv("CRON_SECRET")
	cfg.WebhookSecret = os.Getenv("WEBHOOK_SIGNING_SECRET")

	if cfg.Env == "production" && cfg.CronSecret == "" {
		return nil, fmt.Errorf("CRON_SECRET is required in production")
	}

	if transport := os.Getenv("EMAIL_TRANSPORT"); transport != "" {
		switch transport {
		case "resend", "ses", "log":
			cfg.Transport = transport
		default:
			return nil, fmt.Errorf("invalid EMAIL_TRANSPORT: %q (must be resend, ses or log)", transport)
		}
	}

	if key := os.Getenv("RESEND_API_KEY"); key != "" {
		cfg.ResendAPIKey = key
	}

	if url := os.Getenv("RESEND_BASE_URL"); url != "" {
		cfg.ResendBaseURL = url
	}

	if cfg.Transport == "resend" && cfg.ResendAPIKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY is required when EMAIL_TRANSPORT=resend")
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("FROM_EMAIL"); from != "" {
		cfg.FromEmail = from
	}

	if name := os.Getenv("FROM_NAME"); name != "" {
		cfg.FromName = name
	}

	if days := os.Getenv("INACTIVE_AFTER_DAYS"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid INACTIVE_AFTER_DAYS: %q", days)
		}
		cfg.InactiveAfterDays = d
	}

	if days := os.Getenv("NOTIFY_COOLDOWN_DAYS"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid NOTIFY_COOLDOWN_DAYS: %q", days)
		}
		cfg.CooldownDays = d
	}

	cfg.CronSpec = os.Getenv("CRON_SPEC")

	return cfg, nil
}
