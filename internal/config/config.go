package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// AgentConfig captures all tunable parameters for the driver agent.
// Values come from the environment (optionally seeded from a .env file)
// with defaults that match the reference mobile client.
type AgentConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	APIBaseURL string
	APITimeout time.Duration

	PollInterval          time.Duration
	RequestTimeoutSeconds int
	LocationInterval      time.Duration

	CredentialsPath string
	DriverEmail     string
	DriverPassword  string
	DriverID        string

	RedisAddr     string
	RedisPassword string
	DeclinedTTL   time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	TelegramToken  string
	TelegramChatID int64

	// DrawerHeights holds the compact, partial and full detents in pixels.
	DrawerHeights [3]float64

	LogLevel  string
	LogFormat string
}

const writeTimeoutMargin = 10 * time.Second

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		HTTPAddr:              ":8080",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          40 * time.Second,
		IdleTimeout:           120 * time.Second,
		ShutdownTimeout:       15 * time.Second,
		APIBaseURL:            "https://vayebac.onrender.com/api",
		APITimeout:            30 * time.Second,
		PollInterval:          4 * time.Second,
		RequestTimeoutSeconds: 20,
		LocationInterval:      10 * time.Second,
		DeclinedTTL:           12 * time.Hour,
		KafkaTopic:            "driver-lifecycle",
		DrawerHeights:         [3]float64{120, 360, 640},
		LogLevel:              "info",
		LogFormat:             "json",
	}
}

func LoadAgentConfig() (AgentConfig, error) {
	_ = godotenv.Load()

	cfg := defaultAgentConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	setDurationFromEnv(&cfg.APITimeout, "API_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.PollInterval, "POLL_INTERVAL", &errs)
	setIntFromEnv(&cfg.RequestTimeoutSeconds, "REQUEST_TIMEOUT_SECONDS", &errs)
	setDurationFromEnv(&cfg.LocationInterval, "LOCATION_UPDATE_INTERVAL", &errs)

	setStringFromEnv(&cfg.CredentialsPath, "CREDENTIALS_PATH")
	setStringFromEnv(&cfg.DriverEmail, "DRIVER_EMAIL")
	cfg.DriverPassword = os.Getenv("DRIVER_PASSWORD")
	setStringFromEnv(&cfg.DriverID, "DRIVER_ID")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.DeclinedTTL, "DECLINED_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	setInt64FromEnv(&cfg.TelegramChatID, "TELEGRAM_CHAT_ID", &errs)

	if v := os.Getenv("DRAWER_HEIGHTS"); v != "" {
		h, err := parseHeights(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid DRAWER_HEIGHTS: %w", err))
		} else {
			cfg.DrawerHeights = h
		}
	}

	setLogFromEnv(&cfg.LogLevel, &cfg.LogFormat)

	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be > 0"))
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.LocationInterval <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_UPDATE_INTERVAL must be > 0"))
	}
	// dashboard commands wait on one ride service call, so a response
	// must still be writable once a slow call returns
	if cfg.APITimeout > 0 && cfg.WriteTimeout <= cfg.APITimeout {
		cfg.WriteTimeout = cfg.APITimeout + writeTimeoutMargin
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID == 0 {
		errs = append(errs, fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set"))
	}

	return cfg, errors.Join(errs...)
}

// JournalConfig configures the lifecycle journal consumer.
type JournalConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	PGDSN         string
	RunMigrations bool

	MetricsAddr string

	LogLevel  string
	LogFormat string
}

func LoadJournalConfig() (JournalConfig, error) {
	_ = godotenv.Load()

	cfg := JournalConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-lifecycle",
		KafkaGroup:   "driver-journal",
		MetricsAddr:  ":2112",
		LogLevel:     "info",
		LogFormat:    "json",
	}
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	cfg.PGDSN = os.Getenv("PG_DSN")
	setBoolFromEnv(&cfg.RunMigrations, "MIGRATE", &errs)
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setLogFromEnv(&cfg.LogLevel, &cfg.LogFormat)

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must list at least one broker"))
	}

	return cfg, errors.Join(errs...)
}

func setLogFromEnv(level, format *string) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		*level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		*format = strings.ToLower(v)
	}
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := cast.ToIntE(strings.TrimSpace(v))
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := cast.ToInt64E(strings.TrimSpace(v))
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := cast.ToBoolE(strings.TrimSpace(v))
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func parseHeights(v string) ([3]float64, error) {
	var out [3]float64
	parts := splitAndTrim(v)
	if len(parts) != 3 {
		return out, fmt.Errorf("want 3 comma separated values, got %d", len(parts))
	}
	for i, p := range parts {
		f, err := cast.ToFloat64E(p)
		if err != nil {
			return out, err
		}
		out[i] = f
	}
	if !(out[0] < out[1] && out[1] < out[2]) {
		return out, fmt.Errorf("heights must be strictly increasing")
	}
	return out, nil
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
