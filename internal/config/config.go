package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Port            string
	Store           string // postgres | memory
	DatabaseURL     string
	AllowedOrigins  []string
	LogLevel        string
	DeliveryWindow  time.Duration
	ArchiveAfter    time.Duration
	ArchiveInterval time.Duration
	NotifyTimeout   time.Duration
	HookQueueSize   int

	Push  PushConfig
	Email EmailConfig
	SMS   SMSConfig
	Kafka KafkaConfig
}

type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	Store           string // memory | redis
	RedisAddr       string
}

func (p PushConfig) Enabled() bool {
	return p.VAPIDPublicKey != "" && p.VAPIDPrivateKey != ""
}

type EmailConfig struct {
	BrevoAPIKey string
	Sender      string
	SenderName  string
}

func (e EmailConfig) Enabled() bool { return e.BrevoAPIKey != "" }

type SMSConfig struct {
	TwilioSID   string
	TwilioToken string
	From        string
}

func (s SMSConfig) Enabled() bool {
	return s.TwilioSID != "" && s.TwilioToken != "" && s.From != ""
}

type KafkaConfig struct {
	Brokers string
	Topic   string
}

func Load() (Config, error) {
	cfg := Config{
		Port:           getenv("PORT", "3000"),
		Store:          strings.ToLower(getenv("STORE", "postgres")),
		DatabaseURL:    databaseURL(),
		AllowedOrigins: splitCSV(getenv("ALLOWED_ORIGINS", "http://localhost:8000")),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		Push: PushConfig{
			VAPIDPublicKey:  getenv("VAPID_PUBLIC_KEY", ""),
			VAPIDPrivateKey: getenv("VAPID_PRIVATE_KEY", ""),
			VAPIDSubject:    getenv("VAPID_SUBJECT", "mailto:orders@example.com"),
			Store:           strings.ToLower(getenv("PUSH_STORE", "memory")),
			RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		},
		Email: EmailConfig{
			BrevoAPIKey: getenv("BREVO_API_KEY", ""),
			Sender:      getenv("EMAIL_SENDER", "system@brevo.email"),
			SenderName:  getenv("EMAIL_SENDER_NAME", "Supermarket"),
		},
		SMS: SMSConfig{
			TwilioSID:   getenv("TWILIO_SID", ""),
			TwilioToken: getenv("TWILIO_TOKEN", ""),
			From:        getenv("TWILIO_PHONE", ""),
		},
		Kafka: KafkaConfig{
			Brokers: getenv("KAFKA_BROKERS", ""),
			Topic:   getenv("KAFKA_TOPIC", "supermarket.orders"),
		},
	}

	var err error
	if cfg.DeliveryWindow, err = duration("DELIVERY_WINDOW", 2*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.ArchiveAfter, err = duration("ARCHIVE_AFTER", 72*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.ArchiveInterval, err = duration("ARCHIVE_INTERVAL", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.NotifyTimeout, err = duration("NOTIFY_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	cfg.HookQueueSize, err = strconv.Atoi(getenv("HOOK_QUEUE_SIZE", "256"))
	if err != nil || cfg.HookQueueSize <= 0 {
		return Config{}, fmt.Errorf("HOOK_QUEUE_SIZE must be a positive integer")
	}

	switch cfg.Store {
	case "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL (or BLUEPRINT_DB_*) is required when STORE=postgres")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
	if cfg.Push.Store != "memory" && cfg.Push.Store != "redis" {
		return Config{}, fmt.Errorf("unknown PUSH_STORE %q", cfg.Push.Store)
	}
	return cfg, nil
}

// databaseURL prefers DATABASE_URL and falls back to the BLUEPRINT_DB_* parts.
func databaseURL() string {
	if url := getenv("DATABASE_URL", ""); url != "" {
		return url
	}
	host := os.Getenv("BLUEPRINT_DB_HOST")
	if host == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		os.Getenv("BLUEPRINT_DB_USERNAME"),
		os.Getenv("BLUEPRINT_DB_PASSWORD"),
		host,
		getenv("BLUEPRINT_DB_PORT", "5432"),
		os.Getenv("BLUEPRINT_DB_DATABASE"),
		getenv("BLUEPRINT_DB_SCHEMA", "public"),
	)
}

func duration(key string, def time.Duration) (time.Duration, error) {
	v := getenv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
