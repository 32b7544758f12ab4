// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/unclebandit/leadreach-backend/internal/model"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	// Either DATABASE_URL or the DB_* parts. Empty everything means the
	// in-memory store.
	DatabaseURL string `env:"DATABASE_URL"`
	DBUser      string `env:"DB_USER"`
	DBPassword  string `env:"DB_PASSWORD"`
	DBHost      string `env:"DB_HOST"`
	DBPort      string `env:"DB_PORT" envDefault:"5432"`
	DBName      string `env:"DB_NAME"`

	AMQPURL string `env:"AMQP_URL"`

	OpenAIAPIKey      string  `env:"OPENAI_API_KEY"`
	OpenAIModel       string  `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAITemperature float64 `env:"OPENAI_TEMPERATURE" envDefault:"0.4"`

	TelnyxAPIKey     string `env:"TELNYX_API_KEY"`
	TelnyxFromNumber string `env:"TELNYX_FROM_NUMBER"`
	TelnyxBaseURL    string `env:"TELNYX_BASE_URL" envDefault:"https://api.telnyx.com/v2"`

	EmailAPIKey  string `env:"EMAIL_API_KEY"`
	EmailFrom    string `env:"EMAIL_FROM"`
	EmailBaseURL string `env:"EMAIL_BASE_URL" envDefault:"https://api.resend.com"`

	WebhookSecret    string        `env:"WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" envDefault:"5m"`

	DefaultTimezone        string `env:"DEFAULT_TIMEZONE" envDefault:"America/New_York"`
	DefaultMaxDaily        int    `env:"DEFAULT_MAX_DAILY_CONTACTS" envDefault:"50"`
	DefaultQuietHoursStart string `env:"DEFAULT_QUIET_HOURS_START" envDefault:"21:00"`
	DefaultQuietHoursEnd   string `env:"DEFAULT_QUIET_HOURS_END" envDefault:"08:00"`
	DefaultFollowUpOffsets []int  `env:"DEFAULT_FOLLOW_UP_OFFSETS" envDefault:"1,3,7,14" envSeparator:","`
	DefaultResponseTimeout int    `env:"DEFAULT_RESPONSE_TIMEOUT_HOURS" envDefault:"48"`

	MaxUnparseable     int `env:"MAX_UNPARSEABLE_REPLIES" envDefault:"2"`
	ExtractionAttempts int `env:"EXTRACTION_ATTEMPTS" envDefault:"2"`
	FutureInterestDays int `env:"FUTURE_INTEREST_DAYS" envDefault:"90"`

	SchedulerWorkers int           `env:"SCHEDULER_WORKERS" envDefault:"4"`
	LeaseTTL         time.Duration `env:"LEAD_LEASE_TTL" envDefault:"2m"`
	ExecuteCron      string        `env:"EXECUTE_CRON" envDefault:"*/15 * * * *"`
	NoShowCron       string        `env:"NO_SHOW_CRON" envDefault:"*/10 * * * *"`

	SendAttempts     int           `env:"SEND_ATTEMPTS" envDefault:"3"`
	SendBackoff      time.Duration `env:"SEND_BACKOFF" envDefault:"500ms"`
	SendMaxBackoff   time.Duration `env:"SEND_MAX_BACKOFF" envDefault:"5s"`
	SendMaxElapsed   time.Duration `env:"SEND_MAX_ELAPSED" envDefault:"20s"`
	TransportTimeout time.Duration `env:"TRANSPORT_TIMEOUT" envDefault:"10s"`

	BookingTolerance time.Duration `env:"BOOKING_TOLERANCE" envDefault:"15m"`
	BookingSlots     int           `env:"BOOKING_SLOTS" envDefault:"3"`
	BookingDays      int           `env:"BOOKING_DAYS" envDefault:"5"`
	MeetingDuration  time.Duration `env:"MEETING_DURATION" envDefault:"15m"`
	VideoLinkBase    string        `env:"VIDEO_LINK_BASE" envDefault:"https://meet.leadreach.app"`
	NoShowGrace      time.Duration `env:"NO_SHOW_GRACE" envDefault:"30m"`

	OTELEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"leadreach"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}
	return Parse()
}

func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MaxUnparseable < 1 {
		return nil, fmt.Errorf("MAX_UNPARSEABLE_REPLIES must be at least 1")
	}
	if cfg.SchedulerWorkers < 1 {
		return nil, fmt.Errorf("SCHEDULER_WORKERS must be at least 1")
	}
	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("DEFAULT_TIMEZONE: %w", err)
	}
	return &cfg, nil
}

// DSN returns the Postgres connection string, or "" for the in-memory store.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBHost == "" || c.DBName == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName,
	)
}

// CampaignDefaults is the config applied to campaigns that leave fields
// unset, and to leads that belong to no campaign.
func (c *Config) CampaignDefaults() model.CampaignConfig {
	offsets := make([]int, len(c.DefaultFollowUpOffsets))
	copy(offsets, c.DefaultFollowUpOffsets)
	return model.CampaignConfig{
		MaxDailyContacts:     c.DefaultMaxDaily,
		FollowUpOffsets:      offsets,
		QuietHoursStart:      c.DefaultQuietHoursStart,
		QuietHoursEnd:        c.DefaultQuietHoursEnd,
		Timezone:             c.DefaultTimezone,
		ResponseTimeoutHours: c.DefaultResponseTimeout,
		FutureInterestDays:   c.FutureInterestDays,
	}
}
