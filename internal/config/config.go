// Package config loads engine configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`

	// Confidence thresholds, 0-100. LowConfidenceThreshold gates approval;
	// ReviewThreshold classifies transcription quality at intake. The two are
	// tuned independently.
	LowConfidenceThreshold int `mapstructure:"LOW_CONFIDENCE_THRESHOLD"`
	ReviewThreshold        int `mapstructure:"REVIEW_THRESHOLD"`

	MinReasonLength int `mapstructure:"MIN_REASON_LENGTH"`
	RefillLeadDays  int `mapstructure:"REFILL_LEAD_DAYS"`

	// APIKeys lists inbound credentials as comma-separated key:client pairs.
	// Empty disables auth, for local development only.
	APIKeys string `mapstructure:"API_KEYS"`

	InteractionAPIURL string `mapstructure:"INTERACTION_API_URL"`
	PatientAPIURL     string `mapstructure:"PATIENT_API_URL"`
	KnowledgeAPIKey   string `mapstructure:"KNOWLEDGE_API_KEY"`

	PatientWebhookURL string `mapstructure:"PATIENT_WEBHOOK_URL"`
	DoctorWebhookURL  string `mapstructure:"DOCTOR_WEBHOOK_URL"`

	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate float64 `mapstructure:"TRACE_SAMPLE_RATE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("LOW_CONFIDENCE_THRESHOLD", 80)
	v.SetDefault("REVIEW_THRESHOLD", 70)
	v.SetDefault("MIN_REASON_LENGTH", 10)
	v.SetDefault("REFILL_LEAD_DAYS", 7)
	v.SetDefault("OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("KAFKA_BROKERS")
	v.BindEnv("LOW_CONFIDENCE_THRESHOLD")
	v.BindEnv("REVIEW_THRESHOLD")
	v.BindEnv("MIN_REASON_LENGTH")
	v.BindEnv("REFILL_LEAD_DAYS")
	v.BindEnv("API_KEYS")
	v.BindEnv("INTERACTION_API_URL")
	v.BindEnv("PATIENT_API_URL")
	v.BindEnv("KNOWLEDGE_API_KEY")
	v.BindEnv("PATIENT_WEBHOOK_URL")
	v.BindEnv("DOCTOR_WEBHOOK_URL")
	v.BindEnv("OTLP_ENDPOINT")
	v.BindEnv("TRACE_SAMPLE_RATE")

	// Try reading .env, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.KafkaBrokers == nil {
		brokers := v.GetString("KAFKA_BROKERS")
		if brokers != "" {
			cfg.KafkaBrokers = strings.Split(brokers, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// APIKeyMap parses APIKeys into key -> client name.
func (c *Config) APIKeyMap() map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(c.APIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, client, found := strings.Cut(pair, ":")
		if !found || key == "" {
			continue
		}
		keys[key] = client
	}
	return keys
}

// Validate checks threshold sanity. Both thresholds are percentages; a gate
// threshold of zero would wave every extraction through unreviewed.
func (c *Config) Validate() error {
	if c.LowConfidenceThreshold < 1 || c.LowConfidenceThreshold > 100 {
		return fmt.Errorf("LOW_CONFIDENCE_THRESHOLD must be 1-100, got %d", c.LowConfidenceThreshold)
	}
	if c.ReviewThreshold < 1 || c.ReviewThreshold > 100 {
		return fmt.Errorf("REVIEW_THRESHOLD must be 1-100, got %d", c.ReviewThreshold)
	}
	if c.MinReasonLength < 1 {
		return fmt.Errorf("MIN_REASON_LENGTH must be positive, got %d", c.MinReasonLength)
	}
	if c.RefillLeadDays < 0 {
		return fmt.Errorf("REFILL_LEAD_DAYS must not be negative, got %d", c.RefillLeadDays)
	}
	if c.TraceSampleRate < 0 || c.TraceSampleRate > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATE must be 0-1, got %g", c.TraceSampleRate)
	}
	return nil
}
