package config

import "testing"

func validConfig() *Config {
	return &Config{
		Port:                   "8080",
		DatabaseURL:            "postgres://localhost/rx",
		LowConfidenceThreshold: 80,
		ReviewThreshold:        70,
		MinReasonLength:        10,
		RefillLeadDays:         7,
		TraceSampleRate:        1.0,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestValidateThresholdBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"gate threshold zero", func(c *Config) { c.LowConfidenceThreshold = 0 }},
		{"gate threshold over 100", func(c *Config) { c.LowConfidenceThreshold = 101 }},
		{"review threshold zero", func(c *Config) { c.ReviewThreshold = 0 }},
		{"review threshold over 100", func(c *Config) { c.ReviewThreshold = 150 }},
		{"reason length zero", func(c *Config) { c.MinReasonLength = 0 }},
		{"negative refill lead", func(c *Config) { c.RefillLeadDays = -1 }},
		{"sample rate over 1", func(c *Config) { c.TraceSampleRate = 1.5 }},
		{"negative sample rate", func(c *Config) { c.TraceSampleRate = -0.1 }},
	}
	for _, tc := range cases {
		cfg := validConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate passed, want error", tc.name)
		}
	}
}

func TestAPIKeyMap(t *testing.T) {
	cfg := validConfig()
	cfg.APIKeys = "key-1:pharmacy-a, key-2:pharmacy-b,,broken,:noname"

	keys := cfg.APIKeyMap()
	if len(keys) != 2 {
		t.Fatalf("parsed %d keys, want 2: %v", len(keys), keys)
	}
	if keys["key-1"] != "pharmacy-a" || keys["key-2"] != "pharmacy-b" {
		t.Errorf("unexpected key map: %v", keys)
	}

	cfg.APIKeys = ""
	if len(cfg.APIKeyMap()) != 0 {
		t.Error("empty APIKeys must yield an empty map")
	}
}

func TestIsDev(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "development"
	if !cfg.IsDev() {
		t.Error("development env must report dev")
	}
	cfg.Env = "production"
	if cfg.IsDev() {
		t.Error("production env must not report dev")
	}
}
