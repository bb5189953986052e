package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                     "8460",
		Env:                      "development",
		JWTSecret:                "development-secret-not-for-production!!",
		AutoModeration:           true,
		ViolenceThreshold:        0.7,
		ToxicityThreshold:        0.7,
		SevereThreshold:          0.9,
		MaxMessagesPerMinute:     10,
		MaxMessagesPerHour:       100,
		MessageRewardProbability: 0.3,
		ReconcileInterval:        time.Hour,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing port", func(c *Config) { c.Port = "" }},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }},
		{"violence threshold out of range", func(c *Config) { c.ViolenceThreshold = 1.5 }},
		{"toxicity threshold zero", func(c *Config) { c.ToxicityThreshold = 0 }},
		{"severe below violence", func(c *Config) { c.SevereThreshold = 0.5 }},
		{"zero minute ceiling", func(c *Config) { c.MaxMessagesPerMinute = 0 }},
		{"negative reward probability", func(c *Config) { c.MessageRewardProbability = -0.1 }},
		{"reward probability above one", func(c *Config) { c.MessageRewardProbability = 1.1 }},
		{"sub-minute reconcile interval", func(c *Config) { c.ReconcileInterval = time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateProductionStrictness(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"
	cfg.DBPassword = "s3cure-db-password"
	cfg.DashboardPasswordHash = "$2a$10$abcdefghijklmnopqrstuv"

	t.Run("default jwt secret rejected", func(t *testing.T) {
		c := *cfg
		c.JWTSecret = "your-secret-key-change-in-production"
		assert.Error(t, c.Validate())
	})

	t.Run("short jwt secret rejected", func(t *testing.T) {
		c := *cfg
		c.JWTSecret = "too-short"
		assert.Error(t, c.Validate())
	})

	t.Run("default db password rejected", func(t *testing.T) {
		c := *cfg
		c.DBPassword = "password"
		assert.Error(t, c.Validate())
	})

	t.Run("missing dashboard hash rejected", func(t *testing.T) {
		c := *cfg
		c.DashboardPasswordHash = ""
		assert.Error(t, c.Validate())
	})

	t.Run("hardened config accepted", func(t *testing.T) {
		assert.NoError(t, cfg.Validate())
	})
}
