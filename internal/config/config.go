// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port       string `mapstructure:"PORT"`
	Env        string `mapstructure:"APP_ENV"`
	JWTSecret  string `mapstructure:"JWT_SECRET"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`
	RedisURL   string `mapstructure:"REDIS_URL"`

	// Moderation thresholds and toggles.
	AutoModeration    bool    `mapstructure:"ENABLE_AUTO_MODERATION"`
	ViolenceThreshold float64 `mapstructure:"VIOLENCE_THRESHOLD"`
	ToxicityThreshold float64 `mapstructure:"TOXICITY_THRESHOLD"`
	SevereThreshold   float64 `mapstructure:"SEVERE_THRESHOLD"`

	// Rate limiting ceilings.
	MaxMessagesPerMinute int `mapstructure:"MAX_MESSAGES_PER_MINUTE"`
	MaxMessagesPerHour   int `mapstructure:"MAX_MESSAGES_PER_HOUR"`

	// Points economy.
	MessageRewardProbability float64 `mapstructure:"MESSAGE_REWARD_PROBABILITY"`

	// Background sweep.
	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL"`

	// Dashboard login. The password is stored as a bcrypt hash.
	DashboardUser         string `mapstructure:"DASHBOARD_USER"`
	DashboardPasswordHash string `mapstructure:"DASHBOARD_PASSWORD_HASH"`
	DashboardAdminID      int64  `mapstructure:"DASHBOARD_ADMIN_ID"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// Initial read to get APP_ENV if set in base config
	// We intentionally ignore this error as the config file may not exist yet
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	viper.SetDefault("PORT", "8460")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "modkeeper")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_URL", "localhost:6379")

	viper.SetDefault("ENABLE_AUTO_MODERATION", true)
	viper.SetDefault("VIOLENCE_THRESHOLD", 0.7)
	viper.SetDefault("TOXICITY_THRESHOLD", 0.7)
	viper.SetDefault("SEVERE_THRESHOLD", 0.9)
	viper.SetDefault("MAX_MESSAGES_PER_MINUTE", 10)
	viper.SetDefault("MAX_MESSAGES_PER_HOUR", 100)
	viper.SetDefault("MESSAGE_REWARD_PROBABILITY", 0.3)
	viper.SetDefault("RECONCILE_INTERVAL", time.Hour)
	viper.SetDefault("DASHBOARD_USER", "admin")
	viper.SetDefault("DASHBOARD_PASSWORD_HASH", "")
	viper.SetDefault("DASHBOARD_ADMIN_ID", 0)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.ViolenceThreshold <= 0 || c.ViolenceThreshold > 1 {
		return errors.New("VIOLENCE_THRESHOLD must be in (0, 1]")
	}
	if c.ToxicityThreshold <= 0 || c.ToxicityThreshold > 1 {
		return errors.New("TOXICITY_THRESHOLD must be in (0, 1]")
	}
	if c.SevereThreshold < c.ViolenceThreshold || c.SevereThreshold > 1 {
		return errors.New("SEVERE_THRESHOLD must be within [VIOLENCE_THRESHOLD, 1]")
	}
	if c.MaxMessagesPerMinute <= 0 || c.MaxMessagesPerHour <= 0 {
		return errors.New("rate limit ceilings must be positive")
	}
	if c.MessageRewardProbability < 0 || c.MessageRewardProbability > 1 {
		return errors.New("MESSAGE_REWARD_PROBABILITY must be in [0, 1]")
	}
	if c.ReconcileInterval < time.Minute {
		return errors.New("RECONCILE_INTERVAL must be at least one minute")
	}

	isProduction := c.Env == "production" || c.Env == "prod"

	// Strict checks for production
	if isProduction {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DashboardPasswordHash == "" {
			return errors.New("DASHBOARD_PASSWORD_HASH is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			log.Println("WARNING: DB_SSLMODE is 'disable' in production. It is highly recommended to use SSL for database connections.")
		}
	} else {
		if len(c.JWTSecret) < 32 {
			log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
		}
	}

	return nil
}
