/**
 * @description
 * Configuration management for the billing service. Settings come from
 * environment variables, with defaults for everything except the database
 * connection string.
 */
package config

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort          string        `mapstructure:"SERVER_PORT"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	InternalAPIKey      string        `mapstructure:"INTERNAL_API_KEY"`
	JWTSecret           string        `mapstructure:"JWT_SECRET"`
	RabbitMQURL         string        `mapstructure:"RABBITMQ_URL"`
	BillingCurrency     string        `mapstructure:"BILLING_CURRENCY"`
	TrialDays           int           `mapstructure:"TRIAL_DAYS"`
	SweepSchedule       string        `mapstructure:"SWEEP_SCHEDULE"`
	SweepWorkers        int           `mapstructure:"SWEEP_WORKERS"`
	LeaseStale          time.Duration `mapstructure:"LEASE_STALE"`
	GatewayProvider     string        `mapstructure:"GATEWAY_PROVIDER"`
	GatewayBaseURL      string        `mapstructure:"GATEWAY_BASE_URL"`
	GatewayAPIKey       string        `mapstructure:"GATEWAY_API_KEY"`
	GatewayWebhookKey   string        `mapstructure:"GATEWAY_WEBHOOK_SECRET"`
	MockFailureRate     float64       `mapstructure:"MOCK_FAILURE_RATE"`
	MockLatency         time.Duration `mapstructure:"MOCK_LATENCY"`
	MockSeed            int64         `mapstructure:"MOCK_SEED"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (config Config, err error) {
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("BILLING_CURRENCY", "USD")
	viper.SetDefault("TRIAL_DAYS", 14)
	viper.SetDefault("SWEEP_SCHEDULE", "0 2 * * *") // At 02:00 daily.
	viper.SetDefault("SWEEP_WORKERS", 8)
	viper.SetDefault("LEASE_STALE", "10m")
	viper.SetDefault("GATEWAY_PROVIDER", "mock")
	viper.SetDefault("MOCK_FAILURE_RATE", 0.1)
	viper.SetDefault("MOCK_LATENCY", "50ms")
	viper.SetDefault("MOCK_SEED", 1)
	viper.AutomaticEnv()

	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("BILLING_CURRENCY")
	_ = viper.BindEnv("TRIAL_DAYS")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("SWEEP_WORKERS")
	_ = viper.BindEnv("LEASE_STALE")
	_ = viper.BindEnv("GATEWAY_PROVIDER")
	_ = viper.BindEnv("GATEWAY_BASE_URL")
	_ = viper.BindEnv("GATEWAY_API_KEY")
	_ = viper.BindEnv("GATEWAY_WEBHOOK_SECRET")
	_ = viper.BindEnv("MOCK_FAILURE_RATE")
	_ = viper.BindEnv("MOCK_LATENCY")
	_ = viper.BindEnv("MOCK_SEED")

	if err = viper.Unmarshal(&config); err != nil {
		return
	}
	if port := os.Getenv("PORT"); port != "" {
		config.ServerPort = port
	}

	if config.DatabaseURL == "" {
		err = errors.New("DATABASE_URL is required")
		return
	}
	if config.GatewayProvider == "remote" && (config.GatewayBaseURL == "" || config.GatewayAPIKey == "") {
		err = errors.New("GATEWAY_BASE_URL and GATEWAY_API_KEY are required when GATEWAY_PROVIDER=remote")
		return
	}
	return
}
