/**
 * @description
 * This file handles configuration management for the recurring-service.
 * It loads settings from environment variables, providing defaults for the
 * sweep schedules, throttle policy and alert threshold.
 */
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the recurring service.
type Config struct {
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	ServerPort  string `mapstructure:"SERVER_PORT"`

	EmailAPIBaseURL  string `mapstructure:"EMAIL_API_BASE_URL"`
	EmailAPIKey      string `mapstructure:"EMAIL_API_KEY"`
	EmailFromAddress string `mapstructure:"EMAIL_FROM_ADDRESS"`

	RecurringSweepSchedule string `mapstructure:"RECURRING_SWEEP_SCHEDULE"`
	BudgetSweepSchedule    string `mapstructure:"BUDGET_SWEEP_SCHEDULE"`

	BudgetAlertThresholdPercent int64 `mapstructure:"BUDGET_ALERT_THRESHOLD_PERCENT"`

	UserThrottleLimit          int `mapstructure:"USER_THROTTLE_LIMIT"`
	UserThrottleWindowSeconds  int `mapstructure:"USER_THROTTLE_WINDOW_SECONDS"`
	UserThrottleMaxWaitSeconds int `mapstructure:"USER_THROTTLE_MAX_WAIT_SECONDS"`

	ProcessTimeoutSeconds int `mapstructure:"PROCESS_TIMEOUT_SECONDS"`
	SweepTimeoutSeconds   int `mapstructure:"SWEEP_TIMEOUT_SECONDS"`
	ConsumerPrefetch      int `mapstructure:"CONSUMER_PREFETCH"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("EMAIL_API_BASE_URL", "https://api.resend.com")
	viper.SetDefault("RECURRING_SWEEP_SCHEDULE", "0 0 * * *")  // Daily at midnight.
	viper.SetDefault("BUDGET_SWEEP_SCHEDULE", "0 */6 * * *")   // Every 6 hours.
	viper.SetDefault("BUDGET_ALERT_THRESHOLD_PERCENT", 80)
	viper.SetDefault("USER_THROTTLE_LIMIT", 10)
	viper.SetDefault("USER_THROTTLE_WINDOW_SECONDS", 60)
	viper.SetDefault("USER_THROTTLE_MAX_WAIT_SECONDS", 30)
	viper.SetDefault("PROCESS_TIMEOUT_SECONDS", 30)
	viper.SetDefault("SWEEP_TIMEOUT_SECONDS", 300)
	viper.SetDefault("CONSUMER_PREFETCH", 32)
	viper.AutomaticEnv()

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("EMAIL_API_BASE_URL")
	_ = viper.BindEnv("EMAIL_API_KEY")
	_ = viper.BindEnv("EMAIL_FROM_ADDRESS")
	_ = viper.BindEnv("RECURRING_SWEEP_SCHEDULE")
	_ = viper.BindEnv("BUDGET_SWEEP_SCHEDULE")
	_ = viper.BindEnv("BUDGET_ALERT_THRESHOLD_PERCENT")
	_ = viper.BindEnv("USER_THROTTLE_LIMIT")
	_ = viper.BindEnv("USER_THROTTLE_WINDOW_SECONDS")
	_ = viper.BindEnv("USER_THROTTLE_MAX_WAIT_SECONDS")
	_ = viper.BindEnv("PROCESS_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SWEEP_TIMEOUT_SECONDS")
	_ = viper.BindEnv("CONSUMER_PREFETCH")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if config.RabbitMQURL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required")
	}

	return &config, nil
}
