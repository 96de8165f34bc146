/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the admission-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string `mapstructure:"SERVER_PORT"`
	DatabaseURL             string `mapstructure:"DATABASE_URL"`
	RedisURL                string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL             string `mapstructure:"RABBITMQ_URL"`
	NotificationExchange    string `mapstructure:"NOTIFICATION_EXCHANGE"`
	InternalAPIKey          string `mapstructure:"INTERNAL_API_KEY"`
	ProcessorAPIBaseURL     string `mapstructure:"PROCESSOR_API_BASE_URL"`
	ProcessorAPIKey         string `mapstructure:"PROCESSOR_API_KEY"`
	ProcessorNotifyURL      string `mapstructure:"PROCESSOR_NOTIFY_URL"`
	SweepSchedule           string `mapstructure:"SWEEP_SCHEDULE"`
	StateRateLimitPerMinute int    `mapstructure:"STATE_RATE_LIMIT_PER_MINUTE"`
	DefaultPaymentWaitHours int    `mapstructure:"DEFAULT_PAYMENT_WAIT_HOURS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("NOTIFICATION_EXCHANGE", "admission.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "esupa:rate_limit")
	viper.SetDefault("SWEEP_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("STATE_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("DEFAULT_PAYMENT_WAIT_HOURS", 48)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "ADMISSION_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("NOTIFICATION_EXCHANGE")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "ADMISSION_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("PROCESSOR_API_BASE_URL")
	_ = viper.BindEnv("PROCESSOR_API_KEY")
	_ = viper.BindEnv("PROCESSOR_NOTIFY_URL")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("STATE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("DEFAULT_PAYMENT_WAIT_HOURS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("ADMISSION_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "esupa:rate_limit"
	}
	config.SweepSchedule = strings.TrimSpace(config.SweepSchedule)
	if config.SweepSchedule == "" {
		config.SweepSchedule = "*/5 * * * *"
	}

	if config.StateRateLimitPerMinute <= 0 {
		config.StateRateLimitPerMinute = 120
	}
	if config.DefaultPaymentWaitHours <= 0 {
		config.DefaultPaymentWaitHours = 48
	}

	return
}
