package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling and env variable binding.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	EventTopic  string `mapstructure:"EVENT_TOPIC"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	TokenTTLSeconds   int  `mapstructure:"TOKEN_TTL_SECONDS"`
	SessionTTLMinutes int  `mapstructure:"SESSION_TTL_MINUTES"`
	SweepIntervalMin  int  `mapstructure:"SWEEP_INTERVAL_MIN"`
	PurgeIntervalMin  int  `mapstructure:"PURGE_INTERVAL_MIN"`
	PurgeEnabled      bool `mapstructure:"PURGE_ENABLED"`

	BcryptCost         int    `mapstructure:"BCRYPT_COST"`
	AttemptWindowMin   int    `mapstructure:"ATTEMPT_WINDOW_MIN"`
	AttemptThreshold   int    `mapstructure:"ATTEMPT_THRESHOLD"`
	FieldCipherKeyHex  string `mapstructure:"FIELD_CIPHER_KEY"`
	EventBufferSize    int    `mapstructure:"EVENT_BUFFER_SIZE"`
	TOTPIssuer         string `mapstructure:"TOTP_ISSUER"`
}

// FieldCipherKey decodes the configured hex key for field encryption.
// Empty configuration means field encryption is disabled.
func (c *ServerConfig) FieldCipherKey() ([]byte, error) {
	if c.FieldCipherKeyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.FieldCipherKeyHex)
	if err != nil {
		return nil, fmt.Errorf("FIELD_CIPHER_KEY is not valid hex: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("FIELD_CIPHER_KEY must decode to 16, 24 or 32 bytes, got %d", len(key))
	}
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/stepauth/")
	v.AddConfigPath("$HOME/.stepauth")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/stepauth_dev")
	v.SetDefault("MONGO_DB_NAME", "stepauth_dev")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("EVENT_TOPIC", "stepauth:events")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("TOKEN_TTL_SECONDS", 300)   // 5 minutes
	v.SetDefault("SESSION_TTL_MINUTES", 30)  // half an hour
	v.SetDefault("SWEEP_INTERVAL_MIN", 5)
	v.SetDefault("PURGE_INTERVAL_MIN", 10)
	v.SetDefault("PURGE_ENABLED", true)
	v.SetDefault("BCRYPT_COST", 0) // 0 means bcrypt.DefaultCost
	v.SetDefault("ATTEMPT_WINDOW_MIN", 15)
	v.SetDefault("ATTEMPT_THRESHOLD", 5)
	v.SetDefault("EVENT_BUFFER_SIZE", 256)
	v.SetDefault("TOTP_ISSUER", "StepAuth")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply. Other
		// read errors (permissions, malformed YAML) are real failures.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
