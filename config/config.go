package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config carries every tunable of the client core. Values come from the
// environment (prefixed or not) or an optional .env file, with the
// defaults below.
type Config struct {
	APIBaseURL string `mapstructure:"API_BASE_URL"`
	UserID     string `mapstructure:"USER_ID"`

	// STORAGE_BACKEND selects where history persists: "file", "sqlite"
	// or "memory".
	StorageBackend    string `mapstructure:"STORAGE_BACKEND"`
	StoragePath       string `mapstructure:"STORAGE_PATH"`
	StorageQuotaBytes int64  `mapstructure:"STORAGE_QUOTA_BYTES"`

	MessageWindow   int    `mapstructure:"MESSAGE_WINDOW"`
	SessionLimit    int    `mapstructure:"SESSION_LIMIT"`
	StageIntervalMS int    `mapstructure:"STAGE_INTERVAL_MS"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("API_BASE_URL", "http://localhost:8000")
	viper.SetDefault("USER_ID", "default_user")
	viper.SetDefault("STORAGE_BACKEND", "file")
	viper.SetDefault("STORAGE_PATH", "./data/chat_history.json")
	viper.SetDefault("STORAGE_QUOTA_BYTES", 5*1024*1024)
	viper.SetDefault("MESSAGE_WINDOW", 50)
	viper.SetDefault("SESSION_LIMIT", 10)
	viper.SetDefault("STAGE_INTERVAL_MS", 400)
	viper.SetDefault("LOG_LEVEL", "INFO")

	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
