package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Auth     AuthConfig     `mapstructure:"auth"`
	LogLevel string         `mapstructure:"log_level"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

type OpenAIConfig struct {
	APIKey          string  `mapstructure:"api_key"`
	OrgID           string  `mapstructure:"org_id"`
	ChatModel       string  `mapstructure:"chat_model"`
	EmbeddingModel  string  `mapstructure:"embedding_model"`
	AssistantID     string  `mapstructure:"assistant_id"`
	VectorStoreName string  `mapstructure:"vector_store_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
}

type AuthConfig struct {
	JWTSecret         string `mapstructure:"jwt_secret"`
	AdminUser         string `mapstructure:"admin_user"`
	AdminPasswordHash string `mapstructure:"admin_password_hash"` // bcrypt
}

// Load reads config.yaml (if present) and environment variables. A local
// .env file is loaded first so development setups need no exported vars.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best effort, env vars win anyway

	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "fishing_assistant.db")
	v.SetDefault("openai.chat_model", "gpt-4o-mini")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.vector_store_name", "fishing-assistant-knowledge")
	v.SetDefault("openai.max_tokens", 1024)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("log_level", "info")

	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			// A missing config file is fine, env vars and defaults carry it.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Environment overrides for the secrets that never belong in config.yaml.
	if key := v.GetString("OPENAI_API_KEY"); key != "" {
		cfg.OpenAI.APIKey = key
	}
	if org := v.GetString("OPENAI_ORG_ID"); org != "" {
		cfg.OpenAI.OrgID = org
	}
	if id := v.GetString("OPENAI_ASSISTANT_ID"); id != "" {
		cfg.OpenAI.AssistantID = id
	}
	if dsn := v.GetString("DATABASE_URL"); dsn != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = dsn
	}
	if secret := v.GetString("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if user := v.GetString("ADMIN_USER"); user != "" {
		cfg.Auth.AdminUser = user
	}
	if hash := v.GetString("ADMIN_PASSWORD_HASH"); hash != "" {
		cfg.Auth.AdminPasswordHash = hash
	}
	if port := v.GetString("HTTP_PORT"); port != "" {
		cfg.Server.Port = port
	}

	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &cfg, nil
}
