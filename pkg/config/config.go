// Package config loads runtime settings from the environment and an optional
// config file. Every knob has a default so the server starts with zero
// configuration.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Settings holds the full runtime configuration. Loaded once at startup and
// treated as read-only afterwards; components receive it by injection.
type Settings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	ModelsDir string `mapstructure:"models_dir"`
	DBPath    string `mapstructure:"db_path"`

	DefaultContextSize int     `mapstructure:"default_context_size"`
	DefaultNGPULayers  int     `mapstructure:"default_n_gpu_layers"`
	DefaultTemperature float64 `mapstructure:"default_temperature"`
	DefaultTopP        float64 `mapstructure:"default_top_p"`
	DefaultMaxTokens   int     `mapstructure:"default_max_tokens"`

	MaxLoadedModels int `mapstructure:"max_loaded_models"`

	SessionRetentionDays int `mapstructure:"session_retention_days"`
	MaxSessionMessages   int `mapstructure:"max_session_messages"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	TracingEnabled bool `mapstructure:"tracing_enabled"`
}

func basePath() string {
	if p := os.Getenv("MYLLM_BASE_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".myllm")
}

func setDefaults(v *viper.Viper) {
	base := basePath()
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8000)
	v.SetDefault("models_dir", filepath.Join(base, "models"))
	v.SetDefault("db_path", filepath.Join(base, "myllm.db"))
	v.SetDefault("default_context_size", 4096)
	v.SetDefault("default_n_gpu_layers", -1)
	v.SetDefault("default_temperature", 0.7)
	v.SetDefault("default_top_p", 0.9)
	v.SetDefault("default_max_tokens", 512)
	v.SetDefault("max_loaded_models", 3)
	v.SetDefault("session_retention_days", 30)
	v.SetDefault("max_session_messages", 1000)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "fmt")
	v.SetDefault("tracing_enabled", false)
}

// Load reads settings from MYLLM_* environment variables and, when present,
// ~/.myllm/config.yaml. Environment variables win over the config file.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("MYLLM")
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(basePath())
	v.AddConfigPath(".")
	// Config file is optional.
	_ = v.ReadInConfig()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings the server cannot start with.
func (s *Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.DefaultContextSize < 1 {
		return errors.Errorf("default_context_size must be positive, got %d", s.DefaultContextSize)
	}
	if s.DefaultMaxTokens < 1 {
		return errors.Errorf("default_max_tokens must be positive, got %d", s.DefaultMaxTokens)
	}
	if s.MaxLoadedModels < 1 {
		return errors.Errorf("max_loaded_models must be positive, got %d", s.MaxLoadedModels)
	}
	if s.SessionRetentionDays < 0 {
		return errors.Errorf("session_retention_days must not be negative, got %d", s.SessionRetentionDays)
	}
	return nil
}

// EnsureDirs creates the models and database directories when missing.
func (s *Settings) EnsureDirs() error {
	if err := os.MkdirAll(s.ModelsDir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create models directory")
	}
	if err := os.MkdirAll(filepath.Dir(s.DBPath), 0o755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}
	return nil
}
