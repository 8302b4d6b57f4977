package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// Config holds the application configuration
type Config struct {
	LogLevel     string `mapstructure:"log_level"`
	AuditEnabled bool   `mapstructure:"audit_enabled"`
	AuditLogFile string `mapstructure:"audit_log_file"`

	// TokenPolicyFile replaces the built-in token level table when set.
	TokenPolicyFile string `mapstructure:"token_policy_file"`

	// Levels used by the launcher when a flag is not given.
	DefaultMainLevel string `mapstructure:"default_main_level"`
	DefaultInitLevel string `mapstructure:"default_init_level"`
	DefaultJobLevel  string `mapstructure:"default_job_level"`

	// FinderRoot is the filesystem root scanned by the finder.
	FinderRoot string `mapstructure:"finder_root"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("audit_enabled", true)
	viper.SetDefault("audit_log_file", filepath.Join(getHomeDir(), ".winsandbox", "audit.log"))
	viper.SetDefault("token_policy_file", "")
	viper.SetDefault("default_main_level", policy.TokenLockdown.String())
	viper.SetDefault("default_init_level", policy.TokenRestrictedSameAccess.String())
	viper.SetDefault("default_job_level", policy.JobLockdown.String())
	viper.SetDefault("finder_root", "")

	configDir := filepath.Join(getHomeDir(), ".winsandbox")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	viper.SetEnvPrefix("WINSANDBOX")
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.AuditLogFile = expandPath(cfg.AuditLogFile)
	cfg.TokenPolicyFile = expandPath(cfg.TokenPolicyFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configured level names are known.
func (c *Config) Validate() error {
	if _, err := policy.ParseTokenLevel(c.DefaultMainLevel); err != nil {
		return fmt.Errorf("default_main_level: %w", err)
	}
	if _, err := policy.ParseTokenLevel(c.DefaultInitLevel); err != nil {
		return fmt.Errorf("default_init_level: %w", err)
	}
	if _, err := policy.ParseJobLevel(c.DefaultJobLevel); err != nil {
		return fmt.Errorf("default_job_level: %w", err)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unknown level %q", c.LogLevel)
	}
	return nil
}

// TokenTable returns the token level table named by TokenPolicyFile, or the
// built-in table when none is configured.
func (c *Config) TokenTable() (*policy.TokenTable, error) {
	if c.TokenPolicyFile == "" {
		return policy.DefaultTokenTable()
	}
	return policy.LoadTokenTable(c.TokenPolicyFile)
}

// getHomeDir returns the user's home directory
func getHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home := getHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
