package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/security-mcp/winsandbox/internal/policy"
)

// isolateHome points the home directory at a temp dir and resets viper.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	viper.Reset()
	t.Cleanup(viper.Reset)
	return home
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := isolateHome(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.AuditEnabled)
	assert.Equal(t, filepath.Join(home, ".winsandbox", "audit.log"), cfg.AuditLogFile)
	assert.Empty(t, cfg.TokenPolicyFile)
	assert.Equal(t, "LOCKDOWN", cfg.DefaultMainLevel)
	assert.Equal(t, "RESTRICTED_SAME_ACCESS", cfg.DefaultInitLevel)
	assert.Equal(t, "LOCKDOWN", cfg.DefaultJobLevel)
	assert.Empty(t, cfg.FinderRoot)
}

func TestLoadConfig_EnvVarOverride(t *testing.T) {
	isolateHome(t)
	t.Setenv("WINSANDBOX_LOG_LEVEL", "debug")
	t.Setenv("WINSANDBOX_DEFAULT_JOB_LEVEL", "INTERACTIVE")
	t.Setenv("WINSANDBOX_AUDIT_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "INTERACTIVE", cfg.DefaultJobLevel)
	assert.False(t, cfg.AuditEnabled)
}

func TestLoadConfig_File(t *testing.T) {
	home := isolateHome(t)
	dir := filepath.Join(home, ".winsandbox")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
log_level: warn
token_policy_file: ~/levels.yaml
default_main_level: RESTRICTED
finder_root: D:\
`), 0o600))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, filepath.Join(home, "levels.yaml"), cfg.TokenPolicyFile)
	assert.Equal(t, "RESTRICTED", cfg.DefaultMainLevel)
	assert.Equal(t, `D:\`, cfg.FinderRoot)
}

func TestLoadConfig_InvalidLevel(t *testing.T) {
	isolateHome(t)
	t.Setenv("WINSANDBOX_DEFAULT_JOB_LEVEL", "NON_ADMIN")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.ErrorIs(t, err, policy.ErrBadArguments)
	assert.Contains(t, err.Error(), "default_job_level")
}

func TestValidate(t *testing.T) {
	valid := Config{
		LogLevel:         "info",
		DefaultMainLevel: "LOCKDOWN",
		DefaultInitLevel: "RESTRICTED_SAME_ACCESS",
		DefaultJobLevel:  "LOCKDOWN",
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"main level", func(c *Config) { c.DefaultMainLevel = "ROOT" }},
		{"init level", func(c *Config) { c.DefaultInitLevel = "" }},
		{"job level", func(c *Config) { c.DefaultJobLevel = "EVERYTHING" }},
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTokenTable(t *testing.T) {
	cfg := Config{}
	table, err := cfg.TokenTable()
	require.NoError(t, err)
	require.NotNil(t, table)

	cfg.TokenPolicyFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.TokenTable()
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string
	}{
		{
			name:     "expand tilde",
			input:    "~/.winsandbox/audit.log",
			contains: filepath.Join(".winsandbox", "audit.log"),
		},
		{
			name:     "absolute path unchanged",
			input:    "/etc/winsandbox/config",
			contains: "/etc/winsandbox/config",
		},
		{
			name:     "empty path",
			input:    "",
			contains: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandPath(tt.input)
			if tt.input == "" {
				assert.Equal(t, tt.contains, result)
			} else {
				assert.Contains(t, result, tt.contains)
			}
		})
	}
}
