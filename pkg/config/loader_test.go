package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load(t *testing.T) {
	t.Run("Should load defaults when no sources are given", func(t *testing.T) {
		svc := NewService()
		cfg, err := svc.Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Engine.DefaultMaxConcurrentTasks)
		assert.Equal(t, 10*time.Second, cfg.Engine.OracleTimeout)
		assert.Equal(t, "memory", cfg.Store.Driver)
		assert.Equal(t, SourceDefault, svc.GetSource("engine.oracle_timeout"))
	})

	t.Run("Should merge YAML over defaults without dropping siblings", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "conductor.yaml")
		content := "engine:\n  oracle_timeout: 2s\n  default_max_concurrent_tasks: 7\nlog:\n  level: debug\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		svc := NewService()
		cfg, err := svc.Load(t.Context(), NewYAMLProvider(path))
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.Engine.OracleTimeout)
		assert.Equal(t, 7, cfg.Engine.DefaultMaxConcurrentTasks)
		assert.Equal(t, 30*time.Second, cfg.Engine.ToolTimeout)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, SourceYAML, svc.GetSource("engine.oracle_timeout"))
	})

	t.Run("Should let environment override YAML", func(t *testing.T) {
		t.Setenv("CONDUCTOR_ENGINE_TOOL_TIMEOUT", "5s")
		t.Setenv("CONDUCTOR_LOG_LEVEL", "warn")
		svc := NewService()
		cfg, err := svc.Load(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, cfg.Engine.ToolTimeout)
		assert.Equal(t, "warn", cfg.Log.Level)
		assert.Equal(t, SourceEnv, svc.GetSource("engine.tool_timeout"))
	})

	t.Run("Should apply CLI overrides", func(t *testing.T) {
		svc := NewService()
		cfg, err := svc.Load(t.Context(), NewCLIProvider(map[string]any{"log-level": "error"}))
		require.NoError(t, err)
		assert.Equal(t, "error", cfg.Log.Level)
	})

	t.Run("Should ignore a missing YAML file", func(t *testing.T) {
		_, err := NewService().Load(t.Context(), NewYAMLProvider(filepath.Join(t.TempDir(), "missing.yaml")))
		require.NoError(t, err)
	})

	t.Run("Should reject invalid values", func(t *testing.T) {
		t.Setenv("CONDUCTOR_STORE_DRIVER", "postgres")
		_, err := NewService().Load(t.Context())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation failed")
	})
}

func TestValidateCustom(t *testing.T) {
	t.Run("Should require an api key for openai", func(t *testing.T) {
		cfg := Default()
		cfg.LLM.Provider = "openai"
		assert.Error(t, validateCustom(cfg))
		cfg.LLM.APIKey = "sk-test"
		assert.NoError(t, validateCustom(cfg))
	})
	t.Run("Should require redis address for redis store", func(t *testing.T) {
		cfg := Default()
		cfg.Store.Driver = "redis"
		cfg.Redis.Addr = ""
		assert.Error(t, validateCustom(cfg))
	})
}

func TestSensitiveString(t *testing.T) {
	t.Run("Should redact when printed", func(t *testing.T) {
		s := SensitiveString("secret")
		assert.Equal(t, "[REDACTED]", s.String())
		assert.Equal(t, "secret", s.Value())
	})
}

func TestTransformEnvKey(t *testing.T) {
	t.Run("Should map prefixed variables onto config paths", func(t *testing.T) {
		assert.Equal(t, "engine.task_timeout", transformEnvKey("CONDUCTOR_ENGINE_TASK_TIMEOUT"))
		assert.Equal(t, "log", transformEnvKey("CONDUCTOR_LOG"))
	})
}
