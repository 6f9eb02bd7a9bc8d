package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 10s

database:
  path: /var/lib/tagentic/gateway.db

cache:
  ttl: 30s

title:
  base_url: https://api.openai.com/v1
  api_key: ${TEST_TITLE_KEY}
  model: gpt-4o-mini
  timeout: 5s

applications:
  - id: support-bot
    vendor: Tencent
    settings:
      AppKey: ${TEST_APP_KEY}
      SecretId: id-123
      International: true
  - id: local-llm
    vendor: Ollama
    settings:
      BaseUrl: http://localhost:11434
      ModelName: llama3
`)
	t.Setenv("TEST_TITLE_KEY", "sk-title")
	t.Setenv("TEST_APP_KEY", "app-key-value")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/var/lib/tagentic/gateway.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)

	assert.Equal(t, "sk-title", cfg.Title.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.Title.Model)
	assert.Equal(t, 5*time.Second, cfg.Title.Timeout)

	require.Len(t, cfg.Applications, 2)
	bot := cfg.Applications[0]
	assert.Equal(t, "support-bot", bot.ID)
	assert.Equal(t, "Tencent", bot.Vendor)
	// ${VAR} placeholders resolve inside settings, other values pass
	// through untouched.
	assert.Equal(t, "app-key-value", bot.Settings["AppKey"])
	assert.Equal(t, "id-123", bot.Settings["SecretId"])
	assert.Equal(t, true, bot.Settings["International"])
	assert.Equal(t, "Ollama", cfg.Applications[1].Vendor)
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
applications:
  - id: a
    vendor: OpenAI
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "tagentic.db", cfg.Database.Path)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10*time.Second, cfg.Title.Timeout)
	assert.Empty(t, cfg.Title.Model)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
`)
	t.Setenv("TAGENTIC_SERVER_PORT", "3000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadRejectsApplicationWithoutVendor(t *testing.T) {
	path := writeConfig(t, `
applications:
  - id: broken
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing vendor")
}

func TestLoadRejectsTitleWithoutBaseURL(t *testing.T) {
	path := writeConfig(t, `
title:
  model: gpt-4o-mini
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without base_url")
}
