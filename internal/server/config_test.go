package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"general", "random", "tech", "gaming"}, cfg.RoomNames())
	assert.Equal(t, cfg.BufferSize/2, cfg.ChunkSize)
	assert.Equal(t, RateLimitConfig{Burst: 5, RefillInterval: time.Second}, cfg.RateLimit())
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lanchat.yaml")
	yaml := `
addr: 0.0.0.0:6000
rooms: "lobby, dev , lobby"
max_connections: 3
idle_timeout: 30s
censored_words: "spam,phish"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("MAX_CONNECTIONS", "7")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:6000", cfg.Addr)
	assert.Equal(t, []string{"lobby", "dev"}, cfg.RoomNames())
	assert.Equal(t, 7, cfg.MaxConnections, "environment overrides the file")
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, []string{"spam", "phish"}, cfg.CensoredWordList())
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, DefaultConfig().WriteTimeout, cfg.WriteTimeout)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config file")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_connections: [1"), 0o600))
	_, err = LoadConfig(path)
	require.ErrorContains(t, err, "parse config file")
}

func TestSanitizedFallsBackToDefaults(t *testing.T) {
	cfg := Config{
		BufferSize:   1024,
		ChunkSize:    4096,
		MaxFrameSize: 10,
		IdleTimeout:  -time.Second,
		HistoryLimit: -1,
	}.Sanitized()

	def := DefaultConfig()
	assert.Equal(t, def.Addr, cfg.Addr)
	assert.Equal(t, def.Rooms, cfg.Rooms)
	assert.Equal(t, def.MaxConnections, cfg.MaxConnections)
	assert.Equal(t, 512, cfg.ChunkSize)
	assert.Equal(t, 1280, cfg.MaxFrameSize)
	assert.Zero(t, cfg.IdleTimeout)
	assert.Equal(t, def.HistoryLimit, cfg.HistoryLimit)
	assert.Equal(t, def.LogLevel, cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"room with separator", func(c *Config) { c.Rooms = "general,a:b" }},
		{"only blank rooms", func(c *Config) { c.Rooms = " , " }},
		{"frame below chunk", func(c *Config) { c.MaxFrameSize = c.BufferSize }},
		{"missing address", func(c *Config) { c.Addr = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList(" a ,, b ,"))
	assert.Empty(t, parseList(""))
}
