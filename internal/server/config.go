// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration. List-valued settings are comma
// separated strings so the same value works in YAML and in the environment.
type Config struct {
	Addr     string `yaml:"addr" env:"ADDR" validate:"required"`
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR"`

	Rooms          string `yaml:"rooms" env:"ROOMS" validate:"required"`
	MaxConnections int    `yaml:"max_connections" env:"MAX_CONNECTIONS" validate:"gte=1"`

	BufferSize      int   `yaml:"buffer_size" env:"BUFFER_SIZE" validate:"gte=64"`
	ChunkSize       int   `yaml:"chunk_size" env:"CHUNK_SIZE" validate:"gte=1,ltefield=BufferSize"`
	MaxFrameSize    int   `yaml:"max_frame_size" env:"MAX_FRAME_SIZE" validate:"gtefield=BufferSize"`
	MaxTransferSize int64 `yaml:"max_transfer_size" env:"MAX_TRANSFER_SIZE" validate:"gte=1"`

	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`

	HistoryPath   string `yaml:"history_path" env:"HISTORY_PATH"`
	HistoryLimit  int    `yaml:"history_limit" env:"HISTORY_LIMIT" validate:"gte=0"`
	SendQueueSize int    `yaml:"send_queue_size" env:"SEND_QUEUE_SIZE" validate:"gte=1"`

	RateLimitBurst          int           `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST" validate:"gte=1"`
	RateLimitRefillInterval time.Duration `yaml:"rate_limit_refill_interval" env:"RATE_LIMIT_REFILL_INTERVAL" validate:"gt=0"`

	AllowedOrigins string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	CensoredWords  string `yaml:"censored_words" env:"CENSORED_WORDS"`
	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL" validate:"required"`
}

const (
	defaultBufferSize = 65536
	defaultRooms      = "general,random,tech,gaming"
)

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Addr:                    "127.0.0.1:5050",
		Rooms:                   defaultRooms,
		MaxConnections:          10,
		BufferSize:              defaultBufferSize,
		ChunkSize:               defaultBufferSize / 2,
		MaxFrameSize:            4 * defaultBufferSize,
		MaxTransferSize:         64 << 20,
		IdleTimeout:             5 * time.Minute,
		WriteTimeout:            10 * time.Second,
		ShutdownTimeout:         5 * time.Second,
		HistoryLimit:            50,
		SendQueueSize:           256,
		RateLimitBurst:          5,
		RateLimitRefillInterval: time.Second,
		AllowedOrigins:          "http://localhost:8080",
		LogLevel:                "INFO",
	}
}

// LoadConfig builds the configuration from the defaults, then the YAML file
// at path when path is not empty, then the process environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	cfg = cfg.Sanitized()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Sanitized replaces out-of-range values with their defaults.
func (c Config) Sanitized() Config {
	def := DefaultConfig()

	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if strings.TrimSpace(c.Rooms) == "" {
		c.Rooms = def.Rooms
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.ChunkSize <= 0 || c.ChunkSize > c.BufferSize {
		c.ChunkSize = c.BufferSize / 2
	}
	if floor := minFrameSize(c.BufferSize, c.ChunkSize); c.MaxFrameSize < floor {
		c.MaxFrameSize = floor
	}
	if c.MaxTransferSize <= 0 {
		c.MaxTransferSize = def.MaxTransferSize
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.HistoryLimit < 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = def.RateLimitBurst
	}
	if c.RateLimitRefillInterval <= 0 {
		c.RateLimitRefillInterval = def.RateLimitRefillInterval
	}
	c.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	return c
}

// minFrameSize is the smallest frame limit that still carries an unchunked
// event of bufferSize bytes and a hex encoded chunk of chunkSize bytes.
func minFrameSize(bufferSize, chunkSize int) int {
	return max(bufferSize, 2*chunkSize+256)
}

var configValidator = validator.New()

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.MaxFrameSize < minFrameSize(c.BufferSize, c.ChunkSize) {
		return fmt.Errorf("invalid configuration: MAX_FRAME_SIZE %d cannot carry chunks of %d bytes", c.MaxFrameSize, c.ChunkSize)
	}

	rooms := c.RoomNames()
	if len(rooms) == 0 {
		return errors.New("invalid configuration: no rooms configured")
	}
	if err := configValidator.Var(rooms, "dive,required,max=64,excludesall=:"); err != nil {
		return fmt.Errorf("invalid configuration: room names: %w", err)
	}
	return nil
}

// RoomNames returns the closed set of configured rooms.
func (c Config) RoomNames() []string {
	return lo.Uniq(parseList(c.Rooms))
}

// Origins returns the allowed WebSocket origins.
func (c Config) Origins() []string {
	return parseList(c.AllowedOrigins)
}

// CensoredWordList returns the words masked in chat messages.
func (c Config) CensoredWordList() []string {
	return parseList(c.CensoredWords)
}

// RateLimit returns the per-session rate limit parameters.
func (c Config) RateLimit() RateLimitConfig {
	return RateLimitConfig{Burst: c.RateLimitBurst, RefillInterval: c.RateLimitRefillInterval}
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return lo.Compact(parts)
}
