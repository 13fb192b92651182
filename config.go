package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const DefaultTelegramApiHost = "https://api.telegram.org"

// Config is read once at startup and never mutated afterwards
type Config struct {
	// TelegramApiUrl is the full bot prefix, including the bot token.
	// When empty it is assembled from TelegramApiHost and the token file.
	TelegramApiUrl       string `env:"TELEGRAM_API_URL"`
	TelegramApiHost      string `env:"TELEGRAM_API_HOST" envDefault:"https://api.telegram.org"`
	TelegramBotTokenPath string `env:"TELEGRAM_BOT_TOKEN_PATH"`
	TelegramChatID       string `env:"TELEGRAM_CHAT_ID"`

	TravisConfigURL string `env:"TRAVIS_CONFIG_URL" envDefault:"https://api.travis-ci.org/config"`

	RedisAddress  string `env:"REDIS_ADDRESS"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Set from flags
	Port        string
	Route       string
	HTTPTimeout time.Duration
	KeyCacheTTL time.Duration
}

// LoadConfig reads the environment and resolves the bot API URL
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.resolveTelegramApiUrl(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolveTelegramApiUrl() error {
	if c.TelegramApiUrl != "" || c.TelegramBotTokenPath == "" {
		return nil
	}
	token, err := readToken(c.TelegramBotTokenPath)
	if err != nil {
		return fmt.Errorf("failed to read bot token %s: %w", c.TelegramBotTokenPath, err)
	}
	host := c.TelegramApiHost
	if host == "" {
		host = DefaultTelegramApiHost
	}
	c.TelegramApiUrl = strings.TrimRight(host, "/") + "/bot" + token
	log.Debug().
		Str("apiHost", host).
		Str("tokenPath", c.TelegramBotTokenPath).
		Msg("Resolved Telegram bot API URL from token file")
	return nil
}

// Validate reports missing required settings
func (c *Config) Validate() error {
	if c.TelegramApiUrl == "" {
		return fmt.Errorf("one of TELEGRAM_API_URL or TELEGRAM_BOT_TOKEN_PATH is required")
	}
	if c.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required")
	}
	if c.TravisConfigURL == "" {
		return fmt.Errorf("TRAVIS_CONFIG_URL must not be empty")
	}
	if c.KeyCacheTTL > 0 && c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required when the key cache ttl is set")
	}
	return nil
}

// KeyCacheEnabled reports whether the public key cache was explicitly requested
func (c *Config) KeyCacheEnabled() bool {
	return c.KeyCacheTTL > 0 && c.RedisAddress != ""
}

func readToken(tokenPath string) (string, error) {
	fh, err := os.Open(tokenPath)
	if err != nil {
		return "", err
	}
	defer fh.Close()
	b, err := io.ReadAll(fh)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
