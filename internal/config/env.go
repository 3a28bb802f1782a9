package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// envOverrides are the environment variables that win over the config file.
// Empty values leave the file value untouched.
type envOverrides struct {
	BotToken      string `env:"BOT_TOKEN"`
	AdminID       string `env:"ADMIN_ID"` // comma-separated user ids
	ChannelLink   string `env:"CHANNEL_LINK"`
	GroupLog      string `env:"GROUP_LOG"`
	StorageDriver string `env:"STORAGE_DRIVER"`
	StoragePath   string `env:"STORAGE_PATH"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	HTTPAddr      string `env:"HTTP_ADDR"`
	LogLevel      string `env:"LOG_LEVEL"`
}

// LoadDotEnv reads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; variables already set are kept.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// applyEnv overlays environment overrides onto cfg.
func applyEnv(cfg *Config) error {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return fmt.Errorf("env: %w", err)
	}

	setStr := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.Telegram.Token, o.BotToken)
	setStr(&cfg.Telegram.GroupLog, o.GroupLog)
	setStr(&cfg.Bot.ChannelLink, o.ChannelLink)
	setStr(&cfg.Storage.Driver, o.StorageDriver)
	setStr(&cfg.Storage.Path, o.StoragePath)
	setStr(&cfg.Storage.RedisAddr, o.RedisAddr)
	setStr(&cfg.Storage.RedisPassword, o.RedisPassword)
	setStr(&cfg.Logging.Level, o.LogLevel)
	if v := strings.TrimSpace(o.HTTPAddr); v != "" {
		on := true
		cfg.HTTP.Addr = v
		cfg.HTTP.Enabled = &on
	}

	if s := strings.TrimSpace(o.AdminID); s != "" {
		ids, err := parseIDList(s)
		if err != nil {
			return fmt.Errorf("ADMIN_ID: %w", err)
		}
		cfg.Telegram.OwnerUserIDs = ids
	}
	return nil
}

func parseIDList(s string) ([]int64, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}
