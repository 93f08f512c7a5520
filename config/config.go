package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"emote-tracker/models"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration from several sources, in increasing priority:
// 1. defaults set below
// 2. config.yaml in dir
// 3. environment variables, also read from dir/.env when present
//
// Environment variable names are the config keys upper-cased with "." replaced by "_",
// for example BACKFILL_WORKERS. NO_BACKFILLING=true is accepted for backfill.disabled.
func LoadConfig(dir string) (models.Config, error) {
	var cfg models.Config

	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if err := v.BindEnv("backfill.disabled", "BACKFILL_DISABLED", "NO_BACKFILLING"); err != nil {
		return cfg, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("fatal error config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, validate(cfg)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot_token", "")
	v.SetDefault("bot.log_channel_id", "")
	v.SetDefault("bot.command_guild_id", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/emotes.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("backfill.disabled", false)
	v.SetDefault("backfill.page_size", 100)
	v.SetDefault("backfill.workers", 2)
	v.SetDefault("backfill.rate_per_second", 5)
	v.SetDefault("backfill.burst", 5)
	v.SetDefault("backfill.resume_schedule", "@every 30m")
	v.SetDefault("backfill.status_file", "data/backfill_status.json")
	v.SetDefault("ingest.consideration_period", "24h")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("commands.auth.developers", []string{})
	v.SetDefault("commands.auth.admins_roles", []string{})
}

func validate(cfg models.Config) error {
	if cfg.Token == "" {
		return errors.New("no bot token provided, set BOT_TOKEN in your .env or config file")
	}
	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
	if cfg.Backfill.PageSize < 1 || cfg.Backfill.PageSize > 100 {
		return fmt.Errorf("backfill.page_size must be between 1 and 100, got %d", cfg.Backfill.PageSize)
	}
	if cfg.Ingest.ConsiderationPeriod <= 0 {
		return errors.New("ingest.consideration_period must be positive")
	}
	return nil
}
