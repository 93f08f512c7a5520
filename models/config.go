package models

import "time"

// Config is the fully resolved application configuration.
// Keys map to config.yaml sections; environment variables override them with "." replaced by "_".
type Config struct {
	Token    string         `mapstructure:"bot_token"`
	Bot      BotConfig      `mapstructure:"bot"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Commands CommandsConfig `mapstructure:"commands"`
}

// BotConfig holds Discord session settings.
type BotConfig struct {
	LogChannelID   string `mapstructure:"log_channel_id"`   // info+ log lines are mirrored here when set
	CommandGuildID string `mapstructure:"command_guild_id"` // empty registers commands globally
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or postgres
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// BackfillConfig tunes the history backfill queue.
type BackfillConfig struct {
	Disabled       bool    `mapstructure:"disabled"`
	PageSize       int     `mapstructure:"page_size"`
	Workers        int     `mapstructure:"workers"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"` // 0 means unlimited
	Burst          int     `mapstructure:"burst"`
	ResumeSchedule string  `mapstructure:"resume_schedule"`
	StatusFile     string  `mapstructure:"status_file"`
}

type IngestConfig struct {
	ConsiderationPeriod time.Duration `mapstructure:"consideration_period"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// CommandsConfig represents the commands configuration.
type CommandsConfig struct {
	Auth AuthConfig `mapstructure:"auth"`
}

// AuthConfig lists who may run admin commands.
type AuthConfig struct {
	Developers  []string `mapstructure:"developers"`
	AdminsRoles []string `mapstructure:"admins_roles"`
}
