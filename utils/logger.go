package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"emote-tracker/models"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

const (
	ColorInfo  = 0x00ff00 // Green
	ColorWarn  = 0xffff00 // Yellow
	ColorError = 0xff0000 // Red
)

// NewLogger builds the process logger. Output goes to stdout and, once Attach is called on
// the returned DiscordWriter, info+ lines are mirrored to the configured log channel.
func NewLogger(cfg models.LogConfig, channelID string) (zerolog.Logger, *DiscordWriter) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stdout
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	dw := NewDiscordWriter(channelID, 64)
	logger := zerolog.New(zerolog.MultiLevelWriter(out, dw)).With().Timestamp().Logger().Level(level)
	return logger, dw
}

// EmbedSender is the part of *discordgo.Session the DiscordWriter needs.
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordWriter is a zerolog.LevelWriter that posts info+ log lines as embeds to a channel.
// Lines are queued and dropped when the queue is full so logging never blocks on Discord.
type DiscordWriter struct {
	channelID string
	lines     chan logLine

	mu      sync.RWMutex
	sender  EmbedSender
	started bool
	closed  bool
	done    chan struct{}
}

type logLine struct {
	level zerolog.Level
	raw   []byte
}

func NewDiscordWriter(channelID string, buffer int) *DiscordWriter {
	return &DiscordWriter{
		channelID: channelID,
		lines:     make(chan logLine, buffer),
		done:      make(chan struct{}),
	}
}

// Attach starts mirroring through sender. It is a no-op without a channel ID.
func (w *DiscordWriter) Attach(sender EmbedSender) {
	if w.channelID == "" {
		log.Println("Warning: bot.log_channel_id is not set. Logging to channel will be disabled.")
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sender = sender
	if !w.started && !w.closed {
		w.started = true
		go w.run()
	}
}

// Close stops the background sender. Queued lines are flushed first.
func (w *DiscordWriter) Close() {
	w.mu.Lock()
	started := w.started
	w.started = false
	w.closed = true
	w.mu.Unlock()
	if started {
		close(w.lines)
		<-w.done
	}
}

func (w *DiscordWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (w *DiscordWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.InfoLevel || level == zerolog.NoLevel {
		return len(p), nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.started {
		return len(p), nil
	}
	raw := make([]byte, len(p))
	copy(raw, p)
	select {
	case w.lines <- logLine{level: level, raw: raw}:
	default:
	}
	return len(p), nil
}

func (w *DiscordWriter) run() {
	defer close(w.done)
	for line := range w.lines {
		w.mu.RLock()
		sender := w.sender
		w.mu.RUnlock()
		if sender == nil {
			continue
		}
		if _, err := sender.ChannelMessageSendEmbed(w.channelID, BuildLogEmbed(line.level, line.raw)); err != nil {
			log.Printf("Error sending log message to Discord: %v", err)
		}
	}
}

// BuildLogEmbed renders one JSON log line as an embed, colored by level.
func BuildLogEmbed(level zerolog.Level, raw []byte) *discordgo.MessageEmbed {
	var color int
	switch level {
	case zerolog.WarnLevel:
		color = ColorWarn
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		color = ColorError
	default:
		color = ColorInfo
	}

	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Log Level: %s", level.String()),
		Color:     color,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		embed.Description = string(raw)
		return embed
	}
	if msg, ok := fields[zerolog.MessageFieldName].(string); ok {
		embed.Description = msg
	}
	delete(fields, zerolog.MessageFieldName)
	delete(fields, zerolog.LevelFieldName)
	delete(fields, zerolog.TimestampFieldName)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   k,
			Value:  fmt.Sprint(fields[k]),
			Inline: k != zerolog.ErrorFieldName,
		})
	}
	return embed
}
