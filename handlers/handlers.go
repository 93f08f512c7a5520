package handlers

import (
	"context"

	"emote-tracker/backfill"
	"emote-tracker/bot"
	"emote-tracker/handlers/message"
	"emote-tracker/ingest"
	"emote-tracker/models"
	"emote-tracker/utils"

	"github.com/rs/zerolog"
)

// Backfill is the part of the scheduler the event handlers trigger.
type Backfill interface {
	Initialize(ctx context.Context, channelIDs []string) error
	Stats() backfill.Stats
	Disabled() bool
}

// Readability tracks which channels the bot could read at the last check.
type Readability interface {
	BecameReadable(channelID string) bool
	Forget(channelID string)
}

// StopReporter exposes the backfill status file.
type StopReporter interface {
	Stop(channelID string) (models.ChannelStatus, bool)
	Counts() map[string]int
}

type UsageCounter interface {
	CountUsage(ctx context.Context) (int64, error)
}

// Deps are the collaborators of the event handlers.
type Deps struct {
	Backfill Backfill
	Source   Readability
	Index    *ingest.EmoteIndex
	Messages message.MessageHandler
	Status   StopReporter
	Usage    UsageCounter
	Auth     *utils.Auth
}

// Handlers routes gateway events to the backfill scheduler, the emote index and the ingest path.
type Handlers struct {
	ctx context.Context
	Deps
	log zerolog.Logger
}

func New(ctx context.Context, deps Deps, logger zerolog.Logger) *Handlers {
	return &Handlers{
		ctx:  ctx,
		Deps: deps,
		log:  logger.With().Str("component", "handlers").Logger(),
	}
}

// table maps each gateway event to its handler.
func (h *Handlers) table() map[string]interface{} {
	return map[string]interface{}{
		"READY":               h.onReady,
		"GUILD_CREATE":        h.onGuildCreate,
		"GUILD_DELETE":        h.onGuildDelete,
		"GUILD_EMOJIS_UPDATE": h.onGuildEmojisUpdate,
		"GUILD_MEMBER_UPDATE": h.onGuildMemberUpdate,
		"GUILD_ROLE_UPDATE":   h.onGuildRoleUpdate,
		"CHANNEL_CREATE":      h.onChannelCreate,
		"CHANNEL_UPDATE":      h.onChannelUpdate,
		"CHANNEL_DELETE":      h.onChannelDelete,
		"MESSAGE_CREATE":      h.Messages.HandleCreate,
		"MESSAGE_UPDATE":      h.Messages.HandleUpdate,
		"MESSAGE_DELETE":      h.Messages.HandleDelete,
		"INTERACTION_CREATE":  h.onInteractionCreate,
	}
}

// Register adds every handler of the dispatch table to the bot's session.
func (h *Handlers) Register(b *bot.Bot) {
	for event, fn := range h.table() {
		b.Session.AddHandler(fn)
		h.log.Debug().Str("event", event).Msg("handler registered")
	}
}
