package message

import (
	"context"

	"emote-tracker/bot"
	"emote-tracker/ingest"
	"emote-tracker/models"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// Ingester is the live write path.
type Ingester interface {
	Ingest(ctx context.Context, m models.Message, source string) error
}

// Reconciler re-reads edited messages.
type Reconciler interface {
	Reconcile(ctx context.Context, update models.Message) error
}

// EmoteHandler records emote usages of live messages and keeps them current across edits.
type EmoteHandler struct {
	ctx        context.Context
	ingester   Ingester
	reconciler Reconciler
	log        zerolog.Logger
}

func NewEmoteHandler(ctx context.Context, ingester Ingester, reconciler Reconciler, logger zerolog.Logger) *EmoteHandler {
	return &EmoteHandler{
		ctx:        ctx,
		ingester:   ingester,
		reconciler: reconciler,
		log:        logger.With().Str("component", "messages").Logger(),
	}
}

// HandleCreate ingests a live message. Bot authors are included.
func (h *EmoteHandler) HandleCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.GuildID == "" || m.Author == nil {
		return
	}
	if err := h.ingester.Ingest(h.ctx, bot.ToMessage(m.Message, m.GuildID), ingest.SourceLive); err != nil {
		h.log.Error().Err(err).Str("message_id", m.ID).Str("channel_id", m.ChannelID).Msg("failed to ingest message")
	}
}

// HandleUpdate reconciles an edit. The event payload may be partial, so only IDs are used.
func (h *EmoteHandler) HandleUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.GuildID == "" {
		return
	}
	update := models.Message{ID: m.ID, ChannelID: m.ChannelID, GuildID: m.GuildID}
	if err := h.reconciler.Reconcile(h.ctx, update); err != nil {
		h.log.Error().Err(err).Str("message_id", m.ID).Str("channel_id", m.ChannelID).Msg("failed to reconcile edited message")
	}
}

// HandleDelete keeps the usages of deleted messages.
func (h *EmoteHandler) HandleDelete(_ *discordgo.Session, _ *discordgo.MessageDelete) {}

func (h *EmoteHandler) Close() error {
	return nil
}
