// Package ingest turns chat messages into stored emote usage facts.
package ingest

import (
	"context"
	"fmt"
	"time"

	"emote-tracker/emotes"
	"emote-tracker/metrics"
	"emote-tracker/models"
	"emote-tracker/utils"

	"github.com/rs/zerolog"
)

// Message sources passed to Ingest.
const (
	SourceLive      = "live"
	SourceBackfill  = "backfill"
	SourceReconcile = "reconcile"
)

// UsageStore persists usage facts and the live watermark.
type UsageStore interface {
	InsertUsage(ctx context.Context, u models.EmoteUsage) error
	DeleteUsage(ctx context.Context, guildID, userID string, sentAt time.Time) error
	RecordEmote(ctx context.Context, m models.EmoteMetadata) error
	AdvanceLatestParsed(ctx context.Context, channelID, id string) error
}

// Membership reports whether a channel has finished its top backfill phase.
type Membership interface {
	Has(channelID string) bool
}

// Ingester is the single write path for message content.
type Ingester struct {
	store      UsageStore
	index      *EmoteIndex
	backfilled Membership
	log        zerolog.Logger
}

func NewIngester(store UsageStore, index *EmoteIndex, backfilled Membership, logger zerolog.Logger) *Ingester {
	return &Ingester{
		store:      store,
		index:      index,
		backfilled: backfilled,
		log:        logger.With().Str("component", "ingest").Logger(),
	}
}

// Ingest stores every emote usage in m. Messages without a guild or author are ignored.
// Live messages in channels past their top phase also move the channel's parsed watermark forward.
func (in *Ingester) Ingest(ctx context.Context, m models.Message, source string) error {
	if m.GuildID == "" || m.AuthorID == "" {
		return nil
	}
	if err := in.ingest(ctx, m, source); err != nil {
		metrics.IngestErrors.Inc()
		return err
	}
	metrics.MessagesIngested.WithLabelValues(source).Inc()
	return nil
}

func (in *Ingester) ingest(ctx context.Context, m models.Message, source string) error {
	sentAt := m.SentAt
	if sentAt.IsZero() {
		t, err := utils.TimeFromID(m.ID)
		if err != nil {
			return fmt.Errorf("message %s has no timestamp: %w", m.ID, err)
		}
		sentAt = t
	}

	tokens := emotes.Extract(m.Content)
	occurrences := emotes.Occurrences(tokens)
	for i, t := range tokens {
		usage := models.EmoteUsage{
			GuildID:    m.GuildID,
			UserID:     m.AuthorID,
			SentAt:     sentAt,
			EmoteID:    t.ID,
			Occurrence: occurrences[i],
		}
		if err := in.store.InsertUsage(ctx, usage); err != nil {
			return err
		}
		metrics.UsagesRecorded.Inc()

		meta := models.EmoteMetadata{
			EmoteID:    t.ID,
			Name:       t.Name,
			IsAnimated: t.Animated,
			GuildID:    in.index.Lookup(t.ID),
		}
		if err := in.store.RecordEmote(ctx, meta); err != nil {
			return err
		}
	}

	if source == SourceLive && in.backfilled.Has(m.ChannelID) {
		if err := in.store.AdvanceLatestParsed(ctx, m.ChannelID, m.ID); err != nil {
			return err
		}
	}

	if len(tokens) > 0 {
		in.log.Debug().
			Str("message_id", m.ID).
			Str("channel_id", m.ChannelID).
			Str("source", source).
			Int("emotes", len(tokens)).
			Msg("usages recorded")
	}
	return nil
}
