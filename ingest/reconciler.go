package ingest

import (
	"context"
	"fmt"
	"time"

	"emote-tracker/metrics"
	"emote-tracker/models"
	"emote-tracker/utils"

	"github.com/rs/zerolog"
)

// DefaultConsiderationPeriod bounds how old an edited message may be and still be reconciled.
const DefaultConsiderationPeriod = 24 * time.Hour

// MessageFetcher loads the full current version of a message.
type MessageFetcher interface {
	// GetMessage returns nil, nil when the message no longer exists.
	GetMessage(ctx context.Context, channelID, messageID string) (*models.Message, error)
}

// Reconciler keeps stored usages in line with edited messages.
type Reconciler struct {
	fetcher MessageFetcher
	store   UsageStore
	ingest  *Ingester
	window  time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

func NewReconciler(fetcher MessageFetcher, store UsageStore, ingest *Ingester, window time.Duration, logger zerolog.Logger) *Reconciler {
	if window <= 0 {
		window = DefaultConsiderationPeriod
	}
	return &Reconciler{
		fetcher: fetcher,
		store:   store,
		ingest:  ingest,
		window:  window,
		now:     time.Now,
		log:     logger.With().Str("component", "reconcile").Logger(),
	}
}

// Reconcile replaces the usages of an edited message with those of its current content.
// update may be a partial payload; only its IDs are trusted.
func (r *Reconciler) Reconcile(ctx context.Context, update models.Message) error {
	created, err := utils.TimeFromID(update.ID)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", update.ID, err)
	}
	if r.now().Sub(created) >= r.window {
		metrics.Reconciliations.WithLabelValues("stale").Inc()
		return nil
	}

	m, err := r.fetcher.GetMessage(ctx, update.ChannelID, update.ID)
	if err != nil {
		metrics.Reconciliations.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to fetch edited message %s: %w", update.ID, err)
	}
	if m == nil {
		r.log.Debug().Str("message_id", update.ID).Msg("edited message is gone, nothing to reconcile")
		metrics.Reconciliations.WithLabelValues("missing").Inc()
		return nil
	}
	if m.GuildID == "" {
		m.GuildID = update.GuildID
	}
	if m.GuildID == "" || m.AuthorID == "" {
		metrics.Reconciliations.WithLabelValues("skipped").Inc()
		return nil
	}
	if m.SentAt.IsZero() {
		m.SentAt = created
	}

	if err := r.store.DeleteUsage(ctx, m.GuildID, m.AuthorID, m.SentAt); err != nil {
		metrics.Reconciliations.WithLabelValues("error").Inc()
		return err
	}
	if err := r.ingest.Ingest(ctx, *m, SourceReconcile); err != nil {
		metrics.Reconciliations.WithLabelValues("error").Inc()
		return err
	}
	metrics.Reconciliations.WithLabelValues("reconciled").Inc()
	return nil
}
