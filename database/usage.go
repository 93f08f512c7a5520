package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"emote-tracker/models"
	"emote-tracker/utils"
)

type usageRow struct {
	GuildID    int64  `db:"guild_id"`
	UserID     int64  `db:"user_id"`
	SentAt     int64  `db:"sent_at"`
	EmoteID    string `db:"emote_id"`
	Occurrence int    `db:"occurrence"`
}

type emoteRow struct {
	EmoteID    string        `db:"emote_id"`
	Name       string        `db:"name"`
	IsAnimated bool          `db:"is_animated"`
	GuildID    sql.NullInt64 `db:"guild_id"`
}

// parseIDs converts guild and user IDs for the usage table.
func parseIDs(guildID, userID string) (int64, int64, error) {
	g, err := utils.ParseID(guildID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid guild id %q: %w", guildID, err)
	}
	u, err := utils.ParseID(userID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid user id %q: %w", userID, err)
	}
	return g, u, nil
}

// InsertUsage stores one usage fact. Re-inserting the same fact is a no-op.
func (s *Store) InsertUsage(ctx context.Context, u models.EmoteUsage) error {
	g, usr, err := parseIDs(u.GuildID, u.UserID)
	if err != nil {
		return err
	}
	row := usageRow{GuildID: g, UserID: usr, SentAt: u.SentAt.UnixMilli(), EmoteID: u.EmoteID, Occurrence: u.Occurrence}
	_, err = s.db.NamedExecContext(ctx, `INSERT OR IGNORE INTO emote_usage (guild_id, user_id, sent_at, emote_id, occurrence)
		VALUES (:guild_id, :user_id, :sent_at, :emote_id, :occurrence)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert usage of %s: %w", u.EmoteID, err)
	}
	return nil
}

// DeleteUsage removes every usage fact recorded for one message.
func (s *Store) DeleteUsage(ctx context.Context, guildID, userID string, sentAt time.Time) error {
	g, usr, err := parseIDs(guildID, userID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM emote_usage WHERE guild_id = ? AND user_id = ? AND sent_at = ?`,
		g, usr, sentAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to delete usages: %w", err)
	}
	return nil
}

// ListUsage returns the usage facts recorded for one message, ordered by emote and occurrence.
func (s *Store) ListUsage(ctx context.Context, guildID, userID string, sentAt time.Time) ([]models.EmoteUsage, error) {
	g, usr, err := parseIDs(guildID, userID)
	if err != nil {
		return nil, err
	}
	var rows []usageRow
	err = s.db.SelectContext(ctx, &rows, `SELECT guild_id, user_id, sent_at, emote_id, occurrence FROM emote_usage
		WHERE guild_id = ? AND user_id = ? AND sent_at = ? ORDER BY emote_id, occurrence`, g, usr, sentAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list usages: %w", err)
	}
	out := make([]models.EmoteUsage, len(rows))
	for i, r := range rows {
		out[i] = models.EmoteUsage{
			GuildID:    strconv.FormatInt(r.GuildID, 10),
			UserID:     strconv.FormatInt(r.UserID, 10),
			SentAt:     time.UnixMilli(r.SentAt),
			EmoteID:    r.EmoteID,
			Occurrence: r.Occurrence,
		}
	}
	return out, nil
}

// CountUsage returns the total number of stored usage facts.
func (s *Store) CountUsage(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM emote_usage`); err != nil {
		return 0, fmt.Errorf("failed to count usages: %w", err)
	}
	return n, nil
}

// RecordEmote upserts emote metadata. A known owning guild is kept when the new record has none.
func (s *Store) RecordEmote(ctx context.Context, m models.EmoteMetadata) error {
	guild, err := parseNullID(m.GuildID)
	if err != nil {
		return err
	}
	row := emoteRow{EmoteID: m.EmoteID, Name: m.Name, IsAnimated: m.IsAnimated, GuildID: guild}
	_, err = s.db.NamedExecContext(ctx, `INSERT INTO emotes (emote_id, name, is_animated, guild_id)
		VALUES (:emote_id, :name, :is_animated, :guild_id)
		ON CONFLICT(emote_id) DO UPDATE SET
			name = excluded.name,
			is_animated = excluded.is_animated,
			guild_id = COALESCE(excluded.guild_id, emotes.guild_id)`, row)
	if err != nil {
		return fmt.Errorf("failed to record emote %s: %w", m.EmoteID, err)
	}
	return nil
}

// GetEmote returns stored metadata for emoteID, or nil when unknown.
func (s *Store) GetEmote(ctx context.Context, emoteID string) (*models.EmoteMetadata, error) {
	var row emoteRow
	err := s.db.GetContext(ctx, &row, `SELECT emote_id, name, is_animated, guild_id FROM emotes WHERE emote_id = ?`, emoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get emote %s: %w", emoteID, err)
	}
	return &models.EmoteMetadata{
		EmoteID:    row.EmoteID,
		Name:       row.Name,
		IsAnimated: row.IsAnimated,
		GuildID:    formatNullID(row.GuildID),
	}, nil
}
