// Package postgres implements the cursor and usage stores on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"emote-tracker/models"
	"emote-tracker/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store is the PostgreSQL-backed cursor and usage store.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	channel_id BIGINT PRIMARY KEY,
	latest_parsed_id BIGINT,
	earliest_parsed_id BIGINT,
	latest_unparsed_id BIGINT,
	exhausted_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS emote_usage (
	guild_id BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	sent_at TIMESTAMPTZ NOT NULL,
	emote_id TEXT NOT NULL,
	occurrence INT NOT NULL DEFAULT 0,
	UNIQUE (guild_id, user_id, sent_at, emote_id, occurrence)
);
CREATE INDEX IF NOT EXISTS idx_emote_usage_message ON emote_usage (guild_id, user_id, sent_at);
CREATE TABLE IF NOT EXISTS emotes (
	emote_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	is_animated BOOLEAN NOT NULL DEFAULT FALSE,
	guild_id BIGINT
);`

// Connect creates a connection pool and applies the schema.
func Connect(ctx context.Context, dsn string, logger zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 5

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info().Msg("connected to postgres store")
	return &Store{pool: pool, log: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func nullID(id string) (*int64, error) {
	if id == "" {
		return nil, nil
	}
	n, err := utils.ParseID(id)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q: %w", id, err)
	}
	return &n, nil
}

func formatID(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

// UpdateChannel upserts the columns set in u for channelID.
// Setting a non-empty LatestUnparsedID re-seeds the channel and clears exhausted_at.
func (s *Store) UpdateChannel(ctx context.Context, channelID string, u models.CursorUpdate) error {
	if u.Empty() {
		return nil
	}
	cid, err := utils.ParseID(channelID)
	if err != nil {
		return fmt.Errorf("invalid channel id %q: %w", channelID, err)
	}

	cols := []string{"channel_id"}
	args := []any{cid}
	for _, f := range []struct {
		col string
		id  *string
	}{
		{"latest_parsed_id", u.LatestParsedID},
		{"earliest_parsed_id", u.EarliestParsedID},
		{"latest_unparsed_id", u.LatestUnparsedID},
	} {
		if f.id == nil {
			continue
		}
		v, err := nullID(*f.id)
		if err != nil {
			return err
		}
		cols = append(cols, f.col)
		args = append(args, v)
	}
	switch {
	case u.ExhaustedAt != nil:
		cols = append(cols, "exhausted_at")
		args = append(args, *u.ExhaustedAt)
	case u.Reseeds():
		cols = append(cols, "exhausted_at")
		args = append(args, nil)
	}

	params := make([]string, len(cols))
	var updates []string
	for i, c := range cols {
		params[i] = "$" + strconv.Itoa(i+1)
		if i > 0 {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	query := fmt.Sprintf("INSERT INTO channels (%s) VALUES (%s) ON CONFLICT (channel_id) DO UPDATE SET %s",
		strings.Join(cols, ", "), strings.Join(params, ", "), strings.Join(updates, ", "))

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update channel %s: %w", channelID, err)
	}
	return nil
}

const progressColumns = `channel_id, latest_parsed_id, earliest_parsed_id, latest_unparsed_id, exhausted_at`

func scanProgress(rows pgx.Rows) ([]models.ChannelProgress, error) {
	defer rows.Close()
	var out []models.ChannelProgress
	for rows.Next() {
		var (
			cid                        int64
			parsed, earliest, unparsed *int64
			exhausted                  *time.Time
		)
		if err := rows.Scan(&cid, &parsed, &earliest, &unparsed, &exhausted); err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		out = append(out, models.ChannelProgress{
			ChannelID:        strconv.FormatInt(cid, 10),
			LatestParsedID:   formatID(parsed),
			EarliestParsedID: formatID(earliest),
			LatestUnparsedID: formatID(unparsed),
			ExhaustedAt:      exhausted,
		})
	}
	return out, rows.Err()
}

// FetchChannels returns the stored progress rows for ids. Unknown channels are omitted.
func (s *Store) FetchChannels(ctx context.Context, ids []string) ([]models.ChannelProgress, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := utils.ParseID(id)
		if err != nil {
			return nil, fmt.Errorf("invalid channel id %q: %w", id, err)
		}
		keys = append(keys, n)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+progressColumns+` FROM channels WHERE channel_id = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channels: %w", err)
	}
	return scanProgress(rows)
}

// ListIncompleteChannels returns every channel whose backfill has not reached the beginning of history.
func (s *Store) ListIncompleteChannels(ctx context.Context) ([]models.ChannelProgress, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+progressColumns+` FROM channels WHERE exhausted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete channels: %w", err)
	}
	return scanProgress(rows)
}

// AdvanceLatestParsed moves the live watermark forward to id. It never moves it backward.
func (s *Store) AdvanceLatestParsed(ctx context.Context, channelID, id string) error {
	cid, err := utils.ParseID(channelID)
	if err != nil {
		return fmt.Errorf("invalid channel id %q: %w", channelID, err)
	}
	mid, err := utils.ParseID(id)
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", id, err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE channels SET latest_parsed_id = GREATEST(COALESCE(latest_parsed_id, 0), $1) WHERE channel_id = $2`,
		mid, cid)
	if err != nil {
		return fmt.Errorf("failed to advance latest parsed id for channel %s: %w", channelID, err)
	}
	return nil
}

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
	_, err = s.pool.Exec(ctx, `INSERT INTO emote_usage (guild_id, user_id, sent_at, emote_id, occurrence)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
		g, usr, u.SentAt.UTC().Truncate(time.Millisecond), u.EmoteID, u.Occurrence)
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
	_, err = s.pool.Exec(ctx, `DELETE FROM emote_usage WHERE guild_id = $1 AND user_id = $2 AND sent_at = $3`,
		g, usr, sentAt.UTC().Truncate(time.Millisecond))
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
	rows, err := s.pool.Query(ctx, `SELECT emote_id, occurrence FROM emote_usage
		WHERE guild_id = $1 AND user_id = $2 AND sent_at = $3 ORDER BY emote_id, occurrence`,
		g, usr, sentAt.UTC().Truncate(time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("failed to list usages: %w", err)
	}
	defer rows.Close()

	var out []models.EmoteUsage
	for rows.Next() {
		u := models.EmoteUsage{GuildID: guildID, UserID: userID, SentAt: sentAt}
		if err := rows.Scan(&u.EmoteID, &u.Occurrence); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountUsage returns the total number of stored usage facts.
func (s *Store) CountUsage(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM emote_usage`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count usages: %w", err)
	}
	return n, nil
}

// RecordEmote upserts emote metadata. A known owning guild is kept when the new record has none.
func (s *Store) RecordEmote(ctx context.Context, m models.EmoteMetadata) error {
	guild, err := nullID(m.GuildID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO emotes (emote_id, name, is_animated, guild_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (emote_id) DO UPDATE SET
			name = EXCLUDED.name,
			is_animated = EXCLUDED.is_animated,
			guild_id = COALESCE(EXCLUDED.guild_id, emotes.guild_id)`,
		m.EmoteID, m.Name, m.IsAnimated, guild)
	if err != nil {
		return fmt.Errorf("failed to record emote %s: %w", m.EmoteID, err)
	}
	return nil
}

// GetEmote returns stored metadata for emoteID, or nil when unknown.
func (s *Store) GetEmote(ctx context.Context, emoteID string) (*models.EmoteMetadata, error) {
	var (
		m     models.EmoteMetadata
		guild *int64
	)
	err := s.pool.QueryRow(ctx, `SELECT emote_id, name, is_animated, guild_id FROM emotes WHERE emote_id = $1`, emoteID).
		Scan(&m.EmoteID, &m.Name, &m.IsAnimated, &guild)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get emote %s: %w", emoteID, err)
	}
	m.GuildID = formatID(guild)
	return &m, nil
}
