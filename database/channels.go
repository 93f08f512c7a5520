package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"emote-tracker/models"
	"emote-tracker/utils"

	"github.com/jmoiron/sqlx"
)

type progressRow struct {
	ChannelID        int64         `db:"channel_id"`
	LatestParsedID   sql.NullInt64 `db:"latest_parsed_id"`
	EarliestParsedID sql.NullInt64 `db:"earliest_parsed_id"`
	LatestUnparsedID sql.NullInt64 `db:"latest_unparsed_id"`
	ExhaustedAt      sql.NullInt64 `db:"exhausted_at"`
}

const progressColumns = `channel_id, latest_parsed_id, earliest_parsed_id, latest_unparsed_id, exhausted_at`

func (r progressRow) model() models.ChannelProgress {
	p := models.ChannelProgress{
		ChannelID:        strconv.FormatInt(r.ChannelID, 10),
		LatestParsedID:   formatNullID(r.LatestParsedID),
		EarliestParsedID: formatNullID(r.EarliestParsedID),
		LatestUnparsedID: formatNullID(r.LatestUnparsedID),
	}
	if r.ExhaustedAt.Valid {
		t := time.UnixMilli(r.ExhaustedAt.Int64)
		p.ExhaustedAt = &t
	}
	return p
}

func formatNullID(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}

func parseNullID(id string) (sql.NullInt64, error) {
	if id == "" {
		return sql.NullInt64{}, nil
	}
	n, err := utils.ParseID(id)
	if err != nil {
		return sql.NullInt64{}, fmt.Errorf("invalid id %q: %w", id, err)
	}
	return sql.NullInt64{Int64: n, Valid: true}, nil
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
	args := map[string]any{"channel_id": cid}
	set := func(col string, id *string) error {
		if id == nil {
			return nil
		}
		v, err := parseNullID(*id)
		if err != nil {
			return err
		}
		cols = append(cols, col)
		args[col] = v
		return nil
	}
	if err := set("latest_parsed_id", u.LatestParsedID); err != nil {
		return err
	}
	if err := set("earliest_parsed_id", u.EarliestParsedID); err != nil {
		return err
	}
	if err := set("latest_unparsed_id", u.LatestUnparsedID); err != nil {
		return err
	}
	switch {
	case u.ExhaustedAt != nil:
		cols = append(cols, "exhausted_at")
		args["exhausted_at"] = u.ExhaustedAt.UnixMilli()
	case u.Reseeds():
		cols = append(cols, "exhausted_at")
		args["exhausted_at"] = sql.NullInt64{}
	}

	query := upsertQuery("channels", "channel_id", cols)
	if _, err := s.db.NamedExecContext(ctx, query, args); err != nil {
		return fmt.Errorf("failed to update channel %s: %w", channelID, err)
	}
	return nil
}

// upsertQuery builds an INSERT ... ON CONFLICT DO UPDATE with named parameters.
func upsertQuery(table, key string, cols []string) string {
	params := make([]string, len(cols))
	var updates []string
	for i, c := range cols {
		params[i] = ":" + c
		if c != key {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		table, strings.Join(cols, ", "), strings.Join(params, ", "), key, strings.Join(updates, ", "))
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

	query, args, err := sqlx.In(`SELECT `+progressColumns+` FROM channels WHERE channel_id IN (?)`, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to build channel query: %w", err)
	}
	var rows []progressRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch channels: %w", err)
	}
	return toModels(rows), nil
}

// ListIncompleteChannels returns every channel whose backfill has not reached the beginning of history.
func (s *Store) ListIncompleteChannels(ctx context.Context) ([]models.ChannelProgress, error) {
	var rows []progressRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+progressColumns+` FROM channels WHERE exhausted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete channels: %w", err)
	}
	return toModels(rows), nil
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
	_, err = s.db.ExecContext(ctx,
		`UPDATE channels SET latest_parsed_id = MAX(COALESCE(latest_parsed_id, 0), ?) WHERE channel_id = ?`,
		mid, cid)
	if err != nil {
		return fmt.Errorf("failed to advance latest parsed id for channel %s: %w", channelID, err)
	}
	return nil
}

func toModels(rows []progressRow) []models.ChannelProgress {
	out := make([]models.ChannelProgress, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out
}
