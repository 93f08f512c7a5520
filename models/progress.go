package models

import "time"

// ChannelProgress is the persisted cursor row for one channel.
// Empty strings stand for unset cursors.
type ChannelProgress struct {
	ChannelID        string
	LatestParsedID   string
	EarliestParsedID string
	LatestUnparsedID string
	ExhaustedAt      *time.Time
}

// CursorUpdate is a partial update of a ChannelProgress row. Nil fields are left untouched,
// a pointer to "" clears the column.
type CursorUpdate struct {
	LatestParsedID   *string
	EarliestParsedID *string
	LatestUnparsedID *string
	ExhaustedAt      *time.Time
}

// ID returns a pointer to id for use in CursorUpdate literals.
func ID(id string) *string {
	return &id
}

// Empty reports whether the update touches no column.
func (u CursorUpdate) Empty() bool {
	return u.LatestParsedID == nil && u.EarliestParsedID == nil && u.LatestUnparsedID == nil && u.ExhaustedAt == nil
}

// Reseeds reports whether the update starts a fresh top phase, which also clears ExhaustedAt.
func (u CursorUpdate) Reseeds() bool {
	return u.LatestUnparsedID != nil && *u.LatestUnparsedID != ""
}
