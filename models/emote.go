package models

import "time"

// EmoteToken is a single emote reference found in message content.
type EmoteToken struct {
	ID       string
	Name     string
	Animated bool
}

// EmoteUsage is one stored usage fact. (GuildID, UserID, SentAt) identifies the message,
// Occurrence numbers repeated uses of the same emote inside it.
type EmoteUsage struct {
	GuildID    string
	UserID     string
	SentAt     time.Time
	EmoteID    string
	Occurrence int
}

// EmoteMetadata describes a custom emote. GuildID is empty when the owning guild is unknown.
type EmoteMetadata struct {
	EmoteID    string
	Name       string
	IsAnimated bool
	GuildID    string
}

// Message is the subset of a chat message the ingest path needs.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	AuthorID  string
	Content   string
	SentAt    time.Time
}
