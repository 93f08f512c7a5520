package ingest

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// EmoteIndex maps custom emote IDs to the guild that owns them.
type EmoteIndex struct {
	mu      sync.RWMutex
	owner   map[string]string   // emote ID -> guild ID
	byGuild map[string][]string // guild ID -> emote IDs
}

func NewEmoteIndex() *EmoteIndex {
	return &EmoteIndex{
		owner:   make(map[string]string),
		byGuild: make(map[string][]string),
	}
}

// SetGuild replaces the emotes owned by guildID.
func (x *EmoteIndex) SetGuild(guildID string, emojis []*discordgo.Emoji) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.removeLocked(guildID)
	ids := make([]string, 0, len(emojis))
	for _, e := range emojis {
		if e == nil || e.ID == "" {
			continue
		}
		x.owner[e.ID] = guildID
		ids = append(ids, e.ID)
	}
	x.byGuild[guildID] = ids
}

// RemoveGuild forgets every emote owned by guildID.
func (x *EmoteIndex) RemoveGuild(guildID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removeLocked(guildID)
}

func (x *EmoteIndex) removeLocked(guildID string) {
	for _, id := range x.byGuild[guildID] {
		if x.owner[id] == guildID {
			delete(x.owner, id)
		}
	}
	delete(x.byGuild, guildID)
}

// Lookup returns the owning guild of emoteID, or "" when no joined guild owns it.
func (x *EmoteIndex) Lookup(emoteID string) string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.owner[emoteID]
}

// Len returns the number of indexed emotes.
func (x *EmoteIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.owner)
}
