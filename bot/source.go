package bot

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"emote-tracker/models"

	"github.com/bwmarrin/discordgo"
)

// readPermissions are needed to page a channel's history.
const readPermissions = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory

// Source reads messages and permissions through a discordgo session.
type Source struct {
	s *discordgo.Session

	mu       sync.Mutex
	readable map[string]bool // last observed readability per channel
}

func NewSource(s *discordgo.Session) *Source {
	return &Source{s: s, readable: make(map[string]bool)}
}

// GetMessages returns up to limit messages older than beforeID, newest first.
func (src *Source) GetMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]models.Message, error) {
	msgs, err := src.s.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	guildID := src.guildOf(channelID)
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToMessage(m, guildID))
	}
	return out, nil
}

// GetMessage fetches one message. It returns nil, nil when the message or channel is gone.
func (src *Source) GetMessage(ctx context.Context, channelID, messageID string) (*models.Message, error) {
	m, err := src.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	msg := ToMessage(m, src.guildOf(channelID))
	return &msg, nil
}

// CanRead reports whether the bot may view the channel and read its history.
func (src *Source) CanRead(channelID string) bool {
	ok := src.canRead(channelID)
	src.mu.Lock()
	src.readable[channelID] = ok
	src.mu.Unlock()
	return ok
}

// BecameReadable re-checks channelID and reports whether it was unreadable at the
// previous check and is readable now.
func (src *Source) BecameReadable(channelID string) bool {
	now := src.canRead(channelID)
	src.mu.Lock()
	defer src.mu.Unlock()
	before := src.readable[channelID]
	src.readable[channelID] = now
	return now && !before
}

// Forget drops the readability snapshot of a deleted channel.
func (src *Source) Forget(channelID string) {
	src.mu.Lock()
	delete(src.readable, channelID)
	src.mu.Unlock()
}

func (src *Source) canRead(channelID string) bool {
	if src.s.State == nil || src.s.State.User == nil {
		return false
	}
	perms, err := src.s.State.UserChannelPermissions(src.s.State.User.ID, channelID)
	if err != nil {
		return false
	}
	return perms&readPermissions == readPermissions
}

func (src *Source) guildOf(channelID string) string {
	if src.s.State == nil {
		return ""
	}
	ch, err := src.s.State.Channel(channelID)
	if err != nil {
		return ""
	}
	return ch.GuildID
}

// ToMessage converts a discordgo message. REST responses carry no guild ID, so the
// caller passes the one it knows.
func ToMessage(m *discordgo.Message, guildID string) models.Message {
	msg := models.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Content:   m.Content,
		SentAt:    m.Timestamp,
	}
	if msg.GuildID == "" {
		msg.GuildID = guildID
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	return msg
}
