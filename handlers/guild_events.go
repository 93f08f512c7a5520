package handlers

import (
	"github.com/bwmarrin/discordgo"
)

func (h *Handlers) onReady(s *discordgo.Session, r *discordgo.Ready) {
	h.log.Info().
		Str("user", r.User.Username).
		Int("guilds", len(r.Guilds)).
		Bool("backfill_disabled", h.Backfill.Disabled()).
		Msg("logged in")
}

// onGuildCreate fires for every guild after connecting and whenever the bot joins one.
func (h *Handlers) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Unavailable {
		return
	}
	h.Index.SetGuild(g.ID, g.Emojis)
	h.initChannels(g.ID, g.Channels)
}

func (h *Handlers) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		// Outage, the guild comes back with a GUILD_CREATE.
		return
	}
	h.Index.RemoveGuild(g.ID)
	h.log.Info().Str("guild_id", g.ID).Msg("left guild")
}

func (h *Handlers) onGuildEmojisUpdate(_ *discordgo.Session, e *discordgo.GuildEmojisUpdate) {
	h.Index.SetGuild(e.GuildID, e.Emojis)
}

// onGuildMemberUpdate re-initializes a guild when the bot's own roles change, since
// that can make channels readable.
func (h *Handlers) onGuildMemberUpdate(s *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.Member == nil || m.User == nil || s.State.User == nil || m.User.ID != s.State.User.ID {
		return
	}
	if m.BeforeUpdate != nil && len(m.BeforeUpdate.Roles) == len(m.Roles) {
		return
	}
	g, err := s.State.Guild(m.GuildID)
	if err != nil {
		h.log.Warn().Err(err).Str("guild_id", m.GuildID).Msg("guild not in state, cannot re-initialize")
		return
	}
	h.log.Info().Str("guild_id", g.ID).Msg("bot roles changed, re-initializing guild")
	h.initChannels(g.ID, g.Channels)
}

// onGuildRoleUpdate queues the channels a role permission edit made readable.
func (h *Handlers) onGuildRoleUpdate(s *discordgo.Session, r *discordgo.GuildRoleUpdate) {
	if r.GuildRole == nil {
		return
	}
	g, err := s.State.Guild(r.GuildID)
	if err != nil {
		h.log.Warn().Err(err).Str("guild_id", r.GuildID).Msg("guild not in state, cannot check role update")
		return
	}
	var regained []*discordgo.Channel
	for _, c := range g.Channels {
		if isTextChannel(c) && h.Source.BecameReadable(c.ID) {
			regained = append(regained, c)
		}
	}
	if len(regained) == 0 {
		return
	}
	h.log.Info().Str("guild_id", g.ID).Int("channels", len(regained)).Msg("role update made channels readable")
	h.initChannels(g.ID, regained)
}

func (h *Handlers) onChannelCreate(_ *discordgo.Session, c *discordgo.ChannelCreate) {
	h.initChannels(c.GuildID, []*discordgo.Channel{c.Channel})
}

// onChannelUpdate queues a channel that was unreadable before the update and readable after it.
func (h *Handlers) onChannelUpdate(_ *discordgo.Session, c *discordgo.ChannelUpdate) {
	if !isTextChannel(c.Channel) || !h.Source.BecameReadable(c.ID) {
		return
	}
	h.log.Info().Str("channel_id", c.ID).Msg("channel became readable")
	h.initChannels(c.GuildID, []*discordgo.Channel{c.Channel})
}

func (h *Handlers) onChannelDelete(_ *discordgo.Session, c *discordgo.ChannelDelete) {
	h.Source.Forget(c.ID)
}

func (h *Handlers) initChannels(guildID string, channels []*discordgo.Channel) {
	ids := textChannelIDs(channels)
	if len(ids) == 0 {
		return
	}
	if err := h.Backfill.Initialize(h.ctx, ids); err != nil {
		h.log.Error().Err(err).Str("guild_id", guildID).Msg("failed to queue channels for backfill")
	}
}

func isTextChannel(c *discordgo.Channel) bool {
	return c != nil && (c.Type == discordgo.ChannelTypeGuildText || c.Type == discordgo.ChannelTypeGuildNews)
}

// textChannelIDs returns the IDs of channels whose history can hold emote messages.
func textChannelIDs(channels []*discordgo.Channel) []string {
	var ids []string
	for _, c := range channels {
		if isTextChannel(c) {
			ids = append(ids, c.ID)
		}
	}
	return ids
}
