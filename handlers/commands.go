package handlers

import (
	"emote-tracker/command"

	"github.com/bwmarrin/discordgo"
)

// CommandDispatcher performs permission checks and then dispatches the interaction to the
// appropriate handler.
func (h *Handlers) CommandDispatcher(s *discordgo.Session, i *discordgo.InteractionCreate) {
	commandName := i.ApplicationCommandData().Name

	if requiredLevel, ok := command.Permissions[commandName]; ok && !h.Auth.CheckPermission(i, requiredLevel) {
		h.respondEphemeral(s, i, "🚫 You do not have permission to run this command.")
		return
	}

	switch commandName {
	case "ping":
		h.HandlePing(s, i)
	case "backfill-status":
		h.HandleBackfillStatus(s, i)
	default:
		h.respondEphemeral(s, i, "🚫 Internal error: unknown command.")
	}
}

func (h *Handlers) respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	h.respond(s, i, &discordgo.InteractionResponseData{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

// respond sends a message response and logs when Discord rejects it.
func (h *Handlers) respond(s *discordgo.Session, i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		h.log.Error().Err(err).Str("command", i.ApplicationCommandData().Name).Msg("failed to respond to interaction")
	}
}
