package handlers

import (
	"github.com/bwmarrin/discordgo"
)

// onInteractionCreate handles slash command interactions.
func (h *Handlers) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		h.CommandDispatcher(s, i)
	}
}
