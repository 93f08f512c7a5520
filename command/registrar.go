package command

import (
	"emote-tracker/utils"

	"github.com/bwmarrin/discordgo"
)

// Command is an interface for application commands.
type Command interface {
	Definition() *discordgo.ApplicationCommand
}

// Required permission level per command name.
var Permissions = map[string]string{
	"ping":            utils.LevelGuest,
	"backfill-status": utils.LevelAdmin,
}

// AllCommands holds all the command instances.
var AllCommands = []Command{
	&PingCommand{},
	&BackfillStatusCommand{},
}

// GetCommandDefinitions returns a slice of all command definitions.
func GetCommandDefinitions() []*discordgo.ApplicationCommand {
	defs := make([]*discordgo.ApplicationCommand, len(AllCommands))
	for i, cmd := range AllCommands {
		defs[i] = cmd.Definition()
	}
	return defs
}
