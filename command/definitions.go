package command

import "github.com/bwmarrin/discordgo"

// PingCommand defines the structure for the /ping command.
type PingCommand struct{}

// Definition returns the application command definition.
func (c *PingCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "ping",
		Description: "Responds with Pong!",
	}
}

// BackfillStatusCommand defines the /backfill-status command.
type BackfillStatusCommand struct{}

// Definition returns the application command definition.
func (c *BackfillStatusCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "backfill-status",
		Description: "Show history backfill progress and host resource usage",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "channel",
				Description: "Show why this channel stopped being backfilled",
				Type:        discordgo.ApplicationCommandOptionChannel,
				Required:    false,
				ChannelTypes: []discordgo.ChannelType{
					discordgo.ChannelTypeGuildText,
					discordgo.ChannelTypeGuildNews,
				},
			},
		},
	}
}
