package bot

import (
	"fmt"

	"emote-tracker/models"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// Command defines the interface for a bot command.
type Command interface {
	Definition() *discordgo.ApplicationCommand
}

// Bot encapsulates the bot's state.
type Bot struct {
	Session  *discordgo.Session
	Commands map[string]Command

	guildID string
	log     zerolog.Logger
}

// NewBot creates a session for cfg.Token. The connection is opened by Start.
func NewBot(cfg models.Config, logger zerolog.Logger) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("no bot token provided")
	}

	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildEmojis |
		discordgo.IntentsMessageContent

	return &Bot{
		Session:  dg,
		Commands: make(map[string]Command),
		guildID:  cfg.Bot.CommandGuildID,
		log:      logger.With().Str("component", "bot").Logger(),
	}, nil
}

// RegisterCommands registers the provided commands.
func (b *Bot) RegisterCommands(commands []Command) {
	for _, cmd := range commands {
		b.Commands[cmd.Definition().Name] = cmd
	}
}

// Start registers handlers, opens the gateway connection and publishes slash commands.
func (b *Bot) Start(registerHandlers func(*Bot)) error {
	registerHandlers(b)

	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	for _, cmd := range b.Commands {
		def := cmd.Definition()
		if _, err := b.Session.ApplicationCommandCreate(b.Session.State.User.ID, b.guildID, def); err != nil {
			b.log.Error().Err(err).Str("command", def.Name).Msg("cannot create command")
		}
	}

	b.log.Info().Str("user", b.Session.State.User.Username).Msg("bot is now running")
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() {
	if b.Session != nil {
		if err := b.Session.Close(); err != nil {
			b.log.Error().Err(err).Msg("error closing session")
		}
	}
	b.log.Info().Msg("bot stopped gracefully")
}
