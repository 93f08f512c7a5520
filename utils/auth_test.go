package utils

import (
	"testing"

	"emote-tracker/models"

	"github.com/bwmarrin/discordgo"
)

func interaction(userID string, roles ...string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Member: &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: roles},
	}}
}

func TestCheckPermission(t *testing.T) {
	auth := NewAuth(models.CommandsConfig{Auth: models.AuthConfig{
		Developers:  []string{"dev"},
		AdminsRoles: []string{"mods"},
	}})

	tests := []struct {
		name  string
		i     *discordgo.InteractionCreate
		level string
		want  bool
	}{
		{"developer passes admin", interaction("dev"), LevelAdmin, true},
		{"admin role passes admin", interaction("u1", "x", "mods"), LevelAdmin, true},
		{"admin role fails developer", interaction("u1", "mods"), LevelDeveloper, false},
		{"anyone is a guest", interaction("u2"), LevelGuest, true},
		{"plain user fails admin", interaction("u2", "x"), LevelAdmin, false},
		{"unknown level", interaction("dev"), "owner", false},
		{"direct message user", &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
			User: &discordgo.User{ID: "dev"},
		}}, LevelAdmin, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := auth.CheckPermission(tt.i, tt.level); got != tt.want {
				t.Fatalf("CheckPermission = %v, want %v", got, tt.want)
			}
		})
	}
}
