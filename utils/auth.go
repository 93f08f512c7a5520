package utils

import (
	"slices"

	"emote-tracker/models"

	"github.com/bwmarrin/discordgo"
)

// Permission levels for slash commands.
const (
	LevelDeveloper = "developer"
	LevelAdmin     = "admin"
	LevelGuest     = "guest"
)

// Auth provides methods for authorization checks.
type Auth struct {
	config models.CommandsConfig
}

func NewAuth(config models.CommandsConfig) *Auth {
	return &Auth{config: config}
}

// IsDeveloper checks if a user is a developer.
func (a *Auth) IsDeveloper(userID string) bool {
	return slices.Contains(a.config.Auth.Developers, userID)
}

// IsAdmin checks if a member has an admin role.
func (a *Auth) IsAdmin(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	for _, roleID := range member.Roles {
		if slices.Contains(a.config.Auth.AdminsRoles, roleID) {
			return true
		}
	}
	return false
}

// CheckPermission checks if the invoking user has the required permission level.
func (a *Auth) CheckPermission(i *discordgo.InteractionCreate, requiredLevel string) bool {
	member := i.Member
	user := i.User
	if member != nil {
		user = member.User
	}
	if user == nil {
		return false
	}

	switch requiredLevel {
	case LevelDeveloper:
		return a.IsDeveloper(user.ID)
	case LevelAdmin:
		return a.IsDeveloper(user.ID) || a.IsAdmin(member)
	case LevelGuest:
		return true
	default:
		return false
	}
}
