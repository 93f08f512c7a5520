// Package emotes finds custom emote references in message content.
package emotes

import (
	"strings"

	"emote-tracker/models"

	"github.com/bwmarrin/discordgo"
)

// Extract returns every custom emote in content, in order of appearance.
// Repeated emotes are returned once per occurrence. Malformed references are skipped.
func Extract(content string) []models.EmoteToken {
	if !strings.Contains(content, "<") {
		return nil
	}

	var tokens []models.EmoteToken
	for _, match := range discordgo.EmojiRegex.FindAllString(content, -1) {
		if token, ok := parse(match); ok {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// parse splits "<a:name:id>" or "<:name:id>".
func parse(match string) (models.EmoteToken, bool) {
	parts := strings.Split(strings.Trim(match, "<>"), ":")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return models.EmoteToken{}, false
	}
	return models.EmoteToken{
		ID:       parts[2],
		Name:     parts[1],
		Animated: parts[0] == "a",
	}, true
}

// Occurrences numbers each token by how many times its emote appeared before it.
func Occurrences(tokens []models.EmoteToken) []int {
	seen := make(map[string]int, len(tokens))
	out := make([]int, len(tokens))
	for i, t := range tokens {
		out[i] = seen[t.ID]
		seen[t.ID]++
	}
	return out
}
