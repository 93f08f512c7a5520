package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"emote-tracker/ingest"
	"emote-tracker/models"
	"emote-tracker/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func restSession(t *testing.T, rt roundTripFunc) *discordgo.Session {
	t.Helper()
	s, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatal(err)
	}
	s.Client = &http.Client{Transport: rt}
	s.MaxRestRetries = 0
	return s
}

func pingInteraction() *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:    "1",
		Token: "tok",
		Type:  discordgo.InteractionApplicationCommand,
		Data:  discordgo.ApplicationCommandInteractionData{Name: "ping"},
		User:  &discordgo.User{ID: "42"},
	}}
}

func handlersWithLog(buf *bytes.Buffer) *Handlers {
	return New(context.Background(), Deps{
		Index: ingest.NewEmoteIndex(),
		Auth:  utils.NewAuth(models.CommandsConfig{}),
	}, zerolog.New(buf))
}

func TestFailedInteractionResponseIsLogged(t *testing.T) {
	var buf bytes.Buffer
	h := handlersWithLog(&buf)
	s := restSession(t, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	})

	h.CommandDispatcher(s, pingInteraction())

	out := buf.String()
	if !strings.Contains(out, "failed to respond to interaction") || !strings.Contains(out, "connection reset") {
		t.Fatalf("log output = %q", out)
	}
	if !strings.Contains(out, `"command":"ping"`) {
		t.Fatalf("log output lacks the command name: %q", out)
	}
}

func TestSuccessfulInteractionResponseLogsNothing(t *testing.T) {
	var buf bytes.Buffer
	h := handlersWithLog(&buf)
	var posted string
	s := restSession(t, func(r *http.Request) (*http.Response, error) {
		posted = r.URL.Path
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    r,
		}, nil
	})

	h.CommandDispatcher(s, pingInteraction())

	if !strings.HasSuffix(posted, "/interactions/1/tok/callback") {
		t.Fatalf("posted to %q", posted)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected log output %q", buf.String())
	}
}
