package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"emote-tracker/database"
	"emote-tracker/models"
	"emote-tracker/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

const (
	guildID   = "111111111111111111"
	authorID  = "222222222222222222"
	channelID = "333333333333333333"
)

type channelSet map[string]bool

func (c channelSet) Has(id string) bool { return c[id] }

type stubFetcher struct {
	msg   *models.Message
	err   error
	calls int
}

func (f *stubFetcher) GetMessage(context.Context, string, string) (*models.Message, error) {
	f.calls++
	if f.msg == nil {
		return nil, f.err
	}
	m := *f.msg
	return &m, f.err
}

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	store, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "emotes.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testMessage(sentAt time.Time, content string) models.Message {
	return models.Message{
		ID:        utils.IDFromTime(sentAt),
		ChannelID: channelID,
		GuildID:   guildID,
		AuthorID:  authorID,
		Content:   content,
		SentAt:    sentAt.Truncate(time.Millisecond),
	}
}

func storedEmotes(t *testing.T, store *database.Store, m models.Message) []string {
	t.Helper()
	usages, err := store.ListUsage(context.Background(), m.GuildID, m.AuthorID, m.SentAt)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, u := range usages {
		ids = append(ids, u.EmoteID)
	}
	sort.Strings(ids)
	return ids
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	in := NewIngester(store, NewEmoteIndex(), channelSet{}, zerolog.Nop())
	m := testMessage(time.Now().Add(-time.Minute), "<:a:100000000000001001> hello <:a:100000000000001001> <a:b:100000000000001002>")

	for i := 0; i < 2; i++ {
		if err := in.Ingest(context.Background(), m, SourceLive); err != nil {
			t.Fatal(err)
		}
	}
	if got := storedEmotes(t, store, m); !equal(got, []string{"100000000000001001", "100000000000001001", "100000000000001002"}) {
		t.Fatalf("stored %v after redelivery", got)
	}
	n, err := store.CountUsage(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("CountUsage = %d, %v", n, err)
	}
}

func TestIngestRecordsOwnerFromIndex(t *testing.T) {
	store := newTestStore(t)
	index := NewEmoteIndex()
	index.SetGuild(guildID, []*discordgo.Emoji{{ID: "100000000000001001", Name: "a"}})
	in := NewIngester(store, index, channelSet{}, zerolog.Nop())
	ctx := context.Background()

	if err := in.Ingest(ctx, testMessage(time.Now(), "<:a:100000000000001001> <:x:100000000000002002>"), SourceLive); err != nil {
		t.Fatal(err)
	}

	owned, err := store.GetEmote(ctx, "100000000000001001")
	if err != nil || owned == nil || owned.GuildID != guildID {
		t.Fatalf("owned emote = %+v, %v", owned, err)
	}
	foreign, err := store.GetEmote(ctx, "100000000000002002")
	if err != nil || foreign == nil || foreign.GuildID != "" {
		t.Fatalf("foreign emote = %+v, %v", foreign, err)
	}
}

func TestIngestIgnoresMessagesWithoutAuthor(t *testing.T) {
	store := newTestStore(t)
	in := NewIngester(store, NewEmoteIndex(), channelSet{}, zerolog.Nop())
	m := testMessage(time.Now(), "<:a:100000000000001001>")
	m.AuthorID = ""

	if err := in.Ingest(context.Background(), m, SourceLive); err != nil {
		t.Fatal(err)
	}
	if n, _ := store.CountUsage(context.Background()); n != 0 {
		t.Fatalf("stored %d usages for an authorless message", n)
	}
}

func TestOnlyLiveMessagesAdvanceWatermarkOfBackfilledChannels(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := utils.IDFromTime(time.Now().Add(-time.Hour))
	if err := store.UpdateChannel(ctx, channelID, models.CursorUpdate{LatestParsedID: models.ID(start)}); err != nil {
		t.Fatal(err)
	}
	backfilled := channelSet{}
	in := NewIngester(store, NewEmoteIndex(), backfilled, zerolog.Nop())

	latest := func() string {
		rows, err := store.FetchChannels(ctx, []string{channelID})
		if err != nil || len(rows) != 1 {
			t.Fatalf("FetchChannels = %v, %v", rows, err)
		}
		return rows[0].LatestParsedID
	}

	live := testMessage(time.Now(), "plain text")
	if err := in.Ingest(ctx, live, SourceLive); err != nil {
		t.Fatal(err)
	}
	if latest() != start {
		t.Fatal("watermark moved while the channel was still in its top phase")
	}

	backfilled[channelID] = true
	if err := in.Ingest(ctx, testMessage(time.Now().Add(time.Second), ""), SourceBackfill); err != nil {
		t.Fatal(err)
	}
	if latest() != start {
		t.Fatal("a backfilled message moved the live watermark")
	}

	if err := in.Ingest(ctx, live, SourceLive); err != nil {
		t.Fatal(err)
	}
	if latest() != live.ID {
		t.Fatalf("watermark = %s, want %s", latest(), live.ID)
	}

	older := testMessage(time.Now().Add(-30*time.Minute), "")
	if err := in.Ingest(ctx, older, SourceLive); err != nil {
		t.Fatal(err)
	}
	if latest() != live.ID {
		t.Fatal("watermark moved backwards")
	}
}

func TestEditRoundTrip(t *testing.T) {
	store := newTestStore(t)
	in := NewIngester(store, NewEmoteIndex(), channelSet{}, zerolog.Nop())
	ctx := context.Background()

	original := testMessage(time.Now().Add(-time.Hour), "<:a:100000000000001001> <:b:100000000000001002>")
	if err := in.Ingest(ctx, original, SourceLive); err != nil {
		t.Fatal(err)
	}

	edited := original
	edited.Content = "<:b:100000000000001002> and <:c:100000000000001003>"
	fetcher := &stubFetcher{msg: &edited}
	r := NewReconciler(fetcher, store, in, 24*time.Hour, zerolog.Nop())

	// The update event carries IDs only.
	update := models.Message{ID: original.ID, ChannelID: channelID, GuildID: guildID}
	for i := 0; i < 2; i++ {
		if err := r.Reconcile(ctx, update); err != nil {
			t.Fatal(err)
		}
	}
	if got := storedEmotes(t, store, original); !equal(got, []string{"100000000000001002", "100000000000001003"}) {
		t.Fatalf("stored %v after edit, want [100000000000001002 100000000000001003]", got)
	}
}

func TestEditOutsideWindowIsIgnored(t *testing.T) {
	store := newTestStore(t)
	in := NewIngester(store, NewEmoteIndex(), channelSet{}, zerolog.Nop())
	ctx := context.Background()

	original := testMessage(time.Now().Add(-48*time.Hour), "<:a:100000000000001001>")
	if err := in.Ingest(ctx, original, SourceLive); err != nil {
		t.Fatal(err)
	}
	edited := original
	edited.Content = "<:z:100000000000009009>"
	fetcher := &stubFetcher{msg: &edited}
	r := NewReconciler(fetcher, store, in, 24*time.Hour, zerolog.Nop())

	if err := r.Reconcile(ctx, models.Message{ID: original.ID, ChannelID: channelID}); err != nil {
		t.Fatal(err)
	}
	if fetcher.calls != 0 {
		t.Fatal("stale edit triggered a fetch")
	}
	if got := storedEmotes(t, store, original); !equal(got, []string{"100000000000001001"}) {
		t.Fatalf("stale edit changed usages to %v", got)
	}
}

func TestReconcileSkipsDeletedMessage(t *testing.T) {
	store := newTestStore(t)
	in := NewIngester(store, NewEmoteIndex(), channelSet{}, zerolog.Nop())
	ctx := context.Background()

	original := testMessage(time.Now().Add(-time.Minute), "<:a:100000000000001001>")
	if err := in.Ingest(ctx, original, SourceLive); err != nil {
		t.Fatal(err)
	}
	r := NewReconciler(&stubFetcher{}, store, in, time.Hour, zerolog.Nop())

	if err := r.Reconcile(ctx, models.Message{ID: original.ID, ChannelID: channelID, GuildID: guildID}); err != nil {
		t.Fatalf("deleted message produced an error: %v", err)
	}
	if got := storedEmotes(t, store, original); !equal(got, []string{"100000000000001001"}) {
		t.Fatalf("usages changed to %v", got)
	}
}

func TestReconcileFetchErrorKeepsUsages(t *testing.T) {
	store := newTestStore(t)
	in := NewIngester(store, NewEmoteIndex(), channelSet{}, zerolog.Nop())
	ctx := context.Background()

	original := testMessage(time.Now().Add(-time.Minute), "<:a:100000000000001001>")
	if err := in.Ingest(ctx, original, SourceLive); err != nil {
		t.Fatal(err)
	}
	r := NewReconciler(&stubFetcher{err: errors.New("503")}, store, in, time.Hour, zerolog.Nop())

	if err := r.Reconcile(ctx, models.Message{ID: original.ID, ChannelID: channelID, GuildID: guildID}); err == nil {
		t.Fatal("expected fetch error")
	}
	if got := storedEmotes(t, store, original); !equal(got, []string{"100000000000001001"}) {
		t.Fatalf("usages changed to %v", got)
	}
}

func TestEmoteIndexReplacesAndRemovesGuilds(t *testing.T) {
	x := NewEmoteIndex()
	x.SetGuild("g1", []*discordgo.Emoji{{ID: "1"}, {ID: "2"}})
	x.SetGuild("g2", []*discordgo.Emoji{{ID: "3"}})

	x.SetGuild("g1", []*discordgo.Emoji{{ID: "2"}, {ID: "4"}})
	if x.Lookup("1") != "" || x.Lookup("2") != "g1" || x.Lookup("4") != "g1" {
		t.Fatal("SetGuild did not replace the guild's emotes")
	}

	x.RemoveGuild("g2")
	if x.Lookup("3") != "" {
		t.Fatal("removed guild still owns emotes")
	}
	if x.Len() != 2 {
		t.Fatalf("Len = %d, want 2", x.Len())
	}
}
