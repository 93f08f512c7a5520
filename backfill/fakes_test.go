package backfill

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"emote-tracker/models"
	"emote-tracker/utils"

	"github.com/rs/zerolog"
)

var historyStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// messageID returns the ID of the i-th message of a test channel, one minute apart.
func messageID(i int) string {
	return utils.IDFromTime(historyStart.Add(time.Duration(i) * time.Minute))
}

type fakeSource struct {
	mu       sync.Mutex
	history  map[string][]models.Message // oldest first
	readable map[string]bool
	fetches  int
	failNext error
}

func newFakeSource() *fakeSource {
	return &fakeSource{history: map[string][]models.Message{}, readable: map[string]bool{}}
}

// addHistory appends messages [from, to) to channelID.
func (f *fakeSource) addHistory(channelID string, from, to int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := from; i < to; i++ {
		f.history[channelID] = append(f.history[channelID], models.Message{
			ID:        messageID(i),
			ChannelID: channelID,
			GuildID:   "1",
			AuthorID:  "2",
			Content:   "<:pog:123456789012345678>",
		})
	}
	f.readable[channelID] = true
}

func (f *fakeSource) appendMessage(channelID, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[channelID] = append(f.history[channelID], models.Message{
		ID:        id,
		ChannelID: channelID,
		GuildID:   "1",
		AuthorID:  "2",
	})
}

func (f *fakeSource) setReadable(channelID string, ok bool) {
	f.mu.Lock()
	f.readable[channelID] = ok
	f.mu.Unlock()
}

func (f *fakeSource) GetMessages(_ context.Context, channelID string, limit int, beforeID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if err := f.failNext; err != nil {
		f.failNext = nil
		return nil, err
	}
	msgs := f.history[channelID]
	var out []models.Message
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if utils.CompareIDs(msgs[i].ID, beforeID) < 0 {
			out = append(out, msgs[i])
		}
	}
	return out, nil
}

func (f *fakeSource) CanRead(channelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readable[channelID]
}

type fakeStore struct {
	mu         sync.Mutex
	rows       map[string]models.ChannelProgress
	failUpdate int // number of upcoming UpdateChannel calls to fail
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]models.ChannelProgress{}}
}

var errStoreDown = errors.New("store unavailable")

func (f *fakeStore) UpdateChannel(_ context.Context, channelID string, u models.CursorUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdate > 0 {
		f.failUpdate--
		return errStoreDown
	}
	row := f.rows[channelID]
	row.ChannelID = channelID
	if u.LatestParsedID != nil {
		row.LatestParsedID = *u.LatestParsedID
	}
	if u.EarliestParsedID != nil {
		row.EarliestParsedID = *u.EarliestParsedID
	}
	if u.LatestUnparsedID != nil {
		row.LatestUnparsedID = *u.LatestUnparsedID
	}
	if u.ExhaustedAt != nil {
		t := *u.ExhaustedAt
		row.ExhaustedAt = &t
	} else if u.Reseeds() {
		row.ExhaustedAt = nil
	}
	f.rows[channelID] = row
	return nil
}

func (f *fakeStore) FetchChannels(_ context.Context, ids []string) ([]models.ChannelProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChannelProgress
	for _, id := range ids {
		if row, ok := f.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeStore) ListIncompleteChannels(context.Context) ([]models.ChannelProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ChannelProgress
	for _, row := range f.rows {
		if row.ExhaustedAt == nil {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (f *fakeStore) row(channelID string) models.ChannelProgress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[channelID]
}

type fakeIngester struct {
	mu       sync.Mutex
	seen     map[string]int // message ID -> deliveries
	calls    int
	onIngest func(m models.Message)
}

func newFakeIngester() *fakeIngester {
	return &fakeIngester{seen: map[string]int{}}
}

func (f *fakeIngester) Ingest(_ context.Context, m models.Message, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[m.ID]++
	f.calls++
	if f.onIngest != nil {
		f.onIngest(m)
	}
	return nil
}

func (f *fakeIngester) unique() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *fakeIngester) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[id] > 0
}

type fakeStatus struct {
	mu       sync.Mutex
	stops    map[string]string
	finished []bool
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{stops: map[string]string{}}
}

func (f *fakeStatus) RecordStop(channelID, reason, _ string) {
	f.mu.Lock()
	f.stops[channelID] = reason
	f.mu.Unlock()
}

func (f *fakeStatus) ClearStop(channelID string) {
	f.mu.Lock()
	delete(f.stops, channelID)
	f.mu.Unlock()
}

func (f *fakeStatus) SetFinished(finished bool) {
	f.mu.Lock()
	f.finished = append(f.finished, finished)
	f.mu.Unlock()
}

func (f *fakeStatus) stop(channelID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops[channelID]
}

type harness struct {
	source   *fakeSource
	store    *fakeStore
	ingest   *fakeIngester
	status   *fakeStatus
	set      *ChannelSet
	sched    *Scheduler
	now      time.Time
	idleSeen int
}

func newHarness(t *testing.T, pageSize int) *harness {
	t.Helper()
	h := &harness{
		source: newFakeSource(),
		store:  newFakeStore(),
		ingest: newFakeIngester(),
		status: newFakeStatus(),
		set:    NewChannelSet(),
		now:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.sched = New(h.source, h.store, h.ingest, h.status, h.set, Options{
		PageSize: pageSize,
		Workers:  1,
		Health: func(idle bool) {
			if idle {
				h.idleSeen++
			}
		},
		Now: func() time.Time { return h.now },
	}, zerolog.Nop())
	return h
}

// drain runs queued steps synchronously until the queue is empty and returns the number of steps.
func (h *harness) drain(t *testing.T, limit int) int {
	t.Helper()
	steps := 0
	for {
		e, ok := h.sched.queue.take()
		if !ok {
			return steps
		}
		steps++
		if steps > limit {
			t.Fatalf("queue did not drain within %d steps", limit)
		}
		h.sched.queue.finish(e.ChannelID, h.sched.queue.run(context.Background(), e))
	}
}

// stepOnce runs exactly one queued step.
func (h *harness) stepOnce(t *testing.T) Entry {
	t.Helper()
	e, ok := h.sched.queue.take()
	if !ok {
		t.Fatal("queue unexpectedly empty")
	}
	h.sched.queue.finish(e.ChannelID, h.sched.queue.run(context.Background(), e))
	return e
}
