package backfill

import (
	"fmt"
	"sync"
)

// State is the pagination phase of one channel. It is one of TopPaging, BottomPaging or Exhausted.
type State interface {
	phase() string
}

// TopPaging walks from UnparsedID back toward ParsedID, the newest message captured before.
// ParsedID is empty on the first pass over a channel.
type TopPaging struct {
	UnparsedID string
	ParsedID   string
	EarliestID string
}

// BottomPaging walks from EarliestID back to the beginning of history.
type BottomPaging struct {
	ParsedID   string
	EarliestID string
}

// Exhausted means the whole history has been captured.
type Exhausted struct{}

func (TopPaging) phase() string    { return "top" }
func (BottomPaging) phase() string { return "bottom" }
func (Exhausted) phase() string    { return "exhausted" }

// Phase names the state for logs and metrics.
func Phase(s State) string {
	if s == nil {
		return "none"
	}
	return s.phase()
}

// Entry is one unit of pending pagination work. Cursors travel with the entry.
type Entry struct {
	ChannelID string
	State     State
}

func (e Entry) String() string {
	return fmt.Sprintf("%s(%s)", e.ChannelID, Phase(e.State))
}

// ChannelSet is a concurrent set of channel IDs.
type ChannelSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewChannelSet() *ChannelSet {
	return &ChannelSet{ids: make(map[string]struct{})}
}

func (s *ChannelSet) Add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *ChannelSet) Remove(id string) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

func (s *ChannelSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

func (s *ChannelSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
