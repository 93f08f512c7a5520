// Package backfill walks the message history of every readable channel exactly once.
//
// Each channel first pages from "now" back to the newest message captured before (top phase),
// then from the oldest captured message back to the beginning of history (bottom phase).
// Cursors are persisted after every page so a restart resumes from the last committed boundary.
package backfill

import (
	"context"
	"fmt"
	"time"

	"emote-tracker/ingest"
	"emote-tracker/metrics"
	"emote-tracker/models"
	"emote-tracker/utils"

	"github.com/rs/zerolog"
)

// DefaultPageSize is the largest page the Discord history endpoint returns.
const DefaultPageSize = 100

// MessageSource reads channel history.
type MessageSource interface {
	// GetMessages returns up to limit messages older than beforeID, newest first.
	GetMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]models.Message, error)
	CanRead(channelID string) bool
}

// CursorStore persists per-channel progress.
type CursorStore interface {
	UpdateChannel(ctx context.Context, channelID string, u models.CursorUpdate) error
	FetchChannels(ctx context.Context, ids []string) ([]models.ChannelProgress, error)
	ListIncompleteChannels(ctx context.Context) ([]models.ChannelProgress, error)
}

// Ingester stores the emote usages of one message.
type Ingester interface {
	Ingest(ctx context.Context, m models.Message, source string) error
}

// StatusRecorder keeps track of why channels left the queue.
type StatusRecorder interface {
	RecordStop(channelID, reason, detail string)
	ClearStop(channelID string)
	SetFinished(finished bool)
}

// Options configures a Scheduler.
type Options struct {
	Disabled      bool
	PageSize      int
	Workers       int
	RatePerSecond float64
	Burst         int
	// Health is notified when backfill work appears (false) and when it drains (true).
	Health func(idle bool)
	Now    func() time.Time
}

// Scheduler owns the backfill queue and the pagination state machine.
type Scheduler struct {
	source     MessageSource
	store      CursorStore
	ingest     Ingester
	status     StatusRecorder
	backfilled *ChannelSet
	queue      *Queue
	opts       Options
	log        zerolog.Logger
}

// New creates a Scheduler. backfilled is shared with the live ingest path.
func New(source MessageSource, store CursorStore, ingest Ingester, status StatusRecorder,
	backfilled *ChannelSet, opts Options, logger zerolog.Logger) *Scheduler {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Scheduler{
		source:     source,
		store:      store,
		ingest:     ingest,
		status:     status,
		backfilled: backfilled,
		opts:       opts,
		log:        logger.With().Str("component", "backfill").Logger(),
	}
	s.queue = NewQueue(s.step, QueueOptions{
		Workers:       opts.Workers,
		RatePerSecond: opts.RatePerSecond,
		Burst:         opts.Burst,
		OnBusy:        s.onBusy,
		OnIdle:        s.onIdle,
	}, s.log)
	return s
}

// Disabled reports whether automatic backfill is turned off.
func (s *Scheduler) Disabled() bool {
	return s.opts.Disabled
}

// Start begins draining the queue.
func (s *Scheduler) Start(ctx context.Context) {
	if s.opts.Disabled {
		s.log.Info().Msg("backfilling disabled, only live messages will be recorded")
		return
	}
	s.queue.Start(ctx)
}

// Close stops accepting work and waits for running steps.
func (s *Scheduler) Close(ctx context.Context) error {
	left, err := s.queue.Close(ctx)
	if left > 0 {
		s.log.Info().Int("pending", left).Msg("backfill stopped with channels still queued, they resume from stored cursors")
	}
	return err
}

// Stats is a snapshot for status reporting.
type Stats struct {
	Pending    int
	Active     int
	Backfilled int
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Pending:    s.queue.Len(),
		Active:     s.queue.Active(),
		Backfilled: s.backfilled.Len(),
	}
}

// Initialize re-seeds every readable channel in channelIDs at "now" and queues its top phase.
// Stored watermarks are kept, so channels seen before only re-read the gap since then.
func (s *Scheduler) Initialize(ctx context.Context, channelIDs []string) error {
	if s.opts.Disabled {
		return nil
	}
	seed := utils.IDFromTime(s.opts.Now())
	var readable []string
	for _, id := range channelIDs {
		if !s.source.CanRead(id) {
			continue
		}
		if err := s.store.UpdateChannel(ctx, id, models.CursorUpdate{LatestUnparsedID: models.ID(seed)}); err != nil {
			return fmt.Errorf("failed to seed channel %s: %w", id, err)
		}
		readable = append(readable, id)
	}
	if len(readable) == 0 {
		return nil
	}

	rows, err := s.store.FetchChannels(ctx, readable)
	if err != nil {
		return err
	}
	s.log.Info().Int("channels", len(rows)).Msg("channels recorded, queueing backfill")
	for _, row := range rows {
		s.backfilled.Remove(row.ChannelID)
		s.status.ClearStop(row.ChannelID)
		if err := s.queue.Enqueue(Entry{ChannelID: row.ChannelID, State: topFromProgress(row, seed)}); err != nil {
			return err
		}
	}
	return nil
}

// Resume re-queues channels whose backfill stopped early, for example after a store error
// or a permission regrant no event reported. Channels still in the bottom phase continue
// from their stored boundary, all others re-seed the top phase at now.
// Channels already queued or no longer readable are skipped.
func (s *Scheduler) Resume(ctx context.Context) (int, error) {
	if s.opts.Disabled {
		return 0, nil
	}
	rows, err := s.store.ListIncompleteChannels(ctx)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, row := range rows {
		if s.queue.Contains(row.ChannelID) || !s.source.CanRead(row.ChannelID) {
			continue
		}

		var state State
		if s.backfilled.Has(row.ChannelID) && row.EarliestParsedID != "" {
			state = BottomPaging{ParsedID: row.LatestParsedID, EarliestID: row.EarliestParsedID}
		} else {
			// A stored top cursor may predate a permission loss; messages sent since
			// are newer than it, so the top walk restarts from now.
			seed := utils.IDFromTime(s.opts.Now())
			if err := s.store.UpdateChannel(ctx, row.ChannelID, models.CursorUpdate{LatestUnparsedID: models.ID(seed)}); err != nil {
				return resumed, fmt.Errorf("failed to seed channel %s: %w", row.ChannelID, err)
			}
			state = topFromProgress(row, seed)
		}

		s.status.ClearStop(row.ChannelID)
		if err := s.queue.Enqueue(Entry{ChannelID: row.ChannelID, State: state}); err != nil {
			return resumed, err
		}
		resumed++
	}
	return resumed, nil
}

func topFromProgress(p models.ChannelProgress, seed string) TopPaging {
	unparsed := p.LatestUnparsedID
	if seed != "" {
		unparsed = seed
	}
	return TopPaging{UnparsedID: unparsed, ParsedID: p.LatestParsedID, EarliestID: p.EarliestParsedID}
}

func (s *Scheduler) onBusy() {
	s.status.SetFinished(false)
	if s.opts.Health != nil {
		s.opts.Health(false)
	}
}

func (s *Scheduler) onIdle() {
	s.log.Info().Msg("finished backfilling")
	s.status.SetFinished(true)
	if s.opts.Health != nil {
		s.opts.Health(true)
	}
}

// step runs one page of the state machine for e.
func (s *Scheduler) step(ctx context.Context, e Entry) (follow *Entry) {
	logger := s.log.With().Str("channel_id", e.ChannelID).Str("phase", Phase(e.State)).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("backfill step panicked")
			s.stop(e.ChannelID, models.StopFailed, fmt.Sprint(r))
			follow = nil
		}
	}()

	if !s.source.CanRead(e.ChannelID) {
		logger.Info().Msg("channel no longer readable, dropping from backfill")
		s.stop(e.ChannelID, models.StopPermissionLost, "")
		s.backfilled.Remove(e.ChannelID)
		return nil
	}

	var (
		next State
		err  error
	)
	switch st := e.State.(type) {
	case TopPaging:
		// Live messages must not move the top watermark until this walk drains.
		s.backfilled.Remove(e.ChannelID)
		next, err = s.pageTop(ctx, e.ChannelID, st)
	case BottomPaging:
		next, err = s.pageBottom(ctx, e.ChannelID, st)
	default:
		return nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("backfill step failed, channel will be retried by the resume job")
		s.stop(e.ChannelID, models.StopFailed, err.Error())
		return nil
	}

	if _, done := next.(Exhausted); done {
		logger.Debug().Msg("channel history exhausted")
		s.stop(e.ChannelID, models.StopExhausted, "")
		return nil
	}
	return &Entry{ChannelID: e.ChannelID, State: next}
}

func (s *Scheduler) stop(channelID, reason, detail string) {
	metrics.StepStops.WithLabelValues(reason).Inc()
	s.status.RecordStop(channelID, reason, detail)
}

// pageTop ingests one page between st.UnparsedID and st.ParsedID.
func (s *Scheduler) pageTop(ctx context.Context, channelID string, st TopPaging) (State, error) {
	if st.UnparsedID == "" {
		st.UnparsedID = utils.IDFromTime(s.opts.Now())
	}
	msgs, err := s.source.GetMessages(ctx, channelID, s.opts.PageSize, st.UnparsedID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch top page: %w", err)
	}
	metrics.PagesFetched.WithLabelValues("top").Inc()

	fresh := msgs[:0:0]
	for _, m := range msgs {
		if utils.CompareIDs(m.ID, st.ParsedID) > 0 {
			fresh = append(fresh, m)
		}
	}
	if err := s.ingestAll(ctx, fresh); err != nil {
		return nil, err
	}

	var update models.CursorUpdate
	if len(fresh) > 0 {
		st.UnparsedID = oldest(fresh)
		update.LatestUnparsedID = models.ID(st.UnparsedID)
	}
	if len(fresh) >= s.opts.PageSize {
		if err := s.store.UpdateChannel(ctx, channelID, update); err != nil {
			return nil, err
		}
		return st, nil
	}

	// The top is drained: from here on the live stream owns everything newer than now.
	parsed := utils.IDFromTime(s.opts.Now())
	earliest := st.EarliestID
	if earliest == "" {
		earliest = st.UnparsedID
		update.EarliestParsedID = models.ID(earliest)
	}
	update.LatestParsedID = models.ID(parsed)
	update.LatestUnparsedID = models.ID("")
	if err := s.store.UpdateChannel(ctx, channelID, update); err != nil {
		return nil, err
	}
	s.backfilled.Add(channelID)
	return BottomPaging{ParsedID: parsed, EarliestID: earliest}, nil
}

// pageBottom ingests one page older than st.EarliestID.
func (s *Scheduler) pageBottom(ctx context.Context, channelID string, st BottomPaging) (State, error) {
	before := st.EarliestID
	if before == "" {
		before = st.ParsedID
	}
	msgs, err := s.source.GetMessages(ctx, channelID, s.opts.PageSize, before)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bottom page: %w", err)
	}
	metrics.PagesFetched.WithLabelValues("bottom").Inc()

	if len(msgs) == 0 {
		now := s.opts.Now()
		if err := s.store.UpdateChannel(ctx, channelID, models.CursorUpdate{ExhaustedAt: &now}); err != nil {
			return nil, err
		}
		return Exhausted{}, nil
	}

	if err := s.ingestAll(ctx, msgs); err != nil {
		return nil, err
	}
	st.EarliestID = oldest(msgs)
	if err := s.store.UpdateChannel(ctx, channelID, models.CursorUpdate{EarliestParsedID: models.ID(st.EarliestID)}); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Scheduler) ingestAll(ctx context.Context, msgs []models.Message) error {
	for _, m := range msgs {
		if err := s.ingest.Ingest(ctx, m, ingest.SourceBackfill); err != nil {
			return fmt.Errorf("failed to ingest message %s: %w", m.ID, err)
		}
	}
	return nil
}

func oldest(msgs []models.Message) string {
	id := ""
	for _, m := range msgs {
		id = utils.MinID(id, m.ID)
	}
	return id
}
