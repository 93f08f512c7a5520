package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"emote-tracker/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("backfill queue closed")

// StepFunc runs one pagination step and returns the follow-up entry, or nil when the channel is done.
type StepFunc func(ctx context.Context, e Entry) *Entry

// QueueOptions configures a Queue.
type QueueOptions struct {
	Workers       int
	RatePerSecond float64 // 0 means unlimited
	Burst         int
	// OnBusy and OnIdle are called under the queue lock when outstanding work appears
	// and when it drains. They must not call back into the queue.
	OnBusy func()
	OnIdle func()
}

// Queue is a FIFO of per-channel entries drained by a fixed set of workers.
// A channel is in at most one place: pending, or running. Enqueueing a pending channel
// replaces its cursors; enqueueing a running channel replaces the result of its step.
type Queue struct {
	step    StepFunc
	opts    QueueOptions
	limiter *rate.Limiter
	log     zerolog.Logger

	mu       sync.Mutex
	order    []string
	pending  map[string]Entry
	running  map[string]struct{}
	deferred map[string]Entry
	busy     bool
	closed   bool

	wake   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	starts sync.Once
}

// NewQueue creates a queue that runs step for each drained entry.
func NewQueue(step StepFunc, opts QueueOptions, logger zerolog.Logger) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &Queue{
		step:     step,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, opts.Burst),
		log:      logger,
		pending:  make(map[string]Entry),
		running:  make(map[string]struct{}),
		deferred: make(map[string]Entry),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Close is called.
func (q *Queue) Start(ctx context.Context) {
	q.starts.Do(func() {
		for i := 0; i < q.opts.Workers; i++ {
			q.wg.Add(1)
			go q.worker(ctx)
		}
	})
}

// Enqueue adds or replaces the entry for e.ChannelID. It never blocks.
func (q *Queue) Enqueue(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if _, ok := q.running[e.ChannelID]; ok {
		q.deferred[e.ChannelID] = e
		return nil
	}
	if _, ok := q.pending[e.ChannelID]; !ok {
		q.order = append(q.order, e.ChannelID)
	}
	q.pending[e.ChannelID] = e
	q.markBusyLocked()
	q.observeLocked()
	q.signal()
	return nil
}

// Contains reports whether channelID is pending or running.
func (q *Queue) Contains(channelID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, pending := q.pending[channelID]
	_, running := q.running[channelID]
	return pending || running
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Active returns the number of channels pending or running.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.running)
}

// Close stops accepting entries and waits for running steps to finish.
// Pending entries are left undrained; it returns how many there were.
func (q *Queue) Close(ctx context.Context) (int, error) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	q.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return q.Len(), fmt.Errorf("waiting for backfill workers: %w", ctx.Err())
	}
	return q.Len(), nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) markBusyLocked() {
	if !q.busy {
		q.busy = true
		metrics.BackfillIdle.Set(0)
		if q.opts.OnBusy != nil {
			q.opts.OnBusy()
		}
	}
}

func (q *Queue) observeLocked() {
	metrics.QueuePending.Set(float64(len(q.pending)))
	metrics.QueueRunning.Set(float64(len(q.running)))
}

// take pops the oldest pending entry and marks it running.
func (q *Queue) take() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.order) == 0 {
		return Entry{}, false
	}
	id := q.order[0]
	q.order = q.order[1:]
	e := q.pending[id]
	delete(q.pending, id)
	q.running[id] = struct{}{}
	q.observeLocked()
	if len(q.order) > 0 {
		q.signal()
	}
	return e, true
}

// putBack returns an entry that was taken but never run to the front of the queue.
func (q *Queue) putBack(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, e.ChannelID)
	if d, ok := q.deferred[e.ChannelID]; ok {
		delete(q.deferred, e.ChannelID)
		e = d
	}
	if _, ok := q.pending[e.ChannelID]; !ok {
		q.order = append([]string{e.ChannelID}, q.order...)
	}
	q.pending[e.ChannelID] = e
	q.observeLocked()
}

// finish records the outcome of a step and requeues the follow-up entry.
func (q *Queue) finish(id string, next *Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.running, id)
	if d, ok := q.deferred[id]; ok {
		delete(q.deferred, id)
		next = &d
	}
	if next != nil {
		if q.closed {
			q.log.Debug().Str("channel_id", id).Msg("queue closed, follow-up step not queued")
		} else {
			q.order = append(q.order, id)
			q.pending[id] = *next
			q.signal()
		}
	}
	q.observeLocked()

	if q.busy && len(q.pending) == 0 && len(q.running) == 0 {
		q.busy = false
		metrics.BackfillIdle.Set(1)
		if q.opts.OnIdle != nil {
			q.opts.OnIdle()
		}
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		e, ok := q.take()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case <-q.wake:
				continue
			}
		}

		if err := q.limiter.Wait(ctx); err != nil {
			q.putBack(e)
			return
		}
		q.finish(e.ChannelID, q.run(ctx, e))
	}
}

func (q *Queue) run(ctx context.Context, e Entry) (next *Entry) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Str("channel_id", e.ChannelID).Interface("panic", r).Msg("backfill step panicked")
			next = nil
		}
	}()
	return q.step(ctx, e)
}
