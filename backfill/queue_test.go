package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestEnqueueReplacesPendingCursorsKeepingOrder(t *testing.T) {
	q := NewQueue(func(context.Context, Entry) *Entry { return nil }, QueueOptions{}, zerolog.Nop())

	_ = q.Enqueue(Entry{ChannelID: "a", State: TopPaging{UnparsedID: "1"}})
	_ = q.Enqueue(Entry{ChannelID: "b", State: TopPaging{UnparsedID: "2"}})
	_ = q.Enqueue(Entry{ChannelID: "a", State: TopPaging{UnparsedID: "3"}})

	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	first, _ := q.take()
	if first.ChannelID != "a" || first.State.(TopPaging).UnparsedID != "3" {
		t.Fatalf("first entry = %+v, want a with latest cursors", first)
	}
	second, _ := q.take()
	if second.ChannelID != "b" {
		t.Fatalf("second entry = %+v", second)
	}
}

func TestEnqueueWhileRunningReplacesStepResult(t *testing.T) {
	q := NewQueue(func(context.Context, Entry) *Entry { return nil }, QueueOptions{}, zerolog.Nop())
	_ = q.Enqueue(Entry{ChannelID: "a", State: BottomPaging{EarliestID: "5"}})

	e, _ := q.take()
	if err := q.Enqueue(Entry{ChannelID: "a", State: TopPaging{UnparsedID: "9"}}); err != nil {
		t.Fatal(err)
	}
	if q.Len() != 0 {
		t.Fatal("running channel was queued twice")
	}
	q.finish(e.ChannelID, &Entry{ChannelID: "a", State: BottomPaging{EarliestID: "4"}})

	next, ok := q.take()
	if !ok {
		t.Fatal("deferred entry lost")
	}
	if _, top := next.State.(TopPaging); !top {
		t.Fatalf("deferred enqueue did not win: %+v", next)
	}
}

func TestIdleFiresOncePerBusyPeriod(t *testing.T) {
	var busy, idle int
	q := NewQueue(func(context.Context, Entry) *Entry { return nil }, QueueOptions{
		OnBusy: func() { busy++ },
		OnIdle: func() { idle++ },
	}, zerolog.Nop())

	_ = q.Enqueue(Entry{ChannelID: "a", State: TopPaging{}})
	_ = q.Enqueue(Entry{ChannelID: "b", State: TopPaging{}})
	for i := 0; i < 2; i++ {
		e, _ := q.take()
		q.finish(e.ChannelID, nil)
	}
	if busy != 1 || idle != 1 {
		t.Fatalf("busy=%d idle=%d, want 1 and 1", busy, idle)
	}

	_ = q.Enqueue(Entry{ChannelID: "c", State: TopPaging{}})
	e, _ := q.take()
	q.finish(e.ChannelID, nil)
	if busy != 2 || idle != 2 {
		t.Fatalf("second period: busy=%d idle=%d", busy, idle)
	}
}

func TestWorkersNeverRunAChannelConcurrently(t *testing.T) {
	var (
		mu      sync.Mutex
		running = map[string]bool{}
		steps   atomic.Int64
		overlap atomic.Bool
	)
	idle := make(chan struct{})

	step := func(_ context.Context, e Entry) *Entry {
		mu.Lock()
		if running[e.ChannelID] {
			overlap.Store(true)
		}
		running[e.ChannelID] = true
		mu.Unlock()

		time.Sleep(time.Millisecond)
		steps.Add(1)

		mu.Lock()
		running[e.ChannelID] = false
		mu.Unlock()

		st := e.State.(BottomPaging)
		if st.EarliestID == "0" {
			return nil
		}
		var n int
		fmt.Sscan(st.EarliestID, &n)
		return &Entry{ChannelID: e.ChannelID, State: BottomPaging{EarliestID: fmt.Sprint(n - 1)}}
	}

	q := NewQueue(step, QueueOptions{Workers: 4, OnIdle: func() { close(idle) }}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 10; i++ {
		_ = q.Enqueue(Entry{ChannelID: fmt.Sprint(i), State: BottomPaging{EarliestID: "4"}})
	}
	q.Start(ctx)

	select {
	case <-idle:
	case <-time.After(5 * time.Second):
		t.Fatal("queue never went idle")
	}
	if overlap.Load() {
		t.Fatal("a channel ran on two workers at once")
	}
	if got := steps.Load(); got != 50 {
		t.Fatalf("ran %d steps, want 50", got)
	}
	if _, err := q.Close(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestCloseRejectsNewWorkAndWaitsForRunningSteps(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	step := func(_ context.Context, e Entry) *Entry {
		if e.ChannelID == "slow" {
			close(started)
			<-release
			finished.Store(true)
		}
		return &e
	}
	q := NewQueue(step, QueueOptions{Workers: 1}, zerolog.Nop())
	ctx := context.Background()
	_ = q.Enqueue(Entry{ChannelID: "slow", State: TopPaging{}})
	q.Start(ctx)
	<-started
	_ = q.Enqueue(Entry{ChannelID: "waiting", State: TopPaging{}})

	done := make(chan int)
	go func() {
		left, _ := q.Close(ctx)
		done <- left
	}()

	// Close must not return while the step is running.
	select {
	case <-done:
		t.Fatal("Close returned before the running step finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	left := <-done
	if !finished.Load() {
		t.Fatal("running step did not complete")
	}
	if left != 1 {
		t.Fatalf("Close left %d pending, want 1", left)
	}
	if err := q.Enqueue(Entry{ChannelID: "late"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Enqueue after Close = %v, want ErrQueueClosed", err)
	}
}

func TestRateLimitSpacesSteps(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	idle := make(chan struct{})
	step := func(context.Context, Entry) *Entry {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return nil
	}
	q := NewQueue(step, QueueOptions{Workers: 3, RatePerSecond: 50, Burst: 1, OnIdle: func() { close(idle) }}, zerolog.Nop())
	for i := 0; i < 4; i++ {
		_ = q.Enqueue(Entry{ChannelID: fmt.Sprint(i), State: TopPaging{}})
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	select {
	case <-idle:
	case <-time.After(5 * time.Second):
		t.Fatal("queue never went idle")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(times) != 4 {
		t.Fatalf("ran %d steps, want 4", len(times))
	}
	// Four steps at 50/s with burst 1 need at least three 20ms intervals.
	if span := times[len(times)-1].Sub(times[0]); span < 50*time.Millisecond {
		t.Fatalf("steps spanned %v, rate limit not applied", span)
	}
}
