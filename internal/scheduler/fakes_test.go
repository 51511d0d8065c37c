package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ozoneai/ozone/internal/delivery"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs due callbacks on the calling goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type recordingDeliverer struct {
	mu       sync.Mutex
	requests []delivery.Request
	result   delivery.Result
}

func (r *recordingDeliverer) Deliver(_ context.Context, req delivery.Request) delivery.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.result
}

func (r *recordingDeliverer) Requests() []delivery.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery.Request(nil), r.requests...)
}

type staticDestinations map[delivery.Connector]string

func (s staticDestinations) DefaultDestination(_ context.Context, _ string, connector delivery.Connector) (string, error) {
	return s[connector], nil
}

// claimingStore refuses every claim, as if another instance took the task.
type claimingStore struct {
	*MemoryStore
	claims int
}

func (c *claimingStore) Claim(_ context.Context, _ string, _ time.Time) (bool, error) {
	c.claims++
	return false, nil
}

// blockingDeliverer holds every delivery until release is closed.
type blockingDeliverer struct {
	recordingDeliverer
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingDeliverer() *blockingDeliverer {
	return &blockingDeliverer{
		recordingDeliverer: recordingDeliverer{result: delivery.Result{OK: true}},
		entered:            make(chan struct{}),
		release:            make(chan struct{}),
	}
}

func (b *blockingDeliverer) Deliver(ctx context.Context, req delivery.Request) delivery.Result {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.recordingDeliverer.Deliver(ctx, req)
}

// hookDeliverer calls during inside the connector call.
type hookDeliverer struct {
	recordingDeliverer
	during func()
}

func (h *hookDeliverer) Deliver(ctx context.Context, req delivery.Request) delivery.Result {
	h.during()
	return h.recordingDeliverer.Deliver(ctx, req)
}

// failingStore rejects saves while failing is set.
type failingStore struct {
	*MemoryStore
	mu      sync.Mutex
	failing bool
}

func (f *failingStore) SetFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *failingStore) Save(ctx context.Context, tasks []ScheduledTask) error {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return f.MemoryStore.Save(ctx, tasks)
}
