// Package timeutil provides a testable abstraction over the clock and the
// tickers that drive periodic work.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the time source of the broadcast loop and the recorder.
type Clock interface {
	// Now returns the current time. Real implementations carry a
	// monotonic reading so that Since is immune to wall-clock steps.
	Now() time.Time

	// Since is Now().Sub(t).
	Since(t time.Time) time.Duration

	// NewTicker returns a Ticker that delivers the time every d.
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of *time.Ticker the loops use.
type Ticker interface {
	C() <-chan time.Time

	// Stop ends delivery. It does not close C.
	Stop()

	// Reset restarts delivery with a new period.
	Reset(d time.Duration)
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time   { return t.ticker.C }
func (t *realTicker) Stop()                 { t.ticker.Stop() }
func (t *realTicker) Reset(d time.Duration) { t.ticker.Reset(d) }

// MockClock is a manually driven Clock for tests. Time only moves on Set
// or Advance, and only Advance fires tickers.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*MockTicker
}

// NewMockClock returns a MockClock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Set jumps to t without firing tickers, like a wall-clock step.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d and fires every ticker whose
// deadline has passed.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*MockTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.advance(now)
	}
}

// NewTicker returns a *MockTicker whose first deadline is d from now.
func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &MockTicker{
		clock:    c,
		ch:       make(chan time.Time, 1),
		interval: d,
		next:     c.now.Add(d),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// TickerCount returns how many tickers were created on this clock,
// stopped ones included.
func (c *MockClock) TickerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers)
}

// WaitForTickers polls until at least n tickers exist or timeout passes in
// real time. Tests use it to know a goroutine has reached its loop before
// calling Advance.
func (c *MockClock) WaitForTickers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for c.TickerCount() < n {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
	return true
}

// MockTicker is the Ticker handed out by MockClock. Like time.Ticker it
// buffers one tick and drops the rest while the reader is behind.
type MockTicker struct {
	clock *MockClock

	mu       sync.Mutex
	ch       chan time.Time
	interval time.Duration
	next     time.Time
	stopped  bool
	missed   int
}

func (t *MockTicker) C() <-chan time.Time {
	return t.ch
}

func (t *MockTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Reset restarts the ticker with period d, first firing d after the
// clock's current time.
func (t *MockTicker) Reset(d time.Duration) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = false
	t.interval = d
	t.next = now.Add(d)
}

// Stopped reports whether Stop was called since the last Reset.
func (t *MockTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Missed returns how many ticks were dropped because the channel was full.
func (t *MockTicker) Missed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.missed
}

// Trigger delivers a tick carrying now regardless of the deadline.
func (t *MockTicker) Trigger(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.send(now)
}

func (t *MockTicker) send(now time.Time) {
	select {
	case t.ch <- now:
	default:
		t.missed++
	}
}

// advance fires at most once however many periods now spans, then moves
// the deadline to the next multiple of the interval after now.
func (t *MockTicker) advance(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || now.Before(t.next) {
		return
	}
	t.send(now)
	periods := now.Sub(t.next)/t.interval + 1
	t.next = t.next.Add(periods * t.interval)
}
