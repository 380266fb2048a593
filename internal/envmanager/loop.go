package envmanager

import (
	"context"
	"time"

	"github.com/banshee-data/roadway/internal/timeutil"
)

// DefaultTickPeriod is the broadcast cadence when none is configured.
const DefaultTickPeriod = time.Second

// TickFunc runs one tick. seq starts at zero and grows by one per tick.
type TickFunc func(now time.Time, seq uint64)

// Loop drives a TickFunc at a fixed period. The first tick runs as soon as
// Run starts; later ticks follow the ticker. Cancellation is observed only
// between ticks, so a tick in progress always completes.
type Loop struct {
	period time.Duration
	clock  timeutil.Clock
	tick   TickFunc

	// seq is owned by the Run goroutine.
	seq uint64
}

// NewLoop returns a loop calling tick every period. A non-positive period
// means DefaultTickPeriod.
func NewLoop(period time.Duration, clock timeutil.Clock, tick TickFunc) *Loop {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Loop{period: period, clock: clock, tick: tick}
}

// Period returns the tick period.
func (l *Loop) Period() time.Duration { return l.period }

// Run ticks until ctx is cancelled and then returns context.Cause(ctx).
func (l *Loop) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	ticker := l.clock.NewTicker(l.period)
	defer ticker.Stop()

	l.step(l.clock.Now())
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case now := <-ticker.C():
			// Both cases may be ready at once; cancellation wins.
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			l.step(now)
		}
	}
}

func (l *Loop) step(now time.Time) {
	l.tick(now, l.seq)
	l.seq++
}
