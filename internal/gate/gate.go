// Package gate implements the startup gate: a write-once readiness cell
// flipped by the first "system ready" alert seen on the bus.
package gate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/roadway/internal/messages"
)

// State is the gate position.
type State int32

const (
	NotReady State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "READY"
	}
	return "NOT_READY"
}

// Gate starts NotReady and moves to Ready exactly once. There is no
// transition back; a restart needs a new process. The zero value is a
// usable NotReady gate.
type Gate struct {
	// readyAt is set once; a non-nil value is the Ready state.
	readyAt  atomic.Pointer[time.Time]
	doneOnce sync.Once
	done     chan struct{}
}

// New returns a gate in the NotReady state.
func New() *Gate {
	g := &Gate{}
	g.doneChan()
	return g
}

func (g *Gate) doneChan() chan struct{} {
	g.doneOnce.Do(func() { g.done = make(chan struct{}) })
	return g.done
}

// Ready reports whether the gate has opened. Once true, ReadyAt also
// reports the opening time.
func (g *Gate) Ready() bool {
	return g.readyAt.Load() != nil
}

// State returns the current gate position.
func (g *Gate) State() State {
	if g.Ready() {
		return Ready
	}
	return NotReady
}

// MarkReady opens the gate at time t. It returns true only for the call
// that performed the transition; later calls are no-ops.
func (g *Gate) MarkReady(t time.Time) bool {
	if !g.readyAt.CompareAndSwap(nil, &t) {
		return false
	}
	close(g.doneChan())
	return true
}

// ReadyAt returns when the gate opened, if it has.
func (g *Gate) ReadyAt() (time.Time, bool) {
	p := g.readyAt.Load()
	if p == nil {
		return time.Time{}, false
	}
	return *p, true
}

// Done is closed when the gate opens.
func (g *Gate) Done() <-chan struct{} {
	return g.doneChan()
}

// HandleAlert applies a system alert and reports whether it opened the
// gate. Only AlertSystemReady has an effect.
func (g *Gate) HandleAlert(alert messages.SystemAlert, t time.Time) bool {
	if alert.Type != messages.AlertSystemReady {
		return false
	}
	return g.MarkReady(t)
}
