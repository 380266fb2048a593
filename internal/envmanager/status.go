package envmanager

import (
	"time"

	"github.com/banshee-data/roadway/internal/inputcache"
)

// Status is a point-in-time summary of the node for diagnostics.
type Status struct {
	ID               string                     `json:"id"`
	State            string                     `json:"state"`
	ReadyAt          *time.Time                 `json:"ready_at,omitempty"`
	TickPeriod       string                     `json:"tick_period"`
	Ticks            uint64                     `json:"ticks"`
	Snapshots        uint64                     `json:"snapshots"`
	PublishErrors    uint64                     `json:"publish_errors"`
	Rejected         uint64                     `json:"rejected"`
	TransformService string                     `json:"transform_service"`
	LastTick         *TickRecord                `json:"last_tick,omitempty"`
	Channels         []inputcache.ChannelStatus `json:"channels"`
}

// Status reports the node state as of now.
func (n *Node) Status() Status {
	st := Status{
		ID:               n.id,
		State:            n.gate.State().String(),
		TickPeriod:       n.cfg.TickPeriod.String(),
		Ticks:            n.ticks.Load(),
		Snapshots:        n.snapshots.Load(),
		PublishErrors:    n.publishErrors.Load(),
		Rejected:         n.rejected.Load(),
		TransformService: ServiceState(n.service.Load()).String(),
		Channels:         n.cache.Status(n.clock.Now()),
	}
	if at, ok := n.gate.ReadyAt(); ok {
		st.ReadyAt = &at
	}
	if last, ok := n.history.last(); ok {
		st.LastTick = &last
	}
	return st
}

// TickHistory returns the most recent ticks, oldest first.
func (n *Node) TickHistory() []TickRecord {
	return n.history.snapshot()
}
