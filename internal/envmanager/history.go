package envmanager

import (
	"sync"
	"time"
)

const defaultHistorySize = 600

// TickRecord describes one completed tick.
type TickRecord struct {
	Seq      uint64        `json:"seq"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration_ns"`
	Snapshot bool          `json:"snapshot"`
}

// tickHistory is a fixed-size ring of the most recent ticks.
type tickHistory struct {
	mu      sync.Mutex
	records []TickRecord
	next    int
	full    bool
}

func newTickHistory(size int) *tickHistory {
	return &tickHistory{records: make([]TickRecord, size)}
}

func (h *tickHistory) add(r TickRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[h.next] = r
	h.next++
	if h.next == len(h.records) {
		h.next = 0
		h.full = true
	}
}

// snapshot returns the records oldest first.
func (h *tickHistory) snapshot() []TickRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]TickRecord(nil), h.records[:h.next]...)
	}
	out := make([]TickRecord, 0, len(h.records))
	out = append(out, h.records[h.next:]...)
	return append(out, h.records[:h.next]...)
}

func (h *tickHistory) last() (TickRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full && h.next == 0 {
		return TickRecord{}, false
	}
	i := h.next - 1
	if i < 0 {
		i = len(h.records) - 1
	}
	return h.records[i], true
}
