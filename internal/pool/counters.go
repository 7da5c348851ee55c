package pool

import (
	"sync"

	"github.com/spindleworks/spindle/internal/protocol"
)

// CounterSnapshot is the per-event dispatch tally.
type CounterSnapshot struct {
	Blocked    int64 `json:"blocked"`
	Nonblocked int64 `json:"nonblocked"`
	Reply      int64 `json:"reply"`
}

// Counters tallies dispatches per event name. Counts only grow; there is no
// reset short of a process restart.
type Counters struct {
	mu     sync.Mutex
	events map[string]*CounterSnapshot
}

// NewCounters creates an empty tally.
func NewCounters() *Counters {
	return &Counters{events: make(map[string]*CounterSnapshot)}
}

// Record classifies one dispatch by its header flags and increments the
// matching bucket.
func (c *Counters) Record(event string, flags protocol.Flags) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.events[event]
	if !ok {
		s = &CounterSnapshot{}
		c.events[event] = s
	}

	switch {
	case flags&(protocol.FlagReply|protocol.FlagFinish) != 0:
		s.Reply++
	case flags&protocol.FlagSrcBlock != 0:
		s.Blocked++
	default:
		s.Nonblocked++
	}
}

// Snapshot returns a copy of the per-event tallies.
func (c *Counters) Snapshot() map[string]CounterSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]CounterSnapshot, len(c.events))
	for event, s := range c.events {
		out[event] = *s
	}
	return out
}
