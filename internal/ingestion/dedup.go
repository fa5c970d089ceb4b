package ingestion

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultDedupCapacity is how many client message IDs the command guard
// remembers.
const DefaultDedupCapacity = 100_000

// Delivery names one command message: its stream sequence and the
// client's Nats-Msg-Id, which may be empty.
type Delivery struct {
	StreamSeq uint64
	MsgID     string
}

// CommandGuard drops commands that were already applied. The command
// consumer delivers one message at a time in stream order, so a stream
// sequence at or below the last settled one is a redelivery. Message IDs
// catch clients that resubmit after the stream's duplicate window.
type CommandGuard struct {
	mu      sync.Mutex
	lastSeq uint64
	recent  *lru.Cache[string, uint64]
}

func NewCommandGuard(capacity int) (*CommandGuard, error) {
	if capacity < 1 {
		capacity = DefaultDedupCapacity
	}
	recent, err := lru.New[string, uint64](capacity)
	if err != nil {
		return nil, err
	}
	return &CommandGuard{recent: recent}, nil
}

// Seen reports whether d repeats a settled command, and which check
// caught it.
func (g *CommandGuard) Seen(d Delivery) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d.StreamSeq != 0 && d.StreamSeq <= g.lastSeq {
		return true, "redelivered"
	}
	if d.MsgID != "" && g.recent.Contains(d.MsgID) {
		return true, "msg_id"
	}
	return false, ""
}

// Settle records d as final, whether it applied or was rejected.
func (g *CommandGuard) Settle(d Delivery) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d.StreamSeq > g.lastSeq {
		g.lastSeq = d.StreamSeq
	}
	if d.MsgID != "" {
		g.recent.Add(d.MsgID, d.StreamSeq)
	}
}

// Len is the number of remembered message IDs.
func (g *CommandGuard) Len() int {
	return g.recent.Len()
}
