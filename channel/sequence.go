package channel

import (
	"sync/atomic"

	"github.com/srivardhansajja/covert/protocol"
)

// SequenceTable tracks the highest accepted sequence number per sender.
// Slots are single words updated with compare-and-swap, so the receive
// path never takes a lock.
type SequenceTable struct {
	highest [256]atomic.Uint32
}

// Accept records seq for id and reports whether it was strictly greater
// than every number previously accepted from id.
func (t *SequenceTable) Accept(id protocol.DeviceID, seq uint32) bool {
	slot := &t.highest[id]
	for {
		cur := slot.Load()
		if seq <= cur {
			return false
		}
		if slot.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

// Highest returns the high-water mark for id; zero if nothing was seen.
func (t *SequenceTable) Highest(id protocol.DeviceID) uint32 {
	return t.highest[id].Load()
}
