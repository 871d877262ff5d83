//go:build !tinygo && !baremetal

package stub

import "sync"

// Air is a shared radio medium. Every frame a chip transmits is offered to
// all other attached chips; those not in receive mode miss it, as they
// would on a real channel. The most recent frames are kept for inspection.
type Air struct {
	mu    sync.Mutex
	chips []*Chip
	log   ringBuffer

	sent      uint64
	delivered uint64
	missed    uint64
}

// NewAir returns an empty medium.
func NewAir() *Air { return &Air{} }

func (a *Air) attach(c *Chip) {
	a.mu.Lock()
	a.chips = append(a.chips, c)
	a.mu.Unlock()
}

// Inject puts a frame on air as if an unknown transmitter sent it.
func (a *Air) Inject(frame []byte) {
	a.broadcast(nil, frame)
}

func (a *Air) broadcast(from *Chip, frame []byte) {
	a.mu.Lock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	a.log.push(cp)
	a.sent++
	chips := make([]*Chip, 0, len(a.chips))
	for _, c := range a.chips {
		if c != from {
			chips = append(chips, c)
		}
	}
	a.mu.Unlock()

	var delivered, missed uint64
	for _, c := range chips {
		if c.receive(frame) {
			delivered++
		} else {
			missed++
		}
	}

	a.mu.Lock()
	a.delivered += delivered
	a.missed += missed
	a.mu.Unlock()
}

// Log returns copies of the most recent frames put on air, oldest first.
func (a *Air) Log() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.log.snapshot()
}

// ClearLog forgets the recorded frames.
func (a *Air) ClearLog() {
	a.mu.Lock()
	a.log = ringBuffer{}
	a.mu.Unlock()
}

// AirStats counts medium activity.
type AirStats struct {
	Sent      uint64
	Delivered uint64
	Missed    uint64
}

// Stats returns a snapshot of the medium counters.
func (a *Air) Stats() AirStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AirStats{Sent: a.sent, Delivered: a.delivered, Missed: a.missed}
}

const ringCapacity = 64

type ringBuffer struct {
	data       [ringCapacity][]byte
	head, tail int // head = oldest, tail = next push
	count      int
}

func (rb *ringBuffer) push(frame []byte) {
	if rb.count == ringCapacity {
		// Overwrite the oldest when full to keep memory bounded
		rb.data[rb.tail] = nil
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = frame
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) snapshot() [][]byte {
	out := make([][]byte, rb.count)
	i := rb.head
	for c := 0; c < rb.count; c++ {
		p := rb.data[i]
		cp := make([]byte, len(p))
		copy(cp, p)
		out[c] = cp
		i = (i + 1) % ringCapacity
	}
	return out
}
