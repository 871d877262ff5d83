// Package channel implements the encrypted application channel: sealing
// gestures into wire packets under the active key, and opening, replay
// checking and forwarding inbound ones.
package channel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/srivardhansajja/covert/hal"
	"github.com/srivardhansajja/covert/protocol"
)

var ErrNoKey = errors.New("no active key")

// Transmitter puts a raw frame on air.
type Transmitter interface {
	Transmit(frame []byte) error
}

// Player receives accepted payloads. Play reports false when the payload
// could not be played.
type Player interface {
	Play(pattern uint64) bool
}

// SequenceStore persists the local sequence high-water mark.
type SequenceStore interface {
	Sequence() (uint32, error)
	SetSequence(seq uint32) error
}

type Config struct {
	ID     protocol.DeviceID
	Radio  Transmitter
	Store  SequenceStore
	RNG    hal.RNG
	Clock  hal.Clock
	Player Player

	// Attempts bounds the transmissions tried per repeat while the radio
	// is busy. Defaults to protocol.SendAttempts.
	Attempts int
	// Backoff is the delay between attempts. Defaults to
	// protocol.SendBackoff.
	Backoff time.Duration

	Log slog.Logger
}

// Stats counts channel activity since boot.
type Stats struct {
	Sent     uint64
	Failed   uint64
	Accepted uint64
	Replayed uint64
	Rejected uint64
	Dropped  uint64
}

type activeKey struct {
	key    protocol.Key
	cipher *protocol.Cipher
}

// Channel is the secure application channel of one device.
type Channel struct {
	cfg Config
	log slog.Logger

	active atomic.Pointer[activeKey]
	table  SequenceTable

	seqMu sync.Mutex
	seq   uint32
	limit uint32

	sent, failed       atomic.Uint64
	accepted, replayed atomic.Uint64
	rejected, dropped  atomic.Uint64
}

// New returns a channel without an active key. Start must be called
// before sending.
func New(cfg Config) *Channel {
	if cfg.Attempts <= 0 {
		cfg.Attempts = protocol.SendAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = protocol.SendBackoff
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Channel{cfg: cfg, log: log}
}

// Start establishes the outgoing counter for this boot. The persisted mark
// is used when valid, otherwise a random start is drawn; with fresh set the
// persisted mark is ignored. The end of the reserved range is persisted
// before any number from it is used.
func (c *Channel) Start(fresh bool) error {
	stored, err := c.cfg.Store.Sequence()
	if err != nil {
		return err
	}
	if fresh {
		stored = 0
	}
	random, err := c.cfg.RNG.Uint32()
	if err != nil {
		return fmt.Errorf("sequence start: %w", err)
	}
	base := protocol.SequenceStart(stored, random)
	limit := base + protocol.SequenceReserve
	if err := c.cfg.Store.SetSequence(limit); err != nil {
		return err
	}

	c.seqMu.Lock()
	c.seq, c.limit = base, limit
	c.seqMu.Unlock()

	// Our own frames echoed back at us are stale by construction.
	c.table.Accept(c.cfg.ID, base)

	c.log.Infof("Sequence counter starts at %d (reserved to %d)", base, limit)
	return nil
}

// NextSequence returns the next outgoing sequence number, persisting a new
// reservation when the current one is used up. A number is never handed
// out twice, even when persisting fails.
func (c *Channel) NextSequence() (uint32, error) {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	if c.seq >= c.limit {
		limit := c.seq + protocol.SequenceReserve
		if err := c.cfg.Store.SetSequence(limit); err != nil {
			return 0, err
		}
		c.limit = limit
		c.log.Debugf("Reserved sequence numbers up to %d", limit)
	}
	c.seq++
	return c.seq, nil
}

// SetKey installs k as the active key.
func (c *Channel) SetKey(k protocol.Key) error {
	ciph, err := protocol.NewCipher(k[:])
	if err != nil {
		return err
	}
	c.active.Store(&activeKey{key: k, cipher: ciph})
	c.log.Infof("Active key %s", k.Fingerprint())
	return nil
}

// Key returns the active key.
func (c *Channel) Key() (protocol.Key, bool) {
	a := c.active.Load()
	if a == nil {
		return protocol.Key{}, false
	}
	return a.key, true
}

// EncryptAndSend seals payload once and transmits the frame repeats times.
// Each transmission is retried with backoff while the radio refuses it; a
// transmission that exhausts its attempts is dropped. An error is returned
// only when no copy went out.
func (c *Channel) EncryptAndSend(payload uint64, repeats int) error {
	a := c.active.Load()
	if a == nil {
		return ErrNoKey
	}
	seq, err := c.NextSequence()
	if err != nil {
		return err
	}
	frame, err := protocol.SealWirePacket(a.cipher, protocol.WirePacket{
		DeviceID: c.cfg.ID,
		Seq:      seq,
		Payload:  payload,
	})
	if err != nil {
		return err
	}
	c.table.Accept(c.cfg.ID, seq)

	var sent int
	var lastErr error
	for i := 0; i < repeats; i++ {
		if err := c.transmit(frame[:]); err != nil {
			lastErr = err
			c.failed.Add(1)
			c.log.Debugf("Dropped copy %d of seq %d: %v", i+1, seq, err)
			continue
		}
		sent++
		c.sent.Add(1)
	}
	if sent == 0 && repeats > 0 {
		return lastErr
	}
	c.log.Tracef("Sent payload %016x seq %d (%d/%d copies)", payload, seq, sent, repeats)
	return nil
}

func (c *Channel) transmit(frame []byte) error {
	var err error
	for attempt := 0; attempt < c.cfg.Attempts; attempt++ {
		if err = c.cfg.Radio.Transmit(frame); err == nil {
			return nil
		}
		if attempt < c.cfg.Attempts-1 {
			c.cfg.Clock.Sleep(c.cfg.Backoff)
		}
	}
	return err
}

// Receive opens an application frame and, when it is authentic and fresh,
// hands the payload to the player. Rejected frames leave no trace besides
// the counters.
func (c *Channel) Receive(frame []byte) error {
	if len(frame) != protocol.WireFrameSize {
		c.rejected.Add(1)
		return protocol.ErrFrameLength
	}
	a := c.active.Load()
	if a == nil {
		c.rejected.Add(1)
		return ErrNoKey
	}
	p, err := protocol.OpenWirePacket(a.cipher, frame)
	if err != nil {
		c.rejected.Add(1)
		return err
	}
	if !c.table.Accept(p.DeviceID, p.Seq) {
		c.replayed.Add(1)
		return protocol.ErrReplay
	}

	c.accepted.Add(1)
	c.log.Tracef("Accepted seq %d from device %d", p.Seq, p.DeviceID)
	if c.cfg.Player != nil && !c.cfg.Player.Play(p.Payload) {
		c.dropped.Add(1)
		c.log.Debugf("Payload from device %d dropped: capture in progress", p.DeviceID)
	}
	return nil
}

// Highest returns the sequence high-water mark recorded for id.
func (c *Channel) Highest(id protocol.DeviceID) uint32 { return c.table.Highest(id) }

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return Stats{
		Sent:     c.sent.Load(),
		Failed:   c.failed.Load(),
		Accepted: c.accepted.Load(),
		Replayed: c.replayed.Load(),
		Rejected: c.rejected.Load(),
		Dropped:  c.dropped.Load(),
	}
}
