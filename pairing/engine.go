// Package pairing establishes a shared application key between two units.
// Both sides advertise a fresh curve25519 public key in the clear; once a
// peer key is known each side derives the shared secret, and the
// distributor sends its active key encrypted under that secret.
package pairing

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/srivardhansajja/covert/hal"
	"github.com/srivardhansajja/covert/keystore"
	"github.com/srivardhansajja/covert/protocol"
)

var (
	ErrWrongState = errors.New("frame not expected in current pairing state")
	ErrOwnKey     = errors.New("received own public key")
)

// Transmitter puts a raw frame on air.
type Transmitter interface {
	Transmit(frame []byte) error
}

// KeyStore persists a received key.
type KeyStore interface {
	SetKey(k protocol.Key) error
}

// KeyHolder owns the active application key.
type KeyHolder interface {
	Key() (protocol.Key, bool)
	SetKey(k protocol.Key) error
}

type Config struct {
	// Distributor selects the side that hands out its key.
	Distributor bool

	Radio   Transmitter
	RNG     hal.RNG
	Clock   hal.Clock
	Store   KeyStore
	Channel KeyHolder

	// Indicators blinked while the key is distributed.
	LED1, LED2 hal.OutputPin

	// Defaults to protocol.AdvertiseAttempts and
	// protocol.DistributeAttempts.
	AdvertiseAttempts  int
	DistributeAttempts int

	Log slog.Logger
}

// Stats counts pairing outcomes since boot.
type Stats struct {
	Completed uint64
	Abandoned uint64
	Rejected  uint64
}

// Engine is the pairing state machine. Trigger and Poll run on the main
// loop; HandlePublicKey and HandleKeyRotation run on the radio interrupt
// path and only record what they received.
type Engine struct {
	cfg  Config
	log  slog.Logger
	keys *protocol.KeyPair

	state atomic.Uint32

	mu       sync.Mutex
	attempts int
	peer     *[protocol.PublicKeySize]byte
	secret   *protocol.Cipher
	staged   *protocol.Key

	completed, abandoned, rejected atomic.Uint64
}

// New generates this boot's key pair from eight RNG words.
func New(cfg Config) (*Engine, error) {
	if cfg.AdvertiseAttempts <= 0 {
		cfg.AdvertiseAttempts = protocol.AdvertiseAttempts
	}
	if cfg.DistributeAttempts <= 0 {
		cfg.DistributeAttempts = protocol.DistributeAttempts
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}

	var words [protocol.SecretSize / 4]uint32
	if err := hal.ReadUint32s(cfg.RNG, words[:]); err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	var seed [protocol.SecretSize]byte
	for i, w := range words {
		seed[i*4] = byte(w)
		seed[i*4+1] = byte(w >> 8)
		seed[i*4+2] = byte(w >> 16)
		seed[i*4+3] = byte(w >> 24)
	}
	keys, err := protocol.NewKeyPair(seed)
	if err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg, log: log, keys: keys}, nil
}

// PublicKey returns the key advertised by this unit.
func (e *Engine) PublicKey() [protocol.PublicKeySize]byte { return e.keys.Public }

// State returns the current phase.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	old := State(e.state.Swap(uint32(s)))
	if old != s {
		e.log.Debugf("Pairing %v -> %v", old, s)
	}
}

// Trigger starts advertising. It reports false when a pairing is already
// in progress.
func (e *Engine) Trigger() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.CompareAndSwap(uint32(Idle), uint32(Advertising)) {
		return false
	}
	e.attempts = 0
	e.peer, e.secret, e.staged = nil, nil, nil
	e.log.Infof("Pairing started")
	return true
}

// Poll runs one main-loop step of the pairing protocol. It reports whether
// the step consumed the iteration, in which case the caller skips its
// other work.
func (e *Engine) Poll() bool {
	switch e.State() {
	case Advertising, AwaitingPeerKey:
		return e.pollAdvertise()
	case Exchanged:
		return e.pollExchange()
	case DistributingKey:
		return e.pollDistribute()
	case Done:
		e.reset()
		e.completed.Add(1)
		e.log.Infof("Pairing complete")
		return false
	default:
		return false
	}
}

func (e *Engine) pollAdvertise() bool {
	e.mu.Lock()
	havePeer := e.peer != nil
	attempts := e.attempts
	e.mu.Unlock()

	if havePeer {
		e.setState(Exchanged)
		return e.pollExchange()
	}
	if attempts >= e.cfg.AdvertiseAttempts {
		e.abandon("no peer after %d advertisements", attempts)
		return false
	}

	e.advertise()
	e.mu.Lock()
	e.attempts++
	e.mu.Unlock()
	e.state.CompareAndSwap(uint32(Advertising), uint32(AwaitingPeerKey))

	jitter, err := e.cfg.RNG.Uint32()
	if err != nil {
		e.abandon("rng: %v", err)
		return true
	}
	e.cfg.Clock.Sleep(protocol.AdvertiseDelay +
		time.Duration(jitter&protocol.AdvertiseJitter)*time.Millisecond)
	return true
}

func (e *Engine) advertise() {
	frame := protocol.EncodePublicKeyPacket(e.keys.Public)
	if err := e.send(frame[:]); err != nil {
		e.log.Debugf("Advertisement not sent: %v", err)
	}
}

// pollExchange answers the peer once, so a unit that started earlier also
// learns our key, then derives the shared secret.
func (e *Engine) pollExchange() bool {
	e.mu.Lock()
	peer := e.peer
	e.mu.Unlock()
	if peer == nil {
		e.abandon("exchange without peer key")
		return false
	}

	e.advertise()

	secret, err := e.keys.SharedSecret(*peer)
	if err != nil {
		e.rejected.Add(1)
		e.abandon("peer key: %v", err)
		return true
	}
	ciph, err := protocol.NewCipher(secret[:])
	for i := range secret {
		secret[i] = 0
	}
	if err != nil {
		e.abandon("shared secret cipher: %v", err)
		return true
	}

	e.mu.Lock()
	e.secret = ciph
	e.attempts = 0
	e.mu.Unlock()
	e.setState(DistributingKey)
	return true
}

func (e *Engine) pollDistribute() bool {
	e.mu.Lock()
	staged := e.staged
	e.staged = nil
	attempts := e.attempts
	secret := e.secret
	e.mu.Unlock()

	if staged != nil && e.commit(*staged) {
		e.setState(Done)
		return true
	}
	if attempts >= e.cfg.DistributeAttempts {
		if !e.cfg.Distributor {
			e.abandon("no key received after %d cycles", attempts)
			return false
		}
		e.reset()
		e.completed.Add(1)
		e.log.Infof("Key distributed %d times", attempts)
		return false
	}

	if e.cfg.Distributor {
		e.distribute(secret)
	}
	e.mu.Lock()
	e.attempts++
	e.mu.Unlock()

	e.blink(false, true)
	e.cfg.Clock.Sleep(protocol.DistributeBlink)
	e.blink(true, false)
	e.cfg.Clock.Sleep(protocol.DistributeBlink)
	return true
}

// distribute sends the active key under the shared-secret cipher. The
// channel's own cipher is never touched.
func (e *Engine) distribute(secret *protocol.Cipher) {
	key, ok := e.cfg.Channel.Key()
	if !ok || secret == nil {
		e.log.Warnf("No key to distribute")
		return
	}
	frame, err := protocol.SealKeyRotation(secret, key)
	if err != nil {
		e.log.Errorf("Seal key rotation: %v", err)
		return
	}
	if err := e.send(frame[:]); err != nil {
		e.log.Debugf("Key rotation not sent: %v", err)
		return
	}
	e.log.Tracef("Distributed key %s", key.Fingerprint())
}

// commit persists and installs a received key. On failure the active key
// is left unchanged and distribution continues.
func (e *Engine) commit(key protocol.Key) bool {
	if err := e.cfg.Store.SetKey(key); err != nil {
		e.log.Errorf("Failed to persist received key: %v", err)
		return false
	}
	if err := e.cfg.Channel.SetKey(key); err != nil {
		e.log.Errorf("Failed to install received key: %v", err)
		return false
	}
	e.log.Infof("Received key %s", key.Fingerprint())
	return true
}

func (e *Engine) send(frame []byte) error {
	var err error
	for attempt := 0; attempt < protocol.SendAttempts; attempt++ {
		if err = e.cfg.Radio.Transmit(frame); err == nil {
			return nil
		}
		e.cfg.Clock.Sleep(protocol.SendBackoff)
	}
	return err
}

func (e *Engine) blink(led1, led2 bool) {
	if e.cfg.LED1 != nil {
		e.cfg.LED1.Set(led1)
	}
	if e.cfg.LED2 != nil {
		e.cfg.LED2.Set(led2)
	}
}

func (e *Engine) abandon(format string, args ...interface{}) {
	e.log.Infof("Pairing abandoned: "+format, args...)
	e.abandoned.Add(1)
	e.reset()
}

func (e *Engine) reset() {
	e.mu.Lock()
	e.peer, e.secret, e.staged = nil, nil, nil
	e.attempts = 0
	e.mu.Unlock()
	e.setState(Idle)
}

// HandlePublicKey records a peer's advertisement. Keys are only taken
// while advertising or waiting for a peer; the first one wins.
func (e *Engine) HandlePublicKey(pub [protocol.PublicKeySize]byte) error {
	if !e.State().acceptsPublicKey() {
		return ErrWrongState
	}
	if pub == e.keys.Public {
		return ErrOwnKey
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.peer == nil {
		e.peer = &pub
	}
	return nil
}

// HandleKeyRotation opens a key-rotation frame with the shared secret and
// stages the key for the next Poll. Frames that fail verification leave
// no trace.
func (e *Engine) HandleKeyRotation(frame []byte) error {
	if e.cfg.Distributor || e.State() != DistributingKey {
		return ErrWrongState
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.secret == nil {
		return ErrWrongState
	}
	key, err := protocol.OpenKeyRotation(e.secret, frame)
	if err != nil {
		e.rejected.Add(1)
		return err
	}
	if !keystore.ValidKey(key) {
		e.rejected.Add(1)
		return protocol.ErrInvalidKey
	}
	e.staged = &key
	return nil
}

// Stats returns a snapshot of the pairing counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Completed: e.completed.Load(),
		Abandoned: e.abandoned.Load(),
		Rejected:  e.rejected.Load(),
	}
}
