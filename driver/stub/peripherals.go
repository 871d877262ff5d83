//go:build !tinygo && !baremetal

package stub

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// Pin is a simulated GPIO usable as output or input.
type Pin struct {
	high    atomic.Bool
	toggles atomic.Uint64
}

func (p *Pin) Set(high bool) {
	if p.high.Swap(high) != high {
		p.toggles.Add(1)
	}
}

func (p *Pin) Get() bool { return p.high.Load() }

// Toggles returns the number of level changes so far.
func (p *Pin) Toggles() uint64 { return p.toggles.Load() }

// PWM records the duty cycles an actuator was driven with.
type PWM struct {
	mu     sync.Mutex
	duty   uint16
	trace  []uint16
	record bool
}

// NewPWM returns a PWM. With record set every duty change is kept.
func NewPWM(record bool) *PWM { return &PWM{record: record} }

func (p *PWM) SetDuty(duty uint16) {
	p.mu.Lock()
	p.duty = duty
	if p.record {
		p.trace = append(p.trace, duty)
	}
	p.mu.Unlock()
}

// Duty returns the current duty cycle.
func (p *PWM) Duty() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// Trace returns the recorded duty cycles.
func (p *PWM) Trace() []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint16(nil), p.trace...)
}

// RNG is a random source backed by the operating system or, for tests, a
// seeded generator.
type RNG struct {
	mu   sync.Mutex
	prng *mrand.Rand
	err  error
}

// NewRNG returns an RNG reading from crypto/rand.
func NewRNG() *RNG { return &RNG{} }

// NewSeededRNG returns a reproducible RNG.
func NewSeededRNG(seed uint64) *RNG {
	return &RNG{prng: mrand.New(mrand.NewPCG(seed, seed^0x9E3779B97F4A7C15))}
}

func (r *RNG) Uint32() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return 0, r.err
	}
	if r.prng != nil {
		return r.prng.Uint32(), nil
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// SetFault makes Uint32 fail with err until cleared with nil.
func (r *RNG) SetFault(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// SystemClock is the host wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// FakeClock is a manual clock. Sleep advances it instead of blocking.
type FakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
	hook  func()
}

// NewFakeClock returns a clock starting at an arbitrary fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept += d
	hook := c.hook
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
}

// OnSleep registers fn to run after every Sleep, standing in for the
// interrupts that would fire while the caller blocks.
func (c *FakeClock) OnSleep(fn func()) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

// Advance moves the clock forward without counting as sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Slept returns the total duration passed to Sleep.
func (c *FakeClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}
