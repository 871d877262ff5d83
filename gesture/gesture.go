// Package gesture records tap patterns from a push button and plays them
// back on a vibration actuator, one bit per timer tick.
package gesture

import (
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/srivardhansajja/covert/hal"
	"github.com/srivardhansajja/covert/protocol"
)

// Gesture timer: a 64 MHz clock divided by TimerPrescaler+1 and reloaded
// every TimerPeriod counts.
const (
	TimerClock     = 64_000_000
	TimerPrescaler = 64
	TimerPeriod    = 25000

	// TickPeriod is the time between two samples, about 25.4 ms.
	TickPeriod = time.Duration((TimerPrescaler+1)*(TimerPeriod+1)) * time.Second / TimerClock

	// DutyOn is the actuator duty cycle for a set bit.
	DutyOn = 0xFFFF
)

// Sink receives completed captures.
type Sink interface {
	Submit(pattern uint64)
}

type Config struct {
	// Button is sampled once per tick while capturing.
	Button hal.InputPin
	// ActiveLow is set when a pressed button reads low.
	ActiveLow bool

	Actuator  hal.PWM
	Indicator hal.OutputPin

	Sink Sink
	Log  slog.Logger
}

// Codec is the capture and playback state machine. Tick is called from the
// timer interrupt; the other methods from button handlers and the radio
// path.
type Codec struct {
	cfg Config
	log slog.Logger

	mu        sync.Mutex
	capturing bool
	capCount  uint
	capData   uint64
	playing   bool
	playCount uint
	playData  uint64
}

func New(cfg Config) *Codec {
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Codec{cfg: cfg, log: log}
}

// StartCapture begins recording. The press that triggered it is bit 0.
// It reports false if a capture is already running.
func (c *Codec) StartCapture() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capturing {
		return false
	}
	c.restartCapture()
	return true
}

func (c *Codec) restartCapture() {
	c.capturing = true
	c.capCount = 1
	c.capData = 1
}

// Play starts playback of pattern, replacing any playback in progress. A
// pattern arriving while a capture runs is dropped and Play reports false.
func (c *Codec) Play(pattern uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capturing {
		return false
	}
	c.playing = true
	c.playCount = 0
	c.playData = pattern
	return true
}

// Tick advances playback and capture by one bit.
func (c *Codec) Tick() {
	c.mu.Lock()
	if c.playing {
		c.playStep()
	}
	var done bool
	var pattern uint64
	if c.capturing {
		done, pattern = c.captureStep()
	}
	c.mu.Unlock()

	if done {
		c.log.Debugf("Captured gesture %016x", pattern)
		if c.cfg.Sink != nil {
			c.cfg.Sink.Submit(pattern)
		}
	}
}

func (c *Codec) playStep() {
	on := c.playData>>c.playCount&1 == 1
	c.playCount++

	var duty uint16
	if on {
		duty = DutyOn
	}
	c.drive(duty, on)

	if c.playCount >= protocol.GestureBits {
		c.playing = false
		c.drive(0, false)
	}
}

func (c *Codec) drive(duty uint16, indicator bool) {
	if c.cfg.Actuator != nil {
		c.cfg.Actuator.SetDuty(duty)
	}
	if c.cfg.Indicator != nil {
		c.cfg.Indicator.Set(indicator)
	}
}

// captureStep samples the button into the next bit. When the buffer is
// full it returns the pattern; a press on the last sample chains straight
// into a new capture.
func (c *Codec) captureStep() (bool, uint64) {
	var bit uint64
	if c.cfg.Button != nil && c.cfg.Button.Get() != c.cfg.ActiveLow {
		bit = 1
	}
	c.capData |= bit << c.capCount
	c.capCount++

	if c.capCount < protocol.GestureBits {
		return false, 0
	}
	pattern := c.capData
	c.capturing = false
	if bit == 1 {
		c.restartCapture()
	}
	return true, pattern
}

// Capturing reports whether a capture is in progress.
func (c *Codec) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// Playing reports whether a playback is in progress.
func (c *Codec) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}
