//go:build !tinygo && !baremetal

// This file is built only for non-embedded targets (host simulation).
package covert

import (
	"context"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/srivardhansajja/covert/driver/rfm95"
	"github.com/srivardhansajja/covert/driver/stub"
	"github.com/srivardhansajja/covert/gesture"
	"github.com/srivardhansajja/covert/hal"
	"github.com/srivardhansajja/covert/protocol"
)

// Unit is a device running on simulated peripherals.
type Unit struct {
	*Device

	Chip     *stub.Chip
	Flash    *stub.Flash
	LED1     *stub.Pin
	LED2     *stub.Pin
	Button   *stub.Pin
	Actuator *stub.PWM

	// tapMu orders button changes made by Tap against gesture ticks.
	tapMu sync.Mutex
	tap   *tap
}

// tap is a pattern being played onto the button, one bit per tick.
type tap struct {
	pattern uint64
	next    int
	done    chan struct{}
}

// UnitHardware selects the shared parts of a simulated unit. Nil fields
// get fresh defaults: a volatile flash, the system clock and an OS-backed
// RNG.
type UnitHardware struct {
	Air   *stub.Air
	Flash *stub.Flash
	Clock hal.Clock
	RNG   hal.RNG

	// RecordActuator keeps every duty cycle the actuator is driven with.
	RecordActuator bool
}

// NewUnit builds a simulated device whose radio sits on hw.Air.
func NewUnit(cfg Config, hw UnitHardware) (*Unit, error) {
	if hw.Flash == nil {
		hw.Flash = stub.NewFlash(stub.DefaultPageSize, stub.DefaultPages)
	}
	if hw.Clock == nil {
		hw.Clock = stub.SystemClock{}
	}
	if hw.RNG == nil {
		hw.RNG = stub.NewRNG()
	}
	radioLog := slog.Disabled
	if cfg.Logger != nil {
		radioLog = cfg.Logger("RDIO")
	}

	u := &Unit{
		Chip:     stub.NewChip(hw.Air),
		Flash:    hw.Flash,
		LED1:     new(stub.Pin),
		LED2:     new(stub.Pin),
		Button:   new(stub.Pin),
		Actuator: stub.NewPWM(hw.RecordActuator),
	}
	radio := rfm95.New(rfm95.Config{
		SPI:   u.Chip,
		CS:    u.Chip.CS(),
		Reset: new(stub.Pin),
		Clock: hw.Clock,
		Log:   radioLog,
	})
	dev, err := NewDevice(cfg, Hardware{
		Radio:         radio,
		Flash:         hw.Flash,
		RNG:           hw.RNG,
		Clock:         hw.Clock,
		LED1:          u.LED1,
		LED2:          u.LED2,
		GestureButton: u.Button,
		Actuator:      u.Actuator,
	})
	if err != nil {
		return nil, err
	}
	u.Device = dev
	return u, nil
}

// ServeRadio delivers DIO0 edges of the simulated chip until ctx is done.
func (u *Unit) ServeRadio(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-u.Chip.IRQ():
			u.OnRadioInterrupt()
		}
	}
}

// ServeTicks drives the gesture timer in real time until ctx is done.
func (u *Unit) ServeTicks(ctx context.Context) error {
	t := time.NewTicker(gesture.TickPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			u.tick()
		}
	}
}

// tick presents the next bit of a running tap on the button and then
// fires the gesture timer, so each sample sees the bit meant for it.
func (u *Unit) tick() {
	u.tapMu.Lock()
	defer u.tapMu.Unlock()

	tp := u.tap
	if tp != nil {
		u.Button.Set(tp.pattern>>tp.next&1 == 1)
		tp.next++
	}
	u.Tick()
	if tp != nil && (!u.Capturing() || tp.next >= protocol.GestureBits) {
		u.Button.Set(false)
		u.tap = nil
		close(tp.done)
	}
}

// Tap records pattern as if the button had been held to each bit in turn.
// Bit 0 is always set. Samples are taken by ServeTicks, which must be
// running; Tap returns once the capture is complete. A press that does not
// start a capture, as during pairing, returns at once.
func (u *Unit) Tap(ctx context.Context, pattern uint64) error {
	tp := &tap{pattern: pattern, next: 1, done: make(chan struct{})}

	u.tapMu.Lock()
	if u.tap != nil {
		u.tapMu.Unlock()
		return nil
	}
	u.Button.Set(true)
	u.GestureButton()
	if !u.Capturing() {
		u.Button.Set(false)
		u.tapMu.Unlock()
		return nil
	}
	u.tap = tp
	u.tapMu.Unlock()

	select {
	case <-tp.done:
		return nil
	case <-ctx.Done():
		u.tapMu.Lock()
		if u.tap == tp {
			u.tap = nil
			u.Button.Set(false)
		}
		u.tapMu.Unlock()
		return ctx.Err()
	}
}
