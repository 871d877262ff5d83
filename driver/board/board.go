//go:build tinygo || baremetal

// Package board binds the hal capabilities to TinyGo's machine package on
// an nRF52840 with an RFM95 LoRa module.
package board

import (
	"context"
	"sync/atomic"
	"time"

	"device/nrf"
	"machine"

	"github.com/decred/slog"
	"github.com/srivardhansajja/covert/driver/rfm95"
	"github.com/srivardhansajja/covert/gesture"
	"github.com/srivardhansajja/covert/transport"
)

// StartHFCLK starts the crystal oscillator so the gesture timer keeps
// its nominal period.
func StartHFCLK() {
	nrf.CLOCK.EVENTS_HFCLKSTARTED.Set(0)
	nrf.CLOCK.TASKS_HFCLKSTART.Set(1)
	for nrf.CLOCK.EVENTS_HFCLKSTARTED.Get() == 0 {
	}
}

// Target receives the deferred interrupts of the board.
type Target interface {
	OnRadioInterrupt()
	PairButton()
	GestureButton()
	Tick()
}

// Board owns the peripherals. Pin interrupts only raise flags; Serve
// delivers them outside interrupt context.
type Board struct {
	radio *rfm95.Driver
	pwm   pwmChannel

	radioIRQ   atomic.Uint32
	pairIRQ    atomic.Uint32
	gestureIRQ atomic.Uint32
}

type spiBus struct {
	tx func(w, r []byte) error
}

func (s spiBus) Tx(w, r []byte) error { return s.tx(w, r) }

type clock struct{}

func (clock) Now() time.Time { return time.Now() }

func (clock) Sleep(d time.Duration) { time.Sleep(d) }

type rng struct{}

func (rng) Uint32() (uint32, error) { return machine.GetRNG() }

type pwmChannel struct {
	ch uint8
}

func (p pwmChannel) SetDuty(duty uint16) {
	machine.PWM0.Set(p.ch, uint32(uint64(duty)*uint64(machine.PWM0.Top())/0xFFFF))
}

// flash exposes the user data area of the internal flash.
type flash struct{}

func (flash) PageSize() int64 { return machine.Flash.EraseBlockSize() }

func (flash) Pages() int {
	return int(machine.Flash.Size() / machine.Flash.EraseBlockSize())
}

func (flash) ErasePage(page int) error {
	return machine.Flash.EraseBlocks(int64(page), 1)
}

func (flash) ProgramDoubleWord(addr int64, v uint64) error {
	var b [8]byte
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	_, err := machine.Flash.WriteAt(b[:], addr)
	return err
}

func (flash) ReadAt(p []byte, addr int64) (int, error) {
	return machine.Flash.ReadAt(p, addr)
}

// New configures the pins, bus and PWM and returns the board. The radio is
// not touched until the device initialises it.
func New(log slog.Logger) (*Board, error) {
	StartHFCLK()

	for _, p := range []machine.Pin{RadioCS, RadioReset, LED1, LED2} {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	}
	LED1.Low()
	LED2.Low()
	RadioDIO0.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	PairButton.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	GestureButton.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	err := machine.SPI0.Configure(machine.SPIConfig{
		Frequency: SPIFrequency,
		SCK:       RadioSCK,
		SDO:       RadioSDO,
		SDI:       RadioSDI,
		Mode:      0,
	})
	if err != nil {
		return nil, err
	}

	if err := machine.PWM0.Configure(machine.PWMConfig{Period: 1e9 / 200}); err != nil {
		return nil, err
	}
	ch, err := machine.PWM0.Channel(Vibration)
	if err != nil {
		return nil, err
	}

	b := &Board{pwm: pwmChannel{ch: ch}}
	b.radio = rfm95.New(rfm95.Config{
		SPI:   spiBus{tx: machine.SPI0.Tx},
		CS:    RadioCS,
		Reset: RadioReset,
		Clock: clock{},
		Log:   log,
	})

	raise := func(flag *atomic.Uint32) func(machine.Pin) {
		return func(machine.Pin) { flag.Store(1) }
	}
	if err := RadioDIO0.SetInterrupt(machine.PinRising, raise(&b.radioIRQ)); err != nil {
		return nil, err
	}
	if err := PairButton.SetInterrupt(machine.PinFalling, raise(&b.pairIRQ)); err != nil {
		return nil, err
	}
	if err := GestureButton.SetInterrupt(machine.PinFalling, raise(&b.gestureIRQ)); err != nil {
		return nil, err
	}
	return b, nil
}

// Hardware returns the capabilities for transport.NewDevice.
func (b *Board) Hardware() transport.Hardware {
	return transport.Hardware{
		Radio:         b.radio,
		Flash:         flash{},
		RNG:           rng{},
		Clock:         clock{},
		LED1:          LED1,
		LED2:          LED2,
		GestureButton: GestureButton,
		Actuator:      b.pwm,
	}
}

// Serve delivers raised interrupts and the gesture tick to t until ctx is
// done.
func (b *Board) Serve(ctx context.Context, t Target) error {
	next := time.Now().Add(gesture.TickPeriod)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.radioIRQ.Swap(0) != 0 {
			t.OnRadioInterrupt()
		}
		if b.pairIRQ.Swap(0) != 0 {
			t.PairButton()
		}
		if b.gestureIRQ.Swap(0) != 0 {
			t.GestureButton()
		}
		if now := time.Now(); !now.Before(next) {
			t.Tick()
			next = next.Add(gesture.TickPeriod)
		}
		time.Sleep(time.Millisecond)
	}
}

// Halt parks the firmware after a fatal error with both LEDs lit.
func Halt() {
	LED1.High()
	LED2.High()
	for {
		time.Sleep(time.Hour)
	}
}
