// Package rfm95 drives an RFM95/SX1276 LoRa transceiver over SPI. It moves
// raw frames only; packet semantics live in the layers above.
package rfm95

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/srivardhansajja/covert/hal"
	proto "github.com/srivardhansajja/covert/protocol"
	"github.com/srivardhansajja/covert/transport"
)

// DefaultPower is the output power applied by Init, in dBm.
const DefaultPower = 20

// Config wires the driver to its peripherals.
type Config struct {
	SPI   hal.SPI
	CS    hal.OutputPin
	Reset hal.OutputPin
	Clock hal.Clock

	// PowerDBm defaults to DefaultPower when zero.
	PowerDBm int8

	Log slog.Logger
}

// Stats counts driver activity since boot.
type Stats struct {
	Received    uint64
	Transmitted uint64
	Lost        uint64
}

// Driver implements transport.RadioDriver for the RFM95.
//
// OnInterrupt must not be called concurrently with itself; Transmit must
// not be called concurrently with itself. The two may overlap: mu covers
// the multi-register sequences of each, so an interrupt never moves the
// FIFO pointer or the op mode while a frame is being loaded.
type Driver struct {
	mu    sync.Mutex
	bus   *Bus
	reset hal.OutputPin
	clock hal.Clock
	power int8
	log   slog.Logger

	handler atomic.Pointer[handlerBox]

	txReady   atomic.Bool
	txStarted atomic.Int64

	received    atomic.Uint64
	transmitted atomic.Uint64
	lost        atomic.Uint64

	// Receive buffer owned by the interrupt path. Frames handed to the
	// handler alias it and are only valid for the duration of the call.
	rxBuf [FifoSize]byte
}

type handlerBox struct{ h transport.FrameHandler }

// New returns an uninitialised driver.
func New(cfg Config) *Driver {
	d := &Driver{
		bus:   NewBus(cfg.SPI, cfg.CS),
		reset: cfg.Reset,
		clock: cfg.Clock,
		power: cfg.PowerDBm,
		log:   cfg.Log,
	}
	if d.power == 0 {
		d.power = DefaultPower
	}
	if d.log == nil {
		d.log = slog.Disabled
	}
	d.txReady.Store(true)
	return d
}

// SetHandler registers the receiver of inbound frames.
func (d *Driver) SetHandler(h transport.FrameHandler) {
	d.handler.Store(&handlerBox{h: h})
}

// Init resets the transceiver, checks its version and configures it for
// continuous LoRa receive. Any failure is fatal for the device.
func (d *Driver) Init() error {
	d.pulseReset()

	version, err := d.bus.Read(RegVersion)
	if err != nil {
		return fmt.Errorf("%w: %w", proto.ErrInit, err)
	}
	if version != ChipVersion {
		return fmt.Errorf("%w: unexpected chip version %#02x", proto.ErrInit, version)
	}

	// Module must be placed in sleep mode before switching to LoRa.
	steps := []struct{ reg, val byte }{
		{RegOpMode, ModeSleep},
		{RegOpMode, ModeLoRa},
	}
	if err := d.writeAll(steps); err != nil {
		return fmt.Errorf("%w: %w", proto.ErrInit, err)
	}

	if err := d.SetPower(d.power); err != nil {
		return fmt.Errorf("%w: %w", proto.ErrInit, err)
	}

	steps = []struct{ reg, val byte }{
		// RX timeout in symbols.
		{RegSymbTimeoutLsb, 0xFF},
		// Preamble 8 + 4.25 symbols.
		{RegPreambleMsb, 0x00},
		{RegPreambleLsb, 0x08},
		{RegInvertIQ1, InvertIQ1OnTxOnly},
		{RegInvertIQ2, InvertIQ2Off},
		{RegFifoTxBaseAddr, FifoTxBase},
		{RegFifoRxBaseAddr, FifoRxBase},
		{RegFrfMsb, frequency[0]},
		{RegFrfMid, frequency[1]},
		{RegFrfLsb, frequency[2]},
		{RegModemConfig1, modemConfig1},
		{RegModemConfig2, modemConfig2},
		{RegModemConfig3, modemConfig3},
		{RegDioMapping1, DioMapping1RxDone},
		{RegOpMode, ModeRxContinuous},
	}
	if err := d.writeAll(steps); err != nil {
		return fmt.Errorf("%w: %w", proto.ErrInit, err)
	}

	d.txReady.Store(true)
	d.log.Infof("Radio initialised (version %#02x, %d dBm)", version, d.power)
	return nil
}

// SetPower selects the PA_BOOST output power. 2-17 dBm use the normal DAC;
// 20 dBm enables the high-power DAC.
func (d *Driver) SetPower(dBm int8) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	const paSelect, maxPower = 1 << 7, 7 << 4

	var pa, dac byte
	switch {
	case dBm >= 2 && dBm <= 17:
		pa = paSelect | maxPower | byte(dBm-2)
		dac = PaDacLowPower
	case dBm == 20:
		pa = paSelect | maxPower | 15
		dac = PaDacHighPower
	default:
		return proto.ErrInvalidPower
	}

	if err := d.bus.Write(RegPaConfig, pa); err != nil {
		return err
	}
	if err := d.bus.Write(RegPaDac, dac); err != nil {
		return err
	}
	d.power = dBm
	return nil
}

// Transmit queues frame for transmission and returns once the radio is in
// TX mode. It returns proto.ErrRadioBusy while a previous frame is in
// flight; callers retry later. It never blocks beyond the bounded standby
// wait.
func (d *Driver) Transmit(frame []byte) error {
	if len(frame) == 0 || len(frame) > MaxTxFrame {
		return proto.ErrFrameTooLarge
	}
	if !d.claimTx() {
		return proto.ErrRadioBusy
	}

	if err := d.transmit(frame); err != nil {
		d.txReady.Store(true)
		d.log.Debugf("Transmit of %d bytes failed: %v", len(frame), err)
		return err
	}

	d.transmitted.Add(1)
	d.log.Tracef("Transmitting %d bytes", len(frame))
	return nil
}

// claimTx takes the transmitter. A frame whose TxDone interrupt never
// arrived is abandoned after proto.SendTimeout.
func (d *Driver) claimTx() bool {
	now := d.clock.Now()
	if d.txReady.CompareAndSwap(true, false) {
		d.txStarted.Store(now.UnixNano())
		return true
	}
	started := time.Unix(0, d.txStarted.Load())
	if now.Sub(started) < proto.SendTimeout {
		return false
	}
	d.log.Warnf("No TxDone after %v, abandoning in-flight frame", now.Sub(started))
	d.txStarted.Store(now.UnixNano())
	return true
}

// transmit loads frame into the FIFO and starts the transmission. mu is
// held from the confirmed standby until TX mode is set.
func (d *Driver) transmit(frame []byte) error {
	if err := d.lockStandby(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if err := d.bus.Write(RegPayloadLength, byte(len(frame))); err != nil {
		return err
	}
	// Point the FIFO pointer at the TX half.
	if err := d.bus.Write(RegFifoAddrPtr, FifoTxBase); err != nil {
		return err
	}
	for _, b := range frame {
		if err := d.bus.Write(RegFifo, b); err != nil {
			return err
		}
	}
	if err := d.bus.Write(RegDioMapping1, DioMapping1TxDone); err != nil {
		return err
	}
	return d.bus.Write(RegOpMode, ModeTx)
}

// lockStandby polls the radio into standby mode with a bounded number of
// attempts and returns with mu held. mu is released while waiting so a
// pending interrupt can be serviced.
func (d *Driver) lockStandby() error {
	for i := 0; i < proto.StandbyPollRetries; i++ {
		d.mu.Lock()
		mode, err := d.bus.Read(RegOpMode)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		if mode == ModeStandby {
			return nil
		}
		err = d.bus.Write(RegOpMode, ModeStandby)
		d.mu.Unlock()
		if err != nil {
			return err
		}
		d.clock.Sleep(proto.StandbyPollDelay)
	}
	return proto.ErrStandbyTimeout
}

// OnInterrupt services a rising edge on DIO0. Failures are not reported to
// the caller; the frame in question is counted as lost and the driver
// stays operational.
func (d *Driver) OnInterrupt() {
	n := d.service()
	if n == 0 {
		return
	}
	d.received.Add(1)
	d.log.Tracef("Received %d bytes", n)
	if box := d.handler.Load(); box != nil && box.h != nil {
		box.h.HandleFrame(d.rxBuf[:n])
	}
}

// service reads and clears the IRQ flags under mu and returns the length
// of the frame copied into rxBuf, if any.
func (d *Driver) service() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	flags, err := d.bus.Read(RegIrqFlags)
	if err != nil {
		d.drop("read IRQ flags", err)
		return 0
	}
	// Flags are cleared by writing them back.
	if err := d.bus.Write(RegIrqFlags, flags); err != nil {
		d.drop("clear IRQ flags", err)
	}

	var n int
	switch {
	case flags&IrqPayloadCrcError != 0:
		d.drop("receive", fmt.Errorf("payload CRC error"))
		d.rearm()
	case flags&IrqRxDone != 0:
		n = d.receive()
	}

	if flags&IrqTxDone != 0 {
		d.txReady.Store(true)
		d.rearm()
	}
	return n
}

// receive copies the pending frame into rxBuf and re-arms receive.
func (d *Driver) receive() int {
	n, err := d.bus.Read(RegRxNbBytes)
	if err != nil {
		d.drop("read RX length", err)
		d.rearm()
		return 0
	}
	cur, err := d.bus.Read(RegFifoRxCurrentAdr)
	if err == nil {
		err = d.bus.Write(RegFifoAddrPtr, cur)
	}
	for i := 0; err == nil && i < int(n); i++ {
		d.rxBuf[i], err = d.bus.Read(RegFifo)
	}
	d.rearm()
	if err != nil {
		d.drop("read FIFO", err)
		return 0
	}
	if n == 0 {
		d.drop("receive", fmt.Errorf("empty frame"))
		return 0
	}
	return int(n)
}

// rearm returns the radio to continuous receive.
func (d *Driver) rearm() {
	steps := []struct{ reg, val byte }{
		{RegDioMapping1, DioMapping1RxDone},
		{RegOpMode, ModeRxContinuous},
		{RegFifoRxBaseAddr, FifoRxBase},
	}
	if err := d.writeAll(steps); err != nil {
		d.log.Debugf("Failed to re-arm receive: %v", err)
	}
}

func (d *Driver) drop(what string, err error) {
	d.lost.Add(1)
	d.log.Debugf("Frame lost (%s): %v", what, err)
}

func (d *Driver) writeAll(steps []struct{ reg, val byte }) error {
	for _, s := range steps {
		if err := d.bus.Write(s.reg, s.val); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) pulseReset() {
	if d.reset == nil {
		return
	}
	d.reset.Set(false)
	d.clock.Sleep(time.Millisecond)
	d.reset.Set(true)
	d.clock.Sleep(5 * time.Millisecond)
}

// TxReady reports whether the transmitter is free.
func (d *Driver) TxReady() bool { return d.txReady.Load() }

// Stats returns a snapshot of the driver counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Received:    d.received.Load(),
		Transmitted: d.transmitted.Load(),
		Lost:        d.lost.Load(),
	}
}
