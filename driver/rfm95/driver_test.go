package rfm95

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/srivardhansajja/covert/driver/stub"
	"github.com/srivardhansajja/covert/internal/testutils"
	proto "github.com/srivardhansajja/covert/protocol"
)

type frameLog struct {
	frames [][]byte
}

func (l *frameLog) HandleFrame(data []byte) {
	l.frames = append(l.frames, append([]byte(nil), data...))
}

func newTestDriver(t *testing.T, air *stub.Air) (*Driver, *stub.Chip, *stub.FakeClock) {
	t.Helper()
	chip := stub.NewChip(air)
	clock := stub.NewFakeClock()
	d := New(Config{
		SPI:   chip,
		CS:    chip.CS(),
		Reset: new(stub.Pin),
		Clock: clock,
		Log:   testutils.TestLoggerSys(t, "RDIO"),
	})
	if err := d.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return d, chip, clock
}

// service delivers pending DIO0 edges to the driver.
func service(d *Driver, chip *stub.Chip) {
	for chip.TakeIRQ() {
		d.OnInterrupt()
	}
}

func TestBusFraming(t *testing.T) {
	chip := stub.NewChip(nil)
	bus := NewBus(chip, chip.CS())

	if err := bus.Write(RegPayloadLength, 0x2A); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	got, err := bus.Read(RegPayloadLength)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != 0x2A {
		t.Errorf("Read() = %#02x, want 0x2a", got)
	}

	// Chip-select is released after a failed transfer too.
	fault := errors.New("spi fault")
	chip.SetFault(fault)
	if _, err := bus.Read(RegVersion); !errors.Is(err, fault) {
		t.Fatalf("Read() error = %v, want %v", err, fault)
	}
	chip.SetFault(nil)
	if v, err := bus.Read(RegVersion); err != nil || v != ChipVersion {
		t.Errorf("Read() = %#02x, %v; want %#02x, nil", v, err, ChipVersion)
	}
}

func TestInit(t *testing.T) {
	d, chip, _ := newTestDriver(t, nil)

	checks := []struct {
		name string
		reg  byte
		want byte
	}{
		{"op mode", RegOpMode, ModeRxContinuous},
		{"pa config", RegPaConfig, 0xFF},
		{"pa dac", RegPaDac, PaDacHighPower},
		{"tx base", RegFifoTxBaseAddr, FifoTxBase},
		{"rx base", RegFifoRxBaseAddr, FifoRxBase},
		{"frf msb", RegFrfMsb, 0xE4},
		{"frf mid", RegFrfMid, 0xC0},
		{"frf lsb", RegFrfLsb, 0x26},
		{"modem 1", RegModemConfig1, 0x82},
		{"modem 2", RegModemConfig2, 0x97},
		{"modem 3", RegModemConfig3, 0x00},
		{"invert iq 1", RegInvertIQ1, InvertIQ1OnTxOnly},
		{"invert iq 2", RegInvertIQ2, InvertIQ2Off},
		{"symbol timeout", RegSymbTimeoutLsb, 0xFF},
		{"preamble", RegPreambleLsb, 0x08},
		{"dio mapping", RegDioMapping1, DioMapping1RxDone},
	}
	for _, tc := range checks {
		t.Run(tc.name, func(t *testing.T) {
			if got := chip.Register(tc.reg); got != tc.want {
				t.Errorf("register %#02x = %#02x, want %#02x", tc.reg, got, tc.want)
			}
		})
	}
	if !d.TxReady() {
		t.Error("TxReady() = false after Init")
	}
}

func TestInitErrors(t *testing.T) {
	t.Run("wrong version", func(t *testing.T) {
		chip := stub.NewChip(nil)
		chip.SetVersion(0x22)
		d := New(Config{SPI: chip, CS: chip.CS(), Clock: stub.NewFakeClock()})
		if err := d.Init(); !errors.Is(err, proto.ErrInit) {
			t.Fatalf("Init() error = %v, want %v", err, proto.ErrInit)
		}
	})
	t.Run("bus fault", func(t *testing.T) {
		chip := stub.NewChip(nil)
		fault := errors.New("spi fault")
		chip.SetFault(fault)
		d := New(Config{SPI: chip, CS: chip.CS(), Clock: stub.NewFakeClock()})
		err := d.Init()
		if !errors.Is(err, proto.ErrInit) || !errors.Is(err, fault) {
			t.Fatalf("Init() error = %v, want both %v and %v", err, proto.ErrInit, fault)
		}
	})
}

func TestSetPower(t *testing.T) {
	d, chip, _ := newTestDriver(t, nil)

	tests := []struct {
		dBm     int8
		pa, dac byte
		err     error
	}{
		{dBm: 2, pa: 0xF0, dac: PaDacLowPower},
		{dBm: 17, pa: 0xFF, dac: PaDacLowPower},
		{dBm: 20, pa: 0xFF, dac: PaDacHighPower},
		{dBm: 1, err: proto.ErrInvalidPower},
		{dBm: 18, err: proto.ErrInvalidPower},
		{dBm: 21, err: proto.ErrInvalidPower},
	}
	for _, tc := range tests {
		err := d.SetPower(tc.dBm)
		if !errors.Is(err, tc.err) {
			t.Errorf("SetPower(%d) error = %v, want %v", tc.dBm, err, tc.err)
			continue
		}
		if err != nil {
			continue
		}
		if got := chip.Register(RegPaConfig); got != tc.pa {
			t.Errorf("SetPower(%d): PaConfig = %#02x, want %#02x", tc.dBm, got, tc.pa)
		}
		if got := chip.Register(RegPaDac); got != tc.dac {
			t.Errorf("SetPower(%d): PaDac = %#02x, want %#02x", tc.dBm, got, tc.dac)
		}
	}
}

func TestTransmitReceive(t *testing.T) {
	air := stub.NewAir()
	tx, txChip, _ := newTestDriver(t, air)
	rx, rxChip, _ := newTestDriver(t, air)

	var got frameLog
	rx.SetHandler(&got)

	frame := bytes.Repeat([]byte{0xA5}, proto.WireFrameSize)
	if err := tx.Transmit(frame); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	if tx.TxReady() {
		t.Error("TxReady() = true while frame in flight")
	}

	service(rx, rxChip)
	service(tx, txChip)

	if len(got.frames) != 1 || !bytes.Equal(got.frames[0], frame) {
		t.Fatalf("received %x, want one frame %x", got.frames, frame)
	}
	if !tx.TxReady() {
		t.Error("TxReady() = false after TxDone")
	}
	if mode := txChip.Register(RegOpMode); mode != ModeRxContinuous {
		t.Errorf("transmitter op mode = %#02x, want receive re-armed", mode)
	}
	if s := tx.Stats(); s.Transmitted != 1 {
		t.Errorf("Stats().Transmitted = %d, want 1", s.Transmitted)
	}
	if s := rx.Stats(); s.Received != 1 || s.Lost != 0 {
		t.Errorf("Stats() = %+v, want 1 received", s)
	}
}

// interruptingSPI services the driver's DIO0 interrupt from another
// goroutine in the middle of a FIFO load.
type interruptingSPI struct {
	*stub.Chip
	d      *Driver
	at     int
	writes int
	done   chan struct{}
}

func (s *interruptingSPI) Tx(w, r []byte) error {
	if len(w) > 0 && w[0] == 0x80|RegFifo {
		s.writes++
		if s.writes == s.at {
			started := make(chan struct{})
			go func() {
				defer close(s.done)
				close(started)
				s.d.OnInterrupt()
			}()
			<-started
			time.Sleep(10 * time.Millisecond)
		}
	}
	return s.Chip.Tx(w, r)
}

func TestInterruptDuringTransmit(t *testing.T) {
	air := stub.NewAir()
	chip := stub.NewChip(air)
	spi := &interruptingSPI{Chip: chip, at: 4, done: make(chan struct{})}
	d := New(Config{
		SPI:   spi,
		CS:    chip.CS(),
		Reset: new(stub.Pin),
		Clock: stub.NewFakeClock(),
		Log:   testutils.TestLoggerSys(t, "RDIO"),
	})
	spi.d = d
	if err := d.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	var got frameLog
	d.SetHandler(&got)

	// A received frame is waiting when the transmission starts.
	in := bytes.Repeat([]byte{0x11}, proto.WireFrameSize)
	air.Inject(in)

	out := bytes.Repeat([]byte{0xA5}, proto.WireFrameSize)
	if err := d.Transmit(out); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	<-spi.done
	service(d, chip)

	log := air.Log()
	if sent := log[len(log)-1]; !bytes.Equal(sent, out) {
		t.Fatalf("frame on air = %x, want %x", sent, out)
	}
	if len(got.frames) != 1 || !bytes.Equal(got.frames[0], in) {
		t.Fatalf("received %x, want one frame %x", got.frames, in)
	}
	if !d.TxReady() {
		t.Error("TxReady() = false after TxDone")
	}
	if mode := chip.Register(RegOpMode); mode != ModeRxContinuous {
		t.Errorf("op mode = %#02x, want receive re-armed", mode)
	}
	if s := d.Stats(); s.Lost != 0 {
		t.Errorf("Stats().Lost = %d, want 0", s.Lost)
	}
}

func TestTransmitBusy(t *testing.T) {
	air := stub.NewAir()
	d, chip, clock := newTestDriver(t, air)
	chip.SetDropTxDone(true)

	frame := make([]byte, proto.WireFrameSize)
	if err := d.Transmit(frame); err != nil {
		t.Fatalf("Transmit() error = %v", err)
	}
	if err := d.Transmit(frame); !errors.Is(err, proto.ErrRadioBusy) {
		t.Fatalf("second Transmit() error = %v, want %v", err, proto.ErrRadioBusy)
	}

	// A lost TxDone is abandoned after the send timeout.
	clock.Advance(proto.SendTimeout + time.Millisecond)
	if err := d.Transmit(frame); err != nil {
		t.Fatalf("Transmit() after timeout error = %v", err)
	}
	if n := len(air.Log()); n != 2 {
		t.Errorf("frames on air = %d, want 2", n)
	}
}

func TestTransmitErrors(t *testing.T) {
	d, chip, _ := newTestDriver(t, nil)

	if err := d.Transmit(nil); !errors.Is(err, proto.ErrFrameTooLarge) {
		t.Errorf("Transmit(nil) error = %v, want %v", err, proto.ErrFrameTooLarge)
	}
	if err := d.Transmit(make([]byte, MaxTxFrame+1)); !errors.Is(err, proto.ErrFrameTooLarge) {
		t.Errorf("Transmit(129 bytes) error = %v, want %v", err, proto.ErrFrameTooLarge)
	}

	chip.SetStuckMode(true)
	if err := d.Transmit(make([]byte, 16)); !errors.Is(err, proto.ErrStandbyTimeout) {
		t.Fatalf("Transmit() error = %v, want %v", err, proto.ErrStandbyTimeout)
	}
	// The transmitter is released after a failure.
	if !d.TxReady() {
		t.Error("TxReady() = false after failed transmit")
	}
}

func TestCRCErrorDropped(t *testing.T) {
	air := stub.NewAir()
	d, chip, _ := newTestDriver(t, air)

	var got frameLog
	d.SetHandler(&got)

	chip.CorruptNext()
	air.Inject(make([]byte, proto.WireFrameSize))
	service(d, chip)
	if len(got.frames) != 0 {
		t.Fatalf("handler called %d times for a corrupt frame", len(got.frames))
	}
	if s := d.Stats(); s.Lost != 1 {
		t.Errorf("Stats().Lost = %d, want 1", s.Lost)
	}

	// Receive stays armed.
	air.Inject(make([]byte, proto.PublicKeyFrameSize))
	service(d, chip)
	if len(got.frames) != 1 || len(got.frames[0]) != proto.PublicKeyFrameSize {
		t.Fatalf("received %d frames after CRC error, want one 33 byte frame", len(got.frames))
	}
}
