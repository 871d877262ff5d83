//go:build !tinygo && !baremetal

package stub

import (
	"errors"
	"sync"

	"github.com/srivardhansajja/covert/hal"
)

// SX1276 register map as seen by the simulated chip.
const (
	regFifo             = 0x00
	regOpMode           = 0x01
	regFifoAddrPtr      = 0x0D
	regFifoTxBaseAddr   = 0x0E
	regFifoRxBaseAddr   = 0x0F
	regFifoRxCurrentAdr = 0x10
	regIrqFlags         = 0x12
	regRxNbBytes        = 0x13
	regPayloadLength    = 0x22
	regDioMapping1      = 0x40
	regVersion          = 0x42

	modeStandby      = 0x81
	modeTx           = 0x83
	modeRxContinuous = 0x85

	irqRxDone   = 0x40
	irqCrcError = 0x20
	irqTxDone   = 0x08

	dio0Mask   = 0xC0
	dio0RxDone = 0x00
	dio0TxDone = 0x40

	sx1276Version = 0x12
)

var (
	ErrNotSelected = errors.New("stub: SPI transfer with chip-select high")
	ErrShortFrame  = errors.New("stub: SPI transfer shorter than two bytes")
)

// Chip simulates an SX1276 LoRa transceiver at register level. It decodes
// the two-byte SPI transactions issued by the real driver, maintains the
// FIFO and IRQ flags, and exchanges frames with other chips over an Air.
//
// DIO0 is modelled as a one-slot channel returned by IRQ; the host pumps
// it into the driver's interrupt entry point.
type Chip struct {
	mu   sync.Mutex
	air  *Air
	cs   chipSelect
	regs [0x80]byte
	fifo [256]byte
	ptr  byte

	irq chan struct{}

	fault     error
	stuckMode bool
	dropTx    bool
	crcNext   bool
}

type chipSelect struct {
	mu       sync.Mutex
	selected bool
}

func (c *chipSelect) Set(high bool) {
	c.mu.Lock()
	c.selected = !high
	c.mu.Unlock()
}

func (c *chipSelect) isSelected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// NewChip returns a powered-up chip attached to air. air may be nil for a
// chip that only talks to itself.
func NewChip(air *Air) *Chip {
	c := &Chip{
		air: air,
		irq: make(chan struct{}, 1),
	}
	c.regs[regVersion] = sx1276Version
	if air != nil {
		air.attach(c)
	}
	return c
}

// CS returns the chip-select line of the chip.
func (c *Chip) CS() hal.OutputPin { return &c.cs }

// IRQ delivers one value per rising edge on DIO0 that has not yet been
// consumed.
func (c *Chip) IRQ() <-chan struct{} { return c.irq }

// TakeIRQ consumes a pending DIO0 edge without blocking.
func (c *Chip) TakeIRQ() bool {
	select {
	case <-c.irq:
		return true
	default:
		return false
	}
}

// Register returns the raw value of a register for inspection.
func (c *Chip) Register(reg byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[reg&0x7f]
}

// SetVersion overrides the silicon version register.
func (c *Chip) SetVersion(v byte) {
	c.mu.Lock()
	c.regs[regVersion] = v
	c.mu.Unlock()
}

// SetFault makes every SPI transfer fail with err until cleared with nil.
func (c *Chip) SetFault(err error) {
	c.mu.Lock()
	c.fault = err
	c.mu.Unlock()
}

// SetStuckMode makes the chip ignore op-mode writes.
func (c *Chip) SetStuckMode(stuck bool) {
	c.mu.Lock()
	c.stuckMode = stuck
	c.mu.Unlock()
}

// SetDropTxDone suppresses the TxDone interrupt after a transmission.
func (c *Chip) SetDropTxDone(drop bool) {
	c.mu.Lock()
	c.dropTx = drop
	c.mu.Unlock()
}

// CorruptNext flags the next received frame with a payload CRC error.
func (c *Chip) CorruptNext() {
	c.mu.Lock()
	c.crcNext = true
	c.mu.Unlock()
}

// Tx implements hal.SPI.
func (c *Chip) Tx(w, r []byte) error {
	if !c.cs.isSelected() {
		return ErrNotSelected
	}
	if len(w) < 2 {
		return ErrShortFrame
	}

	var out []byte
	c.mu.Lock()
	if c.fault != nil {
		err := c.fault
		c.mu.Unlock()
		return err
	}
	addr, v := w[0]&0x7f, w[1]
	if w[0]&0x80 != 0 {
		out = c.write(addr, v)
	} else if len(r) >= 2 {
		r[0] = 0
		r[1] = c.read(addr)
	}
	c.mu.Unlock()

	// Frames leave the chip outside its lock; the medium locks the
	// receivers.
	if out != nil {
		if c.air != nil {
			c.air.broadcast(c, out)
		}
		c.mu.Lock()
		signal := !c.dropTx && c.regs[regDioMapping1]&dio0Mask == dio0TxDone
		c.regs[regIrqFlags] |= irqTxDone
		c.regs[regOpMode] = modeStandby
		c.mu.Unlock()
		if signal {
			c.raise()
		}
	}
	return nil
}

func (c *Chip) read(addr byte) byte {
	if addr == regFifo {
		v := c.fifo[c.ptr]
		c.ptr++
		return v
	}
	return c.regs[addr]
}

// write applies a register write and returns the frame to put on air when
// the write started a transmission.
func (c *Chip) write(addr, v byte) []byte {
	switch addr {
	case regFifo:
		c.fifo[c.ptr] = v
		c.ptr++
	case regFifoAddrPtr:
		c.ptr = v
	case regIrqFlags:
		c.regs[regIrqFlags] &^= v
	case regVersion, regRxNbBytes, regFifoRxCurrentAdr:
		// Read only.
	case regOpMode:
		if c.stuckMode {
			return nil
		}
		c.regs[regOpMode] = v
		if v == modeTx {
			n := int(c.regs[regPayloadLength])
			base := int(c.regs[regFifoTxBaseAddr])
			frame := make([]byte, n)
			for i := range frame {
				frame[i] = c.fifo[(base+i)%len(c.fifo)]
			}
			return frame
		}
	default:
		c.regs[addr] = v
	}
	return nil
}

// receive lands frame in the FIFO when the chip is listening.
func (c *Chip) receive(frame []byte) bool {
	c.mu.Lock()
	if c.regs[regOpMode] != modeRxContinuous || len(frame) == 0 || len(frame) > 255 {
		c.mu.Unlock()
		return false
	}
	base := c.regs[regFifoRxBaseAddr]
	for i, b := range frame {
		c.fifo[(int(base)+i)%len(c.fifo)] = b
	}
	c.regs[regRxNbBytes] = byte(len(frame))
	c.regs[regFifoRxCurrentAdr] = base
	c.regs[regIrqFlags] |= irqRxDone
	if c.crcNext {
		c.regs[regIrqFlags] |= irqCrcError
		c.crcNext = false
	}
	signal := c.regs[regDioMapping1]&dio0Mask == dio0RxDone
	c.mu.Unlock()

	if signal {
		c.raise()
	}
	return true
}

func (c *Chip) raise() {
	select {
	case c.irq <- struct{}{}:
	default:
	}
}
