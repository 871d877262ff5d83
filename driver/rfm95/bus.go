package rfm95

import (
	"fmt"
	"sync"

	"github.com/srivardhansajja/covert/hal"
)

// Bus frames single-register transactions on the SPI bus with the radio's
// chip-select line. Each transaction is atomic; sequences spanning several
// registers are serialised by the Driver.
type Bus struct {
	mu  sync.Mutex
	spi hal.SPI
	cs  hal.OutputPin

	tx [2]byte
	rx [2]byte
}

// NewBus returns a Bus and parks chip-select high (deselected).
func NewBus(spi hal.SPI, cs hal.OutputPin) *Bus {
	cs.Set(true)
	return &Bus{spi: spi, cs: cs}
}

// Read returns the value of register reg.
func (b *Bus) Read(reg byte) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tx = [2]byte{reg & readMask, 0}
	b.rx = [2]byte{}
	if err := b.transfer(); err != nil {
		return 0, fmt.Errorf("read register %#02x: %w", reg, err)
	}
	return b.rx[1], nil
}

// Write stores v into register reg.
func (b *Bus) Write(reg, v byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tx = [2]byte{reg | writeFlag, v}
	if err := b.transfer(); err != nil {
		return fmt.Errorf("write register %#02x: %w", reg, err)
	}
	return nil
}

func (b *Bus) transfer() error {
	b.cs.Set(false)
	defer b.cs.Set(true)
	return b.spi.Tx(b.tx[:], b.rx[:])
}
