// Package hal declares the peripheral capabilities the firmware consumes.
// driver/board binds them to TinyGo's machine package on the device and
// driver/stub simulates them on the host.
package hal

import "time"

// SPI is a full-duplex byte bus. Tx clocks out w while filling r; either
// may be nil. It matches machine.SPI.
type SPI interface {
	Tx(w, r []byte) error
}

// OutputPin is a digital output such as a chip-select, reset line or LED.
type OutputPin interface {
	Set(high bool)
}

// InputPin is a digital input such as a push button.
type InputPin interface {
	Get() bool
}

// RNG is a hardware random number source. It fails closed: on a hardware
// fault it returns an error rather than a weak value.
type RNG interface {
	Uint32() (uint32, error)
}

// Clock supplies time and the bounded delays used by the main loop.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// PWM drives an actuator with a 16-bit duty cycle, 0 being off.
type PWM interface {
	SetDuty(duty uint16)
}

// Flash is a byte-addressable non-volatile store with page erase.
// Erasing sets a whole page to 0xFF; only 8-byte aligned double-word
// programs into erased memory are supported.
type Flash interface {
	PageSize() int64
	Pages() int
	ErasePage(page int) error
	ProgramDoubleWord(addr int64, v uint64) error
	ReadAt(p []byte, addr int64) (int, error)
}

// ReadUint32s fills dst with random words from r.
func ReadUint32s(r RNG, dst []uint32) error {
	for i := range dst {
		v, err := r.Uint32()
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}
