package protocol

import "errors"

var (
	ErrFrameLength   = errors.New("unexpected frame length")
	ErrBadPreamble   = errors.New("preamble mismatch")
	ErrBadPadding    = errors.New("non-zero padding")
	ErrReplay        = errors.New("stale or replayed sequence number")
	ErrKeySize       = errors.New("invalid key size")
	ErrInvalidKey    = errors.New("invalid key material")
	ErrBlockSize     = errors.New("input is not a whole number of cipher blocks")
	ErrWeakPublicKey = errors.New("peer public key produces a low-order shared secret")
)

// Radio errors.
var (
	ErrInit           = errors.New("radio initialisation failed")
	ErrRadioBusy      = errors.New("radio busy: previous frame still in flight")
	ErrStandbyTimeout = errors.New("radio did not reach standby")
	ErrFrameTooLarge  = errors.New("frame does not fit the transmit FIFO")
	ErrInvalidPower   = errors.New("invalid output power (valid: 2-17 or 20 dBm)")
)
