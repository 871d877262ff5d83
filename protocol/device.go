package protocol

import (
	"encoding/binary"
	"encoding/hex"
)

// DeviceID identifies a unit within a deployment. It is a single byte on
// the wire; 0 is the designated master.
type DeviceID uint8

// IsMaster reports whether id is the designated key distributor.
func (id DeviceID) IsMaster() bool { return id == MasterDevice }

// Key is the 128-bit symmetric key for the application channel.
type Key [KeySize]byte

// Words returns the key as the four little-endian 32-bit words it is
// stored as in flash.
func (k Key) Words() [4]uint32 {
	var w [4]uint32
	for i := range w {
		w[i] = binary.LittleEndian.Uint32(k[i*4:])
	}
	return w
}

// KeyFromWords is the inverse of Words.
func KeyFromWords(w [4]uint32) Key {
	var k Key
	for i := range w {
		binary.LittleEndian.PutUint32(k[i*4:], w[i])
	}
	return k
}

// Fingerprint returns a short, non-secret identifier for log lines.
func (k Key) Fingerprint() string {
	c, err := NewCipher(k[:])
	if err != nil {
		return "invalid"
	}
	var zero, out [BlockSize]byte
	if err := c.Encrypt(out[:], zero[:]); err != nil {
		return "invalid"
	}
	return hex.EncodeToString(out[:4])
}
