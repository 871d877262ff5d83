package protocol

import "time"

// Radio & protocol constants (platform independent). All higher layers should depend on this file.
const (
	// Frame preambles. The first plaintext byte of every frame doubles as
	// its type discriminator.
	PreamblePublicKey   = 0b01010101
	PreambleKeyRotation = 0b10101010
	PreambleApplication = 0b11110000

	// Sizes of individual components
	PublicKeySize = 32
	SecretSize    = 32
	KeySize       = 16 // AES-128
	BlockSize     = 16
	GestureSize   = 8

	// Plaintext packet layouts
	//   PublicKey:   Preamble(1) | PublicKey(32)
	//   KeyRotation: Preamble(1) | Key(16)
	//   Wire:        Preamble(1) | DeviceID(1) | Seq(4) | Payload(8) | Reserved(2)
	PublicKeyPacketSize   = 1 + PublicKeySize
	KeyRotationPacketSize = 1 + KeySize
	WirePacketSize        = 1 + 1 + 4 + GestureSize + 2

	// On-air lengths. The key rotation packet is zero padded to two cipher
	// blocks before encryption; the wire packet is exactly one block.
	PublicKeyFrameSize   = PublicKeyPacketSize
	KeyRotationFrameSize = 2 * BlockSize
	WireFrameSize        = WirePacketSize

	// Largest frame the transmit half of the radio FIFO can hold.
	MaxFrameSize = 128

	// MasterDevice is the designated key distributor.
	MasterDevice DeviceID = 0

	// DefaultDeviceID is compiled into the firmware; override per unit.
	DefaultDeviceID DeviceID = 1

	// Pairing policy
	AdvertiseAttempts  = 5
	DistributeAttempts = 10

	// Application traffic policy
	SendRepeats  = 3
	SendAttempts = 10

	// Sequence numbers: a fresh counter starts at a random value below
	// SequenceLimit; each boot reserves SequenceReserve numbers ahead of
	// the persisted high-water mark.
	SequenceLimit   = 1 << 31
	SequenceReserve = 2000

	// Gesture buffer width in ticks.
	GestureBits = GestureSize * 8
)

// Timing (blocking points on the main loop).
const (
	AdvertiseDelay     = 1000 * time.Millisecond
	AdvertiseJitter    = 0x7ff // mask applied to an RNG word, in milliseconds
	DistributeBlink    = 500 * time.Millisecond
	SendBackoff        = 70 * time.Millisecond
	HeartbeatInterval  = 250 * time.Millisecond
	StandbyPollDelay   = 1 * time.Millisecond
	StandbyPollRetries = 10
	SendTimeout        = 1000 * time.Millisecond
)

// Fixed CBC initialisation vector shared by every unit.
var cbcIV = [BlockSize]byte{
	0x99, 0x17, 0x84, 0x5B,
	0x32, 0xC1, 0xDB, 0xF2,
	0x9F, 0x87, 0x61, 0x39,
	0xC0, 0x49, 0x3F, 0x8B,
}
