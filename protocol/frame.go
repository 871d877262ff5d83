package protocol

import "encoding/binary"

// WirePacket is the application packet exchanged once pairing completes.
// Layout: Preamble(1) | DeviceID(1) | Seq(4, LE) | Payload(8, LE) | Reserved(2)
// It is always sent encrypted under the active key.
type WirePacket struct {
	DeviceID DeviceID
	Seq      uint32
	Payload  uint64
}

// EncodeWirePacket serialises p into one plaintext cipher block.
func EncodeWirePacket(p WirePacket) [WirePacketSize]byte {
	var data [WirePacketSize]byte
	data[0] = PreambleApplication
	data[1] = byte(p.DeviceID)
	binary.LittleEndian.PutUint32(data[2:6], p.Seq)
	binary.LittleEndian.PutUint64(data[6:14], p.Payload)
	// data[14:16] reserved, zero
	return data
}

// DecodeWirePacket parses a decrypted application block.
func DecodeWirePacket(data []byte) (WirePacket, error) {
	var p WirePacket
	if len(data) != WirePacketSize {
		return p, ErrFrameLength
	}
	if data[0] != PreambleApplication {
		return p, ErrBadPreamble
	}
	if data[14] != 0 || data[15] != 0 {
		return p, ErrBadPadding
	}
	p.DeviceID = DeviceID(data[1])
	p.Seq = binary.LittleEndian.Uint32(data[2:6])
	p.Payload = binary.LittleEndian.Uint64(data[6:14])
	return p, nil
}

// SealWirePacket encodes and encrypts p under c.
func SealWirePacket(c *Cipher, p WirePacket) ([WireFrameSize]byte, error) {
	plain := EncodeWirePacket(p)
	var out [WireFrameSize]byte
	err := c.Encrypt(out[:], plain[:])
	return out, err
}

// OpenWirePacket decrypts and decodes an application frame.
func OpenWirePacket(c *Cipher, frame []byte) (WirePacket, error) {
	if len(frame) != WireFrameSize {
		return WirePacket{}, ErrFrameLength
	}
	var plain [WireFrameSize]byte
	if err := c.Decrypt(plain[:], frame); err != nil {
		return WirePacket{}, err
	}
	return DecodeWirePacket(plain[:])
}

// EncodePublicKeyPacket builds the only frame ever sent in the clear.
func EncodePublicKeyPacket(pub [PublicKeySize]byte) [PublicKeyFrameSize]byte {
	var data [PublicKeyFrameSize]byte
	data[0] = PreamblePublicKey
	copy(data[1:], pub[:])
	return data
}

// DecodePublicKeyPacket extracts the peer public key from a plaintext frame.
func DecodePublicKeyPacket(data []byte) ([PublicKeySize]byte, error) {
	var pub [PublicKeySize]byte
	if len(data) != PublicKeyFrameSize {
		return pub, ErrFrameLength
	}
	if data[0] != PreamblePublicKey {
		return pub, ErrBadPreamble
	}
	copy(pub[:], data[1:])
	return pub, nil
}

// SealKeyRotation encrypts key under the shared-secret cipher c.
// Layout before encryption: Preamble(1) | Key(16) | zero padding(15).
func SealKeyRotation(c *Cipher, key Key) ([KeyRotationFrameSize]byte, error) {
	var plain, out [KeyRotationFrameSize]byte
	plain[0] = PreambleKeyRotation
	copy(plain[1:1+KeySize], key[:])
	err := c.Encrypt(out[:], plain[:])
	return out, err
}

// OpenKeyRotation decrypts a key-rotation frame and verifies its preamble
// and padding. A wrong shared secret fails verification.
func OpenKeyRotation(c *Cipher, frame []byte) (Key, error) {
	var key Key
	if len(frame) != KeyRotationFrameSize {
		return key, ErrFrameLength
	}
	var plain [KeyRotationFrameSize]byte
	if err := c.Decrypt(plain[:], frame); err != nil {
		return key, err
	}
	if plain[0] != PreambleKeyRotation {
		return key, ErrBadPreamble
	}
	for _, b := range plain[KeyRotationPacketSize:] {
		if b != 0 {
			return key, ErrBadPadding
		}
	}
	copy(key[:], plain[1:KeyRotationPacketSize])
	return key, nil
}
