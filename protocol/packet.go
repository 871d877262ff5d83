package protocol

// Inbound is the classification of a raw frame received from the radio.
// It is one of PublicKeyFrame, KeyRotationFrame, ApplicationFrame or
// Malformed.
type Inbound interface {
	inbound()
}

// PublicKeyFrame carries a peer public key in the clear.
type PublicKeyFrame struct {
	Key [PublicKeySize]byte
}

// KeyRotationFrame is an encrypted key-rotation frame. It can only be
// opened with the shared secret of a pairing in progress.
type KeyRotationFrame struct {
	Ciphertext [KeyRotationFrameSize]byte
}

// ApplicationFrame is an encrypted WirePacket.
type ApplicationFrame struct {
	Ciphertext [WireFrameSize]byte
}

// Malformed is any frame that matches none of the known shapes.
type Malformed struct {
	Length int
	Reason error
}

func (PublicKeyFrame) inbound()   {}
func (KeyRotationFrame) inbound() {}
func (ApplicationFrame) inbound() {}
func (Malformed) inbound()        {}

// Classify resolves a raw frame by length and, for the plaintext frame,
// preamble. The returned value never aliases data, so callers may keep it
// after the radio reclaims its receive buffer.
func Classify(data []byte) Inbound {
	switch len(data) {
	case PublicKeyFrameSize:
		pub, err := DecodePublicKeyPacket(data)
		if err != nil {
			return Malformed{Length: len(data), Reason: err}
		}
		return PublicKeyFrame{Key: pub}
	case KeyRotationFrameSize:
		var f KeyRotationFrame
		copy(f.Ciphertext[:], data)
		return f
	case WireFrameSize:
		var f ApplicationFrame
		copy(f.Ciphertext[:], data)
		return f
	default:
		return Malformed{Length: len(data), Reason: ErrFrameLength}
	}
}
