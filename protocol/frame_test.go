package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func testCipher(t *testing.T, seed byte) *Cipher {
	t.Helper()
	key := bytes.Repeat([]byte{seed}, KeySize)
	c, err := NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	return c
}

func TestWirePacketEncoding(t *testing.T) {
	p := WirePacket{DeviceID: 3, Seq: 0x01020304, Payload: 0x1122334455667788}
	encoded := EncodeWirePacket(p)

	if len(encoded) != WirePacketSize {
		t.Fatalf("EncodeWirePacket() size = %v, want %v", len(encoded), WirePacketSize)
	}
	if encoded[0] != PreambleApplication {
		t.Errorf("Preamble = %#b, want %#b", encoded[0], PreambleApplication)
	}
	if DeviceID(encoded[1]) != p.DeviceID {
		t.Errorf("DeviceID = %v, want %v", encoded[1], p.DeviceID)
	}
	if got := binary.LittleEndian.Uint32(encoded[2:6]); got != p.Seq {
		t.Errorf("Seq = %#x, want %#x", got, p.Seq)
	}
	if got := binary.LittleEndian.Uint64(encoded[6:14]); got != p.Payload {
		t.Errorf("Payload = %#x, want %#x", got, p.Payload)
	}
	if encoded[14] != 0 || encoded[15] != 0 {
		t.Errorf("Reserved = %v, want zero", encoded[14:])
	}
}

func TestWirePacketRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		packet WirePacket
	}{
		{name: "zero payload", packet: WirePacket{DeviceID: 1, Seq: 1}},
		{name: "all ones payload", packet: WirePacket{DeviceID: 255, Seq: 0x7fffffff, Payload: ^uint64(0)}},
		{name: "gesture", packet: WirePacket{DeviceID: 0, Seq: 2001, Payload: 0b1011_0001}},
	}

	c := testCipher(t, 0x42)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := SealWirePacket(c, tt.packet)
			if err != nil {
				t.Fatalf("SealWirePacket() error = %v", err)
			}
			plain := EncodeWirePacket(tt.packet)
			if bytes.Equal(frame[:], plain[:]) {
				t.Fatal("ciphertext equals plaintext")
			}

			got, err := OpenWirePacket(c, frame[:])
			if err != nil {
				t.Fatalf("OpenWirePacket() error = %v", err)
			}
			if got != tt.packet {
				t.Errorf("OpenWirePacket() = %+v, want %+v", got, tt.packet)
			}
		})
	}
}

func TestOpenWirePacketInvalid(t *testing.T) {
	c := testCipher(t, 0x42)
	good, err := SealWirePacket(c, WirePacket{DeviceID: 1, Seq: 10, Payload: 5})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		frame []byte
		key   *Cipher
		want  error
	}{
		{name: "short", frame: good[:15], key: c, want: ErrFrameLength},
		{name: "long", frame: append(good[:], 0), key: c, want: ErrFrameLength},
		{name: "bad preamble", frame: func() []byte {
			plain := EncodeWirePacket(WirePacket{DeviceID: 1, Seq: 10})
			plain[0] = PreamblePublicKey
			var out [WireFrameSize]byte
			_ = c.Encrypt(out[:], plain[:])
			return out[:]
		}(), key: c, want: ErrBadPreamble},
		{name: "reserved bytes set", frame: func() []byte {
			plain := EncodeWirePacket(WirePacket{DeviceID: 1, Seq: 10})
			plain[15] = 1
			var out [WireFrameSize]byte
			_ = c.Encrypt(out[:], plain[:])
			return out[:]
		}(), key: c, want: ErrBadPadding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenWirePacket(tt.key, tt.frame)
			if !errors.Is(err, tt.want) {
				t.Errorf("OpenWirePacket() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestKeyRotationRoundTrip(t *testing.T) {
	secret := testCipher(t, 0x17)
	var key Key
	for i := range key {
		key[i] = byte(i * 7)
	}

	frame, err := SealKeyRotation(secret, key)
	if err != nil {
		t.Fatalf("SealKeyRotation() error = %v", err)
	}
	if len(frame) != KeyRotationFrameSize {
		t.Fatalf("frame size = %v, want %v", len(frame), KeyRotationFrameSize)
	}

	got, err := OpenKeyRotation(secret, frame[:])
	if err != nil {
		t.Fatalf("OpenKeyRotation() error = %v", err)
	}
	if got != key {
		t.Errorf("OpenKeyRotation() = %x, want %x", got, key)
	}
}

func TestKeyRotationWrongSecret(t *testing.T) {
	var key Key
	copy(key[:], "sixteen byte key")

	frame, err := SealKeyRotation(testCipher(t, 0x17), key)
	if err != nil {
		t.Fatal(err)
	}

	for seed := byte(0); seed < 32; seed++ {
		if seed == 0x17 {
			continue
		}
		if _, err := OpenKeyRotation(testCipher(t, seed), frame[:]); err == nil {
			t.Fatalf("OpenKeyRotation() with wrong secret %#x succeeded", seed)
		}
	}
}

func TestSharedSecretSymmetry(t *testing.T) {
	seeds := [][SecretSize]byte{{1}, {2, 3, 4}, {0xff, 0xee, 0xdd, 0xcc}}
	for i := range seeds {
		seeds[i][31] = byte(i + 9)
	}

	for i := 0; i < len(seeds); i++ {
		for j := i + 1; j < len(seeds); j++ {
			a, err := NewKeyPair(seeds[i])
			if err != nil {
				t.Fatal(err)
			}
			b, err := NewKeyPair(seeds[j])
			if err != nil {
				t.Fatal(err)
			}
			ab, err := a.SharedSecret(b.Public)
			if err != nil {
				t.Fatalf("SharedSecret(a, B) error = %v", err)
			}
			ba, err := b.SharedSecret(a.Public)
			if err != nil {
				t.Fatalf("SharedSecret(b, A) error = %v", err)
			}
			if ab != ba {
				t.Errorf("shared secrets differ: %x vs %x", ab, ba)
			}
		}
	}
}

func TestSharedSecretLowOrderPoint(t *testing.T) {
	kp, err := NewKeyPair([SecretSize]byte{5})
	if err != nil {
		t.Fatal(err)
	}
	var zero [PublicKeySize]byte
	if _, err := kp.SharedSecret(zero); !errors.Is(err, ErrWeakPublicKey) {
		t.Errorf("SharedSecret(zero) error = %v, want %v", err, ErrWeakPublicKey)
	}
}

func TestClassify(t *testing.T) {
	var pub [PublicKeySize]byte
	pub[0] = 0xAB
	pubFrame := EncodePublicKeyPacket(pub)

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "public key", data: pubFrame[:], want: "pubkey"},
		{name: "public key bad preamble", data: append([]byte{PreambleApplication}, pub[:]...), want: "malformed"},
		{name: "key rotation", data: make([]byte, KeyRotationFrameSize), want: "rotation"},
		{name: "application", data: make([]byte, WireFrameSize), want: "application"},
		{name: "length 20", data: make([]byte, 20), want: "malformed"},
		{name: "length 17", data: make([]byte, KeyRotationPacketSize), want: "malformed"},
		{name: "empty", data: nil, want: "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			switch f := Classify(tt.data).(type) {
			case PublicKeyFrame:
				got = "pubkey"
				if f.Key != pub {
					t.Errorf("Key = %x, want %x", f.Key, pub)
				}
			case KeyRotationFrame:
				got = "rotation"
			case ApplicationFrame:
				got = "application"
			case Malformed:
				got = "malformed"
				if f.Length != len(tt.data) {
					t.Errorf("Malformed.Length = %v, want %v", f.Length, len(tt.data))
				}
			}
			if got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyDoesNotAlias(t *testing.T) {
	data := make([]byte, WireFrameSize)
	data[0] = 1
	f, ok := Classify(data).(ApplicationFrame)
	if !ok {
		t.Fatal("Classify() did not return ApplicationFrame")
	}
	data[0] = 2
	if f.Ciphertext[0] != 1 {
		t.Error("ApplicationFrame aliases the receive buffer")
	}
}

func TestSequenceStart(t *testing.T) {
	tests := []struct {
		name           string
		stored, random uint32
		want           uint32
	}{
		{name: "first boot", stored: 0, random: 0x80000010, want: 0x40000008 + SequenceReserve},
		{name: "erased flash", stored: 0xffffffff, random: 6, want: 3 + SequenceReserve},
		{name: "near wraparound", stored: SequenceLimit, random: 0, want: SequenceReserve},
		{name: "persisted", stored: 12345, random: 99, want: 12345},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SequenceStart(tt.stored, tt.random); got != tt.want {
				t.Errorf("SequenceStart() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeyWords(t *testing.T) {
	var k Key
	copy(k[:], "0123456789abcdef")
	if got := KeyFromWords(k.Words()); got != k {
		t.Errorf("KeyFromWords(Words()) = %x, want %x", got, k)
	}
	if k.Fingerprint() == "invalid" {
		t.Error("Fingerprint() = invalid")
	}
}
