package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"

	"golang.org/x/crypto/curve25519"
)

// Cipher is AES-128 in CBC mode with the fixed device IV. Every call
// starts a fresh chain, so equal plaintexts give equal ciphertexts.
type Cipher struct {
	block cipher.Block
}

// NewCipher builds a Cipher from the first KeySize bytes of key. A 32-byte
// shared secret is therefore accepted directly.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) < KeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key[:KeySize])
	if err != nil {
		return nil, err
	}
	return &Cipher{block: block}, nil
}

// Encrypt encrypts src into dst. Both must be the same whole number of
// blocks long; they may overlap exactly.
func (c *Cipher) Encrypt(dst, src []byte) error {
	if len(src)%BlockSize != 0 || len(src) == 0 || len(dst) < len(src) {
		return ErrBlockSize
	}
	cipher.NewCBCEncrypter(c.block, cbcIV[:]).CryptBlocks(dst[:len(src)], src)
	return nil
}

// Decrypt is the inverse of Encrypt.
func (c *Cipher) Decrypt(dst, src []byte) error {
	if len(src)%BlockSize != 0 || len(src) == 0 || len(dst) < len(src) {
		return ErrBlockSize
	}
	cipher.NewCBCDecrypter(c.block, cbcIV[:]).CryptBlocks(dst[:len(src)], src)
	return nil
}

// KeyPair is a curve25519 key pair. It lives in volatile memory only.
type KeyPair struct {
	Private [SecretSize]byte
	Public  [PublicKeySize]byte
}

// NewKeyPair derives a key pair from 32 bytes of entropy. The scalar is
// clamped by X25519 itself.
func NewKeyPair(seed [SecretSize]byte) (*KeyPair, error) {
	pub, err := curve25519.X25519(seed[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	kp := &KeyPair{Private: seed}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret performs the elliptic-curve Diffie-Hellman exchange with a
// peer's public key.
func (kp *KeyPair) SharedSecret(peer [PublicKeySize]byte) ([SecretSize]byte, error) {
	var secret [SecretSize]byte
	out, err := curve25519.X25519(kp.Private[:], peer[:])
	if err != nil {
		return secret, ErrWeakPublicKey
	}
	copy(secret[:], out)
	return secret, nil
}

// Wipe zeroes the private scalar.
func (kp *KeyPair) Wipe() {
	for i := range kp.Private {
		kp.Private[i] = 0
	}
}

// Equal compares two keys in constant time.
func (k Key) Equal(o Key) bool {
	return subtle.ConstantTimeCompare(k[:], o[:]) == 1
}
