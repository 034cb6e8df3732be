// Package seal provides authenticated encryption for persisted records.
//
// The algorithm is picked from the platform: AES-256-GCM where the CPU has
// AES instructions that Go uses (amd64, arm64), ChaCha20-Poly1305 elsewhere.
// Every sealed message carries its own random nonce as a prefix.
package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm names an AEAD construction.
type Algorithm string

const (
	AESGCM   Algorithm = "aes-256-gcm"
	ChaCha20 Algorithm = "chacha20-poly1305"
)

// KeySize is the required key length for every algorithm.
const KeySize = 32

var (
	// ErrKeySize is returned when the key is not KeySize bytes.
	ErrKeySize = errors.New("seal: key must be 32 bytes")

	// ErrShortMessage is returned when a sealed message is shorter than a nonce.
	ErrShortMessage = errors.New("seal: message too short")
)

// Sealer encrypts and authenticates small messages.
type Sealer struct {
	alg  Algorithm
	aead cipher.AEAD
}

// New returns a Sealer using the preferred algorithm for this platform.
func New(key []byte) (*Sealer, error) {
	return NewWithAlgorithm(key, Preferred())
}

// NewWithAlgorithm returns a Sealer for alg.
func NewWithAlgorithm(key []byte, alg Algorithm) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch alg {
	case AESGCM:
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err == nil {
			aead, err = cipher.NewGCM(block)
		}
	case ChaCha20:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("seal: unknown algorithm %q", alg)
	}
	if err != nil {
		return nil, fmt.Errorf("seal: init %s: %w", alg, err)
	}

	return &Sealer{alg: alg, aead: aead}, nil
}

// Preferred returns the algorithm New selects on this platform.
func Preferred() Algorithm {
	switch runtime.GOARCH {
	case "amd64", "arm64":
		return AESGCM
	default:
		return ChaCha20
	}
}

// Algorithm returns the construction in use.
func (s *Sealer) Algorithm() Algorithm {
	return s.alg
}

// Overhead returns the bytes added to every sealed message.
func (s *Sealer) Overhead() int {
	return s.aead.NonceSize() + s.aead.Overhead()
}

// Seal encrypts plaintext bound to aad. The output is nonce || ciphertext.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts a message produced by Seal.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrShortMessage
	}
	return s.aead.Open(nil, sealed[:n], sealed[n:], aad)
}
