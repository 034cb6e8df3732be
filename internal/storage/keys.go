package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrKeyTooShort       = errors.New("storage: encryption key too short (minimum 16 bytes)")
	ErrPassphraseTooWeak = errors.New("storage: passphrase too weak (minimum 8 characters)")
)

const (
	MinKeyLength        = 16
	MinPassphraseLength = 8
	SaltLength          = 16

	// SaltFile is created in the data directory the first time a
	// passphrase is used and must be kept with the data.
	SaltFile = "key.salt"

	// HKDF info strings. Each backend gets its own subkey.
	SubkeySnapshot = "rowcache/snapshot/records"
	SubkeyBadger   = "rowcache/badger"

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// MasterKey turns the configured encryption secret into a 32-byte key.
//
// A secret of exactly 64 hex characters is decoded and used as the key.
// Anything else is a passphrase, stretched with Argon2id using the salt in
// dir/SaltFile; the salt is generated on first use.
func MasterKey(secret []byte, dir string) ([]byte, error) {
	if len(secret) == 2*argon2KeyLen {
		key := make([]byte, argon2KeyLen)
		if _, err := hex.Decode(key, secret); err == nil {
			return key, nil
		}
	}

	if len(secret) < MinPassphraseLength {
		return nil, ErrPassphraseTooWeak
	}
	salt, err := loadOrCreateSalt(filepath.Join(dir, SaltFile))
	if err != nil {
		return nil, err
	}
	return DeriveKeyFromPassphrase(secret, salt), nil
}

// DeriveKeyFromPassphrase stretches passphrase with Argon2id.
func DeriveKeyFromPassphrase(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

// DeriveSubkey derives a purpose-specific key from masterKey using HKDF.
func DeriveSubkey(masterKey []byte, info string, length int) ([]byte, error) {
	if len(masterKey) < MinKeyLength {
		return nil, ErrKeyTooShort
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, length)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("storage: derive subkey: %w", err)
	}
	return key, nil
}

// GenerateKey returns a random key suitable for the encryption_key
// setting, hex encoded.
func GenerateKey() (string, error) {
	key := make([]byte, argon2KeyLen)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("storage: generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// ZeroKey overwrites key in memory.
func ZeroKey(key []byte) {
	clear(key)
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != SaltLength {
			return nil, fmt.Errorf("storage: %s has %d bytes, want %d", path, len(salt), SaltLength)
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("storage: read salt: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	salt = make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("storage: generate salt: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return loadOrCreateSalt(path)
		}
		return nil, fmt.Errorf("storage: create salt: %w", err)
	}
	if _, err := f.Write(salt); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: write salt: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: sync salt: %w", err)
	}
	return salt, f.Close()
}
