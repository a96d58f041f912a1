package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

const (
	secretboxNonceSize = 24
	kdfIterations      = 100_000
	kdfSaltSize        = 16
)

// SealWithPassphrase encrypts data for storage at rest using SecretBox
// (XSalsa20-Poly1305) under a pbkdf2-derived key.
// Format: [salt (16 bytes)][nonce (24 bytes)][encrypted data + auth tag]
func SealWithPassphrase(data []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, kdfSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	var nonce [secretboxNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	key := deriveStorageKey(passphrase, salt)
	sealed := secretbox.Seal(nil, data, &nonce, key)

	out := make([]byte, 0, kdfSaltSize+secretboxNonceSize+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	return append(out, sealed...), nil
}

// OpenWithPassphrase decrypts data produced by SealWithPassphrase.
func OpenWithPassphrase(sealed []byte, passphrase string) ([]byte, error) {
	if len(sealed) < kdfSaltSize+secretboxNonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("sealed data too short")
	}

	salt := sealed[:kdfSaltSize]
	var nonce [secretboxNonceSize]byte
	copy(nonce[:], sealed[kdfSaltSize:kdfSaltSize+secretboxNonceSize])

	key := deriveStorageKey(passphrase, salt)
	plain, ok := secretbox.Open(nil, sealed[kdfSaltSize+secretboxNonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("decryption failed")
	}
	return plain, nil
}

func deriveStorageKey(passphrase string, salt []byte) *[32]byte {
	var key [32]byte
	copy(key[:], pbkdf2.Key([]byte(passphrase), salt, kdfIterations, 32, sha256.New))
	return &key
}
