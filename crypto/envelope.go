// Package crypto implements the encrypt-then-MAC envelope applied to binary
// frame payloads, plus the at-rest sealing used for stored credentials.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	// MACSize is the length of the HMAC-SHA256 prefix on sealed payloads.
	MACSize = sha256.Size
	// IVSize is the length of the CBC initialization vector prepended
	// inside the ciphertext.
	IVSize = aes.BlockSize
)

var (
	// ErrBadMac is returned when the HMAC over a sealed payload does not
	// verify.
	ErrBadMac = errors.New("crypto: bad mac")
	// ErrBadPadding is returned when the decrypted payload carries invalid
	// PKCS#7 padding.
	ErrBadPadding = errors.New("crypto: bad padding")
	// ErrShortPayload is returned when a sealed payload is too short to
	// contain a MAC, IV and one cipher block.
	ErrShortPayload = errors.New("crypto: sealed payload too short")
)

// Seal encrypts plaintext with AES-256-CBC under encKey and returns
// hmac[32] || iv || ciphertext, where the HMAC-SHA256 under macKey covers
// the IV and ciphertext.
func Seal(plaintext, encKey, macKey []byte) ([]byte, error) {
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := pad(plaintext)
	body := make([]byte, IVSize+len(padded))
	iv := body[:IVSize]
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(body[IVSize:], padded)

	out := make([]byte, 0, MACSize+len(body))
	out = append(out, sign(body, macKey)...)
	return append(out, body...), nil
}

// Open verifies the HMAC in constant time and decrypts the payload produced
// by Seal.
func Open(sealed, encKey, macKey []byte) ([]byte, error) {
	if len(sealed) < MACSize+IVSize+aes.BlockSize {
		return nil, ErrShortPayload
	}
	mac, body := sealed[:MACSize], sealed[MACSize:]
	if !hmac.Equal(mac, sign(body, macKey)) {
		return nil, ErrBadMac
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	iv, ct := body[:IVSize], body[IVSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, ErrBadPadding
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	return unpad(plain)
}

func sign(body, macKey []byte) []byte {
	h := hmac.New(sha256.New, macKey)
	h.Write(body)
	return h.Sum(nil)
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, ErrBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrBadPadding
		}
	}
	return data[:len(data)-n], nil
}
