package waweb

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/waforge/waweb/crypto"
)

// AuthInfo holds the credentials established by pairing. EncKey and MacKey
// drive the binary-frame envelope; a binary frame may only be sent when both
// are present.
type AuthInfo struct {
	ClientID    string
	ServerToken string
	ClientToken string
	EncKey      []byte
	MacKey      []byte
}

// Complete reports whether both envelope keys are loaded.
func (a *AuthInfo) Complete() bool {
	return a != nil && len(a.EncKey) == 32 && len(a.MacKey) == 32
}

// NewAuthInfo creates a fresh identity with a random client ID, ready for a
// first pairing handshake.
func NewAuthInfo() *AuthInfo {
	id := uuid.New()
	return &AuthInfo{ClientID: base64.StdEncoding.EncodeToString(id[:])}
}

// BaseEncodedAuthInfo is the portable five-field form of AuthInfo with the
// keys base64-encoded.
type BaseEncodedAuthInfo struct {
	ClientID    string `json:"clientID"`
	ServerToken string `json:"serverToken"`
	ClientToken string `json:"clientToken"`
	EncKey      string `json:"encKey"`
	MacKey      string `json:"macKey"`
}

// Base64 exports the credentials in their portable form.
func (a *AuthInfo) Base64() BaseEncodedAuthInfo {
	return BaseEncodedAuthInfo{
		ClientID:    a.ClientID,
		ServerToken: a.ServerToken,
		ClientToken: a.ClientToken,
		EncKey:      base64.StdEncoding.EncodeToString(a.EncKey),
		MacKey:      base64.StdEncoding.EncodeToString(a.MacKey),
	}
}

// legacyAuthFile is the bootstrap shape written by the original web client.
// The ID/token fields may contain literal double-quote characters and
// WASecretBundle is either a JSON string or an object.
type legacyAuthFile struct {
	WABrowserID    string          `json:"WABrowserId"`
	WAToken1       string          `json:"WAToken1"`
	WAToken2       string          `json:"WAToken2"`
	WASecretBundle json.RawMessage `json:"WASecretBundle"`
}

type secretBundle struct {
	EncKey string `json:"encKey"`
	MacKey string `json:"macKey"`
}

// ParseAuthInfo parses an auth bootstrap document. It accepts the modern
// five-field shape (keys base64 or raw byte arrays) and the legacy
// WABrowserId/WAToken shape.
func ParseAuthInfo(data []byte) (*AuthInfo, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse auth info: %w", err)
	}

	if _, legacy := probe["WABrowserId"]; legacy {
		return parseLegacyAuthInfo(data)
	}

	var doc struct {
		ClientID    string          `json:"clientID"`
		ServerToken string          `json:"serverToken"`
		ClientToken string          `json:"clientToken"`
		EncKey      json.RawMessage `json:"encKey"`
		MacKey      json.RawMessage `json:"macKey"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse auth info: %w", err)
	}

	encKey, err := decodeKey(doc.EncKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encKey: %w", err)
	}
	macKey, err := decodeKey(doc.MacKey)
	if err != nil {
		return nil, fmt.Errorf("invalid macKey: %w", err)
	}

	return &AuthInfo{
		ClientID:    doc.ClientID,
		ServerToken: doc.ServerToken,
		ClientToken: doc.ClientToken,
		EncKey:      encKey,
		MacKey:      macKey,
	}, nil
}

func parseLegacyAuthInfo(data []byte) (*AuthInfo, error) {
	var doc legacyAuthFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse legacy auth info: %w", err)
	}

	bundleRaw := doc.WASecretBundle
	// The bundle is sometimes double-encoded as a JSON string.
	var bundleStr string
	if err := json.Unmarshal(bundleRaw, &bundleStr); err == nil {
		bundleRaw = json.RawMessage(bundleStr)
	}
	var bundle secretBundle
	if err := json.Unmarshal(bundleRaw, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse secret bundle: %w", err)
	}

	encKey, err := base64.StdEncoding.DecodeString(bundle.EncKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encKey: %w", err)
	}
	macKey, err := base64.StdEncoding.DecodeString(bundle.MacKey)
	if err != nil {
		return nil, fmt.Errorf("invalid macKey: %w", err)
	}

	return &AuthInfo{
		ClientID:    stripQuotes(doc.WABrowserID),
		ServerToken: stripQuotes(doc.WAToken1),
		ClientToken: stripQuotes(doc.WAToken2),
		EncKey:      encKey,
		MacKey:      macKey,
	}, nil
}

// decodeKey accepts a base64 string or a raw JSON byte array.
func decodeKey(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing key")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		key, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			key, err = base64.RawStdEncoding.DecodeString(s)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode key: %w", err)
		}
		return key, nil
	}
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("key is neither base64 nor byte array")
	}
	key := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("key byte %d out of range: %d", i, v)
		}
		key[i] = byte(v)
	}
	return key, nil
}

func stripQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, "")
}

// LoadAuthInfoFile reads and parses a plain-JSON auth bootstrap file.
func LoadAuthInfoFile(path string) (*AuthInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth file: %w", err)
	}
	return ParseAuthInfo(data)
}

// SaveAuthInfoFile writes the portable base64 form to path.
func SaveAuthInfoFile(path string, a *AuthInfo) error {
	data, err := json.MarshalIndent(a.Base64(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal auth info: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write auth file: %w", err)
	}
	return nil
}

// LoadAuthInfoSealed reads a credential file sealed with
// SaveAuthInfoSealed.
func LoadAuthInfoSealed(path, passphrase string) (*AuthInfo, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth file: %w", err)
	}
	data, err := crypto.OpenWithPassphrase(sealed, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal auth file: %w", err)
	}
	return ParseAuthInfo(data)
}

// SaveAuthInfoSealed writes the credentials encrypted at rest under a
// passphrase-derived key.
func SaveAuthInfoSealed(path, passphrase string, a *AuthInfo) error {
	data, err := json.Marshal(a.Base64())
	if err != nil {
		return fmt.Errorf("failed to marshal auth info: %w", err)
	}
	sealed, err := crypto.SealWithPassphrase(data, passphrase)
	if err != nil {
		return fmt.Errorf("failed to seal auth info: %w", err)
	}
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return fmt.Errorf("failed to write auth file: %w", err)
	}
	return nil
}
