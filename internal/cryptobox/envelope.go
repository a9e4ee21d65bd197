// Package cryptobox seals and opens the end-to-end-encrypted report envelope
// shared by the agent and the fleet server (spec §4.2). It is the one
// package both binaries import directly.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/atlasfleet/atlas/internal/domain"
)

// KeySize is the required length, in bytes, of the shared symmetric key.
const KeySize = 32

// EnvelopeVersion is the only version this implementation understands.
const EnvelopeVersion = 1

// Envelope is the wire shape of a sealed report, spec §4.2.
type Envelope struct {
	Encrypted  bool   `json:"encrypted"`
	Version    int    `json:"version,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
}

// ParseKey decodes a base64 32-byte key from configuration.
func ParseKey(b64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: decode key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptobox: key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM, using machineID as associated
// data so a sealed envelope cannot be replayed under a different machine_id.
// A fresh random 12-byte nonce is generated for every call — never reuse a
// nonce under the same key.
func Seal(key []byte, machineID string, plaintext []byte) (*Envelope, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptobox: generate nonce: %w", err)
	}

	// Seal appends its 16-byte authentication tag to the ciphertext; the
	// envelope keeps tag and ciphertext together in one base64 field.
	sealed := gcm.Seal(nil, nonce, plaintext, []byte(machineID))

	return &Envelope{
		Encrypted:  true,
		Version:    EnvelopeVersion,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

// Open decrypts an envelope, verifying the GCM tag against machineID as
// associated data. Any tag mismatch, wrong key, wrong AAD, or malformed
// envelope returns ErrDecryptFailed-wrapping error — it never falls back to
// treating the payload as plaintext.
func Open(key []byte, machineID string, env *Envelope) ([]byte, error) {
	if env == nil || !env.Encrypted {
		return nil, fmt.Errorf("%w: cryptobox: envelope is not marked encrypted", domain.ErrDecryptFailed)
	}
	if env.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: cryptobox: unsupported envelope version %d", domain.ErrDecryptFailed, env.Version)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: cryptobox: malformed nonce", domain.ErrDecryptFailed)
	}
	sealed, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: cryptobox: malformed ciphertext", domain.ErrDecryptFailed)
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, []byte(machineID))
	if err != nil {
		return nil, fmt.Errorf("%w: cryptobox: %v", domain.ErrDecryptFailed, err)
	}
	return plaintext, nil
}

// SealJSON marshals v to JSON then seals it.
func SealJSON(key []byte, machineID string, v any) (*Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: marshal plaintext: %w", err)
	}
	return Seal(key, machineID, plaintext)
}

// OpenJSON opens an envelope and unmarshals the plaintext into v.
func OpenJSON(key []byte, machineID string, env *Envelope, v any) error {
	plaintext, err := Open(key, machineID, env)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}

// KeysEqual reports whether two configured keys are bitwise equal, using a
// constant-time comparison so key mismatches can't be timed.
func KeysEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptobox: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: new gcm: %w", err)
	}
	return gcm, nil
}
