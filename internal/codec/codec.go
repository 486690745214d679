package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32

	// IVSize is the per-message nonce length (GCM with a 16-byte nonce).
	IVSize = 16

	// Undecodable replaces the plaintext of any record that cannot be opened.
	Undecodable = "[unable to decrypt message]"

	separator = ":"
	hkdfInfo  = "chatrelay message key v1"
)

var (
	// ErrInvalidKey is returned when key material has the wrong length or encoding.
	ErrInvalidKey = errors.New("invalid message key")

	// ErrUndecodable is returned by OpenStrict for malformed or foreign tokens.
	ErrUndecodable = errors.New("undecodable token")
)

// Codec seals and opens message bodies with one process-wide key.
type Codec struct {
	aead cipher.AEAD
}

// New creates a Codec for a 32-byte key.
func New(key []byte) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random IV and returns "hex(iv):hex(ct)".
func (c *Codec) Seal(plaintext string) (string, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}
	ct := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(iv) + separator + hex.EncodeToString(ct), nil
}

// OpenStrict decrypts a token produced by Seal.
func (c *Codec) OpenStrict(token string) (string, error) {
	ivHex, ctHex, ok := strings.Cut(token, separator)
	if !ok {
		return "", fmt.Errorf("%w: missing separator", ErrUndecodable)
	}
	iv, err := hex.DecodeString(ivHex)
	if err != nil || len(iv) != IVSize {
		return "", fmt.Errorf("%w: bad iv", ErrUndecodable)
	}
	ct, err := hex.DecodeString(ctHex)
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrUndecodable)
	}
	pt, err := c.aead.Open(nil, iv, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrUndecodable)
	}
	return string(pt), nil
}

// Open decrypts token, returning Undecodable instead of an error.
func (c *Codec) Open(token string) string {
	pt, err := c.OpenStrict(token)
	if err != nil {
		return Undecodable
	}
	return pt
}

// ParseKey turns configured key material into a 32-byte key.
// Accepted forms: 64 hex characters or a raw 32-character string.
// With derive set, any non-empty material is stretched through HKDF-SHA256.
func ParseKey(material string, derive bool) ([]byte, error) {
	if material == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(material) == 2*KeySize {
		if key, err := hex.DecodeString(material); err == nil {
			return key, nil
		}
	}
	if len(material) == KeySize {
		return []byte(material), nil
	}
	if derive {
		key := make([]byte, KeySize)
		r := hkdf.New(sha256.New, []byte(material), nil, []byte(hkdfInfo))
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, fmt.Errorf("failed to derive key: %w", err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: expected %d bytes or %d hex characters, got %d characters",
		ErrInvalidKey, KeySize, 2*KeySize, len(material))
}

// GenerateKey returns a fresh random key, hex encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}

// FromConfig builds the process codec from configured key material.
// Missing or invalid material falls back to a random key for this process
// only; provisioned reports whether the configured key was used.
func FromConfig(material string, derive bool, log *zap.Logger) (c *Codec, provisioned bool, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	key, perr := ParseKey(material, derive)
	if perr == nil {
		c, err = New(key)
		return c, err == nil, err
	}

	if material == "" {
		log.Warn("no message key configured, generating an ephemeral key; previously stored messages will be unreadable and messages stored now will be unreadable after restart")
	} else {
		log.Error("configured message key rejected, generating an ephemeral key; previously stored messages will be unreadable and messages stored now will be unreadable after restart",
			zap.Error(perr))
	}

	key = make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, false, fmt.Errorf("failed to generate fallback key: %w", err)
	}
	c, err = New(key)
	return c, false, err
}
