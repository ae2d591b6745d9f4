package redact

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12
)

// CryptoError reports encryption attempted without usable key material, or
// key material that is malformed.
type CryptoError struct {
	Reason string
}

func (e *CryptoError) Error() string { return "redact: " + e.Reason }

// DataKey pairs a plaintext data-encryption key with its encrypted form as
// returned by an external key service.
type DataKey struct {
	Plaintext []byte
	Encrypted []byte
}

// Equal compares both key byte contents.
func (k DataKey) Equal(other DataKey) bool {
	return bytes.Equal(k.Plaintext, other.Plaintext) && bytes.Equal(k.Encrypted, other.Encrypted)
}

// String masks the plaintext key.
func (k DataKey) String() string {
	return fmt.Sprintf("DataKey{plaintext:***, encrypted:%d bytes}", len(k.Encrypted))
}

// KeyProvider is an external key service used for envelope encryption.
type KeyProvider interface {
	// GenerateDataKey returns a fresh data key, plaintext and encrypted.
	GenerateDataKey() (DataKey, error)
	// DecryptDataKey recovers the plaintext key from its encrypted form.
	DecryptDataKey(encrypted []byte) ([]byte, error)
}

// Cipher encrypts field values with AES-256-GCM. With a KeyProvider set it
// operates in envelope mode: each value is sealed under a fresh data key and
// the encrypted data key travels with the ciphertext.
type Cipher struct {
	key      []byte
	provider KeyProvider
}

// NewCipher builds a Cipher from a Base64-encoded key and/or a KeyProvider.
// A key shorter than 32 bytes is zero-padded; a longer key is rejected.
func NewCipher(base64Key string, provider KeyProvider) (*Cipher, error) {
	c := &Cipher{provider: provider}
	if base64Key != "" {
		raw, err := base64.StdEncoding.DecodeString(base64Key)
		if err != nil {
			return nil, &CryptoError{Reason: fmt.Sprintf("key is not valid base64: %v", err)}
		}
		if len(raw) > keySize {
			return nil, &CryptoError{Reason: fmt.Sprintf("key is %d bytes, longer than the %d-byte maximum", len(raw), keySize)}
		}
		key := make([]byte, keySize)
		copy(key, raw)
		c.key = key
	}
	if c.key == nil && c.provider == nil {
		return nil, &CryptoError{Reason: "neither key nor key provider configured"}
	}
	return c, nil
}

// Encrypt seals value and returns the Base64 wire form. Direct mode emits
// Base64(IV || ciphertext+tag); envelope mode prefixes a big-endian uint16
// length and the encrypted data key.
func (c *Cipher) Encrypt(value string) (string, error) {
	if c.provider != nil {
		return c.encryptEnvelope(value)
	}
	sealed, err := seal(c.key, []byte(value))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", &CryptoError{Reason: fmt.Sprintf("ciphertext is not valid base64: %v", err)}
	}
	if c.provider != nil {
		return c.decryptEnvelope(raw)
	}
	plain, err := open(c.key, raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (c *Cipher) encryptEnvelope(value string) (string, error) {
	dk, err := c.provider.GenerateDataKey()
	if err != nil {
		return "", &CryptoError{Reason: fmt.Sprintf("key provider failed to generate data key: %v", err)}
	}
	if len(dk.Plaintext) == 0 || len(dk.Encrypted) == 0 {
		return "", &CryptoError{Reason: "key provider returned an empty data key"}
	}
	sealed, err := seal(pad(dk.Plaintext), []byte(value))
	if err != nil {
		return "", err
	}
	out := make([]byte, 2+len(dk.Encrypted)+len(sealed))
	binary.BigEndian.PutUint16(out[:2], uint16(len(dk.Encrypted)))
	copy(out[2:], dk.Encrypted)
	copy(out[2+len(dk.Encrypted):], sealed)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (c *Cipher) decryptEnvelope(raw []byte) (string, error) {
	if len(raw) < 2 {
		return "", &CryptoError{Reason: "envelope ciphertext too short"}
	}
	dekLen := int(binary.BigEndian.Uint16(raw[:2]))
	if len(raw) < 2+dekLen {
		return "", &CryptoError{Reason: "envelope ciphertext truncated"}
	}
	plainKey, err := c.provider.DecryptDataKey(raw[2 : 2+dekLen])
	if err != nil {
		return "", &CryptoError{Reason: fmt.Sprintf("key provider failed to decrypt data key: %v", err)}
	}
	plain, err := open(pad(plainKey), raw[2+dekLen:])
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// pad zero-pads a key to the AES-256 size. Oversized provider keys are
// truncated rather than rejected; the provider owns key hygiene.
func pad(key []byte) []byte {
	out := make([]byte, keySize)
	copy(out, key)
	return out
}

func seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &CryptoError{Reason: fmt.Sprintf("cipher init failed: %v", err)}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &CryptoError{Reason: fmt.Sprintf("gcm init failed: %v", err)}
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, &CryptoError{Reason: fmt.Sprintf("nonce generation failed: %v", err)}
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, &CryptoError{Reason: "ciphertext shorter than nonce"}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &CryptoError{Reason: fmt.Sprintf("cipher init failed: %v", err)}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &CryptoError{Reason: fmt.Sprintf("gcm init failed: %v", err)}
	}
	plain, err := gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, &CryptoError{Reason: fmt.Sprintf("decryption failed: %v", err)}
	}
	return plain, nil
}
