// Package crypto provides authenticated encryption at rest for tenant
// connection strings: AES-256-GCM over a random 96-bit nonce, and a
// PBKDF2-HMAC-SHA256 key derivation for turning an operator-supplied
// password into a 32-byte key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keyLength   = 32
	nonceLength = 12
	iterations  = 100_000
)

var (
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, expected 32 bytes")
	ErrEncryptionFailed = errors.New("crypto: encryption failed")
	ErrDecryptionFailed = errors.New("crypto: decryption failed")
)

// Encrypt emits nonce ‖ ciphertext ‖ tag as one opaque blob. The nonce is
// freshly random on every call.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != keyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt. It fails with ErrInvalidKeyLength when the key
// length is not 32, and with ErrDecryptionFailed when the blob is shorter
// than the nonce length or when authentication fails.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(key) != keyLength {
		return nil, ErrInvalidKeyLength
	}
	if len(blob) < nonceLength {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	nonce, ciphertext := blob[:nonceLength], blob[nonceLength:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// EncryptString is a convenience wrapper over Encrypt for text payloads such
// as connection strings.
func EncryptString(plaintext string, key []byte) ([]byte, error) {
	return Encrypt([]byte(plaintext), key)
}

// DecryptString is a convenience wrapper over Decrypt for text payloads.
func DecryptString(blob, key []byte) (string, error) {
	plaintext, err := Decrypt(blob, key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptBase64 encrypts then base64-encodes the result, for tooling that
// prefers a textual form (seed scripts, admin CLIs) over the raw blob the
// catalog stores.
func EncryptBase64(plaintext string, key []byte) (string, error) {
	blob, err := EncryptString(plaintext, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptBase64 reverses EncryptBase64.
func DecryptBase64(encoded string, key []byte) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return DecryptString(blob, key)
}

// DeriveKey deterministically derives a 32-byte key from a password and
// salt using PBKDF2-HMAC-SHA256 with 100,000 iterations. Identical inputs
// yield identical keys.
func DeriveKey(password string, salt []byte) [32]byte {
	derived := pbkdf2.Key([]byte(password), salt, iterations, keyLength, sha256.New)
	var key [32]byte
	copy(key[:], derived)
	return key
}

// ProjectSalt is the fixed salt used when deriving the encryption key from
// ENCRYPTION_PASSWORD. It is not a secret; it only prevents rainbow-table
// reuse of the derivation across unrelated projects.
var ProjectSalt = []byte("tenant-core-v1-salt-2024")
