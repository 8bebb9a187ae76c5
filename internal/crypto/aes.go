// Package crypto seals config secrets (LLM API keys, the Redis password, the
// Postgres DSN) with AES-256-GCM.
//
// Generate a master key with `openssl rand -hex 32`, export it as
// KUBEPULSE_MASTER_KEY, run `encryptkey <secret>` and paste the printed
// "enc:aes256:..." value into config.yaml. Values without the prefix pass
// through unchanged.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// encPrefix marks an encrypted value: enc:aes256:<base64(nonce+ciphertext)>
const encPrefix = "enc:aes256:"

// MasterKeyEnv names the environment variable holding the hex master key.
const MasterKeyEnv = "KUBEPULSE_MASTER_KEY"

// Encrypt encrypts plaintext with AES-256-GCM using the provided 32-byte key.
// The returned string includes the "enc:aes256:" prefix and can be stored directly in config.
// A fresh random 12-byte nonce is generated for every call, so repeated encryption of the
// same plaintext produces different ciphertext (semantically secure).
func Encrypt(key []byte, plaintext string) (string, error) {
	if len(key) != 32 {
		return "", fmt.Errorf("crypto: key must be exactly 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to create GCM: %w", err)
	}

	// Generate a cryptographically random nonce (12 bytes for GCM).
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	// Seal appends the ciphertext and GCM authentication tag to the nonce.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a value previously encrypted with Encrypt.
// Values without the "enc:aes256:" prefix are returned unchanged, so a config
// file may mix encrypted and plain-text values.
func Decrypt(key []byte, value string) (string, error) {
	if !IsEncrypted(value) {
		// Not an encrypted value, return as-is.
		return value, nil
	}

	if len(key) != 32 {
		return "", fmt.Errorf("crypto: key must be exactly 32 bytes, got %d", len(key))
	}

	// Strip prefix and base64-decode.
	encoded := strings.TrimPrefix(value, encPrefix)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to base64-decode encrypted value: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("crypto: ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// Likely wrong key or tampered data.
		return "", fmt.Errorf("crypto: decryption failed (wrong key or corrupted data): %w", err)
	}

	return string(plaintext), nil
}

// IsEncrypted reports whether value is an encrypted config value (has the enc:aes256: prefix).
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}

// MasterKeyFromEnv reads the 32-byte master key from MasterKeyEnv, which must
// hold 64 hex characters.
func MasterKeyFromEnv() ([]byte, error) {
	hexKey := os.Getenv(MasterKeyEnv)
	if hexKey == "" {
		return nil, fmt.Errorf("crypto: %s environment variable is not set; "+
			"generate one with: openssl rand -hex 32", MasterKeyEnv)
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: %s is not valid hex: %w", MasterKeyEnv, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("crypto: %s must be 64 hex chars (32 bytes), got %d bytes", MasterKeyEnv, len(key))
	}
	return key, nil
}

// DecryptInPlace replaces every encrypted value among fields with its
// plaintext. The master key is only read when at least one field is
// encrypted, so deployments without secrets need no key.
func DecryptInPlace(fields ...*string) error {
	var key []byte
	for _, f := range fields {
		if f == nil || !IsEncrypted(*f) {
			continue
		}
		if key == nil {
			k, err := MasterKeyFromEnv()
			if err != nil {
				return fmt.Errorf("crypto: cannot decrypt config value: %w", err)
			}
			key = k
		}
		plain, err := Decrypt(key, *f)
		if err != nil {
			return err
		}
		*f = plain
	}
	return nil
}
