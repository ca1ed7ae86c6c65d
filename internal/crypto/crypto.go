package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

var (
	// ErrEncryptFailed indicates credential encryption failed
	ErrEncryptFailed = errors.New("credential encryption failed")
	// ErrDecryptFailed indicates credential decryption failed
	ErrDecryptFailed = errors.New("credential decryption failed")
)

// Vault decrypts stored mailbox credentials on demand. Each worker builds
// its own Vault from configuration; no state is shared with the scheduler.
type Vault struct {
	key []byte
}

// NewVault creates a vault from the configured key. The key is padded or
// truncated to 32 bytes for AES-256.
func NewVault(key string) *Vault {
	k := make([]byte, 32)
	copy(k, []byte(key))
	return &Vault{key: k}
}

// Encrypt encrypts a plaintext credential using AES-256-GCM and returns
// the nonce-prefixed ciphertext base64 encoded.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", ErrEncryptFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrEncryptFailed
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptFailed
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts a stored credential.
func (v *Vault) Decrypt(encrypted string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", ErrDecryptFailed
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", ErrDecryptFailed
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptFailed
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrDecryptFailed
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}

	return string(plaintext), nil
}
