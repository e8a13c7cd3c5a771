package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Cipher encrypts and decrypts tenant secrets with AES-256-GCM. Ciphertext is
// serialized as "<hex nonce>:<hex payload>"; values without the delimiter are
// treated as legacy plaintext and passed through by Decrypt, which keeps
// accounts provisioned before encryption existed readable.
type Cipher struct {
	key []byte
}

const delimiter = ":"

// New derives a 256-bit key from the configured secret.
func New(secret string) *Cipher {
	key := sha256.Sum256([]byte(secret))
	return &Cipher{key: key[:]}
}

func (c *Cipher) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	return hex.EncodeToString(nonce) + delimiter + hex.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	// Legacy plaintext: no delimiter means the value predates encryption.
	nonceHex, payloadHex, found := strings.Cut(ciphertext, delimiter)
	if !found {
		return ciphertext, nil
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext nonce: %w", err)
	}

	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext payload: %w", err)
	}

	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid ciphertext nonce length %d", len(nonce))
	}

	plaintext, err := gcm.Open(nil, nonce, payload, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}

// HashString returns a deterministic one-way hash, used to index encrypted
// instance names without decrypting them.
func HashString(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
