package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for the blob encryption key.
const (
	saltSize        = 16
	keySize         = 32
	argonTime       = 1
	argonMemoryKiB  = 64 * 1024
	argonThreads    = 4
	minCiphertext   = saltSize + 12
	minSecretLength = 8
)

var errCiphertextTooShort = errors.New("ciphertext too short")

// Cipher seals blobs with AES-256-GCM under an Argon2id key derived
// from a configured secret. Each sealed blob carries its own random
// salt and nonce, so the same plaintext never encrypts to the same bytes.
type Cipher struct {
	secret []byte
}

// NewCipher builds a blob cipher from the store secret.
func NewCipher(secret string) (*Cipher, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("store secret must be at least %d bytes", minSecretLength)
	}
	return &Cipher{secret: []byte(secret)}, nil
}

// Seal encrypts a blob. Output layout: salt || nonce || ciphertext.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a blob previously produced by Seal.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < minCiphertext {
		return nil, errCiphertextTooShort
	}

	salt := sealed[:saltSize]
	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}
	rest := sealed[saltSize:]
	if len(rest) < gcm.NonceSize() {
		return nil, errCiphertextTooShort
	}

	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed blob: %w", err)
	}
	return plaintext, nil
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(c.secret, salt, argonTime, argonMemoryKiB, argonThreads, keySize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes: %w", err)
	}
	return cipher.NewGCM(block)
}
