package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// SessionCipher is a connection's AES-256-GCM cipher, built from the
// symmetric key negotiated during the handshake. Sealed frames are
// nonce-prefixed ciphertext; GCM authentication makes tampering detectable.
type SessionCipher struct {
	aead cipher.AEAD
}

// NewSessionCipher builds a cipher from a 32-byte session key.
func NewSessionCipher(key []byte) (*SessionCipher, error) {
	if len(key) != SessionKeySize {
		return nil, fmt.Errorf("session key is %d bytes, want %d", len(key), SessionKeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm init: %w", err)
	}
	return &SessionCipher{aead: aead}, nil
}

// NewRandomSessionKey generates a session key. Clients call this before
// submitting the key during the handshake.
func NewRandomSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating session key: %w", err)
	}
	return key, nil
}

// Overhead is the number of bytes Seal adds to a plaintext.
func (c *SessionCipher) Overhead() int {
	return c.aead.NonceSize() + c.aead.Overhead()
}

// Seal encrypts and authenticates plaintext, returning nonce||ciphertext.
func (c *SessionCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce gen: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open authenticates and decrypts a sealed frame. It fails on truncated
// input and on any ciphertext modification.
func (c *SessionCipher) Open(frame []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(frame) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("sealed frame too short: %d bytes", len(frame))
	}
	nonce, ciphertext := frame[:nonceSize], frame[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
