package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// chachaEncryptor seals payloads with XChaCha20-Poly1305. The random nonce
// is prepended to the ciphertext.
type chachaEncryptor struct {
	aead cipher.AEAD
}

func newChaChaEncryptor(key []byte) (*chachaEncryptor, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d",
			ErrInvalidKey, chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create aead: %w", err)
	}
	return &chachaEncryptor{aead: aead}, nil
}

func (c *chachaEncryptor) Name() string { return "chacha20poly1305" }

func (c *chachaEncryptor) Encrypt(src []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(src)+c.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, src, nil), nil
}

func (c *chachaEncryptor) Decrypt(src []byte) ([]byte, error) {
	if len(src) < c.aead.NonceSize() {
		return nil, ErrCorrupted
	}
	nonce, ciphertext := src[:c.aead.NonceSize()], src[c.aead.NonceSize():]
	out, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return out, nil
}
