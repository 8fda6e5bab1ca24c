// Package codec provides the pluggable compression and encryption codecs
// used by packet storage. Both default to pass-through implementations; the
// concrete algorithms are selected by name from configuration.
package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCodec is returned for an unrecognized codec name.
	ErrUnknownCodec = errors.New("unknown codec")

	// ErrInvalidKey is returned when an encryption key has the wrong size.
	ErrInvalidKey = errors.New("invalid encryption key")

	// ErrCorrupted is returned when decoding fails integrity checks.
	ErrCorrupted = errors.New("corrupted codec payload")
)

// Compressor compresses and decompresses byte buffers. Implementations must
// be safe for concurrent use.
type Compressor interface {
	// Name returns the codec selector name.
	Name() string

	// Compress returns the compressed form of src in a fresh buffer.
	Compress(src []byte) ([]byte, error)

	// Decompress reverses Compress.
	Decompress(src []byte) ([]byte, error)
}

// Encryptor encrypts and decrypts byte buffers. Implementations must be
// safe for concurrent use.
type Encryptor interface {
	// Name returns the codec selector name.
	Name() string

	// Encrypt returns the sealed form of src in a fresh buffer.
	Encrypt(src []byte) ([]byte, error)

	// Decrypt reverses Encrypt, failing on tampered input.
	Decrypt(src []byte) ([]byte, error)
}

// NewCompressor returns the compressor registered under name.
// Recognized names: "none" (default when empty), "zstd".
func NewCompressor(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return noopCompressor{}, nil
	case "zstd":
		return newZstdCompressor()
	default:
		return nil, fmt.Errorf("%w: compressor %q", ErrUnknownCodec, name)
	}
}

// NewEncryptor returns the encryptor registered under name.
// Recognized names: "none" (default when empty), "chacha20poly1305".
func NewEncryptor(name string, key []byte) (Encryptor, error) {
	switch name {
	case "", "none":
		return noopEncryptor{}, nil
	case "chacha20poly1305":
		return newChaChaEncryptor(key)
	default:
		return nil, fmt.Errorf("%w: encryptor %q", ErrUnknownCodec, name)
	}
}

// noopCompressor passes bytes through unchanged.
type noopCompressor struct{}

func (noopCompressor) Name() string { return "none" }

func (noopCompressor) Compress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (noopCompressor) Decompress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

// noopEncryptor passes bytes through unchanged.
type noopEncryptor struct{}

func (noopEncryptor) Name() string { return "none" }

func (noopEncryptor) Encrypt(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (noopEncryptor) Decrypt(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}
