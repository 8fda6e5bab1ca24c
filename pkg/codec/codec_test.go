package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopCompressorRoundTrip(t *testing.T) {
	c, err := NewCompressor("none")
	require.NoError(t, err)
	assert.Equal(t, "none", c.Name())

	in := []byte("hello world")
	out, err := c.Compress(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	back, err := c.Decompress(out)
	require.NoError(t, err)
	assert.Equal(t, in, back)
}

func TestZstdRoundTrip(t *testing.T) {
	c, err := NewCompressor("zstd")
	require.NoError(t, err)
	assert.Equal(t, "zstd", c.Name())

	in := bytes.Repeat([]byte("knowledge packet "), 1000)
	compressed, err := c.Compress(in)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(in))

	back, err := c.Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, in, back)
}

func TestZstdRejectsGarbage(t *testing.T) {
	c, err := NewCompressor("zstd")
	require.NoError(t, err)

	_, err = c.Decompress([]byte("definitely not zstd"))
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestChaChaRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	e, err := NewEncryptor("chacha20poly1305", key)
	require.NoError(t, err)

	in := []byte("secret content")
	sealed, err := e.Encrypt(in)
	require.NoError(t, err)
	assert.NotEqual(t, in, sealed)

	back, err := e.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, in, back)
}

func TestChaChaDetectsTampering(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	e, err := NewEncryptor("chacha20poly1305", key)
	require.NoError(t, err)

	sealed, err := e.Encrypt([]byte("secret content"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = e.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestChaChaKeySize(t *testing.T) {
	_, err := NewEncryptor("chacha20poly1305", []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestUnknownCodecNames(t *testing.T) {
	_, err := NewCompressor("lz77")
	assert.ErrorIs(t, err, ErrUnknownCodec)

	_, err = NewEncryptor("rot13", nil)
	assert.ErrorIs(t, err, ErrUnknownCodec)
}

func TestEmptyNameIsNoop(t *testing.T) {
	c, err := NewCompressor("")
	require.NoError(t, err)
	assert.Equal(t, "none", c.Name())

	e, err := NewEncryptor("", nil)
	require.NoError(t, err)
	assert.Equal(t, "none", e.Name())
}
