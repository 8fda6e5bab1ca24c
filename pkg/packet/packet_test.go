package packet

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notcontrolos/hinata/pkg/codec"
	"github.com/notcontrolos/hinata/pkg/memory"
)

func newTestManager(t *testing.T) *memory.Manager {
	t.Helper()
	mgr := memory.NewManager(memory.Config{
		MaxSingle: memory.DefaultMaxSingle,
		MaxTotal:  memory.DefaultMaxTotal,
		Tracking:  true,
	}, nil)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func testParams() CreateParams {
	return CreateParams{
		Type:     TypeText,
		Priority: PriorityNormal,
		Content:  []byte("hello world"),
		Metadata: []byte(`{"lang":"en"}`),
		Source:   "unit-test",
		Tags:     []string{"alpha", "beta"},
	}
}

// ============================================================================
// Creation
// ============================================================================

func TestNew(t *testing.T) {
	mgr := newTestManager(t)

	t.Run("valid params", func(t *testing.T) {
		p, err := New(mgr, testParams())
		require.NoError(t, err)
		defer p.Put()

		assert.Equal(t, uint32(Magic), p.Magic())
		assert.Equal(t, uint32(Version), p.Version())
		assert.True(t, ValidUUID(p.ID()))
		assert.Equal(t, TypeText, p.Type())
		assert.Equal(t, StatusCreated, p.Status())
		assert.Equal(t, []byte("hello world"), p.Content())
		assert.Equal(t, []byte(`{"lang":"en"}`), p.Metadata())
		assert.Equal(t, []string{"alpha", "beta"}, p.Tags())
		assert.Equal(t, 1, p.RefCount())
		assert.NotZero(t, p.ContentHash())
		assert.Equal(t, p.CreatedAt(), p.UpdatedAt())
	})

	t.Run("unique ids", func(t *testing.T) {
		a, err := New(mgr, testParams())
		require.NoError(t, err)
		defer a.Put()
		b, err := New(mgr, testParams())
		require.NoError(t, err)
		defer b.Put()
		assert.NotEqual(t, a.ID(), b.ID())
	})

	t.Run("no metadata", func(t *testing.T) {
		params := testParams()
		params.Metadata = nil
		p, err := New(mgr, params)
		require.NoError(t, err)
		defer p.Put()
		assert.Nil(t, p.Metadata())
		assert.Equal(t, uint64(len("hello world")), p.Size())
	})
}

func TestNewValidation(t *testing.T) {
	mgr := newTestManager(t)

	cases := []struct {
		name    string
		mutate  func(*CreateParams)
		wantErr error
	}{
		{"empty content", func(p *CreateParams) { p.Content = nil }, ErrEmptyContent},
		{"oversized content", func(p *CreateParams) { p.Content = make([]byte, MaxContentSize+1) }, ErrContentTooLarge},
		{"oversized metadata", func(p *CreateParams) { p.Metadata = make([]byte, MaxMetadataSize+1) }, ErrMetadataTooLarge},
		{"empty source", func(p *CreateParams) { p.Source = "" }, ErrEmptySource},
		{"long source", func(p *CreateParams) { p.Source = strings.Repeat("x", MaxSourceLength+1) }, ErrSourceTooLong},
		{"too many tags", func(p *CreateParams) {
			p.Tags = make([]string, MaxTags+1)
			for i := range p.Tags {
				p.Tags[i] = "t"
			}
		}, ErrTooManyTags},
		{"bad tag charset", func(p *CreateParams) { p.Tags = []string{"no spaces"} }, ErrInvalidTag},
		{"empty tag", func(p *CreateParams) { p.Tags = []string{""} }, ErrInvalidTag},
		{"long tag", func(p *CreateParams) { p.Tags = []string{strings.Repeat("a", MaxTagLength+1)} }, ErrInvalidTag},
		{"invalid type", func(p *CreateParams) { p.Type = typeMax }, ErrInvalidType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := testParams()
			tc.mutate(&params)
			_, err := New(mgr, params)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	// Validation failures must not consume memory.
	assert.Zero(t, mgr.CurrentUsage())
}

// ============================================================================
// Reference counting
// ============================================================================

func TestRefCounting(t *testing.T) {
	mgr := newTestManager(t)

	t.Run("get and put", func(t *testing.T) {
		p, err := New(mgr, testParams())
		require.NoError(t, err)

		require.NotNil(t, p.Get())
		assert.Equal(t, 2, p.RefCount())

		require.NoError(t, p.Put())
		assert.False(t, p.Released())
		require.NoError(t, p.Put())
		assert.True(t, p.Released())
	})

	t.Run("put after release fails", func(t *testing.T) {
		p, err := New(mgr, testParams())
		require.NoError(t, err)
		require.NoError(t, p.Put())
		assert.ErrorIs(t, p.Put(), ErrReleased)
	})

	t.Run("get after release returns nil", func(t *testing.T) {
		p, err := New(mgr, testParams())
		require.NoError(t, err)
		require.NoError(t, p.Put())
		assert.Nil(t, p.Get())
	})

	t.Run("buffers returned on final put", func(t *testing.T) {
		before := mgr.CurrentUsage()
		p, err := New(mgr, testParams())
		require.NoError(t, err)
		assert.Greater(t, mgr.CurrentUsage(), before)
		require.NoError(t, p.Put())
		assert.Equal(t, before, mgr.CurrentUsage())
	})
}

// ============================================================================
// Mutation
// ============================================================================

func TestSetters(t *testing.T) {
	mgr := newTestManager(t)
	p, err := New(mgr, testParams())
	require.NoError(t, err)
	defer p.Put()

	t.Run("status and priority", func(t *testing.T) {
		require.NoError(t, p.SetStatus(StatusStored))
		assert.Equal(t, StatusStored, p.Status())
		require.NoError(t, p.SetPriority(PriorityCritical))
		assert.Equal(t, PriorityCritical, p.Priority())
		assert.GreaterOrEqual(t, p.UpdatedAt(), p.CreatedAt())
	})

	t.Run("flags", func(t *testing.T) {
		p.SetFlag(FlagPinned | FlagCached)
		assert.True(t, p.HasFlag(FlagPinned))
		assert.True(t, p.HasFlag(FlagCached))
		p.ClearFlag(FlagCached)
		assert.True(t, p.HasFlag(FlagPinned))
		assert.False(t, p.HasFlag(FlagCached))
	})

	t.Run("tags", func(t *testing.T) {
		require.NoError(t, p.AddTag("gamma"))
		assert.Contains(t, p.Tags(), "gamma")
		assert.ErrorIs(t, p.AddTag("gamma"), ErrTagExists)
		assert.ErrorIs(t, p.AddTag("not a tag"), ErrInvalidTag)
		require.NoError(t, p.RemoveTag("gamma"))
		assert.NotContains(t, p.Tags(), "gamma")
		assert.Error(t, p.RemoveTag("gamma"))
	})

	t.Run("update content recomputes hash", func(t *testing.T) {
		oldHash := p.ContentHash()
		require.NoError(t, p.UpdateContent([]byte("new content")))
		assert.Equal(t, []byte("new content"), p.Content())
		assert.NotEqual(t, oldHash, p.ContentHash())
		assert.True(t, p.HasFlag(FlagDirty))
	})

	t.Run("read-only blocks updates", func(t *testing.T) {
		p.SetFlag(FlagReadOnly)
		assert.ErrorIs(t, p.UpdateContent([]byte("nope")), ErrReadOnly)
		assert.ErrorIs(t, p.UpdateMetadata([]byte("nope")), ErrReadOnly)
		p.ClearFlag(FlagReadOnly)
	})

	t.Run("remove metadata", func(t *testing.T) {
		require.NoError(t, p.UpdateMetadata(nil))
		assert.Nil(t, p.Metadata())
	})
}

// ============================================================================
// Clone
// ============================================================================

func TestClone(t *testing.T) {
	mgr := newTestManager(t)
	p, err := New(mgr, testParams())
	require.NoError(t, err)
	defer p.Put()

	clone, err := p.Clone()
	require.NoError(t, err)
	defer clone.Put()

	assert.Equal(t, p.ID(), clone.ID())
	assert.Equal(t, p.Content(), clone.Content())
	assert.Equal(t, p.ContentHash(), clone.ContentHash())
	assert.Equal(t, 1, clone.RefCount())

	// Buffers are independent.
	require.NoError(t, clone.UpdateContent([]byte("diverged")))
	assert.Equal(t, []byte("hello world"), p.Content())
}

// ============================================================================
// Codec transforms
// ============================================================================

func TestCodecTransforms(t *testing.T) {
	mgr := newTestManager(t)

	t.Run("compress roundtrip", func(t *testing.T) {
		params := testParams()
		params.Content = bytes.Repeat([]byte("compressible "), 200)
		p, err := New(mgr, params)
		require.NoError(t, err)
		defer p.Put()

		c, err := codec.NewCompressor("zstd")
		require.NoError(t, err)

		original := append([]byte(nil), p.Content()...)
		require.NoError(t, p.Compress(c))
		assert.True(t, p.HasFlag(FlagCompressed))
		assert.Less(t, p.ContentSize(), len(original))

		// Idempotent.
		require.NoError(t, p.Compress(c))

		require.NoError(t, p.Decompress(c))
		assert.False(t, p.HasFlag(FlagCompressed))
		assert.Equal(t, original, p.Content())
	})

	t.Run("encrypt roundtrip", func(t *testing.T) {
		p, err := New(mgr, testParams())
		require.NoError(t, err)
		defer p.Put()

		key := bytes.Repeat([]byte{0x42}, 32)
		e, err := codec.NewEncryptor("chacha20poly1305", key)
		require.NoError(t, err)

		original := append([]byte(nil), p.Content()...)
		require.NoError(t, p.Encrypt(e))
		assert.True(t, p.HasFlag(FlagEncrypted))
		assert.NotEqual(t, original, p.Content())

		require.NoError(t, p.Decrypt(e))
		assert.False(t, p.HasFlag(FlagEncrypted))
		assert.Equal(t, original, p.Content())
	})
}

// ============================================================================
// Serialization
// ============================================================================

func TestMarshalUnmarshal(t *testing.T) {
	mgr := newTestManager(t)

	t.Run("roundtrip", func(t *testing.T) {
		p, err := New(mgr, testParams())
		require.NoError(t, err)
		defer p.Put()
		require.NoError(t, p.SetStatus(StatusStored))

		record := p.Marshal()
		out, err := Unmarshal(mgr, record)
		require.NoError(t, err)
		defer out.Put()

		assert.Equal(t, p.ID(), out.ID())
		assert.Equal(t, p.Type(), out.Type())
		assert.Equal(t, StatusStored, out.Status())
		assert.Equal(t, p.Source(), out.Source())
		assert.Equal(t, p.Tags(), out.Tags())
		assert.Equal(t, p.Content(), out.Content())
		assert.Equal(t, p.Metadata(), out.Metadata())
		assert.Equal(t, p.ContentHash(), out.ContentHash())
		assert.Equal(t, p.CreatedAt(), out.CreatedAt())
	})

	t.Run("truncated record", func(t *testing.T) {
		p, err := New(mgr, testParams())
		require.NoError(t, err)
		defer p.Put()

		record := p.Marshal()
		_, err = Unmarshal(mgr, record[:len(record)/2])
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})

	t.Run("flipped content bit", func(t *testing.T) {
		p, err := New(mgr, testParams())
		require.NoError(t, err)
		defer p.Put()

		record := p.Marshal()
		record[len(record)-1] ^= 0xff
		_, err = Unmarshal(mgr, record)
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})

	t.Run("bad magic", func(t *testing.T) {
		p, err := New(mgr, testParams())
		require.NoError(t, err)
		defer p.Put()

		record := p.Marshal()
		record[0] ^= 0xff
		_, err = Unmarshal(mgr, record)
		assert.ErrorIs(t, err, ErrCorruptRecord)
	})
}

// ============================================================================
// Registry
// ============================================================================

func TestStore(t *testing.T) {
	mgr := newTestManager(t)

	t.Run("create and find", func(t *testing.T) {
		s := NewStore(mgr)
		p, err := s.Create(testParams())
		require.NoError(t, err)

		assert.True(t, s.Exists(p.ID()))
		found, err := s.Find(p.ID())
		require.NoError(t, err)
		assert.Equal(t, 2, found.RefCount())
		require.NoError(t, found.Put())

		_, err = s.Find("00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, p.Put())
		assert.False(t, s.Exists(p.ID()))
	})

	t.Run("final put unregisters", func(t *testing.T) {
		s := NewStore(mgr)
		p, err := s.Create(testParams())
		require.NoError(t, err)
		id := p.ID()

		require.NoError(t, p.Put())
		_, err = s.Find(id)
		assert.ErrorIs(t, err, ErrNotFound)

		stats := s.Stats()
		assert.Equal(t, 0, stats.Active)
		assert.Equal(t, uint64(1), stats.Created)
		assert.Equal(t, uint64(1), stats.Destroyed)
	})

	t.Run("iterate with filter", func(t *testing.T) {
		s := NewStore(mgr)
		text, err := s.Create(testParams())
		require.NoError(t, err)
		defer text.Put()

		params := testParams()
		params.Type = TypeCode
		params.Tags = []string{"code"}
		code, err := s.Create(params)
		require.NoError(t, err)
		defer code.Put()

		var seen []string
		typ := TypeCode
		s.Iterate(Filter{Type: &typ}, func(p *Packet) bool {
			seen = append(seen, p.ID())
			return true
		})
		assert.Equal(t, []string{code.ID()}, seen)

		seen = nil
		s.Iterate(Filter{Tag: "code"}, func(p *Packet) bool {
			seen = append(seen, p.ID())
			return true
		})
		assert.Equal(t, []string{code.ID()}, seen)
	})

	t.Run("insert duplicate rejected", func(t *testing.T) {
		s := NewStore(mgr)
		p, err := s.Create(testParams())
		require.NoError(t, err)
		defer p.Put()

		clone, err := p.Clone()
		require.NoError(t, err)
		assert.ErrorIs(t, s.Insert(clone), ErrDuplicate)
		require.NoError(t, clone.Put())
	})

	t.Run("release all force-destroys", func(t *testing.T) {
		s := NewStore(mgr)
		p, err := s.Create(testParams())
		require.NoError(t, err)

		released := s.ReleaseAll()
		assert.Equal(t, 1, released)
		assert.True(t, p.Released())
		assert.Equal(t, 0, s.Len())
	})
}
