package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notcontrolos/hinata/pkg/memory"
	"github.com/notcontrolos/hinata/pkg/packet"
)

func newTestPacket(t *testing.T, mutate func(*packet.CreateParams)) *packet.Packet {
	t.Helper()
	mgr := memory.NewManager(memory.Config{
		MaxSingle: memory.DefaultMaxSingle,
		MaxTotal:  memory.DefaultMaxTotal,
	}, nil)
	t.Cleanup(func() { mgr.Close() })

	params := packet.CreateParams{
		Type:     packet.TypeText,
		Priority: packet.PriorityNormal,
		Content:  []byte("valid content"),
		Metadata: []byte(`{"k":"v"}`),
		Source:   "validator-test",
		Tags:     []string{"tag1"},
	}
	if mutate != nil {
		mutate(&params)
	}
	p, err := packet.New(mgr, params)
	require.NoError(t, err)
	t.Cleanup(func() { p.Put() })
	return p
}

// ============================================================================
// Levels and stages
// ============================================================================

func TestLevels(t *testing.T) {
	t.Run("stage bundles", func(t *testing.T) {
		assert.Equal(t, StageBasic, LevelMinimal.Stages())
		assert.Equal(t, StageBasic|StageContent|StageIntegrity, LevelStandard.Stages())
		assert.Equal(t, StageBasic|StageContent|StageMetadata|StageSecurity|StageIntegrity, LevelComprehensive.Stages())
		assert.Equal(t, LevelComprehensive.Stages(), LevelParanoid.Stages())
	})

	t.Run("integrity runs above minimal", func(t *testing.T) {
		for _, level := range []Level{LevelStandard, LevelComprehensive, LevelParanoid} {
			assert.NotZero(t, level.Stages()&StageIntegrity, level.String())
		}
		assert.Zero(t, LevelStandard.Stages()&StageMetadata)
		assert.Zero(t, LevelStandard.Stages()&StageSecurity)
	})

	t.Run("parse", func(t *testing.T) {
		for _, name := range []string{"minimal", "standard", "comprehensive", "paranoid"} {
			level, err := ParseLevel(name)
			require.NoError(t, err)
			assert.Equal(t, name, level.String())
		}
		level, err := ParseLevel("")
		require.NoError(t, err)
		assert.Equal(t, LevelStandard, level)
		_, err = ParseLevel("bogus")
		assert.Error(t, err)
	})
}

func TestCheckPasses(t *testing.T) {
	v := NewValidator(0)
	p := newTestPacket(t, nil)

	for _, level := range []Level{LevelMinimal, LevelStandard, LevelComprehensive, LevelParanoid} {
		t.Run(level.String(), func(t *testing.T) {
			res := v.Check(p, level)
			assert.True(t, res.Valid, res.Reason)
			assert.NoError(t, res.Err())
		})
	}
}

func TestCheckFailures(t *testing.T) {
	t.Run("non-utf8 textual content", func(t *testing.T) {
		p := newTestPacket(t, func(params *packet.CreateParams) {
			params.Content = []byte{0xff, 0xfe, 0x01}
		})
		res := NewValidator(0).Check(p, LevelStandard)
		assert.False(t, res.Valid)
		assert.Equal(t, StageContent, res.Failed)
	})

	t.Run("non-utf8 data content passes", func(t *testing.T) {
		p := newTestPacket(t, func(params *packet.CreateParams) {
			params.Type = packet.TypeData
			params.Content = []byte{0xff, 0xfe, 0x01}
		})
		res := NewValidator(0).Check(p, LevelStandard)
		assert.True(t, res.Valid, res.Reason)
	})

	t.Run("plain text metadata passes", func(t *testing.T) {
		p := newTestPacket(t, func(params *packet.CreateParams) {
			params.Metadata = []byte("plain note, no structure required")
		})
		res := NewValidator(0).Check(p, LevelComprehensive)
		assert.True(t, res.Valid, res.Reason)
	})

	t.Run("non-printable metadata", func(t *testing.T) {
		p := newTestPacket(t, func(params *packet.CreateParams) {
			params.Metadata = []byte("note\x00note")
		})
		res := NewValidator(0).Check(p, LevelComprehensive)
		assert.False(t, res.Valid)
		assert.Equal(t, StageMetadata, res.Failed)
	})

	t.Run("metadata skipped at standard", func(t *testing.T) {
		p := newTestPacket(t, func(params *packet.CreateParams) {
			params.Metadata = []byte("note\x00note")
		})
		res := NewValidator(0).Check(p, LevelStandard)
		assert.True(t, res.Valid, res.Reason)
	})

	t.Run("hostile sources", func(t *testing.T) {
		for _, source := range []string{"../etc/passwd", "etc/passwd", `etc\passwd`} {
			p := newTestPacket(t, func(params *packet.CreateParams) {
				params.Source = source
			})
			res := NewValidator(0).Check(p, LevelComprehensive)
			assert.False(t, res.Valid, source)
			assert.Equal(t, StageSecurity, res.Failed, source)

			// Standard level does not run the security stage.
			res = NewValidator(0).Check(p, LevelStandard)
			assert.True(t, res.Valid, res.Reason)
		}
	})

	t.Run("nul byte in text content", func(t *testing.T) {
		p := newTestPacket(t, func(params *packet.CreateParams) {
			params.Content = []byte("he\x00llo")
		})
		res := NewValidator(0).Check(p, LevelComprehensive)
		assert.False(t, res.Valid)
		assert.Equal(t, StageSecurity, res.Failed)
	})

	t.Run("nul byte in binary content passes", func(t *testing.T) {
		p := newTestPacket(t, func(params *packet.CreateParams) {
			params.Type = packet.TypeData
			params.Content = []byte{0x01, 0x00, 0x02}
		})
		res := NewValidator(0).Check(p, LevelComprehensive)
		assert.True(t, res.Valid, res.Reason)
	})

	t.Run("nil packet", func(t *testing.T) {
		res := NewValidator(0).Check(nil, LevelStandard)
		assert.False(t, res.Valid)
		assert.Error(t, res.Err())
	})
}

// ============================================================================
// Verdict cache
// ============================================================================

func TestVerdictCache(t *testing.T) {
	t.Run("second check hits", func(t *testing.T) {
		v := NewValidator(0)
		p := newTestPacket(t, nil)

		first := v.Check(p, LevelStandard)
		assert.False(t, first.Cached)
		second := v.Check(p, LevelStandard)
		assert.True(t, second.Cached)
		assert.Equal(t, first.Valid, second.Valid)

		stats := v.Stats()
		assert.Equal(t, uint64(1), stats.Hits)
		assert.Equal(t, uint64(1), stats.Misses)
	})

	t.Run("failing verdicts cached too", func(t *testing.T) {
		v := NewValidator(0)
		p := newTestPacket(t, func(params *packet.CreateParams) {
			params.Source = "etc/passwd"
		})
		first := v.Check(p, LevelComprehensive)
		require.False(t, first.Valid)
		second := v.Check(p, LevelComprehensive)
		assert.True(t, second.Cached)
		assert.False(t, second.Valid)
		assert.Equal(t, first.Reason, second.Reason)
	})

	t.Run("content change misses", func(t *testing.T) {
		v := NewValidator(0)
		p := newTestPacket(t, nil)
		require.True(t, v.Check(p, LevelStandard).Valid)

		require.NoError(t, p.UpdateContent([]byte("different content")))
		res := v.Check(p, LevelStandard)
		assert.False(t, res.Cached)
		assert.True(t, res.Valid)
	})

	t.Run("paranoid bypasses cache", func(t *testing.T) {
		v := NewValidator(0)
		p := newTestPacket(t, nil)
		v.Check(p, LevelParanoid)
		res := v.Check(p, LevelParanoid)
		assert.False(t, res.Cached)
		assert.Zero(t, v.Stats().Hits)
	})

	t.Run("ttl expiry", func(t *testing.T) {
		v := NewValidator(time.Nanosecond)
		p := newTestPacket(t, nil)
		v.Check(p, LevelStandard)
		time.Sleep(time.Millisecond)
		res := v.Check(p, LevelStandard)
		assert.False(t, res.Cached)
		assert.NotZero(t, v.Stats().Evictions)
	})

	t.Run("invalidate", func(t *testing.T) {
		v := NewValidator(0)
		p := newTestPacket(t, nil)
		v.Check(p, LevelStandard)
		v.Invalidate(p.ID())
		res := v.Check(p, LevelStandard)
		assert.False(t, res.Cached)
	})

	t.Run("flush", func(t *testing.T) {
		v := NewValidator(0)
		p := newTestPacket(t, nil)
		v.Check(p, LevelStandard)
		v.Flush()
		res := v.Check(p, LevelStandard)
		assert.False(t, res.Cached)
	})
}

// Repeated checks of an unchanged packet must agree with the first.
func TestCheckIdempotent(t *testing.T) {
	v := NewValidator(0)
	p := newTestPacket(t, nil)

	first := v.Check(p, LevelComprehensive)
	for i := 0; i < 50; i++ {
		res := v.Check(p, LevelComprehensive)
		assert.Equal(t, first.Valid, res.Valid)
		assert.Equal(t, first.Failed, res.Failed)
	}
}
