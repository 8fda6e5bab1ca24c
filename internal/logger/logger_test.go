package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetForTest points the logger at a fresh buffer and restores defaults.
func resetForTest(t *testing.T, level, format string) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	InitWithWriter(buf, level, format, false)
	t.Cleanup(func() {
		InitWithWriter(&bytes.Buffer{}, "INFO", "text", false)
	})
	return buf
}

func TestTextOutput(t *testing.T) {
	buf := resetForTest(t, "INFO", "text")

	Info("packet stored", KeyPacketID, "abc", KeySize, 42)

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "packet stored")
	assert.Contains(t, out, "packet_id=abc")
	assert.Contains(t, out, "size=42")
}

func TestJSONOutput(t *testing.T) {
	buf := resetForTest(t, "INFO", "json")

	Warn("cache evicted", KeyEvicted, 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "cache evicted", record["msg"])
	assert.Equal(t, float64(3), record["evicted"])
	assert.Equal(t, "WARN", record["level"])
}

func TestLevelFiltering(t *testing.T) {
	buf := resetForTest(t, "WARN", "text")

	Debug("should not appear")
	Info("should not appear either")
	Warn("visible warning")
	Error("visible error")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "visible warning")
	assert.Contains(t, out, "visible error")
}

func TestSetLevelAtRuntime(t *testing.T) {
	buf := resetForTest(t, "INFO", "text")

	Debug("hidden")
	SetLevel("DEBUG")
	Debug("now visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "now visible")
}

func TestInvalidLevelIgnored(t *testing.T) {
	buf := resetForTest(t, "INFO", "text")

	SetLevel("VERBOSE") // not a level, should be a no-op
	Info("still info")

	assert.Contains(t, buf.String(), "still info")
}

func TestWithPreboundFields(t *testing.T) {
	buf := resetForTest(t, "INFO", "text")

	l := With(KeyComponent, "storage")
	l.Info("region created", KeyRegionID, 7)

	out := buf.String()
	assert.Contains(t, out, "component=storage")
	assert.Contains(t, out, "region_id=7")
}

func TestConcurrentLogging(t *testing.T) {
	buf := resetForTest(t, "INFO", "text")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				Info("concurrent", KeyWorkerID, j)
			}
		}()
	}
	wg.Wait()

	// Every line must be complete (no interleaved torn writes).
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		assert.Contains(t, line, "concurrent")
	}
}
