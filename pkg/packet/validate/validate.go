// Package validate performs staged packet validation with a small verdict
// cache. Checks are grouped into stages that can be combined freely; the
// named levels bundle the stages most callers want.
package validate

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/notcontrolos/hinata/pkg/packet"
)

// Stage selects which check groups run.
type Stage uint32

const (
	// StageBasic checks structural fields: magic, version, UUID, enums.
	StageBasic Stage = 1 << iota
	// StageContent checks content bounds and the stored CRC32.
	StageContent
	// StageMetadata checks metadata bounds and printable text.
	StageMetadata
	// StageSecurity checks source and tags for hostile input.
	StageSecurity
	// StageIntegrity recomputes the content hash from scratch.
	StageIntegrity
)

// Level is a named bundle of stages.
type Level int

const (
	// LevelMinimal runs structural checks only.
	LevelMinimal Level = iota
	// LevelStandard adds content checks and an integrity recheck.
	LevelStandard
	// LevelComprehensive runs every stage.
	LevelComprehensive
	// LevelParanoid runs every stage and bypasses the verdict cache.
	LevelParanoid
)

func (l Level) String() string {
	switch l {
	case LevelMinimal:
		return "minimal"
	case LevelStandard:
		return "standard"
	case LevelComprehensive:
		return "comprehensive"
	case LevelParanoid:
		return "paranoid"
	default:
		return "unknown"
	}
}

// ParseLevel converts a config string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "minimal":
		return LevelMinimal, nil
	case "standard", "":
		return LevelStandard, nil
	case "comprehensive":
		return LevelComprehensive, nil
	case "paranoid":
		return LevelParanoid, nil
	default:
		return 0, fmt.Errorf("unknown validation level %q", s)
	}
}

// Stages returns the stage set a level implies.
func (l Level) Stages() Stage {
	switch l {
	case LevelMinimal:
		return StageBasic
	case LevelStandard:
		return StageBasic | StageContent | StageIntegrity
	default:
		return StageBasic | StageContent | StageMetadata | StageSecurity | StageIntegrity
	}
}

// Result is the outcome of a validation pass.
type Result struct {
	Valid  bool
	Stages Stage  // stages that ran
	Failed Stage  // first stage that failed, zero when valid
	Reason string // human-readable failure description
	Cached bool   // verdict served from the cache
}

// Err converts a failed result into an error. Valid results yield nil.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return fmt.Errorf("validation failed at stage %#x: %s", uint32(r.Failed), r.Reason)
}

var errNilPacket = errors.New("nil packet")

// ============================================================================
// Stage checks
// ============================================================================

func checkBasic(p *packet.Packet) (Stage, string) {
	if p.Magic() != packet.Magic {
		return StageBasic, "bad magic"
	}
	if p.Version() != packet.Version {
		return StageBasic, fmt.Sprintf("unsupported version %d", p.Version())
	}
	if !packet.ValidUUID(p.ID()) {
		return StageBasic, "malformed uuid"
	}
	if !p.Type().Valid() {
		return StageBasic, "invalid type"
	}
	if !p.Priority().Valid() {
		return StageBasic, "invalid priority"
	}
	if !p.Status().Valid() {
		return StageBasic, "invalid status"
	}
	if p.CreatedAt() <= 0 || p.UpdatedAt() < p.CreatedAt() {
		return StageBasic, "incoherent timestamps"
	}
	return 0, ""
}

func checkContent(p *packet.Packet) (Stage, string) {
	content := p.Content()
	if len(content) == 0 {
		return StageContent, "empty content"
	}
	if len(content) > packet.MaxContentSize {
		return StageContent, "content exceeds size limit"
	}
	if crc32.ChecksumIEEE(content) != p.ContentHash() {
		return StageContent, "content hash mismatch"
	}
	// Textual packets must hold valid UTF-8 unless transformed in place.
	if p.Type().IsTextual() && !p.HasFlag(packet.FlagCompressed) && !p.HasFlag(packet.FlagEncrypted) {
		if !utf8.Valid(content) {
			return StageContent, "textual content is not valid utf-8"
		}
	}
	return 0, ""
}

func checkMetadata(p *packet.Packet) (Stage, string) {
	meta := p.Metadata()
	if len(meta) == 0 {
		return 0, ""
	}
	if len(meta) > packet.MaxMetadataSize {
		return StageMetadata, "metadata exceeds size limit"
	}
	for i := 0; i < len(meta); {
		r, n := utf8.DecodeRune(meta[i:])
		if r == utf8.RuneError && n == 1 {
			return StageMetadata, "metadata is not valid utf-8"
		}
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return StageMetadata, "metadata contains non-printable characters"
		}
		i += n
	}
	return 0, ""
}

func checkSecurity(p *packet.Packet) (Stage, string) {
	source := p.Source()
	if source == "" || len(source) > packet.MaxSourceLength {
		return StageSecurity, "source out of bounds"
	}
	if strings.Contains(source, "..") || strings.ContainsAny(source, "/\\") || strings.ContainsRune(source, 0) {
		return StageSecurity, "source contains path sequence"
	}
	for _, r := range source {
		if r < 0x20 || r == 0x7f {
			return StageSecurity, "source contains control characters"
		}
	}
	// Text content must not smuggle NUL bytes past downstream C-string
	// consumers. Transformed content is opaque and exempt.
	if p.Type().IsTextual() && !p.HasFlag(packet.FlagCompressed) && !p.HasFlag(packet.FlagEncrypted) {
		if bytes.IndexByte(p.Content(), 0) >= 0 {
			return StageSecurity, "text content contains nul byte"
		}
	}
	tags := p.Tags()
	if len(tags) > packet.MaxTags {
		return StageSecurity, "too many tags"
	}
	for _, tag := range tags {
		if !packet.ValidTag(tag) {
			return StageSecurity, fmt.Sprintf("invalid tag %q", tag)
		}
	}
	return 0, ""
}

func checkIntegrity(p *packet.Packet) (Stage, string) {
	// Re-read content and hash independently of the content stage so a
	// concurrent mutation between stages is caught.
	content := p.Content()
	if crc32.ChecksumIEEE(content) != p.ContentHash() {
		return StageIntegrity, "content hash mismatch on recheck"
	}
	if p.Size() != uint64(p.ContentSize())+uint64(p.MetadataSize()) {
		return StageIntegrity, "declared size does not match buffers"
	}
	if p.Released() {
		return StageIntegrity, "packet released during validation"
	}
	return 0, ""
}

func runStages(p *packet.Packet, stages Stage) Result {
	checks := []struct {
		stage Stage
		fn    func(*packet.Packet) (Stage, string)
	}{
		{StageBasic, checkBasic},
		{StageContent, checkContent},
		{StageMetadata, checkMetadata},
		{StageSecurity, checkSecurity},
		{StageIntegrity, checkIntegrity},
	}

	for _, c := range checks {
		if stages&c.stage == 0 {
			continue
		}
		if failed, reason := c.fn(p); failed != 0 {
			return Result{Stages: stages, Failed: failed, Reason: reason}
		}
	}
	return Result{Valid: true, Stages: stages}
}
