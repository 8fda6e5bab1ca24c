package packet

import (
	"hash/crc32"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/notcontrolos/hinata/pkg/codec"
	"github.com/notcontrolos/hinata/pkg/memory"
)

// Packet is an immutable content+metadata unit. After creation only status,
// priority, flags, and tags may change, and only through setters that hold
// the packet mutex and bump UpdatedAt.
//
// Packets are shared by reference counting: Get increments, Put decrements,
// and the Put that reaches zero destroys the packet exactly once (buffers
// returned to the memory manager, registry entry removed).
type Packet struct {
	magic   uint32
	version uint32
	id      string
	typ     Type
	source  string

	mu          sync.Mutex
	priority    Priority
	status      Status
	flags       Flags
	tags        []string
	contentHash uint32
	size        uint64 // declared content+metadata bytes
	createdAt   int64  // unix nanos
	updatedAt   int64

	content  *memory.Buffer
	metadata *memory.Buffer // nil when the packet carries no metadata
	mgr      *memory.Manager

	refs     atomic.Int32
	released atomic.Bool
	destroy  sync.Once

	// onRelease unregisters the packet from its registry. Set by Store.
	onRelease func(*Packet)
}

// CreateParams are the inputs to New.
type CreateParams struct {
	Type     Type
	Priority Priority
	Content  []byte
	Metadata []byte
	Source   string
	Tags     []string
}

// New creates a packet. Input bounds are validated before any allocation;
// content and metadata buffers are allocated through the memory manager.
// The returned packet has a reference count of one.
func New(mgr *memory.Manager, params CreateParams) (*Packet, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}

	content, err := mgr.Alloc(len(params.Content), 0)
	if err != nil {
		return nil, err
	}
	copy(content.Bytes(), params.Content)

	var meta *memory.Buffer
	if len(params.Metadata) > 0 {
		meta, err = mgr.Alloc(len(params.Metadata), 0)
		if err != nil {
			mgr.Free(content)
			return nil, err
		}
		copy(meta.Bytes(), params.Metadata)
	}

	now := time.Now().UnixNano()
	p := &Packet{
		magic:       Magic,
		version:     Version,
		id:          uuid.NewString(),
		typ:         params.Type,
		source:      params.Source,
		priority:    params.Priority,
		status:      StatusCreated,
		tags:        append([]string(nil), params.Tags...),
		contentHash: crc32.ChecksumIEEE(params.Content),
		size:        uint64(len(params.Content) + len(params.Metadata)),
		createdAt:   now,
		updatedAt:   now,
		content:     content,
		metadata:    meta,
		mgr:         mgr,
	}
	p.refs.Store(1)
	return p, nil
}

// checkParams validates creation inputs before any allocation happens.
func checkParams(params CreateParams) error {
	if !params.Type.Valid() {
		return ErrInvalidType
	}
	if len(params.Content) == 0 {
		return ErrEmptyContent
	}
	if len(params.Content) > MaxContentSize {
		return ErrContentTooLarge
	}
	if len(params.Metadata) > MaxMetadataSize {
		return ErrMetadataTooLarge
	}
	if params.Source == "" {
		return ErrEmptySource
	}
	if len(params.Source) > MaxSourceLength {
		return ErrSourceTooLong
	}
	if len(params.Tags) > MaxTags {
		return ErrTooManyTags
	}
	for _, tag := range params.Tags {
		if !ValidTag(tag) {
			return ErrInvalidTag
		}
	}
	return nil
}

// ValidTag reports whether a tag is non-empty, within the length bound, and
// restricted to alphanumerics plus '_' and '-'.
func ValidTag(tag string) bool {
	if tag == "" || len(tag) > MaxTagLength {
		return false
	}
	for _, r := range tag {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// ValidUUID reports whether s is a canonical 8-4-4-4-12 hex UUID string.
func ValidUUID(s string) bool {
	if len(s) != UUIDLength {
		return false
	}
	for i, r := range s {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if r != '-' {
				return false
			}
			continue
		}
		isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !isHex {
			return false
		}
	}
	return true
}

// ============================================================================
// Reference counting
// ============================================================================

// Get increments the reference count and returns the packet. Returns nil if
// the packet was already released.
func (p *Packet) Get() *Packet {
	if p.released.Load() {
		return nil
	}
	p.refs.Add(1)
	return p
}

// Put decrements the reference count. The decrement that reaches zero
// destroys the packet: buffers are freed exactly once and any registry
// entry is removed. Further Puts return ErrReleased.
func (p *Packet) Put() error {
	if p.released.Load() && p.refs.Load() <= 0 {
		return ErrReleased
	}
	n := p.refs.Add(-1)
	switch {
	case n == 0:
		p.doDestroy()
		return nil
	case n < 0:
		p.refs.Add(1) // undo; the packet was already gone
		return ErrReleased
	default:
		return nil
	}
}

// RefCount returns the current reference count.
func (p *Packet) RefCount() int {
	return int(p.refs.Load())
}

func (p *Packet) doDestroy() {
	p.destroy.Do(func() {
		p.released.Store(true)
		if p.onRelease != nil {
			p.onRelease(p)
		}
		if p.content != nil {
			p.mgr.Free(p.content)
			p.content = nil
		}
		if p.metadata != nil {
			p.mgr.Free(p.metadata)
			p.metadata = nil
		}
	})
}

// Released reports whether the packet has been destroyed.
func (p *Packet) Released() bool { return p.released.Load() }

// ============================================================================
// Accessors
// ============================================================================

// ID returns the packet UUID.
func (p *Packet) ID() string { return p.id }

// Type returns the content type.
func (p *Packet) Type() Type { return p.typ }

// Source returns the source identifier.
func (p *Packet) Source() string { return p.source }

// Magic returns the format magic number.
func (p *Packet) Magic() uint32 { return p.magic }

// Version returns the format version.
func (p *Packet) Version() uint32 { return p.version }

// Priority returns the processing priority.
func (p *Packet) Priority() Priority {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priority
}

// Status returns the lifecycle status.
func (p *Packet) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Flags returns the flag bitmask.
func (p *Packet) Flags() Flags {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flags
}

// HasFlag reports whether flag is set.
func (p *Packet) HasFlag(flag Flags) bool {
	return p.Flags()&flag != 0
}

// Tags returns a copy of the tag list.
func (p *Packet) Tags() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tags...)
}

// ContentHash returns the CRC32 of the content bytes.
func (p *Packet) ContentHash() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contentHash
}

// CreatedAt returns the creation timestamp in unix nanoseconds.
func (p *Packet) CreatedAt() int64 { return p.createdAt }

// UpdatedAt returns the last-update timestamp in unix nanoseconds.
func (p *Packet) UpdatedAt() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updatedAt
}

// Content returns the content bytes. The slice is owned by the packet and
// must not be retained past the final Put.
func (p *Packet) Content() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.content == nil {
		return nil
	}
	return p.content.Bytes()
}

// Metadata returns the metadata bytes, or nil when absent.
func (p *Packet) Metadata() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.metadata == nil {
		return nil
	}
	return p.metadata.Bytes()
}

// ContentSize returns the content length in bytes.
func (p *Packet) ContentSize() int { return len(p.Content()) }

// MetadataSize returns the metadata length in bytes.
func (p *Packet) MetadataSize() int { return len(p.Metadata()) }

// Size returns the total payload size: content plus metadata.
// Size returns the declared total payload size. The integrity validation
// stage cross-checks it against the live buffer lengths.
func (p *Packet) Size() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// recomputeSizeLocked refreshes the declared size from the buffers. Callers
// hold p.mu.
func (p *Packet) recomputeSizeLocked() {
	var n uint64
	if p.content != nil {
		n += uint64(p.content.Len())
	}
	if p.metadata != nil {
		n += uint64(p.metadata.Len())
	}
	p.size = n
}

// ============================================================================
// Mutation (setters bump UpdatedAt under the packet mutex)
// ============================================================================

func (p *Packet) touchLocked() {
	p.updatedAt = time.Now().UnixNano()
}

// SetStatus updates the lifecycle status.
func (p *Packet) SetStatus(s Status) error {
	if !s.Valid() {
		return ErrInvalidType
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
	p.touchLocked()
	return nil
}

// SetPriority updates the processing priority.
func (p *Packet) SetPriority(pr Priority) error {
	if !pr.Valid() {
		return ErrInvalidType
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priority = pr
	p.touchLocked()
	return nil
}

// SetFlag sets flag bits.
func (p *Packet) SetFlag(flag Flags) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flags |= flag
	p.touchLocked()
}

// ClearFlag clears flag bits.
func (p *Packet) ClearFlag(flag Flags) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flags &^= flag
	p.touchLocked()
}

// AddTag appends a tag, rejecting duplicates and malformed tags.
func (p *Packet) AddTag(tag string) error {
	if !ValidTag(tag) {
		return ErrInvalidTag
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tags) >= MaxTags {
		return ErrTooManyTags
	}
	for _, t := range p.tags {
		if t == tag {
			return ErrTagExists
		}
	}
	p.tags = append(p.tags, tag)
	p.touchLocked()
	return nil
}

// RemoveTag removes a tag if present.
func (p *Packet) RemoveTag(tag string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, t := range p.tags {
		if t == tag {
			p.tags = append(p.tags[:i], p.tags[i+1:]...)
			p.touchLocked()
			return nil
		}
	}
	return ErrInvalidTag
}

// UpdateContent replaces the content bytes, recomputing the hash.
func (p *Packet) UpdateContent(content []byte) error {
	if len(content) == 0 {
		return ErrEmptyContent
	}
	if len(content) > MaxContentSize {
		return ErrContentTooLarge
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flags&FlagReadOnly != 0 {
		return ErrReadOnly
	}

	buf, err := p.mgr.Alloc(len(content), 0)
	if err != nil {
		return err
	}
	copy(buf.Bytes(), content)
	if p.content != nil {
		p.mgr.Free(p.content)
	}
	p.content = buf
	p.contentHash = crc32.ChecksumIEEE(content)
	p.recomputeSizeLocked()
	p.flags |= FlagDirty
	p.touchLocked()
	return nil
}

// UpdateMetadata replaces the metadata bytes. Passing nil removes metadata.
func (p *Packet) UpdateMetadata(metadata []byte) error {
	if len(metadata) > MaxMetadataSize {
		return ErrMetadataTooLarge
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flags&FlagReadOnly != 0 {
		return ErrReadOnly
	}

	var buf *memory.Buffer
	if len(metadata) > 0 {
		var err error
		buf, err = p.mgr.Alloc(len(metadata), 0)
		if err != nil {
			return err
		}
		copy(buf.Bytes(), metadata)
	}
	if p.metadata != nil {
		p.mgr.Free(p.metadata)
	}
	p.metadata = buf
	p.recomputeSizeLocked()
	p.flags |= FlagDirty
	p.touchLocked()
	return nil
}

// ============================================================================
// Clone
// ============================================================================

// Clone returns an identical copy of the packet with its own buffers and a
// reference count of one. Clones are not registered in any registry.
func (p *Packet) Clone() (*Packet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clone := &Packet{
		magic:       p.magic,
		version:     p.version,
		id:          p.id,
		typ:         p.typ,
		source:      p.source,
		priority:    p.priority,
		status:      p.status,
		flags:       p.flags,
		tags:        append([]string(nil), p.tags...),
		contentHash: p.contentHash,
		size:        p.size,
		createdAt:   p.createdAt,
		updatedAt:   p.updatedAt,
		mgr:         p.mgr,
	}

	if p.content != nil {
		buf, err := p.mgr.Alloc(p.content.Len(), 0)
		if err != nil {
			return nil, err
		}
		copy(buf.Bytes(), p.content.Bytes())
		clone.content = buf
	}
	if p.metadata != nil {
		buf, err := p.mgr.Alloc(p.metadata.Len(), 0)
		if err != nil {
			if clone.content != nil {
				p.mgr.Free(clone.content)
			}
			return nil, err
		}
		copy(buf.Bytes(), p.metadata.Bytes())
		clone.metadata = buf
	}
	clone.refs.Store(1)
	return clone, nil
}

// ============================================================================
// Codec hooks
// ============================================================================

// transformContent swaps the content buffer through fn, keeping the hash
// coherent with the stored bytes. Caller picks the flag to set or clear.
func (p *Packet) transformContent(fn func([]byte) ([]byte, error), set, unset Flags) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.content == nil {
		return ErrEmptyContent
	}

	out, err := fn(p.content.Bytes())
	if err != nil {
		return err
	}
	buf, err := p.mgr.Alloc(len(out), 0)
	if err != nil {
		return err
	}
	copy(buf.Bytes(), out)
	p.mgr.Free(p.content)
	p.content = buf
	p.contentHash = crc32.ChecksumIEEE(out)
	p.recomputeSizeLocked()
	p.flags |= set
	p.flags &^= unset
	p.touchLocked()
	return nil
}

// Compress compresses the content in place and sets FlagCompressed.
// Compressing twice is a no-op.
func (p *Packet) Compress(c codec.Compressor) error {
	if p.HasFlag(FlagCompressed) {
		return nil
	}
	return p.transformContent(c.Compress, FlagCompressed, 0)
}

// Decompress reverses Compress and clears FlagCompressed.
func (p *Packet) Decompress(c codec.Compressor) error {
	if !p.HasFlag(FlagCompressed) {
		return nil
	}
	return p.transformContent(c.Decompress, 0, FlagCompressed)
}

// Encrypt seals the content in place and sets FlagEncrypted.
func (p *Packet) Encrypt(e codec.Encryptor) error {
	if p.HasFlag(FlagEncrypted) {
		return nil
	}
	return p.transformContent(e.Encrypt, FlagEncrypted, 0)
}

// Decrypt reverses Encrypt and clears FlagEncrypted.
func (p *Packet) Decrypt(e codec.Encryptor) error {
	if !p.HasFlag(FlagEncrypted) {
		return nil
	}
	return p.transformContent(e.Decrypt, 0, FlagEncrypted)
}
