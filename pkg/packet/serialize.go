package packet

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/notcontrolos/hinata/pkg/memory"
)

// Wire layout, little-endian:
//
//	magic u32 | version u32 | type u8 | priority u8 | status u8 | pad u8 |
//	flags u32 | content_hash u32 | created_at i64 | updated_at i64 |
//	uuid [36]byte | source_len u16 | source | tag_count u16 |
//	(tag_len u16 | tag)* | metadata_len u32 | metadata |
//	content_len u32 | content
const headerSize = 4 + 4 + 4 + 4 + 4 + 8 + 8 + UUIDLength

// Marshal encodes the packet into a self-describing byte record.
func (p *Packet) Marshal() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	var content, metadata []byte
	if p.content != nil {
		content = p.content.Bytes()
	}
	if p.metadata != nil {
		metadata = p.metadata.Bytes()
	}

	size := headerSize + 2 + len(p.source) + 2
	for _, t := range p.tags {
		size += 2 + len(t)
	}
	size += 4 + len(metadata) + 4 + len(content)

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, p.magic)
	buf = binary.LittleEndian.AppendUint32(buf, p.version)
	buf = append(buf, byte(p.typ), byte(p.priority), byte(p.status), 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.flags))
	buf = binary.LittleEndian.AppendUint32(buf, p.contentHash)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.createdAt))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.updatedAt))
	buf = append(buf, p.id...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(p.source)))
	buf = append(buf, p.source...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(p.tags)))
	for _, t := range p.tags {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(t)))
		buf = append(buf, t...)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(metadata)))
	buf = append(buf, metadata...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(content)))
	buf = append(buf, content...)
	return buf
}

// PeekRecord decodes just the UUID and type from a marshalled record
// without allocating buffers. Used by the storage log scan.
func PeekRecord(record []byte) (string, Type, error) {
	if len(record) < headerSize {
		return "", 0, ErrCorruptRecord
	}
	if binary.LittleEndian.Uint32(record[0:]) != Magic {
		return "", 0, ErrCorruptRecord
	}
	typ := Type(record[8])
	if !typ.Valid() {
		return "", 0, ErrCorruptRecord
	}
	id := string(record[36 : 36+UUIDLength])
	if !ValidUUID(id) {
		return "", 0, ErrCorruptRecord
	}
	return id, typ, nil
}

type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = ErrCorruptRecord
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Unmarshal decodes a record produced by Marshal, allocating content and
// metadata buffers from mgr. The record's stored content hash is verified
// against the decoded bytes; a mismatch yields ErrCorruptRecord. The
// returned packet carries one reference and is not registered anywhere.
func Unmarshal(mgr *memory.Manager, data []byte) (*Packet, error) {
	r := &reader{data: data}

	magic := r.u32()
	version := r.u32()
	typ := Type(0)
	priority := Priority(0)
	status := Status(0)
	if b := r.take(4); b != nil {
		typ, priority, status = Type(b[0]), Priority(b[1]), Status(b[2])
	}
	flags := Flags(r.u32())
	contentHash := r.u32()
	createdAt := int64(r.u64())
	updatedAt := int64(r.u64())
	id := string(r.take(UUIDLength))

	source := string(r.take(int(r.u16())))
	tagCount := int(r.u16())
	if tagCount > MaxTags {
		return nil, ErrCorruptRecord
	}
	tags := make([]string, 0, tagCount)
	for i := 0; i < tagCount; i++ {
		tags = append(tags, string(r.take(int(r.u16()))))
	}

	metaLen := int(r.u32())
	if metaLen > MaxMetadataSize {
		return nil, ErrCorruptRecord
	}
	metadata := r.take(metaLen)
	contentLen := int(r.u32())
	if contentLen == 0 || contentLen > MaxContentSize {
		return nil, ErrCorruptRecord
	}
	content := r.take(contentLen)

	if r.err != nil {
		return nil, r.err
	}
	if magic != Magic || version != Version {
		return nil, ErrCorruptRecord
	}
	if !typ.Valid() || !priority.Valid() || !status.Valid() {
		return nil, ErrCorruptRecord
	}
	if !ValidUUID(id) {
		return nil, ErrCorruptRecord
	}
	if crc32.ChecksumIEEE(content) != contentHash {
		return nil, ErrCorruptRecord
	}

	cbuf, err := mgr.Alloc(contentLen, 0)
	if err != nil {
		return nil, err
	}
	copy(cbuf.Bytes(), content)

	var mbuf *memory.Buffer
	if metaLen > 0 {
		mbuf, err = mgr.Alloc(metaLen, 0)
		if err != nil {
			mgr.Free(cbuf)
			return nil, err
		}
		copy(mbuf.Bytes(), metadata)
	}

	p := &Packet{
		magic:       magic,
		version:     version,
		id:          id,
		typ:         typ,
		source:      source,
		priority:    priority,
		status:      status,
		flags:       flags,
		tags:        tags,
		contentHash: contentHash,
		size:        uint64(contentLen + metaLen),
		createdAt:   createdAt,
		updatedAt:   updatedAt,
		content:     cbuf,
		metadata:    mbuf,
		mgr:         mgr,
	}
	if p.createdAt == 0 {
		p.createdAt = time.Now().UnixNano()
	}
	p.refs.Store(1)
	return p, nil
}
