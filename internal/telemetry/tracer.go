package telemetry

// Common attribute keys for spans. Packet-level keys use the "packet."
// prefix, storage keys "storage.".
const (
	AttrPacketID = "packet.id"

	AttrRegionID = "storage.region_id"
	AttrBytes    = "storage.bytes"

	AttrCacheHit = "cache.hit"
)

// Span names. Format: <component>.<operation>.
const (
	SpanStorePacket  = "storage.store_packet"
	SpanLoadPacket   = "storage.load_packet"
	SpanDeletePacket = "storage.delete_packet"
)
