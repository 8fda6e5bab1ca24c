package logger

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so logs can be aggregated and queried.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Packets
	KeyPacketID   = "packet_id"
	KeyPacketType = "packet_type"
	KeyStatus     = "status"
	KeySize       = "size"
	KeySource     = "source"
	KeyTagCount   = "tag_count"
	KeyRefCount   = "ref_count"
	KeyHash       = "content_hash"

	// Validation
	KeyStage   = "stage"
	KeyVerdict = "verdict"

	// Memory manager
	KeyHandle    = "handle"
	KeyPoolClass = "pool_class"
	KeyUsage     = "usage"
	KeyLimit     = "limit"
	KeyLeaks     = "leaks"
	KeyFreed     = "freed"

	// Storage
	KeyRegionID   = "region_id"
	KeyRegionName = "region_name"
	KeyPath       = "path"
	KeyOffset     = "offset"
	KeyBlockCount = "block_count"
	KeyUsedSize   = "used_size"
	KeyChecksum   = "checksum"

	// Cache
	KeyCacheHit  = "cache_hit"
	KeyCacheSize = "cache_size"
	KeyEvicted   = "evicted"
	KeyExpired   = "expired"

	// Worker pool
	KeyTaskID     = "task_id"
	KeyTaskType   = "task_type"
	KeyWorkerID   = "worker_id"
	KeyPriority   = "priority"
	KeyQueueDepth = "queue_depth"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeyResult     = "result"

	// Generic operation metadata
	KeyComponent  = "component"
	KeyOperation  = "operation"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)
