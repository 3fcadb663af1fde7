package hash

// ---------------------------------------------------------------------------
// Frozen tag bytes for the module hashing format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// all previously computed content hashes and cache keys.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

const (
	TagReservedZero byte = 0x00

	// Cache key fields
	TagSource      byte = 0x01
	TagFingerprint byte = 0x02
	TagVersion     byte = 0x03

	// Module structure
	TagModule byte = 0x10
	TagChunk  byte = 0x11
	TagLayout byte = 0x12
	TagExport byte = 0x13
	TagResume byte = 0x14

	// Constants
	TagNumberConst byte = 0x20
	TagStringConst byte = 0x21

	// Optional debug section, hashed only when requested
	TagDebug byte = 0x30
)
