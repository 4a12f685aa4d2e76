/*
Package cache provides the layered metadata cache for the image gateway.

Reads walk a two-level hierarchy in front of a miss:

	┌─────────────────────────────────────────────┐
	│             Storage Service                 │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            Cache Manager                    │  ← This Package
	│   L1: in-memory LRU (bounded, TTL)          │
	│   L2: persistent metadata store             │
	│   miss: nil                                 │
	└─────────────────────────────────────────────┘

The LRU is bounded by entry count with a fixed per-entry TTL. Expired entries
read as absent and are purged on access; at capacity the least-recently-used
entry is evicted before an insert. The cache is safe for concurrent use.

The manager is the only writer of the image catalog: Store inserts, Update
patches, Delete soft-deletes (deleted_at stamp, never a physical delete).
Store read failures degrade to a miss rather than an error, so the read path
fails soft; write failures propagate.
*/
package cache
