// Package enrichment implements the capacity scoring listener.
//
// A background task consumes the capacity.scoring channel and caches
// complete records under capacity:score:<SYMBOL> with a long freshness
// window. Writes are idempotent last-write-wins overwrites; incomplete
// messages are dropped and logged. The listener shares nothing with the
// Broadcast Relay except the cache-aside store and can never block it.
package enrichment
