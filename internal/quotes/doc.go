// Package quotes implements the read service: cache-aside orchestration of
// quote lookups with origin-store fallback and best-effort capacity
// enrichment.
//
// Error taxonomy: ErrNotFound is an expected outcome, ErrUnavailable means
// the origin store failed and the read is retrievable, ErrInvalidQuery
// rejects malformed requests. Cache failures never surface; they degrade
// silently to a cache miss.
package quotes
