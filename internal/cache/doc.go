// Package cache implements the cache-aside store over Redis.
//
// Callers treat a miss, a decode failure, and a transport error identically:
// the entry is absent and the read path falls through to the origin store.
// Writes are best-effort; a failed Set is logged and never surfaced.
//
// Key namespace:
//   - quote:<SYMBOL>:latest
//   - quote:<SYMBOL>:history:<start>:<end>:<interval>
//   - capacity:score:<SYMBOL>
//
// Expiry is enforced by Redis TTLs, never polled by the application.
package cache
