// Package model defines shared data types used across the quotes service.
//
// Conventions:
//   - Symbols: uppercase ticker strings (e.g., "AAPL"), normalized on entry
//   - Prices: float64 dollars, matching the upstream JSON wire format
//   - Timestamps: time.Time in UTC, serialized as RFC 3339
package model
