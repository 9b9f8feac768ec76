// Package database provides the origin quote store over TimescaleDB.
//
// The quotes.real_time hypertable is the authoritative source for quote
// reads; the cache-aside layer sits in front of it. History queries use
// time_bucket aggregation with FIRST/LAST for open/close.
package database
