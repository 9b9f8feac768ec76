// Package relay implements the Broadcast Relay component.
//
// The relay bridges one upstream publish channel (quotes.realtime) to many
// registry subscribers. For each inbound message it extracts the routing
// symbol, snapshots the matching subscribers, and attempts delivery to each
// independently; a failed delivery unregisters that subscriber only.
//
// Per instance the relay moves through
//
//	Disconnected → Subscribing → Listening → Disconnected (fatal upstream error)
//	Listening → Draining → Disconnected                    (graceful shutdown)
//
// A fatal upstream disconnect is surfaced through Done/Err to the owner,
// which decides whether to resubscribe; the relay never retries internally.
package relay
