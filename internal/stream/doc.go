// Package stream wraps Redis pub/sub subscriptions behind a pull-based
// message source.
//
// A Source is a single long-lived subscription. Its message channel closes
// when the subscription terminates; Err distinguishes a fatal upstream
// failure (reconnect required, owner decides) from a graceful close.
package stream
