// Package registry implements the Connection Registry component.
//
// The registry exclusively owns the mapping of connection id to subscriber
// sink and symbol filter. It is the only structure in the service mutated by
// multiple flows concurrently (connect, disconnect-on-failure, broadcast
// read) and is protected by a read-heavy RWMutex.
//
// The registry never self-heals: Deliver reports a definite success or
// failure and the caller (the Broadcast Relay) decides to unregister.
package registry
