// Package server exposes the HTTP and WebSocket surface of the quote
// service: REST read endpoints backed by the cache-aside read service and a
// WebSocket endpoint that registers subscribers for real-time fan-out.
package server
