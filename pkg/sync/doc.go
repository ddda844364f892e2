// Package sync is the entry point wired by pkg/api: Engine.Serve runs one
// WebSocket connection through INIT, catch-up, and the SERVING op loop,
// one goroutine per connection, but stateless across connections — all
// durable state lives in pkg/storage and all cross-connection fanout in
// pkg/hub.
package sync
