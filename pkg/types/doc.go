// Package types defines the core data structures shared across syncd: users,
// vaults, shares, file version rows, and publish sites.
//
// These types are storage-layer values first (JSON-serialized into BoltDB
// buckets by pkg/storage) and wire values second (marshaled directly into
// WebSocket and HTTP responses where the shapes line up). They carry no
// behavior of their own — enforcement of the invariants described on File
// and Vault lives in pkg/storage and pkg/sync.
package types
