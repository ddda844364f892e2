// Package api is the HTTP+WebSocket front end: it upgrades the single
// sync endpoint (/, /ws, /ws.obsidian.md) to pkg/sync.Engine and exposes
// every account/vault/publish operation in spec.md §6 as a small JSON
// POST handler, delegating all state changes to pkg/identity,
// pkg/storage, and pkg/publish. It owns no business logic of its own —
// only request decoding, CORS, metrics, and error-to-status mapping.
package api
