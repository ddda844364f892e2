// Package hub implements the per-vault broadcast hub: join/leave/broadcast
// over a process-wide vault_id -> active-sessions map. One room per vault,
// each with a buffered per-subscriber channel, so one vault's traffic
// never backs up another's.
package hub
