// Package log wraps zerolog with a process-wide global Logger, JSON or
// console output selectable at Init, and component-scoped child loggers
// (WithComponent, WithVaultID, WithSessionID, WithUserEmail) used by
// pkg/sync, pkg/hub, pkg/storage, pkg/api, pkg/publish, and pkg/identity.
package log
