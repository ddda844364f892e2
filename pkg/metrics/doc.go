// Package metrics registers syncd's Prometheus metrics and a small
// component health checker, exposed by pkg/api at /metrics, /health,
// /ready, and /live.
//
// Gauges (SessionsActive, VaultsTotal, SitesTotal, HubRooms,
// StorageBytesTotal) are kept current two ways: event-driven updates at
// the call sites in pkg/sync, and a periodic Collector sweep over
// pkg/storage and pkg/hub for values that are cheaper to recompute than
// to track incrementally. Counters and histograms (PushesTotal,
// PullsTotal, BroadcastFanout, SignupsTotal, SigninsTotal,
// HTTPRequestsTotal/Duration, PublishRequestsTotal/Duration) are updated
// inline by the code that handles each op or request.
//
// HealthChecker tracks named components (storage, hub, api) independently
// of the Prometheus registry; GetReadiness treats storage, hub, and api as
// critical and reports not_ready until all three have registered healthy.
package metrics
