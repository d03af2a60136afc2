// Package observability provides the zap logger factory and the Prometheus
// metrics recorded by the guardrails control plane.
//
// Metrics cover live resolutions and replays, audited mutations,
// optimistic-concurrency conflicts, quota rejections, snapshot cache
// lookups, integrity sweeps and HTTP traffic. All recording methods are
// safe on a nil *Metrics so components may run without instrumentation.
package observability
