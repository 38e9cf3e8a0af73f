// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Alert emission and dedup suppression counts
//   - Subscription pool size and reconnects
//   - Snapshot fetch latency and failures
//   - Leaderboard refresh outcomes
package metrics
