// Package journal persists emitted alerts to PostgreSQL.
//
// Alerts are accumulated into batches and flushed either when the
// batch fills or on a fixed interval. The journal is an audit trail;
// alert emission never blocks on it.
package journal
