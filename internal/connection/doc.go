// Package connection implements the streaming transport layer.
//
// It maintains exactly one WebSocket connection to the venue and the
// per-address subscription state machine on top of it:
//   - subscribe/unsubscribe control frames dispatched in rate-limited
//     batches to respect the venue's churn ceiling
//   - fill-event notifications surfaced on a channel, with initial
//     state replays dropped (authoritative state comes from snapshots)
//   - reconnection after a fixed delay, resubscribing the entire
//     target set from scratch; an explicit stop suppresses reconnects
package connection
