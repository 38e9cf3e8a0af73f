// Package detector holds the pure decision logic of the monitor:
// position qualification, edge-triggered transition detection, and the
// bounded recency cache that suppresses repeat alerts for the same
// economic event.
package detector
