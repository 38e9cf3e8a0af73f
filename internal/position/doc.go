// Package position implements the Position State Store component.
//
// The store owns the per-address position tables exclusively. Callers
// pass in a full fresh position set and receive back the before/after
// pairs; nothing outside this package read-modifies a table. Access is
// serialized per address so reconciliation for one trader never blocks
// fill handling for another.
package position
