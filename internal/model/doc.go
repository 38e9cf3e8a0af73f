// Package model defines shared data types used across the position monitor.
//
// Conventions:
//   - Addresses: hex chain addresses, treated as opaque strings
//   - Position size: float64, sign encodes direction (positive = long)
//   - Value and margin: float64 USD magnitudes, never signed
//   - Timestamps: time.Time in UTC
package model
