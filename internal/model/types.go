package model

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Position is one open position for one (address, instrument) pair.
type Position struct {
	Instrument string  // Instrument symbol (e.g., "BTC")
	Size       float64 // Signed size; sign is the sole source of truth for direction
	ValueUSD   float64 // Notional USD value (magnitude)
	MarginUsed float64 // Margin backing the position (magnitude)
	EntryPrice float64 // Average entry price
	Leverage   float64 // Explicit leverage from the venue, 0 when not provided
}

// IsLong reports whether the position direction is long.
func (p Position) IsLong() bool {
	return p.Size > 0
}

// Direction returns "long" or "short" based on the size sign.
func (p Position) Direction() string {
	if p.IsLong() {
		return "long"
	}
	return "short"
}

// EffectiveLeverage returns the leverage used for qualification:
// the explicit leverage field when present, else value/margin, else 0.
func (p Position) EffectiveLeverage() float64 {
	if p.Leverage > 0 {
		return p.Leverage
	}
	if p.MarginUsed > 0 {
		return p.ValueUSD / p.MarginUsed
	}
	return 0
}

// Fill is a single executed trade carried by a stream fill event.
// Fills are only a trigger to re-fetch authoritative position state,
// never a source of truth themselves.
type Fill struct {
	Instrument string
	Price      float64
	Size       float64
	Side       string // "B" (buy) or "A" (sell), venue encoding
	Time       time.Time
}

// AlertRecord is the unit handed to the notification collaborator.
// Immutable once created.
type AlertRecord struct {
	ID         uuid.UUID
	Address    string
	Instrument string
	Size       float64 // Signed
	ValueUSD   float64
	Leverage   float64
	Direction  string // "long" or "short"
	Source     string // Source tag (e.g., "leaderboard-monitor")
	CreatedAt  time.Time
}

// AlertSignatureValueBucket is the coarse USD bucket width used when
// deriving alert signatures. Two qualifying events a few seconds apart
// with near-identical size collapse to the same signature.
const AlertSignatureValueBucket = 25_000

// AlertSignature is the dedup cache key derived from an alert.
// Comparable; usable directly as a map key.
type AlertSignature struct {
	Address        string
	Instrument     string
	ValueBucket    int64 // ValueUSD floored to AlertSignatureValueBucket steps
	LeverageBucket int64 // Leverage floored to an integer
}

// SignatureFor derives the dedup signature for a qualifying position.
func SignatureFor(address string, p Position) AlertSignature {
	return AlertSignature{
		Address:        address,
		Instrument:     p.Instrument,
		ValueBucket:    int64(math.Floor(p.ValueUSD / AlertSignatureValueBucket)),
		LeverageBucket: int64(math.Floor(p.EffectiveLeverage())),
	}
}
