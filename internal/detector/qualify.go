package detector

import "github.com/perpwatch/engine/internal/model"

// Event classifies a position state transition.
type Event int

const (
	NoOp Event = iota
	NewQualifyingEvent
	PositionClosed
)

func (e Event) String() string {
	switch e {
	case NewQualifyingEvent:
		return "new_qualifying"
	case PositionClosed:
		return "closed"
	default:
		return "noop"
	}
}

// Detector classifies positions against configured thresholds.
// It holds no mutable state; methods are pure functions.
type Detector struct {
	MinValueUSD float64
	MinLeverage float64
}

// IsQualifying reports whether a position is alert-worthy on its own:
// long, at least MinValueUSD of notional, and at least MinLeverage of
// effective leverage. Boundary values qualify.
func (d Detector) IsQualifying(p model.Position) bool {
	return p.IsLong() &&
		p.ValueUSD >= d.MinValueUSD &&
		p.EffectiveLeverage() >= d.MinLeverage
}

// DetectTransition decides what a before/after pair represents.
// Alerts are edge-triggered: a position that was already qualifying
// and stays qualifying never re-fires.
func (d Detector) DetectTransition(previous, current *model.Position) Event {
	switch {
	case previous == nil && current == nil:
		return NoOp

	case previous == nil:
		if d.IsQualifying(*current) {
			return NewQualifyingEvent
		}
		return NoOp

	case current == nil:
		return PositionClosed

	default:
		if d.IsQualifying(*current) && !d.IsQualifying(*previous) {
			return NewQualifyingEvent
		}
		return NoOp
	}
}
