package domain

import "time"

// Pause reason codes exposed to operators.
const (
	PauseLedgerDrift = "LEDGER_DRIFT"
	PauseReconciling = "RECONCILING"
	PauseOperator    = "OPERATOR"
)

// PauseState tracks whether the engine may place new orders. While paused the
// loop keeps observing (prices, fills, ledger) but does not place orders.
type PauseState struct {
	Paused bool      `json:"paused"`
	Reason string    `json:"reason,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Since  time.Time `json:"since,omitempty"`

	// Consecutive fatal placement errors before a cooldown.
	FatalStreak   int           `json:"fatalStreak"`
	MaxFatal      int           `json:"-"`
	CooldownUntil time.Time     `json:"cooldownUntil,omitempty"`
	Cooldown      time.Duration `json:"-"`
}

// IsOpen returns true if placing orders is allowed.
func (p *PauseState) IsOpen(now time.Time) bool {
	if p.Paused {
		return false
	}
	return !now.Before(p.CooldownUntil)
}

// Trip pauses with the given reason code. An existing pause keeps its
// original reason unless the new one is drift, which always wins.
func (p *PauseState) Trip(reason, detail string, now time.Time) {
	if p.Paused && reason != PauseLedgerDrift {
		return
	}
	p.Paused = true
	p.Reason = reason
	p.Detail = detail
	p.Since = now
}

// Clear lifts the pause.
func (p *PauseState) Clear() {
	p.Paused = false
	p.Reason = ""
	p.Detail = ""
	p.Since = time.Time{}
	p.FatalStreak = 0
}

// RecordFatal counts a fatal order error; after MaxFatal in a row placement
// cools down for Cooldown. Returns true when the cooldown started.
func (p *PauseState) RecordFatal(now time.Time) bool {
	p.FatalStreak++
	if p.MaxFatal > 0 && p.FatalStreak >= p.MaxFatal {
		p.CooldownUntil = now.Add(p.Cooldown)
		p.FatalStreak = 0
		return true
	}
	return false
}

// RecordSuccess resets the fatal streak.
func (p *PauseState) RecordSuccess() {
	p.FatalStreak = 0
}
