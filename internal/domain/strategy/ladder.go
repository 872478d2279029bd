package strategy

// RungAction is what a ladder rung does when its profit trigger is crossed.
type RungAction int

const (
	// RaiseStop lifts the stop-loss to lock in part of the move.
	RaiseStop RungAction = iota
	// PartialExit sells a fraction of the open quantity.
	PartialExit
	// FullExit closes the position entirely.
	FullExit
)

func (a RungAction) String() string {
	switch a {
	case RaiseStop:
		return "raise_stop"
	case PartialExit:
		return "partial_exit"
	case FullExit:
		return "full_exit"
	default:
		return "unknown"
	}
}

// Rung is one step of a partial-exit ladder.
type Rung struct {
	TriggerPct float64    `json:"trigger_pct"` // unrealized profit % that arms the rung
	Action     RungAction `json:"action"`
	ExitRatio  float64    `json:"exit_ratio,omitempty"` // fraction sold for PartialExit
	StopPct    float64    `json:"stop_pct,omitempty"`   // new stop as % above entry for RaiseStop
}

// Ladder is an ordered set of rungs with strictly increasing triggers.
// Ladder progress lives on the Position and only ever moves forward.
type Ladder []Rung

// DefaultLadder is the staged profit-taking schedule: stop to break-even
// early, scale out into strength, full exit at the top.
func DefaultLadder() Ladder {
	return Ladder{
		{TriggerPct: 1.5, Action: RaiseStop, StopPct: 0.5},
		{TriggerPct: 3.0, Action: RaiseStop, StopPct: 2.0},
		{TriggerPct: 5.0, Action: PartialExit, ExitRatio: 0.30},
		{TriggerPct: 8.0, Action: PartialExit, ExitRatio: 0.50},
		{TriggerPct: 10.0, Action: FullExit},
	}
}

// Next returns the rung at `stage` if its trigger has been crossed, or nil.
// Stages advance monotonically; a rung never fires twice.
func (l Ladder) Next(stage int, profitPct float64) *Rung {
	if stage < 0 || stage >= len(l) {
		return nil
	}
	if profitPct >= l[stage].TriggerPct {
		rung := l[stage]
		return &rung
	}
	return nil
}
