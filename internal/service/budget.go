package service

import "time"

const (
	DefaultTurnMaxWrites   = 5
	DefaultTurnMaxDuration = 15 * time.Second

	BudgetExceededWrites = "writes"
	BudgetExceededTime   = "time"
)

// TurnBudget caps the learning work done for a single turn. Each Allow call
// that returns true counts as one write; once either ceiling is hit every
// further request is refused and counted as skipped.
type TurnBudget struct {
	maxWrites   int
	maxDuration time.Duration
	start       time.Time
	now         func() time.Time

	writes   int
	skipped  int
	exceeded string
}

// NewTurnBudget starts a budget clock. Non-positive limits disable that ceiling.
func NewTurnBudget(maxWrites int, maxDuration time.Duration, now func() time.Time) *TurnBudget {
	if now == nil {
		now = time.Now
	}
	return &TurnBudget{
		maxWrites:   maxWrites,
		maxDuration: maxDuration,
		start:       now(),
		now:         now,
	}
}

// Allow reserves one write if both ceilings permit it.
func (b *TurnBudget) Allow() bool {
	if b.exceeded == "" {
		switch {
		case b.maxDuration > 0 && b.now().Sub(b.start) >= b.maxDuration:
			b.exceeded = BudgetExceededTime
		case b.maxWrites > 0 && b.writes >= b.maxWrites:
			b.exceeded = BudgetExceededWrites
		}
	}
	if b.exceeded != "" {
		b.skipped++
		return false
	}
	b.writes++
	return true
}

// TimeLeft reports whether the time ceiling still permits read-only steps.
func (b *TurnBudget) TimeLeft() bool {
	if b.exceeded == BudgetExceededTime {
		return false
	}
	if b.maxDuration > 0 && b.now().Sub(b.start) >= b.maxDuration {
		b.exceeded = BudgetExceededTime
		return false
	}
	return true
}

func (b *TurnBudget) Writes() int      { return b.writes }
func (b *TurnBudget) Skipped() int     { return b.skipped }
func (b *TurnBudget) Exceeded() string { return b.exceeded }

func (b *TurnBudget) Elapsed() time.Duration {
	return b.now().Sub(b.start)
}
