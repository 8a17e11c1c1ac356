/*
evaluate.go - Progress evaluator and settlement finalizer

PURPOSE:
  The two steps run for every active challenge in a refresh pass, always
  in this order:
    1. Evaluate: recompute CurrentValue from the ledger
    2. Settle:   if the window has closed, apply the success predicate

PURITY:
  Both are functions of (challenge, now, ledger). Neither reads the wall
  clock nor writes anywhere; persistence belongs to the engine. Running
  them twice with the same inputs yields the same challenge.

EVALUATION TIME:
  now is handed to the strategy as is. Each type picks its own range:
    NoSpend:        [StartDate, now], one credit per elapsed day
    BudgetCut:      [StartDate, EndDate]
    SavingsSprint:  [StartDate, min(now, EndDate)]

TERMINAL FINALITY:
  A completed or failed challenge is returned unchanged by both steps.

SEE ALSO:
  - strategy.go: Per-type Evaluate and IsSuccessful
  - engine.go: Refresh orchestration and persistence
*/
package challenge

import (
	"context"
	"time"
)

// Evaluate recomputes c.CurrentValue as of now using the type's strategy.
// On error c is returned unchanged.
func Evaluate(ctx context.Context, s Strategy, ledger Ledger, c Challenge, now time.Time) (Challenge, error) {
	if c.Status.IsTerminal() {
		return c, nil
	}

	value, err := s.Evaluate(ctx, ledger, c, now)
	if err != nil {
		return c, err
	}

	c.CurrentValue = value
	return c, nil
}

// Settle transitions an expired active challenge to completed or failed.
// Challenges still inside their window (now <= EndDate) are unchanged.
func Settle(s Strategy, c Challenge, now time.Time) Challenge {
	if c.Status != StatusActive || !c.IsExpired(now) {
		return c
	}

	if s.IsSuccessful(c) {
		c.Status = StatusCompleted
	} else {
		c.Status = StatusFailed
	}
	return c
}
