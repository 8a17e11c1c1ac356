/*
Package challenge provides the time-boxed challenge engine.

PURPOSE:
  A challenge is a short, user-scoped financial goal ("spend nothing
  discretionary for 7 days", "cut dining spend by 20% this month"). The
  engine admits new challenges, recomputes their progress against the
  user's ledger, and settles them into a terminal outcome once their
  window closes.

KEY CONCEPTS IN THIS FILE (types.go):
  - Type: Which challenge is being run (no_spend, budget_cut, savings_sprint)
  - Status: active → completed | failed, one-way
  - Challenge: The only entity; progress lives in CurrentValue
  - Metadata: Per-type auxiliary data captured at admission

DESIGN PRINCIPLES:
  1. Explicit time: every evaluation takes `now` as a parameter
  2. Precision: money and progress use decimal.Decimal
  3. Write-once seeding: TargetValue and Metadata never change after Join
  4. Terminal finality: completed/failed challenges are never re-evaluated

USAGE:
  engine := challenge.NewEngine(repo, ledger)
  c, err := engine.Join(ctx, "user-1", challenge.TypeNoSpend)
  result, err := engine.ListWithRefresh(ctx, "user-1")

SEE ALSO:
  - strategy.go: Per-type seeding, evaluation and success predicates
  - evaluate.go: Progress evaluator and settlement finalizer
  - engine.go: Admission and refresh orchestration
*/
package challenge

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TYPE AND STATUS
// =============================================================================

// Type identifies which challenge is being run. Immutable after creation.
type Type string

const (
	TypeNoSpend       Type = "no_spend"
	TypeBudgetCut     Type = "budget_cut"
	TypeSavingsSprint Type = "savings_sprint"
)

func (t Type) String() string { return string(t) }

// Status is the lifecycle state of a challenge.
// active → completed | failed is the only transition.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition can occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses for display: active first.
func (s Status) rank() int {
	switch s {
	case StatusActive:
		return 0
	case StatusCompleted:
		return 1
	case StatusFailed:
		return 2
	default:
		return 3
	}
}

// =============================================================================
// CHALLENGE
// =============================================================================

// Challenge is a user-scoped, time-boxed behavioral goal.
type Challenge struct {
	ID          string
	UserID      string
	Type        Type
	Title       string
	Description string
	StartDate   time.Time
	EndDate     time.Time

	// TargetValue semantics depend on Type. Fixed at creation.
	TargetValue decimal.Decimal

	// CurrentValue is recomputed from the ledger on each pass while active.
	CurrentValue decimal.Decimal

	Status   Status
	Metadata Metadata

	// Version is the optimistic concurrency token. Stores bump it on Update.
	Version int
}

// Window returns the challenge's [StartDate, EndDate] window.
func (c Challenge) Window() Window {
	return Window{Start: c.StartDate, End: c.EndDate}
}

// IsExpired reports whether the window has closed at now.
// The end instant itself still belongs to the window.
func (c Challenge) IsExpired(now time.Time) bool {
	return now.After(c.EndDate)
}

// progressChanged reports whether the mutable fields differ.
func (c Challenge) progressChanged(other Challenge) bool {
	return !c.CurrentValue.Equal(other.CurrentValue) || c.Status != other.Status
}

// =============================================================================
// TEMPLATE - Display text and duration for a challenge type
// =============================================================================

// Template holds the creation-time constants of a challenge type.
type Template struct {
	Title       string
	Description string
	Duration    time.Duration
}

// Days returns the template duration in whole days.
func (t Template) Days() int {
	return int(t.Duration / Day)
}
