/*
ledger.go - Ledger Query Interface consumed by the engine

PURPOSE:
  The ledger is the user's record of income and expense transactions.
  It is owned by another subsystem; the engine only reads it through the
  narrow query shapes below. Nothing here writes to it.

RETROACTIVE EDITS:
  Entries may be added or corrected for past dates at any time. The
  engine never caches ledger aggregates between passes; every evaluation
  recomputes from these queries.

DATES:
  Entries carry their own calendar date (civil.Date). Range queries
  select entries whose date falls within the calendar dates of
  [start, end], so an expense dated on the start day counts even if it
  was recorded before the challenge began that day.

IMPLEMENTATIONS:
  - challenge/store/memory.go: In-memory (tests, demo)
  - store/sqlite/sqlite.go:    SQLite
  - store/postgres/postgres.go: PostgreSQL (pgx)

SEE ALSO:
  - strategy.go: Which strategy issues which query
*/
package challenge

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Read-only query interface
// =============================================================================

// Ledger answers the aggregate queries challenge strategies need.
type Ledger interface {
	// SumExpenses returns the sum of expense amounts for the user in
	// [start, end] whose category matches pattern. Zero if none match.
	SumExpenses(ctx context.Context, userID string, pattern CategoryPattern, start, end time.Time) (decimal.Decimal, error)

	// DistinctExpenseDays returns the dates in [start, end] with at least
	// one expense whose amount is strictly greater than amountFloor.
	DistinctExpenseDays(ctx context.Context, userID string, amountFloor decimal.Decimal, start, end time.Time) (DaySet, error)

	// NetSavings returns income minus expenses for the user in [start, end].
	NetSavings(ctx context.Context, userID string, start, end time.Time) (decimal.Decimal, error)
}

// LedgerWriter is implemented by stores that host a ledger themselves.
// The engine never uses it; the HTTP layer and demo scenarios do.
type LedgerWriter interface {
	Record(ctx context.Context, entry LedgerEntry) error
	Entries(ctx context.Context, userID string, from, to civil.Date) ([]LedgerEntry, error)
}

// =============================================================================
// LEDGER ENTRY
// =============================================================================

// EntryKind separates money in from money out.
type EntryKind string

const (
	EntryIncome  EntryKind = "income"
	EntryExpense EntryKind = "expense"
)

// LedgerEntry is one income or expense transaction.
type LedgerEntry struct {
	ID       string
	UserID   string
	Kind     EntryKind
	Category string
	Amount   decimal.Decimal // always positive; Kind gives the direction
	Date     civil.Date
	Note     string
}

// Validate checks the fields a ledger host needs before recording.
func (e LedgerEntry) Validate() error {
	switch {
	case strings.TrimSpace(e.UserID) == "":
		return &InvalidInputError{Field: "user_id", Reason: "must not be empty"}
	case e.Kind != EntryIncome && e.Kind != EntryExpense:
		return &InvalidInputError{Field: "kind", Reason: "must be income or expense"}
	case !e.Amount.IsPositive():
		return &InvalidInputError{Field: "amount", Reason: "must be positive"}
	case !e.Date.IsValid():
		return &InvalidInputError{Field: "date", Reason: "must be a valid calendar date"}
	}
	return nil
}

// =============================================================================
// CATEGORY PATTERN - Keyword heuristic over free-text categories
// =============================================================================

// CategoryPattern matches a category when it contains any keyword,
// case-insensitively. An empty pattern matches every category.
type CategoryPattern struct {
	Keywords []string
}

// DiningPattern is the food/dining heuristic used by BudgetCut.
var DiningPattern = CategoryPattern{Keywords: []string{"food", "dining", "swiggy", "zomato"}}

// Matches reports whether category contains one of the keywords.
func (p CategoryPattern) Matches(category string) bool {
	if len(p.Keywords) == 0 {
		return true
	}
	c := strings.ToLower(category)
	for _, k := range p.Keywords {
		if k != "" && strings.Contains(c, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

// LikeClauses returns lower-cased `%keyword%` arguments for SQL LIKE.
func (p CategoryPattern) LikeClauses() []string {
	out := make([]string, 0, len(p.Keywords))
	for _, k := range p.Keywords {
		if k == "" {
			continue
		}
		out = append(out, "%"+strings.ToLower(k)+"%")
	}
	return out
}

// DateRange converts a time window to the calendar dates it touches.
func DateRange(start, end time.Time) (civil.Date, civil.Date) {
	return civil.DateOf(start), civil.DateOf(end)
}
