package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// NO SPEND - Count clean days since the challenge started
// =============================================================================

// NoSpend rewards days without a qualifying expense.
//
// Progress is recomputed from the ledger on every pass:
//
//	dirty    = distinct dates in [start, now] with an expense > NoiseFloor
//	elapsed  = floor((now - start) / 24h)
//	current  = max(0, elapsed - |dirty|)
//
// A back-dated expense therefore reduces the count retroactively.
type NoSpend struct {
	TargetDays int
	Duration   time.Duration
	// NoiseFloor ignores trivial fees: only amounts strictly above it count.
	NoiseFloor decimal.Decimal
}

// NewNoSpend returns the standard 7-day NoSpend strategy.
func NewNoSpend() *NoSpend {
	return &NoSpend{
		TargetDays: 7,
		Duration:   7 * Day,
		NoiseFloor: decimal.NewFromInt(10),
	}
}

func (s *NoSpend) Type() Type { return TypeNoSpend }

func (s *NoSpend) Template() Template {
	return Template{
		Title:       "No-Spend Week",
		Description: fmt.Sprintf("Go %d days without any discretionary spending.", s.TargetDays),
		Duration:    s.Duration,
	}
}

func (s *NoSpend) Seed(_ context.Context, _ Ledger, _ string, _ time.Time) (Seed, error) {
	return Seed{
		TargetValue: decimal.NewFromInt(int64(s.TargetDays)),
		Metadata:    NoSpendMeta{},
	}, nil
}

// Evaluate credits every elapsed day since StartDate, minus the dirty ones.
// The count is not capped at EndDate: a late refresh keeps earning days.
func (s *NoSpend) Evaluate(ctx context.Context, ledger Ledger, c Challenge, now time.Time) (decimal.Decimal, error) {
	if !now.After(c.StartDate) {
		return decimal.Zero, nil
	}
	dirty, err := ledger.DistinctExpenseDays(ctx, c.UserID, s.NoiseFloor, c.StartDate, now)
	if err != nil {
		return decimal.Zero, &LedgerUnavailableError{Op: "DistinctExpenseDays", Err: err}
	}

	clean := c.Window().DaysElapsed(now) - dirty.Len()
	if clean < 0 {
		clean = 0
	}
	return decimal.NewFromInt(int64(clean)), nil
}

// IsSuccessful: met or exceeded the clean-day target.
func (s *NoSpend) IsSuccessful(c Challenge) bool {
	return c.CurrentValue.GreaterThanOrEqual(c.TargetValue)
}
