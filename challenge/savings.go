package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SAVINGS SPRINT - Net savings over a short window
// =============================================================================

// SavingsSprint asks the user to save a fixed amount within the window.
//
//	current = income - expenses in [start, at]
//
// Success iff current >= target at settlement. current may go negative
// when spending outpaces income.
type SavingsSprint struct {
	Target   decimal.Decimal
	Duration time.Duration
}

// NewSavingsSprint returns the standard 7-day, 2000-unit sprint.
func NewSavingsSprint() *SavingsSprint {
	return &SavingsSprint{
		Target:   decimal.NewFromInt(2000),
		Duration: 7 * Day,
	}
}

func (s *SavingsSprint) Type() Type { return TypeSavingsSprint }

func (s *SavingsSprint) Template() Template {
	return Template{
		Title:       "Savings Sprint",
		Description: fmt.Sprintf("Put aside %s within %d days by earning more than you spend.", s.Target.String(), int(s.Duration/Day)),
		Duration:    s.Duration,
	}
}

func (s *SavingsSprint) Seed(_ context.Context, _ Ledger, _ string, _ time.Time) (Seed, error) {
	return Seed{TargetValue: s.Target, Metadata: SavingsSprintMeta{}}, nil
}

// Evaluate measures net savings up to now, or up to EndDate once it has passed.
func (s *SavingsSprint) Evaluate(ctx context.Context, ledger Ledger, c Challenge, now time.Time) (decimal.Decimal, error) {
	at := c.Window().Clamp(now)
	net, err := ledger.NetSavings(ctx, c.UserID, c.StartDate, at)
	if err != nil {
		return decimal.Zero, &LedgerUnavailableError{Op: "NetSavings", Err: err}
	}
	return net, nil
}

func (s *SavingsSprint) IsSuccessful(c Challenge) bool {
	return c.CurrentValue.GreaterThanOrEqual(c.TargetValue)
}
