/*
Package factory provides JSON to Go challenge catalog conversion.

PURPOSE:
  Converts a JSON catalog into a challenge.Registry. The catalog tunes
  the built-in strategies (durations, targets, keyword heuristics)
  without code changes. Types it does not mention keep their defaults.

JSON SCHEMA:
  {
    "challenges": [
      {"type": "no_spend", "duration_days": 7, "target_days": 7, "noise_floor": "10"},
      {
        "type": "budget_cut",
        "duration_days": 30,
        "lookback_days": 30,
        "keywords": ["food", "dining", "swiggy", "zomato"],
        "fallback_baseline": "5000",
        "cut_ratio": "0.8"
      },
      {"type": "savings_sprint", "duration_days": 7, "target": "2000"}
    ]
  }

  Amounts accept JSON strings or numbers. Omitted fields keep defaults.

USAGE:
  f := factory.NewCatalogFactory()
  f.OnBaselineFallback = metrics.BaselineFallback
  registry, err := f.Load(os.Getenv("CATALOG_PATH"))

SEE ALSO:
  - challenge/strategy.go: Registry and Strategy
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/challenge-engine/challenge"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// CatalogJSON is the JSON representation of a challenge catalog.
type CatalogJSON struct {
	Challenges []ChallengeJSON `json:"challenges"`
}

// ChallengeJSON holds the tunables of one challenge type.
// Only the fields relevant to Type are read.
type ChallengeJSON struct {
	Type         string `json:"type"`
	DurationDays *int   `json:"duration_days,omitempty"`

	// no_spend
	TargetDays *int             `json:"target_days,omitempty"`
	NoiseFloor *decimal.Decimal `json:"noise_floor,omitempty"`

	// budget_cut
	LookBackDays     *int             `json:"lookback_days,omitempty"`
	Keywords         []string         `json:"keywords,omitempty"`
	FallbackBaseline *decimal.Decimal `json:"fallback_baseline,omitempty"`
	CutRatio         *decimal.Decimal `json:"cut_ratio,omitempty"`

	// savings_sprint
	Target *decimal.Decimal `json:"target,omitempty"`
}

// =============================================================================
// CATALOG FACTORY
// =============================================================================

// CatalogFactory converts JSON catalogs to registries.
type CatalogFactory struct {
	// OnBaselineFallback is installed on the BudgetCut strategy.
	OnBaselineFallback func(userID string, err error)
}

// NewCatalogFactory creates a new catalog factory.
func NewCatalogFactory() *CatalogFactory {
	return &CatalogFactory{}
}

// Default returns the built-in registry with the factory's hooks installed.
func (f *CatalogFactory) Default() *challenge.Registry {
	r, _ := f.FromJSON(CatalogJSON{})
	return r
}

// Load reads a catalog file. An empty path or a missing file yields
// the built-in defaults.
func (f *CatalogFactory) Load(path string) (*challenge.Registry, error) {
	if path == "" {
		return f.Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return f.Parse(data)
}

// Parse parses a JSON catalog.
func (f *CatalogFactory) Parse(data []byte) (*challenge.Registry, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON applies cj over the default strategies.
func (f *CatalogFactory) FromJSON(cj CatalogJSON) (*challenge.Registry, error) {
	noSpend := challenge.NewNoSpend()
	budgetCut := challenge.NewBudgetCut()
	sprint := challenge.NewSavingsSprint()
	budgetCut.OnFallback = f.OnBaselineFallback

	seen := make(map[string]bool, len(cj.Challenges))
	for i, c := range cj.Challenges {
		if seen[c.Type] {
			return nil, fmt.Errorf("challenges[%d]: duplicate type %q", i, c.Type)
		}
		seen[c.Type] = true

		var err error
		switch challenge.Type(c.Type) {
		case challenge.TypeNoSpend:
			err = applyNoSpend(noSpend, c)
		case challenge.TypeBudgetCut:
			err = applyBudgetCut(budgetCut, c)
		case challenge.TypeSavingsSprint:
			err = applySavingsSprint(sprint, c)
		default:
			err = fmt.Errorf("unknown challenge type %q", c.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("challenges[%d]: %w", i, err)
		}
	}

	return challenge.NewRegistry(noSpend, budgetCut, sprint), nil
}

// ToJSON describes a registry's built-in strategies as a catalog.
func (f *CatalogFactory) ToJSON(r *challenge.Registry) CatalogJSON {
	var cj CatalogJSON
	for _, t := range r.Types() {
		switch s := r.Lookup(t).(type) {
		case *challenge.NoSpend:
			cj.Challenges = append(cj.Challenges, ChallengeJSON{
				Type:         string(t),
				DurationDays: intPtr(days(s.Duration)),
				TargetDays:   intPtr(s.TargetDays),
				NoiseFloor:   decPtr(s.NoiseFloor),
			})
		case *challenge.BudgetCut:
			cj.Challenges = append(cj.Challenges, ChallengeJSON{
				Type:             string(t),
				DurationDays:     intPtr(days(s.Duration)),
				LookBackDays:     intPtr(days(s.LookBack)),
				Keywords:         s.Pattern.Keywords,
				FallbackBaseline: decPtr(s.FallbackBaseline),
				CutRatio:         decPtr(s.CutRatio),
			})
		case *challenge.SavingsSprint:
			cj.Challenges = append(cj.Challenges, ChallengeJSON{
				Type:         string(t),
				DurationDays: intPtr(days(s.Duration)),
				Target:       decPtr(s.Target),
			})
		}
	}
	return cj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func applyNoSpend(s *challenge.NoSpend, c ChallengeJSON) error {
	if err := applyDuration(&s.Duration, c.DurationDays); err != nil {
		return err
	}
	if c.TargetDays != nil {
		if *c.TargetDays <= 0 {
			return errors.New("target_days must be positive")
		}
		s.TargetDays = *c.TargetDays
	}
	if c.NoiseFloor != nil {
		if c.NoiseFloor.IsNegative() {
			return errors.New("noise_floor must not be negative")
		}
		s.NoiseFloor = *c.NoiseFloor
	}
	return nil
}

func applyBudgetCut(s *challenge.BudgetCut, c ChallengeJSON) error {
	if err := applyDuration(&s.Duration, c.DurationDays); err != nil {
		return err
	}
	if err := applyDuration(&s.LookBack, c.LookBackDays); err != nil {
		return fmt.Errorf("lookback: %w", err)
	}
	if c.Keywords != nil {
		if len(c.Keywords) == 0 {
			return errors.New("keywords must not be empty")
		}
		s.Pattern = challenge.CategoryPattern{Keywords: c.Keywords}
	}
	if c.FallbackBaseline != nil {
		if !c.FallbackBaseline.IsPositive() {
			return errors.New("fallback_baseline must be positive")
		}
		s.FallbackBaseline = *c.FallbackBaseline
	}
	if c.CutRatio != nil {
		if !c.CutRatio.IsPositive() || c.CutRatio.GreaterThan(decimal.NewFromInt(1)) {
			return errors.New("cut_ratio must be in (0, 1]")
		}
		s.CutRatio = *c.CutRatio
	}
	return nil
}

func applySavingsSprint(s *challenge.SavingsSprint, c ChallengeJSON) error {
	if err := applyDuration(&s.Duration, c.DurationDays); err != nil {
		return err
	}
	if c.Target != nil {
		if !c.Target.IsPositive() {
			return errors.New("target must be positive")
		}
		s.Target = *c.Target
	}
	return nil
}

func applyDuration(d *time.Duration, daysPtr *int) error {
	if daysPtr == nil {
		return nil
	}
	if *daysPtr <= 0 {
		return errors.New("duration_days must be positive")
	}
	*d = time.Duration(*daysPtr) * challenge.Day
	return nil
}

func days(d time.Duration) int { return int(d / challenge.Day) }

func intPtr(v int) *int { return &v }
func decPtr(v decimal.Decimal) *decimal.Decimal { return &v }
