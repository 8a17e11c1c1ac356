/*
strategy.go - Per-type behavior and the strategy registry

PURPOSE:
  Each challenge type differs in exactly three places: how it is seeded
  at admission, how its progress is computed, and what counts as
  success at settlement. A Strategy bundles those three behaviors so the
  admission and refresh code never switches on Type.

STRATEGIES:
  NoSpend:       clean days since start, success iff current >= target
  BudgetCut:     matched dining spend in window, success iff current <= target
  SavingsSprint: income minus expenses in window, success iff current >= target

DIRECTION:
  "Higher is better" is NOT universal. BudgetCut inverts it. Success
  predicates live with the strategy, never in the orchestration layer.

REGISTRY:
  A Registry maps Type → Strategy. DefaultRegistry() carries the three
  built-in strategies with their standard tunables; factory.ParseCatalog
  builds one with overrides from JSON.

SEE ALSO:
  - nospend.go, budgetcut.go, savings.go: Implementations
  - evaluate.go: Calls Evaluate and IsSuccessful
  - factory/catalog.go: JSON-configured registries
*/
package challenge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STRATEGY
// =============================================================================

// Seed is what a strategy contributes to a new challenge.
type Seed struct {
	TargetValue decimal.Decimal
	Metadata    Metadata
}

// Strategy implements one challenge type.
type Strategy interface {
	// Type returns the challenge type this strategy handles.
	Type() Type

	// Template returns title, description and duration for new challenges.
	Template() Template

	// Seed computes TargetValue and Metadata at admission time.
	// Ledger failures that the type can recover from are handled inside.
	Seed(ctx context.Context, ledger Ledger, userID string, now time.Time) (Seed, error)

	// Evaluate recomputes CurrentValue as of now.
	Evaluate(ctx context.Context, ledger Ledger, c Challenge, now time.Time) (decimal.Decimal, error)

	// IsSuccessful is the settlement predicate for an expired challenge.
	IsSuccessful(c Challenge) bool
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps challenge types to strategies. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[Type]Strategy
}

// NewRegistry creates a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[Type]Strategy, len(strategies))}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// DefaultRegistry returns the three built-in strategies with standard settings.
func DefaultRegistry() *Registry {
	return NewRegistry(NewNoSpend(), NewBudgetCut(), NewSavingsSprint())
}

// Register adds or replaces the strategy for s.Type().
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Type()] = s
}

// Lookup finds the strategy for t. Returns nil if none is registered.
func (r *Registry) Lookup(t Type) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategies[t]
}

// MustLookup finds the strategy for t or panics.
// Use in tests or when the type was validated already.
func (r *Registry) MustLookup(t Type) Strategy {
	s := r.Lookup(t)
	if s == nil {
		panic(fmt.Sprintf("challenge type not registered: %s", t))
	}
	return s
}

// Types returns the registered types sorted by name.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.strategies))
	for t := range r.strategies {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseType validates raw against the registry.
func (r *Registry) ParseType(raw string) (Type, error) {
	t := Type(raw)
	if raw == "" {
		return "", &InvalidInputError{Field: "type", Reason: "must not be empty"}
	}
	if r.Lookup(t) == nil {
		return "", &InvalidInputError{Field: "type", Reason: fmt.Sprintf("unknown challenge type %q", raw)}
	}
	return t, nil
}
