/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with a ledger
  history and joined challenges for one demo user, so the refresh and
  settlement behavior can be explored from a browser or curl.

AVAILABLE SCENARIOS:
  frugal-week:     NoSpend joined today; only sub-floor coffee purchases
  dining-cutback:  BudgetCut seeded from 30 days of dining history
  first-timer:     BudgetCut with no history (fallback baseline)
  savings-sprint:  SavingsSprint with income and expenses this week
  settled-week:    Challenges started 8 days ago, settled on next refresh

HOW SCENARIOS WORK:
  1. Reset the store (clear all data)
  2. Record ledger entries for the scenario user
  3. Join challenges through the engine (clock shifted for past starts)

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "dining-cutback"}

  GET /api/users/demo-diner/challenges

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Challenge and ledger endpoints
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/challenge-engine/challenge"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	userID string
	load   func(ctx context.Context, s *seeder) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "frugal-week",
			Name:        "Frugal Week",
			Description: "No-Spend Week joined today; small coffee purchases stay under the noise floor",
		},
		userID: "demo-frugal",
		load:   loadFrugalWeek,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "dining-cutback",
			Name:        "Dining Cutback",
			Description: "Dining Budget Cut seeded from a month of food delivery history",
		},
		userID: "demo-diner",
		load:   loadDiningCutback,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "first-timer",
			Name:        "First Timer",
			Description: "Dining Budget Cut for a user with no history (fallback baseline)",
		},
		userID: "demo-newbie",
		load:   loadFirstTimer,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "savings-sprint",
			Name:        "Savings Sprint",
			Description: "Savings Sprint with a paycheck and regular expenses this week",
		},
		userID: "demo-saver",
		load:   loadSavingsSprint,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "settled-week",
			Name:        "Settled Week",
			Description: "Challenges that started 8 days ago and settle on the next refresh",
		},
		userID: "demo-settled",
		load:   loadSettledWeek,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, _ := findScenario(current)
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	sd := &seeder{h: h, userID: s.userID, today: civil.DateOf(h.Engine.Clock())}
	if err := s.load(ctx, sd); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = s.ID

	h.Log.WithFields(logrus.Fields{
		"scenario":   s.ID,
		"user_id":    s.userID,
		"entries":    sd.entries,
		"challenges": sd.challenges,
	}).Info("Scenario loaded")

	writeJSON(w, http.StatusOK, LoadScenarioResponse{
		ScenarioID: s.ID,
		UserID:     s.userID,
		Entries:    sd.entries,
		Challenges: sd.challenges,
	})
}

// reset clears the challenge store and the ledger when they support it.
func (h *Handler) reset(ctx context.Context) error {
	var errs []error
	for _, target := range []any{h.Engine.Repo, h.Ledger} {
		if r, ok := target.(Resetter); ok {
			errs = append(errs, r.Reset(ctx))
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// SEEDER - Small helper for writing scenario data
// =============================================================================

type seeder struct {
	h          *Handler
	userID     string
	today      civil.Date
	entries    int
	challenges int
}

// expense records an expense daysAgo days before today.
func (s *seeder) expense(ctx context.Context, daysAgo int, category string, amount int64) error {
	return s.record(ctx, challenge.EntryExpense, daysAgo, category, amount)
}

// income records income daysAgo days before today.
func (s *seeder) income(ctx context.Context, daysAgo int, category string, amount int64) error {
	return s.record(ctx, challenge.EntryIncome, daysAgo, category, amount)
}

func (s *seeder) record(ctx context.Context, kind challenge.EntryKind, daysAgo int, category string, amount int64) error {
	err := s.h.Ledger.Record(ctx, challenge.LedgerEntry{
		ID:       s.h.NewID(),
		UserID:   s.userID,
		Kind:     kind,
		Category: category,
		Amount:   decimal.NewFromInt(amount),
		Date:     s.today.AddDays(-daysAgo),
	})
	if err != nil {
		return err
	}
	s.entries++
	return nil
}

// join admits a challenge as if it were joined daysAgo days before now.
func (s *seeder) join(ctx context.Context, t challenge.Type, daysAgo int) error {
	engine := s.h.Engine
	if daysAgo > 0 {
		shifted := *engine
		now := engine.Clock()
		shifted.Clock = func() time.Time { return now.Add(-time.Duration(daysAgo) * challenge.Day) }
		engine = &shifted
	}
	if _, err := engine.Join(ctx, s.userID, t); err != nil {
		return err
	}
	s.challenges++
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadFrugalWeek(ctx context.Context, s *seeder) error {
	if err := s.income(ctx, 3, "salary", 4000); err != nil {
		return err
	}
	// Coffee at or below the noise floor does not dirty a day.
	for _, d := range []int{0, 1, 2} {
		if err := s.expense(ctx, d, "coffee", 8); err != nil {
			return err
		}
	}
	return s.join(ctx, challenge.TypeNoSpend, 0)
}

func loadDiningCutback(ctx context.Context, s *seeder) error {
	history := []struct {
		daysAgo  int
		category string
		amount   int64
	}{
		{2, "Swiggy order", 450},
		{5, "Zomato", 620},
		{9, "Dining out", 1800},
		{13, "food delivery", 380},
		{17, "Swiggy order", 510},
		{22, "Restaurant dining", 1440},
		{27, "Zomato", 800},
		{11, "groceries", 2200}, // not matched
	}
	for _, e := range history {
		if err := s.expense(ctx, e.daysAgo, e.category, e.amount); err != nil {
			return err
		}
	}
	return s.join(ctx, challenge.TypeBudgetCut, 0)
}

func loadFirstTimer(ctx context.Context, s *seeder) error {
	return s.join(ctx, challenge.TypeBudgetCut, 0)
}

func loadSavingsSprint(ctx context.Context, s *seeder) error {
	if err := s.join(ctx, challenge.TypeSavingsSprint, 0); err != nil {
		return err
	}
	if err := s.income(ctx, 0, "salary", 5000); err != nil {
		return err
	}
	if err := s.expense(ctx, 0, "rent share", 1500); err != nil {
		return err
	}
	return s.expense(ctx, 0, "groceries", 600)
}

func loadSettledWeek(ctx context.Context, s *seeder) error {
	if err := s.join(ctx, challenge.TypeNoSpend, 8); err != nil {
		return err
	}
	if err := s.join(ctx, challenge.TypeSavingsSprint, 8); err != nil {
		return err
	}
	// Eight days elapsed, two of them dirty: NoSpend settles at 6 of 7.
	if err := s.expense(ctx, 6, "electronics", 2400); err != nil {
		return err
	}
	if err := s.expense(ctx, 4, "Swiggy order", 300); err != nil {
		return err
	}
	// Income beats spending by 2700: SavingsSprint completes.
	return s.income(ctx, 5, "freelance", 5400)
}
