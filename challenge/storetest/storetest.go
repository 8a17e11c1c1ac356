// Package storetest holds the behavior every challenge store must share.
// Store packages run it from their own tests against a fresh backend.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/challenge-engine/challenge"
)

// Backend is a store hosting both challenges and the ledger.
type Backend interface {
	challenge.Repository
	challenge.Ledger
	challenge.LedgerWriter
}

// Factory returns an empty backend. Cleanup is registered on t.
type Factory func(t *testing.T) Backend

var start = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

func day(n int) civil.Date { return civil.DateOf(start).AddDays(n) }

// NewChallenge returns an active challenge for userID starting at the
// suite's reference instant.
func NewChallenge(id, userID string, t challenge.Type) challenge.Challenge {
	var meta challenge.Metadata
	switch t {
	case challenge.TypeBudgetCut:
		meta = challenge.BudgetCutMeta{Baseline: decimal.NewFromInt(5000), FallbackUsed: true}
	case challenge.TypeSavingsSprint:
		meta = challenge.SavingsSprintMeta{}
	default:
		meta = challenge.NoSpendMeta{}
	}
	return challenge.Challenge{
		ID:          id,
		UserID:      userID,
		Type:        t,
		Title:       "Test " + string(t),
		Description: "test challenge",
		StartDate:   start,
		EndDate:     start.Add(7 * challenge.Day),
		TargetValue: decimal.NewFromInt(7),
		Status:      challenge.StatusActive,
		Metadata:    meta,
		Version:     1,
	}
}

// Run executes the shared store behavior against backends from newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Run("Repository", func(t *testing.T) { runRepository(t, newBackend) })
	t.Run("Ledger", func(t *testing.T) { runLedger(t, newBackend) })
}

// =============================================================================
// REPOSITORY
// =============================================================================

func runRepository(t *testing.T, newBackend Factory) {
	ctx := context.Background()

	t.Run("CreateAndFind", func(t *testing.T) {
		s := newBackend(t)
		in := NewChallenge("ch-1", "user-1", challenge.TypeBudgetCut)
		in.TargetValue = decimal.RequireFromString("4000.50")

		_, err := s.Create(ctx, in)
		require.NoError(t, err)

		got, err := s.FindByID(ctx, "ch-1")
		require.NoError(t, err)
		assert.Equal(t, in.UserID, got.UserID)
		assert.Equal(t, in.Type, got.Type)
		assert.Equal(t, in.Title, got.Title)
		assert.True(t, in.StartDate.Equal(got.StartDate), "start %v != %v", in.StartDate, got.StartDate)
		assert.True(t, in.EndDate.Equal(got.EndDate), "end %v != %v", in.EndDate, got.EndDate)
		assert.True(t, in.TargetValue.Equal(got.TargetValue), "target %s", got.TargetValue)
		assert.True(t, got.CurrentValue.IsZero())
		assert.Equal(t, challenge.StatusActive, got.Status)
		assert.Equal(t, 1, got.Version)

		meta, ok := got.Metadata.(challenge.BudgetCutMeta)
		require.True(t, ok, "metadata type %T", got.Metadata)
		assert.True(t, meta.Baseline.Equal(decimal.NewFromInt(5000)))
		assert.True(t, meta.FallbackUsed)

		active, err := s.FindActiveByUserAndType(ctx, "user-1", challenge.TypeBudgetCut)
		require.NoError(t, err)
		assert.Equal(t, "ch-1", active.ID)
	})

	t.Run("MissingIsNotFound", func(t *testing.T) {
		s := newBackend(t)

		_, err := s.FindByID(ctx, "nope")
		assert.ErrorIs(t, err, challenge.ErrNotFound)

		_, err = s.FindActiveByUserAndType(ctx, "user-1", challenge.TypeNoSpend)
		assert.ErrorIs(t, err, challenge.ErrNotFound)

		_, err = s.Update(ctx, NewChallenge("nope", "user-1", challenge.TypeNoSpend))
		assert.ErrorIs(t, err, challenge.ErrNotFound)

		all, err := s.FindAllByUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("SecondActiveOfSameTypeRejected", func(t *testing.T) {
		s := newBackend(t)
		_, err := s.Create(ctx, NewChallenge("ch-1", "user-1", challenge.TypeNoSpend))
		require.NoError(t, err)

		_, err = s.Create(ctx, NewChallenge("ch-2", "user-1", challenge.TypeNoSpend))
		require.Error(t, err)
		assert.ErrorIs(t, err, challenge.ErrDuplicateActive)
		assert.ErrorIs(t, err, challenge.ErrConflict)

		// Other types and other users are unaffected.
		_, err = s.Create(ctx, NewChallenge("ch-3", "user-1", challenge.TypeSavingsSprint))
		require.NoError(t, err)
		_, err = s.Create(ctx, NewChallenge("ch-4", "user-2", challenge.TypeNoSpend))
		require.NoError(t, err)
	})

	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) {
		s := newBackend(t)

		const n = 10
		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c := NewChallenge("race-"+string(rune('a'+i)), "user-1", challenge.TypeBudgetCut)
				if _, err := s.Create(ctx, c); err == nil {
					wins.Add(1)
				} else {
					assert.ErrorIs(t, err, challenge.ErrDuplicateActive)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		active, err := s.FindActiveByUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, active, 1)
	})

	t.Run("UpdateBumpsVersion", func(t *testing.T) {
		s := newBackend(t)
		c, err := s.Create(ctx, NewChallenge("ch-1", "user-1", challenge.TypeNoSpend))
		require.NoError(t, err)

		c.CurrentValue = decimal.NewFromInt(3)
		saved, err := s.Update(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, 2, saved.Version)

		got, err := s.FindByID(ctx, "ch-1")
		require.NoError(t, err)
		assert.True(t, got.CurrentValue.Equal(decimal.NewFromInt(3)))
		assert.Equal(t, 2, got.Version)
	})

	t.Run("StaleVersionConflicts", func(t *testing.T) {
		s := newBackend(t)
		c, err := s.Create(ctx, NewChallenge("ch-1", "user-1", challenge.TypeNoSpend))
		require.NoError(t, err)

		first := c
		first.CurrentValue = decimal.NewFromInt(2)
		_, err = s.Update(ctx, first)
		require.NoError(t, err)

		stale := c
		stale.CurrentValue = decimal.NewFromInt(1)
		_, err = s.Update(ctx, stale)
		assert.ErrorIs(t, err, challenge.ErrConflict)

		got, err := s.FindByID(ctx, "ch-1")
		require.NoError(t, err)
		assert.True(t, got.CurrentValue.Equal(decimal.NewFromInt(2)))
	})

	t.Run("TerminalIsFinal", func(t *testing.T) {
		// GIVEN: A challenge settled as completed
		// WHEN: Writing it again, even with the current version
		// THEN: Conflict, and the active slot is free for a new join

		s := newBackend(t)
		c, err := s.Create(ctx, NewChallenge("ch-1", "user-1", challenge.TypeNoSpend))
		require.NoError(t, err)

		c.Status = challenge.StatusCompleted
		c.CurrentValue = decimal.NewFromInt(7)
		settled, err := s.Update(ctx, c)
		require.NoError(t, err)

		settled.Status = challenge.StatusFailed
		_, err = s.Update(ctx, settled)
		assert.ErrorIs(t, err, challenge.ErrConflict)

		got, err := s.FindByID(ctx, "ch-1")
		require.NoError(t, err)
		assert.Equal(t, challenge.StatusCompleted, got.Status)

		_, err = s.FindActiveByUserAndType(ctx, "user-1", challenge.TypeNoSpend)
		assert.ErrorIs(t, err, challenge.ErrNotFound)

		next := NewChallenge("ch-2", "user-1", challenge.TypeNoSpend)
		next.StartDate = start.Add(8 * challenge.Day)
		next.EndDate = next.StartDate.Add(7 * challenge.Day)
		_, err = s.Create(ctx, next)
		require.NoError(t, err)

		active, err := s.FindActiveByUser(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "ch-2", active[0].ID)

		all, err := s.FindAllByUser(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

// =============================================================================
// LEDGER
// =============================================================================

func runLedger(t *testing.T, newBackend Factory) {
	ctx := context.Background()

	seed := func(t *testing.T, s Backend) {
		t.Helper()
		entries := []challenge.LedgerEntry{
			{ID: "e1", Kind: challenge.EntryExpense, Category: "Swiggy order", Amount: decimal.RequireFromString("450.25"), Date: day(0)},
			{ID: "e2", Kind: challenge.EntryExpense, Category: "coffee", Amount: decimal.NewFromInt(10), Date: day(1)},
			{ID: "e3", Kind: challenge.EntryExpense, Category: "Fine DINING", Amount: decimal.NewFromInt(1200), Date: day(2)},
			{ID: "e4", Kind: challenge.EntryExpense, Category: "groceries", Amount: decimal.NewFromInt(800), Date: day(2)},
			{ID: "e5", Kind: challenge.EntryIncome, Category: "salary", Amount: decimal.NewFromInt(5000), Date: day(3)},
			{ID: "e6", Kind: challenge.EntryExpense, Category: "zomato", Amount: decimal.NewFromInt(300), Date: day(9)},
			{ID: "e7", Kind: challenge.EntryExpense, Category: "zomato", Amount: decimal.NewFromInt(999), Date: day(1)},
		}
		for _, e := range entries {
			e.UserID = "user-1"
			require.NoError(t, s.Record(ctx, e))
		}
		// Another user's spending never leaks.
		require.NoError(t, s.Record(ctx, challenge.LedgerEntry{
			ID: "other", UserID: "user-2", Kind: challenge.EntryExpense,
			Category: "food", Amount: decimal.NewFromInt(7777), Date: day(1),
		}))
	}
	windowEnd := start.Add(7 * challenge.Day) // day(7)

	t.Run("SumExpensesMatchesPattern", func(t *testing.T) {
		s := newBackend(t)
		seed(t, s)

		sum, err := s.SumExpenses(ctx, "user-1", challenge.DiningPattern, start, windowEnd)
		require.NoError(t, err)
		// 450.25 + 1200 + 999; day 9 is outside
		assert.True(t, sum.Equal(decimal.RequireFromString("2649.25")), "sum = %s", sum)

		all, err := s.SumExpenses(ctx, "user-1", challenge.CategoryPattern{}, start, windowEnd)
		require.NoError(t, err)
		assert.True(t, all.Equal(decimal.RequireFromString("3459.25")), "sum = %s", all)
	})

	t.Run("SumExpensesEmptyIsZero", func(t *testing.T) {
		s := newBackend(t)
		sum, err := s.SumExpenses(ctx, "user-1", challenge.DiningPattern, start, windowEnd)
		require.NoError(t, err)
		assert.True(t, sum.IsZero())
	})

	t.Run("DistinctExpenseDaysAboveFloor", func(t *testing.T) {
		s := newBackend(t)
		seed(t, s)

		days, err := s.DistinctExpenseDays(ctx, "user-1", decimal.NewFromInt(10), start, windowEnd)
		require.NoError(t, err)
		// day 1 counts through the 999 zomato, not the 10 coffee
		assert.Equal(t, []civil.Date{day(0), day(1), day(2)}, days.Sorted())

		days, err = s.DistinctExpenseDays(ctx, "user-1", decimal.NewFromInt(1000), start, windowEnd)
		require.NoError(t, err)
		assert.Equal(t, []civil.Date{day(2)}, days.Sorted())
	})

	t.Run("NetSavings", func(t *testing.T) {
		s := newBackend(t)
		seed(t, s)

		net, err := s.NetSavings(ctx, "user-1", start, windowEnd)
		require.NoError(t, err)
		// 5000 - (450.25 + 10 + 1200 + 800 + 999)
		assert.True(t, net.Equal(decimal.RequireFromString("1540.75")), "net = %s", net)

		net, err = s.NetSavings(ctx, "user-1", start, start.Add(time.Hour))
		require.NoError(t, err)
		assert.True(t, net.Equal(decimal.RequireFromString("-450.25")), "net = %s", net)
	})

	t.Run("EntriesInDateOrder", func(t *testing.T) {
		s := newBackend(t)
		seed(t, s)

		entries, err := s.Entries(ctx, "user-1", day(1), day(2))
		require.NoError(t, err)
		require.Len(t, entries, 4)
		for i := 1; i < len(entries); i++ {
			assert.False(t, entries[i].Date.Before(entries[i-1].Date), "entries out of order")
		}
		for _, e := range entries {
			assert.Equal(t, "user-1", e.UserID)
		}
	})

	t.Run("RecordRejectsInvalid", func(t *testing.T) {
		s := newBackend(t)
		err := s.Record(ctx, challenge.LedgerEntry{
			ID: "bad", UserID: "user-1", Kind: challenge.EntryExpense,
			Category: "food", Amount: decimal.NewFromInt(-5), Date: day(0),
		})
		assert.ErrorIs(t, err, challenge.ErrInvalidInput)
	})
}
