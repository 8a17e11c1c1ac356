package challenge_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/challenge-engine/challenge"
	"github.com/warp/challenge-engine/challenge/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// t0 is Sunday 1 March 2026, 09:00 UTC.
var t0 = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

func day(n int) civil.Date {
	return civil.DateOf(t0).AddDays(n)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(at time.Time) *testClock { return &testClock{now: at} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine *challenge.Engine
	mem    *store.Memory
	clock  *testClock
	hook   *logtest.Hook
}

func newTestEnv(t *testing.T, opts ...challenge.Option) *testEnv {
	t.Helper()
	mem := store.NewMemory()
	clock := newTestClock(t0)
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	var seq atomic.Int64
	base := []challenge.Option{
		challenge.WithClock(clock.Now),
		challenge.WithLogger(log),
		challenge.WithIDGenerator(func() string { return fmt.Sprintf("ch-%d", seq.Add(1)) }),
	}
	engine := challenge.NewEngine(mem, mem, append(base, opts...)...)
	return &testEnv{engine: engine, mem: mem, clock: clock, hook: hook}
}

func (e *testEnv) spend(t *testing.T, userID string, d civil.Date, category string, amount int64) {
	t.Helper()
	e.record(t, userID, challenge.EntryExpense, d, category, amount)
}

func (e *testEnv) earn(t *testing.T, userID string, d civil.Date, amount int64) {
	t.Helper()
	e.record(t, userID, challenge.EntryIncome, d, "salary", amount)
}

func (e *testEnv) record(t *testing.T, userID string, kind challenge.EntryKind, d civil.Date, category string, amount int64) {
	t.Helper()
	err := e.mem.Record(context.Background(), challenge.LedgerEntry{
		ID:       fmt.Sprintf("%s-%s-%s-%d", userID, kind, d, amount),
		UserID:   userID,
		Kind:     kind,
		Category: category,
		Amount:   decimal.NewFromInt(amount),
		Date:     d,
	})
	require.NoError(t, err)
}

func (e *testEnv) refresh(t *testing.T, userID string) challenge.RefreshResult {
	t.Helper()
	result, err := e.engine.ListWithRefresh(context.Background(), userID)
	require.NoError(t, err)
	return result
}

func findType(t *testing.T, cs []challenge.Challenge, typ challenge.Type) challenge.Challenge {
	t.Helper()
	for _, c := range cs {
		if c.Type == typ {
			return c
		}
	}
	t.Fatalf("no %s challenge in result", typ)
	return challenge.Challenge{}
}

func quietLogger() *logrus.Logger {
	log, _ := logtest.NewNullLogger()
	return log
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// faultyLedger fails or blocks selected queries and delegates the rest.
type faultyLedger struct {
	challenge.Ledger
	failSum  bool
	failDays bool
	failNet  bool
	block    bool
}

var errLedgerDown = errors.New("connection refused")

func (l *faultyLedger) SumExpenses(ctx context.Context, userID string, p challenge.CategoryPattern, start, end time.Time) (decimal.Decimal, error) {
	if err := l.fault(ctx, l.failSum); err != nil {
		return decimal.Zero, err
	}
	return l.Ledger.SumExpenses(ctx, userID, p, start, end)
}

func (l *faultyLedger) DistinctExpenseDays(ctx context.Context, userID string, floor decimal.Decimal, start, end time.Time) (challenge.DaySet, error) {
	if err := l.fault(ctx, l.failDays); err != nil {
		return nil, err
	}
	return l.Ledger.DistinctExpenseDays(ctx, userID, floor, start, end)
}

func (l *faultyLedger) NetSavings(ctx context.Context, userID string, start, end time.Time) (decimal.Decimal, error) {
	if err := l.fault(ctx, l.failNet); err != nil {
		return decimal.Zero, err
	}
	return l.Ledger.NetSavings(ctx, userID, start, end)
}

func (l *faultyLedger) fault(ctx context.Context, fail bool) error {
	if l.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errLedgerDown
	}
	return nil
}

type recordingObserver struct {
	mu      sync.Mutex
	joined  map[string]int
	settled map[challenge.Status]int
	failed  int
	passes  int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{joined: map[string]int{}, settled: map[challenge.Status]int{}}
}

func (o *recordingObserver) Joined(_ challenge.Type, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.joined[outcome]++
}

func (o *recordingObserver) Settled(_ challenge.Type, status challenge.Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settled[status]++
}

func (o *recordingObserver) RefreshFailed(challenge.Type) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed++
}

func (o *recordingObserver) RefreshCompleted(time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.passes++
}

// =============================================================================
// ADMISSION TESTS
// =============================================================================

func TestJoin_NoSpend_CreatesActiveChallenge(t *testing.T) {
	// GIVEN: A user with no challenges
	// WHEN: Joining the No-Spend Week
	// THEN: An active challenge with target 7 and a 7-day window is stored

	env := newTestEnv(t)

	c, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)

	assert.Equal(t, challenge.StatusActive, c.Status)
	assert.True(t, c.TargetValue.Equal(dec(7)), "target = %s", c.TargetValue)
	assert.True(t, c.CurrentValue.IsZero())
	assert.Equal(t, t0, c.StartDate)
	assert.Equal(t, t0.Add(7*challenge.Day), c.EndDate)
	assert.Equal(t, "No-Spend Week", c.Title)
	assert.Equal(t, 1, c.Version)

	stored, err := env.mem.FindByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, stored.ID)
}

func TestJoin_SameTypeTwice_AlreadyActive(t *testing.T) {
	// GIVEN: An active No-Spend challenge
	// WHEN: Joining No-Spend again
	// THEN: AlreadyActiveError naming the existing challenge, nothing new stored

	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.engine.Join(ctx, "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)

	_, err = env.engine.Join(ctx, "user-1", challenge.TypeNoSpend)
	require.Error(t, err)
	assert.ErrorIs(t, err, challenge.ErrAlreadyActive)

	var activeErr *challenge.AlreadyActiveError
	require.ErrorAs(t, err, &activeErr)
	assert.Equal(t, first.ID, activeErr.ExistingID)

	all, err := env.mem.FindAllByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestJoin_DifferentTypes_BothActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Join(ctx, "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)
	_, err = env.engine.Join(ctx, "user-1", challenge.TypeSavingsSprint)
	require.NoError(t, err)
	_, err = env.engine.Join(ctx, "user-2", challenge.TypeNoSpend)
	require.NoError(t, err)

	active, err := env.mem.FindActiveByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestJoin_AfterSettlement_Allowed(t *testing.T) {
	// GIVEN: A No-Spend challenge that has expired and been settled
	// WHEN: Joining No-Spend again
	// THEN: A new active challenge is admitted alongside the settled one

	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Join(ctx, "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)

	env.clock.Advance(8 * challenge.Day)
	result := env.refresh(t, "user-1")
	require.Len(t, result.Challenges, 1)
	require.True(t, result.Challenges[0].Status.IsTerminal())

	second, err := env.engine.Join(ctx, "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now(), second.StartDate)

	all, err := env.mem.FindAllByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestJoin_InvalidInput_NoWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Join(ctx, "   ", challenge.TypeNoSpend)
	assert.ErrorIs(t, err, challenge.ErrInvalidInput)

	_, err = env.engine.Join(ctx, "user-1", challenge.Type("marathon"))
	assert.ErrorIs(t, err, challenge.ErrInvalidInput)

	all, err := env.mem.FindAllByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestJoin_BudgetCut_SeedsFromDiningHistory(t *testing.T) {
	// GIVEN: 6000 of matched dining spend in the last 30 days plus unmatched groceries
	// WHEN: Joining the Dining Budget Cut
	// THEN: Baseline is 6000 and target is 80% of it

	env := newTestEnv(t)
	env.spend(t, "user-1", day(-19), "Swiggy order", 2500)
	env.spend(t, "user-1", day(-9), "DINING out", 3500)
	env.spend(t, "user-1", day(-5), "groceries", 1000)
	env.spend(t, "user-1", day(-45), "zomato", 9000) // outside look-back

	c, err := env.engine.Join(context.Background(), "user-1", challenge.TypeBudgetCut)
	require.NoError(t, err)

	assert.True(t, c.TargetValue.Equal(dec(4800)), "target = %s", c.TargetValue)
	meta, ok := c.Metadata.(challenge.BudgetCutMeta)
	require.True(t, ok, "metadata type %T", c.Metadata)
	assert.True(t, meta.Baseline.Equal(dec(6000)), "baseline = %s", meta.Baseline)
	assert.False(t, meta.FallbackUsed)
	assert.Equal(t, t0.Add(30*challenge.Day), c.EndDate)
}

func TestJoin_BudgetCut_JoinDaySpendOnlyInWindow(t *testing.T) {
	// GIVEN: 4000 of dining spend last week and 1000 dated on the join day
	// WHEN: Joining, then refreshing after the window closes
	// THEN: The baseline excludes the join day; the window includes it

	env := newTestEnv(t)
	env.spend(t, "user-1", day(-7), "zomato", 4000)
	env.spend(t, "user-1", day(0), "zomato", 1000)

	c, err := env.engine.Join(context.Background(), "user-1", challenge.TypeBudgetCut)
	require.NoError(t, err)
	assert.True(t, c.Metadata.(challenge.BudgetCutMeta).Baseline.Equal(dec(4000)))
	assert.True(t, c.TargetValue.Equal(dec(3200)), "target = %s", c.TargetValue)

	env.clock.Advance(31 * challenge.Day)
	c = findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeBudgetCut)
	assert.True(t, c.CurrentValue.Equal(dec(1000)), "current = %s", c.CurrentValue)
	assert.Equal(t, challenge.StatusCompleted, c.Status)
}

func TestJoin_BudgetCut_NoHistory_UsesFallback(t *testing.T) {
	// GIVEN: A user with no dining history
	// WHEN: Joining the Dining Budget Cut
	// THEN: Baseline falls back to 5000, target 4000, and the hook fires

	var fallbacks []string
	budget := challenge.NewBudgetCut()
	budget.OnFallback = func(userID string, err error) {
		assert.NoError(t, err)
		fallbacks = append(fallbacks, userID)
	}
	registry := challenge.NewRegistry(challenge.NewNoSpend(), budget, challenge.NewSavingsSprint())
	env := newTestEnv(t, challenge.WithRegistry(registry))

	c, err := env.engine.Join(context.Background(), "user-1", challenge.TypeBudgetCut)
	require.NoError(t, err)

	assert.True(t, c.TargetValue.Equal(dec(4000)), "target = %s", c.TargetValue)
	meta := c.Metadata.(challenge.BudgetCutMeta)
	assert.True(t, meta.Baseline.Equal(dec(5000)))
	assert.True(t, meta.FallbackUsed)
	assert.Equal(t, []string{"user-1"}, fallbacks)
}

func TestJoin_BudgetCut_LedgerDown_StillAdmitted(t *testing.T) {
	// GIVEN: The ledger fails every spend query
	// WHEN: Joining the Dining Budget Cut
	// THEN: Join succeeds with the fallback baseline

	mem := store.NewMemory()
	engine := challenge.NewEngine(mem, &faultyLedger{Ledger: mem, failSum: true},
		challenge.WithClock(func() time.Time { return t0 }),
		challenge.WithLogger(quietLogger()),
	)

	c, err := engine.Join(context.Background(), "user-1", challenge.TypeBudgetCut)
	require.NoError(t, err)
	assert.True(t, c.TargetValue.Equal(dec(4000)))
	assert.True(t, c.Metadata.(challenge.BudgetCutMeta).FallbackUsed)
}

func TestJoin_Concurrent_ExactlyOneWins(t *testing.T) {
	// GIVEN: Many simultaneous joins of the same type for one user
	// WHEN: They all run
	// THEN: Exactly one succeeds and the rest report AlreadyActive

	obs := newRecordingObserver()
	env := newTestEnv(t, challenge.WithObserver(obs))
	ctx := context.Background()

	const n = 20
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		errs    = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.engine.Join(ctx, "user-1", challenge.TypeSavingsSprint); err != nil {
				errs <- err
				return
			}
			created.Add(1)
		}()
	}
	wg.Wait()
	close(errs)

	assert.Equal(t, int32(1), created.Load())
	for err := range errs {
		assert.ErrorIs(t, err, challenge.ErrAlreadyActive)
	}

	active, err := env.mem.FindActiveByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, 1, obs.joined["created"])
	assert.Equal(t, n-1, obs.joined["already_active"])
}

// =============================================================================
// REFRESH TESTS - NO SPEND
// =============================================================================

func TestRefresh_NoSpend_CountsCleanDays(t *testing.T) {
	// GIVEN: NoSpend joined at t0, one 50 expense on day 2
	// WHEN: Refreshing 4 days and 1 hour later
	// THEN: 4 days elapsed minus 1 dirty day = 3 clean days, still active

	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)
	env.spend(t, "user-1", day(2), "electronics", 50)

	env.clock.Advance(4*challenge.Day + time.Hour)
	result := env.refresh(t, "user-1")

	c := findType(t, result.Challenges, challenge.TypeNoSpend)
	assert.True(t, c.CurrentValue.Equal(dec(3)), "current = %s", c.CurrentValue)
	assert.Equal(t, challenge.StatusActive, c.Status)
	assert.Empty(t, result.Failures)
}

func TestRefresh_NoSpend_NoiseFloorIgnored(t *testing.T) {
	// GIVEN: Expenses of exactly 10 (the floor) and 3 on two days
	// WHEN: Refreshing on day 3
	// THEN: Neither day counts as dirty

	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)
	env.spend(t, "user-1", day(1), "coffee", 10)
	env.spend(t, "user-1", day(2), "bank fee", 3)

	env.clock.Advance(3 * challenge.Day)
	c := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeNoSpend)
	assert.True(t, c.CurrentValue.Equal(dec(3)), "current = %s", c.CurrentValue)
}

func TestRefresh_NoSpend_StartDayExpenseCounts(t *testing.T) {
	// GIVEN: An expense dated on the start day (recorded before joining)
	// WHEN: Refreshing 2 days later
	// THEN: The start day is dirty

	env := newTestEnv(t)
	env.spend(t, "user-1", day(0), "lunch", 120)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)

	env.clock.Advance(2 * challenge.Day)
	c := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeNoSpend)
	assert.True(t, c.CurrentValue.Equal(dec(1)), "current = %s", c.CurrentValue)
}

func TestRefresh_NoSpend_CompletedAfterCleanWeek(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)

	env.clock.Advance(7*challenge.Day + time.Minute)
	c := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeNoSpend)

	assert.Equal(t, challenge.StatusCompleted, c.Status)
	assert.True(t, c.CurrentValue.Equal(dec(7)), "current = %s", c.CurrentValue)
}

func TestRefresh_NoSpend_FailedWithDirtyDay(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)
	env.spend(t, "user-1", day(3), "shoes", 900)

	env.clock.Advance(7*challenge.Day + time.Minute)
	c := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeNoSpend)

	assert.Equal(t, challenge.StatusFailed, c.Status)
	assert.True(t, c.CurrentValue.Equal(dec(6)), "current = %s", c.CurrentValue)
}

func TestRefresh_NoSpend_LateRefresh_CreditsDaysPastEnd(t *testing.T) {
	// GIVEN: NoSpend with qualifying expenses on days 1, 2 and 3
	// WHEN: The first refresh happens 10 days and an hour after joining
	// THEN: 10 elapsed days minus 3 dirty ones is 7, so it completes

	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)
	for _, d := range []int{1, 2, 3} {
		env.spend(t, "user-1", day(d), "takeaway", 50)
	}

	env.clock.Advance(10*challenge.Day + time.Hour)
	c := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeNoSpend)

	assert.True(t, c.CurrentValue.Equal(dec(7)), "current = %s", c.CurrentValue)
	assert.Equal(t, challenge.StatusCompleted, c.Status)
}

func TestRefresh_NoSpend_NoExpenses_FullCreditPerElapsedDay(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)

	var c challenge.Challenge
	for _, elapsed := range []int64{2, 5, 9} {
		now := t0.Add(time.Duration(elapsed)*challenge.Day + time.Minute)
		result, err := env.engine.Refresh(context.Background(), "user-1", now)
		require.NoError(t, err)
		c = findType(t, result.Challenges, challenge.TypeNoSpend)
		assert.True(t, c.CurrentValue.Equal(dec(elapsed)), "day %d: current = %s", elapsed, c.CurrentValue)
	}
	assert.Equal(t, challenge.StatusCompleted, c.Status)
}

func TestRefresh_AtEndInstant_StillActive(t *testing.T) {
	// GIVEN: NoSpend with a clean week
	// WHEN: Refreshing at exactly EndDate
	// THEN: Progress reaches 7 but the challenge is not settled yet

	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)

	env.clock.Advance(7 * challenge.Day)
	c := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeNoSpend)

	assert.Equal(t, challenge.StatusActive, c.Status)
	assert.True(t, c.CurrentValue.Equal(dec(7)))
}

func TestRefresh_RetroactiveExpense_LowersProgress(t *testing.T) {
	// GIVEN: NoSpend at 3 clean days
	// WHEN: A back-dated expense for day 1 is recorded
	// THEN: The next refresh recomputes to 2

	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)

	env.clock.Advance(3*challenge.Day + time.Hour)
	c := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeNoSpend)
	require.True(t, c.CurrentValue.Equal(dec(3)))

	env.spend(t, "user-1", day(1), "taxi", 250)
	c = findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeNoSpend)
	assert.True(t, c.CurrentValue.Equal(dec(2)), "current = %s", c.CurrentValue)
}

// =============================================================================
// REFRESH TESTS - BUDGET CUT AND SAVINGS SPRINT
// =============================================================================

func TestRefresh_BudgetCut_SpendEqualToTarget_Completed(t *testing.T) {
	// GIVEN: Fallback target 4000
	// WHEN: Exactly 4000 of dining spend in the window, then expiry
	// THEN: Completed (the boundary is inclusive)

	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeBudgetCut)
	require.NoError(t, err)
	env.spend(t, "user-1", day(3), "Zomato", 1500)
	env.spend(t, "user-1", day(20), "food court", 2500)
	env.spend(t, "user-1", day(21), "rent", 20000) // unmatched

	env.clock.Advance(31 * challenge.Day)
	c := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeBudgetCut)

	assert.True(t, c.CurrentValue.Equal(dec(4000)), "current = %s", c.CurrentValue)
	assert.Equal(t, challenge.StatusCompleted, c.Status)
}

func TestRefresh_BudgetCut_HistoryBaseline_InclusiveBoundary(t *testing.T) {
	// GIVEN: 4000 of dining spend in the previous 30 days, so target 3200
	// WHEN: The window closes with 3200 or 3201 of dining spend
	// THEN: 3200 completes and 3201 fails

	tests := []struct {
		spent int64
		want  challenge.Status
	}{
		{3200, challenge.StatusCompleted},
		{3201, challenge.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("spent %d", tt.spent), func(t *testing.T) {
			env := newTestEnv(t)
			env.spend(t, "user-1", day(-12), "Swiggy order", 4000)

			joined, err := env.engine.Join(context.Background(), "user-1", challenge.TypeBudgetCut)
			require.NoError(t, err)
			require.True(t, joined.TargetValue.Equal(dec(3200)), "target = %s", joined.TargetValue)
			require.False(t, joined.Metadata.(challenge.BudgetCutMeta).FallbackUsed)

			env.spend(t, "user-1", day(10), "Dining out", tt.spent)
			env.clock.Advance(30*challenge.Day + time.Minute)
			c := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeBudgetCut)

			assert.True(t, c.CurrentValue.Equal(dec(tt.spent)), "current = %s", c.CurrentValue)
			assert.Equal(t, tt.want, c.Status)
		})
	}
}

func TestRefresh_BudgetCut_OverTarget_Failed(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeBudgetCut)
	require.NoError(t, err)
	env.spend(t, "user-1", day(3), "Dining", 4001)

	env.clock.Advance(31 * challenge.Day)
	c := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeBudgetCut)

	assert.Equal(t, challenge.StatusFailed, c.Status)
}

func TestRefresh_SavingsSprint_NetSavingsReachTarget(t *testing.T) {
	// GIVEN: Income 3000 and expenses 1000 inside the window,
	//        plus income after the window closed
	// WHEN: Refreshing long after expiry
	// THEN: Net 2000 meets the target; later income is ignored

	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeSavingsSprint)
	require.NoError(t, err)
	env.earn(t, "user-1", day(1), 3000)
	env.spend(t, "user-1", day(2), "groceries", 1000)
	env.earn(t, "user-1", day(12), 9000)

	env.clock.Advance(14 * challenge.Day)
	c := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeSavingsSprint)

	assert.True(t, c.CurrentValue.Equal(dec(2000)), "current = %s", c.CurrentValue)
	assert.Equal(t, challenge.StatusCompleted, c.Status)
}

func TestRefresh_SavingsSprint_NegativeNet_Failed(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeSavingsSprint)
	require.NoError(t, err)
	env.spend(t, "user-1", day(1), "flight", 500)

	env.clock.Advance(2 * challenge.Day)
	c := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeSavingsSprint)
	assert.True(t, c.CurrentValue.Equal(dec(-500)), "current = %s", c.CurrentValue)
	assert.Equal(t, challenge.StatusActive, c.Status)

	env.clock.Advance(6 * challenge.Day)
	c = findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeSavingsSprint)
	assert.Equal(t, challenge.StatusFailed, c.Status)
}

// =============================================================================
// REFRESH TESTS - CONSISTENCY
// =============================================================================

func TestRefresh_Idempotent_NoSecondWrite(t *testing.T) {
	// GIVEN: A refreshed NoSpend challenge
	// WHEN: Refreshing again at the same instant
	// THEN: Same values and no new version

	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)
	env.clock.Advance(2 * challenge.Day)

	first := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeNoSpend)
	second := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeNoSpend)

	assert.True(t, first.CurrentValue.Equal(second.CurrentValue))
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Version, second.Version)
}

func TestRefresh_TerminalChallenge_NeverReevaluated(t *testing.T) {
	// GIVEN: A completed No-Spend challenge
	// WHEN: Back-dated expenses land inside its window and we refresh again
	// THEN: Status and value stay as settled

	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)
	env.clock.Advance(8 * challenge.Day)
	settled := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeNoSpend)
	require.Equal(t, challenge.StatusCompleted, settled.Status)

	env.spend(t, "user-1", day(1), "gadgets", 5000)
	env.spend(t, "user-1", day(2), "gadgets", 5000)
	again := findType(t, env.refresh(t, "user-1").Challenges, challenge.TypeNoSpend)

	assert.Equal(t, challenge.StatusCompleted, again.Status)
	assert.True(t, again.CurrentValue.Equal(settled.CurrentValue))
	assert.Equal(t, settled.Version, again.Version)
}

func TestRefresh_ConcurrentPasses_Converge(t *testing.T) {
	// GIVEN: An expired NoSpend challenge
	// WHEN: Many refresh passes run at once with the same now
	// THEN: None fails and the challenge is settled exactly once

	obs := newRecordingObserver()
	env := newTestEnv(t, challenge.WithObserver(obs))
	ctx := context.Background()
	c, err := env.engine.Join(ctx, "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)
	env.clock.Advance(10 * challenge.Day)
	now := env.clock.Now()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.engine.Refresh(ctx, "user-1", now)
			assert.NoError(t, err)
			assert.Empty(t, result.Failures)
		}()
	}
	wg.Wait()

	stored, err := env.mem.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, challenge.StatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.Version)
	assert.Equal(t, 1, obs.settled[challenge.StatusCompleted])
	assert.Equal(t, 0, obs.failed)
}

func TestRefresh_LedgerFailure_IsolatedToOneChallenge(t *testing.T) {
	// GIVEN: NoSpend and SavingsSprint active, NetSavings failing
	// WHEN: Refreshing
	// THEN: SavingsSprint is reported as failed and keeps its stored value,
	//       NoSpend is still updated

	mem := store.NewMemory()
	clock := newTestClock(t0)
	obs := newRecordingObserver()
	engine := challenge.NewEngine(mem, &faultyLedger{Ledger: mem, failNet: true},
		challenge.WithClock(clock.Now),
		challenge.WithLogger(quietLogger()),
		challenge.WithObserver(obs),
	)
	ctx := context.Background()
	_, err := engine.Join(ctx, "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)
	sprint, err := engine.Join(ctx, "user-1", challenge.TypeSavingsSprint)
	require.NoError(t, err)

	clock.Advance(3 * challenge.Day)
	result, err := engine.ListWithRefresh(ctx, "user-1")
	require.NoError(t, err)

	require.Len(t, result.Failures, 1)
	failure := result.Failures[0]
	assert.Equal(t, sprint.ID, failure.ChallengeID)
	assert.ErrorIs(t, failure, challenge.ErrLedgerUnavailable)
	assert.ErrorIs(t, failure, errLedgerDown)

	require.Len(t, result.Challenges, 2)
	assert.True(t, findType(t, result.Challenges, challenge.TypeNoSpend).CurrentValue.Equal(dec(3)))
	s := findType(t, result.Challenges, challenge.TypeSavingsSprint)
	assert.True(t, s.CurrentValue.IsZero())
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, 1, obs.failed)
}

func TestRefresh_SlowLedger_TimesOut(t *testing.T) {
	// GIVEN: A ledger that never answers and a 20ms evaluation timeout
	// WHEN: Refreshing
	// THEN: The challenge fails with a deadline error and the pass returns

	mem := store.NewMemory()
	engine := challenge.NewEngine(mem, &faultyLedger{Ledger: mem, block: true},
		challenge.WithClock(func() time.Time { return t0.Add(challenge.Day) }),
		challenge.WithEvalTimeout(20*time.Millisecond),
		challenge.WithLogger(quietLogger()),
	)
	ctx := context.Background()
	_, err := mem.Create(ctx, challenge.Challenge{
		ID: "ch-1", UserID: "user-1", Type: challenge.TypeNoSpend,
		StartDate: t0, EndDate: t0.Add(7 * challenge.Day),
		TargetValue: dec(7), Status: challenge.StatusActive, Metadata: challenge.NoSpendMeta{},
	})
	require.NoError(t, err)

	result, err := engine.ListWithRefresh(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0], context.DeadlineExceeded)
	assert.Len(t, result.Challenges, 1)
}

func TestRefresh_OrdersActiveThenNewest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.engine.Join(ctx, "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)
	env.clock.Advance(8 * challenge.Day)
	env.refresh(t, "user-1") // NoSpend completes

	_, err = env.engine.Join(ctx, "user-1", challenge.TypeSavingsSprint)
	require.NoError(t, err)
	env.clock.Advance(time.Hour)
	_, err = env.engine.Join(ctx, "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)

	result := env.refresh(t, "user-1")
	require.Len(t, result.Challenges, 3)

	assert.Equal(t, challenge.TypeNoSpend, result.Challenges[0].Type)
	assert.Equal(t, challenge.StatusActive, result.Challenges[0].Status)
	assert.Equal(t, challenge.TypeSavingsSprint, result.Challenges[1].Type)
	assert.Equal(t, challenge.StatusCompleted, result.Challenges[2].Status)
}

func TestRefresh_SettlementLogged(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.Join(context.Background(), "user-1", challenge.TypeNoSpend)
	require.NoError(t, err)
	env.clock.Advance(8 * challenge.Day)
	env.refresh(t, "user-1")

	var settled *logrus.Entry
	for _, e := range env.hook.AllEntries() {
		if e.Message == "Challenge settled" {
			settled = e
		}
	}
	require.NotNil(t, settled, "expected a settlement log line")
	assert.Equal(t, challenge.StatusCompleted, settled.Data["status"])
	assert.Equal(t, "user-1", settled.Data["user_id"])
}

func TestRefresh_EmptyUser_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.ListWithRefresh(context.Background(), "")
	assert.ErrorIs(t, err, challenge.ErrInvalidInput)
}

func TestRefresh_NoChallenges_EmptyResult(t *testing.T) {
	env := newTestEnv(t)
	result := env.refresh(t, "nobody")
	assert.Empty(t, result.Challenges)
	assert.Empty(t, result.Failures)
}
