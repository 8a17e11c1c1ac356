// Package store provides in-memory Repository and Ledger implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/warp/challenge-engine/challenge"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements challenge.Repository, challenge.Ledger and
// challenge.LedgerWriter. All methods are safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	challenges map[string]challenge.Challenge
	active     map[activeKey]string // (user, type) → challenge ID
	entries    map[string][]challenge.LedgerEntry
}

type activeKey struct {
	UserID string
	Type   challenge.Type
}

func NewMemory() *Memory {
	return &Memory{
		challenges: make(map[string]challenge.Challenge),
		active:     make(map[activeKey]string),
		entries:    make(map[string][]challenge.LedgerEntry),
	}
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Create inserts c. The active-uniqueness check and the insert happen
// under the same lock.
func (m *Memory) Create(_ context.Context, c challenge.Challenge) (challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := activeKey{UserID: c.UserID, Type: c.Type}
	if c.Status == challenge.StatusActive {
		if _, taken := m.active[k]; taken {
			return challenge.Challenge{}, &challenge.DuplicateActiveError{UserID: c.UserID, Type: c.Type}
		}
		m.active[k] = c.ID
	}
	if c.Version == 0 {
		c.Version = 1
	}
	m.challenges[c.ID] = c
	return c, nil
}

func (m *Memory) FindByID(_ context.Context, id string) (challenge.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.challenges[id]
	if !ok {
		return challenge.Challenge{}, challenge.ErrNotFound
	}
	return c, nil
}

func (m *Memory) FindActiveByUserAndType(_ context.Context, userID string, t challenge.Type) (challenge.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.active[activeKey{UserID: userID, Type: t}]
	if !ok {
		return challenge.Challenge{}, challenge.ErrNotFound
	}
	return m.challenges[id], nil
}

func (m *Memory) FindActiveByUser(_ context.Context, userID string) ([]challenge.Challenge, error) {
	return m.filter(func(c challenge.Challenge) bool {
		return c.UserID == userID && c.Status == challenge.StatusActive
	}), nil
}

func (m *Memory) FindAllByUser(_ context.Context, userID string) ([]challenge.Challenge, error) {
	return m.filter(func(c challenge.Challenge) bool { return c.UserID == userID }), nil
}

func (m *Memory) filter(keep func(challenge.Challenge) bool) []challenge.Challenge {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []challenge.Challenge
	for _, c := range m.challenges {
		if keep(c) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartDate.Before(result[j].StartDate) })
	return result
}

// Update writes CurrentValue and Status when the version matches and the
// stored challenge is still active.
func (m *Memory) Update(_ context.Context, c challenge.Challenge) (challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.challenges[c.ID]
	if !ok {
		return challenge.Challenge{}, challenge.ErrNotFound
	}
	if stored.Version != c.Version || stored.Status != challenge.StatusActive {
		return challenge.Challenge{}, &challenge.ConflictError{ChallengeID: c.ID, Version: c.Version}
	}

	stored.CurrentValue = c.CurrentValue
	stored.Status = c.Status
	stored.Version++
	m.challenges[c.ID] = stored

	if stored.Status != challenge.StatusActive {
		delete(m.active, activeKey{UserID: stored.UserID, Type: stored.Type})
	}
	return stored, nil
}

// =============================================================================
// LEDGER
// =============================================================================

// Record appends a ledger entry. Entries are kept sorted by date.
func (m *Memory) Record(_ context.Context, e challenge.LedgerEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	es := m.entries[e.UserID]
	i := sort.Search(len(es), func(i int) bool { return es[i].Date.After(e.Date) })
	es = append(es, challenge.LedgerEntry{})
	copy(es[i+1:], es[i:])
	es[i] = e
	m.entries[e.UserID] = es
	return nil
}

// Entries returns the user's entries dated within [from, to].
func (m *Memory) Entries(_ context.Context, userID string, from, to civil.Date) ([]challenge.LedgerEntry, error) {
	return m.entriesIn(userID, from, to), nil
}

func (m *Memory) entriesIn(userID string, from, to civil.Date) []challenge.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []challenge.LedgerEntry
	for _, e := range m.entries[userID] {
		if !e.Date.Before(from) && !e.Date.After(to) {
			result = append(result, e)
		}
	}
	return result
}

func (m *Memory) SumExpenses(ctx context.Context, userID string, pattern challenge.CategoryPattern, start, end time.Time) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	from, to := challenge.DateRange(start, end)
	sum := decimal.Zero
	for _, e := range m.entriesIn(userID, from, to) {
		if e.Kind == challenge.EntryExpense && pattern.Matches(e.Category) {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (m *Memory) DistinctExpenseDays(ctx context.Context, userID string, amountFloor decimal.Decimal, start, end time.Time) (challenge.DaySet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from, to := challenge.DateRange(start, end)
	days := challenge.NewDaySet()
	for _, e := range m.entriesIn(userID, from, to) {
		if e.Kind == challenge.EntryExpense && e.Amount.GreaterThan(amountFloor) {
			days.Add(e.Date)
		}
	}
	return days, nil
}

func (m *Memory) NetSavings(ctx context.Context, userID string, start, end time.Time) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	from, to := challenge.DateRange(start, end)
	net := decimal.Zero
	for _, e := range m.entriesIn(userID, from, to) {
		switch e.Kind {
		case challenge.EntryIncome:
			net = net.Add(e.Amount)
		case challenge.EntryExpense:
			net = net.Sub(e.Amount)
		}
	}
	return net, nil
}

// Reset drops all challenges and ledger entries.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges = make(map[string]challenge.Challenge)
	m.active = make(map[activeKey]string)
	m.entries = make(map[string][]challenge.LedgerEntry)
	return nil
}

// Compile-time checks
var (
	_ challenge.Repository   = (*Memory)(nil)
	_ challenge.Ledger       = (*Memory)(nil)
	_ challenge.LedgerWriter = (*Memory)(nil)
)
