/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements challenge.Repository, challenge.Ledger and
  challenge.LedgerWriter using SQLite. The PostgreSQL store in
  store/postgres follows the same schema with dialect changes only.

KEY TABLES:
  challenges:     One row per admitted challenge
  ledger_entries: Income and expense transactions, dated by calendar day

INDEXES:
  - idx_unique_active_challenge: Enforces at most one active challenge
    per (user_id, type). This is what makes concurrent joins safe; the
    engine's precheck is only a fast path.
  - idx_challenges_user_status: Refresh pass lookups (hot path)
  - idx_ledger_user_date: Ledger range queries (hot path)

OPTIMISTIC CONCURRENCY:
  challenges.version is bumped on every Update. Update only matches rows
  with the caller's version that are still active, so a terminal row can
  never be rewritten.

AMOUNTS:
  Stored as TEXT decimal strings and aggregated in Go with
  shopspring/decimal. SQLite's SUM would go through float64.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  store, err := sqlite.New("./data/challenges.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := challenge.NewEngine(store, store)

SEE ALSO:
  - challenge/repository.go: Repository contract
  - challenge/ledger.go: Ledger contract
  - challenge/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/challenge-engine/challenge"
)

// Store implements the repository and ledger interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS challenges (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		target_value TEXT NOT NULL,
		current_value TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		metadata_json TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (end_date > start_date),
		CHECK (status IN ('active', 'completed', 'failed'))
	);

	-- CRITICAL: at most one active challenge per user and type
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_active_challenge
		ON challenges(user_id, type)
		WHERE status = 'active';

	CREATE INDEX IF NOT EXISTS idx_challenges_user_status
		ON challenges(user_id, status, start_date DESC);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		entry_date TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL,
		CHECK (kind IN ('income', 'expense'))
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_user_date
		ON ledger_entries(user_id, entry_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CHALLENGE REPOSITORY (challenge.Repository interface)
// =============================================================================

const challengeColumns = `id, user_id, type, title, description, start_date, end_date,
	target_value, current_value, status, metadata_json, version`

// Create inserts a new challenge.
func (s *Store) Create(ctx context.Context, c challenge.Challenge) (challenge.Challenge, error) {
	metadataJSON, err := challenge.MarshalMetadata(c.Metadata)
	if err != nil {
		return challenge.Challenge{}, err
	}
	if c.Version == 0 {
		c.Version = 1
	}

	query := `
		INSERT INTO challenges
		(id, user_id, type, title, description, start_date, end_date,
		 target_value, current_value, status, metadata_json, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, query,
		c.ID,
		c.UserID,
		string(c.Type),
		c.Title,
		c.Description,
		formatTime(c.StartDate),
		formatTime(c.EndDate),
		c.TargetValue.String(),
		c.CurrentValue.String(),
		string(c.Status),
		nullString(metadataJSON),
		c.Version,
		now,
		now,
	)
	if err != nil {
		if isActiveUniquenessError(err) {
			return challenge.Challenge{}, &challenge.DuplicateActiveError{UserID: c.UserID, Type: c.Type}
		}
		return challenge.Challenge{}, fmt.Errorf("failed to create challenge: %w", err)
	}

	return c, nil
}

// FindByID returns a challenge by ID.
func (s *Store) FindByID(ctx context.Context, id string) (challenge.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = ?`
	return s.queryOne(ctx, query, id)
}

// FindActiveByUserAndType returns the user's active challenge of type t.
func (s *Store) FindActiveByUserAndType(ctx context.Context, userID string, t challenge.Type) (challenge.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges
		WHERE user_id = ? AND type = ? AND status = 'active'`
	return s.queryOne(ctx, query, userID, string(t))
}

// FindActiveByUser returns the user's active challenges.
func (s *Store) FindActiveByUser(ctx context.Context, userID string) ([]challenge.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges
		WHERE user_id = ? AND status = 'active'
		ORDER BY start_date DESC`
	return s.queryChallenges(ctx, query, userID)
}

// FindAllByUser returns every challenge of the user.
func (s *Store) FindAllByUser(ctx context.Context, userID string) ([]challenge.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges
		WHERE user_id = ?
		ORDER BY start_date DESC`
	return s.queryChallenges(ctx, query, userID)
}

// Update writes current_value and status with an optimistic version check.
func (s *Store) Update(ctx context.Context, c challenge.Challenge) (challenge.Challenge, error) {
	query := `
		UPDATE challenges
		SET current_value = ?, status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND status = 'active'
	`

	res, err := s.db.ExecContext(ctx, query,
		c.CurrentValue.String(),
		string(c.Status),
		formatTime(time.Now()),
		c.ID,
		c.Version,
	)
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("failed to update challenge: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("failed to update challenge: %w", err)
	}
	if n == 0 {
		if _, err := s.FindByID(ctx, c.ID); err != nil {
			return challenge.Challenge{}, err
		}
		return challenge.Challenge{}, &challenge.ConflictError{ChallengeID: c.ID, Version: c.Version}
	}

	c.Version++
	return c, nil
}

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (challenge.Challenge, error) {
	cs, err := s.queryChallenges(ctx, query, args...)
	if err != nil {
		return challenge.Challenge{}, err
	}
	if len(cs) == 0 {
		return challenge.Challenge{}, challenge.ErrNotFound
	}
	return cs[0], nil
}

func (s *Store) queryChallenges(ctx context.Context, query string, args ...any) ([]challenge.Challenge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query challenges: %w", err)
	}
	defer rows.Close()

	var challenges []challenge.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, c)
	}

	return challenges, rows.Err()
}

func scanChallenge(rows *sql.Rows) (challenge.Challenge, error) {
	var (
		c            challenge.Challenge
		challengeTyp string
		status       string
		startDate    string
		endDate      string
		targetValue  string
		currentValue string
		metadataJSON sql.NullString
	)

	err := rows.Scan(
		&c.ID, &c.UserID, &challengeTyp, &c.Title, &c.Description,
		&startDate, &endDate, &targetValue, &currentValue, &status,
		&metadataJSON, &c.Version,
	)
	if err != nil {
		return c, fmt.Errorf("failed to scan challenge: %w", err)
	}

	c.Type = challenge.Type(challengeTyp)
	c.Status = challenge.Status(status)
	if c.StartDate, err = parseTime(startDate); err != nil {
		return c, err
	}
	if c.EndDate, err = parseTime(endDate); err != nil {
		return c, err
	}
	if c.TargetValue, err = decimal.NewFromString(targetValue); err != nil {
		return c, fmt.Errorf("failed to parse target_value: %w", err)
	}
	if c.CurrentValue, err = decimal.NewFromString(currentValue); err != nil {
		return c, fmt.Errorf("failed to parse current_value: %w", err)
	}
	if c.Metadata, err = challenge.UnmarshalMetadata(c.Type, metadataJSON.String); err != nil {
		return c, err
	}

	return c, nil
}

// =============================================================================
// LEDGER (challenge.Ledger and challenge.LedgerWriter interfaces)
// =============================================================================

// Record appends a ledger entry.
func (s *Store) Record(ctx context.Context, e challenge.LedgerEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO ledger_entries (id, user_id, kind, category, amount, entry_date, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.UserID, string(e.Kind), e.Category, e.Amount.String(), e.Date.String(),
		nullString(e.Note), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

// Entries returns the user's entries dated within [from, to].
func (s *Store) Entries(ctx context.Context, userID string, from, to civil.Date) ([]challenge.LedgerEntry, error) {
	return s.queryEntries(ctx, userID, from, to, "")
}

// SumExpenses sums matched expenses in [start, end].
func (s *Store) SumExpenses(ctx context.Context, userID string, pattern challenge.CategoryPattern, start, end time.Time) (decimal.Decimal, error) {
	from, to := challenge.DateRange(start, end)

	var filter strings.Builder
	filter.WriteString(" AND kind = 'expense'")
	likes := pattern.LikeClauses()
	args := make([]any, 0, len(likes))
	if len(likes) > 0 {
		filter.WriteString(" AND (")
		for i, like := range likes {
			if i > 0 {
				filter.WriteString(" OR ")
			}
			filter.WriteString("LOWER(category) LIKE ?")
			args = append(args, like)
		}
		filter.WriteString(")")
	}

	entries, err := s.queryEntries(ctx, userID, from, to, filter.String(), args...)
	if err != nil {
		return decimal.Zero, err
	}

	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return sum, nil
}

// DistinctExpenseDays returns dates with an expense above amountFloor.
func (s *Store) DistinctExpenseDays(ctx context.Context, userID string, amountFloor decimal.Decimal, start, end time.Time) (challenge.DaySet, error) {
	from, to := challenge.DateRange(start, end)
	entries, err := s.queryEntries(ctx, userID, from, to, " AND kind = 'expense'")
	if err != nil {
		return nil, err
	}

	days := challenge.NewDaySet()
	for _, e := range entries {
		if e.Amount.GreaterThan(amountFloor) {
			days.Add(e.Date)
		}
	}
	return days, nil
}

// NetSavings returns income minus expenses in [start, end].
func (s *Store) NetSavings(ctx context.Context, userID string, start, end time.Time) (decimal.Decimal, error) {
	from, to := challenge.DateRange(start, end)
	entries, err := s.queryEntries(ctx, userID, from, to, "")
	if err != nil {
		return decimal.Zero, err
	}

	net := decimal.Zero
	for _, e := range entries {
		if e.Kind == challenge.EntryIncome {
			net = net.Add(e.Amount)
		} else {
			net = net.Sub(e.Amount)
		}
	}
	return net, nil
}

func (s *Store) queryEntries(ctx context.Context, userID string, from, to civil.Date, filter string, filterArgs ...any) ([]challenge.LedgerEntry, error) {
	query := `
		SELECT id, user_id, kind, category, amount, entry_date, note
		FROM ledger_entries
		WHERE user_id = ? AND entry_date >= ? AND entry_date <= ?` + filter + `
		ORDER BY entry_date ASC, created_at ASC
	`
	args := append([]any{userID, from.String(), to.String()}, filterArgs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []challenge.LedgerEntry
	for rows.Next() {
		var (
			e      challenge.LedgerEntry
			kind   string
			amount string
			date   string
			note   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.Category, &amount, &date, &note); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Kind = challenge.EntryKind(kind)
		e.Note = note.String
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount: %w", err)
		}
		if e.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("failed to parse entry_date: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM challenges; DELETE FROM ledger_entries;`)
	return err
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timeLayout is fixed-width so TEXT comparison orders like time.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	return t, nil
}

func isActiveUniquenessError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	// A partial index violation names its columns, not the index.
	return strings.Contains(err.Error(), "challenges.user_id, challenges.type")
}

// Compile-time checks
var (
	_ challenge.Repository   = (*Store)(nil)
	_ challenge.Ledger       = (*Store)(nil)
	_ challenge.LedgerWriter = (*Store)(nil)
)
