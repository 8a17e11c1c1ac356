/*
Package postgres provides a PostgreSQL-backed implementation of the storage interfaces.

PURPOSE:
  Same contract and schema as store/sqlite, on pgx. Aggregates run in
  SQL over NUMERIC columns and are returned as text so no value passes
  through float64.

AT-MOST-ONE-ACTIVE:
  idx_unique_active_challenge is a partial unique index on
  (user_id, type) WHERE status = 'active'. A racing insert fails with
  SQLSTATE 23505 and is reported as *challenge.DuplicateActiveError.

CONNECTION POOL:
  New takes an existing *pgxpool.Pool; Open builds one from a URL with
  the pool limits used across our services.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite implementation
  - challenge/repository.go: Repository contract
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/challenge-engine/challenge"
)

const uniqueViolation = "23505"

// Store implements the repository and ledger interfaces using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL, pings, and migrates.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// New wraps an existing pool. Call Migrate before use on a fresh database.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it doesn't exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS challenges (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ NOT NULL,
		target_value NUMERIC NOT NULL,
		current_value NUMERIC NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active'
			CHECK (status IN ('active', 'completed', 'failed')),
		metadata_json JSONB,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (end_date > start_date)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_active_challenge
		ON challenges(user_id, type)
		WHERE status = 'active';

	CREATE INDEX IF NOT EXISTS idx_challenges_user_status
		ON challenges(user_id, status, start_date DESC);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('income', 'expense')),
		category TEXT NOT NULL DEFAULT '',
		amount NUMERIC NOT NULL CHECK (amount > 0),
		entry_date DATE NOT NULL,
		note TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_user_date
		ON ledger_entries(user_id, entry_date);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// CHALLENGE REPOSITORY
// =============================================================================

const challengeColumns = `id, user_id, type, title, description, start_date, end_date,
	target_value::text, current_value::text, status, COALESCE(metadata_json::text, ''), version`

func (s *Store) Create(ctx context.Context, c challenge.Challenge) (challenge.Challenge, error) {
	metadataJSON, err := challenge.MarshalMetadata(c.Metadata)
	if err != nil {
		return challenge.Challenge{}, err
	}
	if c.Version == 0 {
		c.Version = 1
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO challenges
		(id, user_id, type, title, description, start_date, end_date,
		 target_value, current_value, status, metadata_json, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, NULLIF($11, '')::jsonb, $12)
	`,
		c.ID, c.UserID, string(c.Type), c.Title, c.Description, c.StartDate, c.EndDate,
		c.TargetValue.String(), c.CurrentValue.String(), string(c.Status), metadataJSON, c.Version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "idx_unique_active_challenge" {
			return challenge.Challenge{}, &challenge.DuplicateActiveError{UserID: c.UserID, Type: c.Type}
		}
		return challenge.Challenge{}, fmt.Errorf("failed to create challenge: %w", err)
	}
	return c, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (challenge.Challenge, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = $1`, id)
	return scanChallenge(row)
}

func (s *Store) FindActiveByUserAndType(ctx context.Context, userID string, t challenge.Type) (challenge.Challenge, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+challengeColumns+` FROM challenges
		WHERE user_id = $1 AND type = $2 AND status = 'active'`, userID, string(t))
	return scanChallenge(row)
}

func (s *Store) FindActiveByUser(ctx context.Context, userID string) ([]challenge.Challenge, error) {
	return s.queryChallenges(ctx, `SELECT `+challengeColumns+` FROM challenges
		WHERE user_id = $1 AND status = 'active'
		ORDER BY start_date DESC`, userID)
}

func (s *Store) FindAllByUser(ctx context.Context, userID string) ([]challenge.Challenge, error) {
	return s.queryChallenges(ctx, `SELECT `+challengeColumns+` FROM challenges
		WHERE user_id = $1
		ORDER BY start_date DESC`, userID)
}

func (s *Store) Update(ctx context.Context, c challenge.Challenge) (challenge.Challenge, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE challenges
		SET current_value = $1::numeric, status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4 AND status = 'active'
	`, c.CurrentValue.String(), string(c.Status), c.ID, c.Version)
	if err != nil {
		return challenge.Challenge{}, fmt.Errorf("failed to update challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.FindByID(ctx, c.ID); err != nil {
			return challenge.Challenge{}, err
		}
		return challenge.Challenge{}, &challenge.ConflictError{ChallengeID: c.ID, Version: c.Version}
	}

	c.Version++
	return c, nil
}

func (s *Store) queryChallenges(ctx context.Context, query string, args ...any) ([]challenge.Challenge, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

func scanChallenge(row pgx.Row) (challenge.Challenge, error) {
	var (
		c            challenge.Challenge
		challengeTyp string
		status       string
		targetValue  string
		currentValue string
		metadataJSON string
	)
	err := row.Scan(
		&c.ID, &c.UserID, &challengeTyp, &c.Title, &c.Description,
		&c.StartDate, &c.EndDate, &targetValue, &currentValue, &status,
		&metadataJSON, &c.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, challenge.ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("failed to scan challenge: %w", err)
	}

	c.Type = challenge.Type(challengeTyp)
	c.Status = challenge.Status(status)
	c.StartDate = c.StartDate.UTC()
	c.EndDate = c.EndDate.UTC()
	if c.TargetValue, err = decimal.NewFromString(targetValue); err != nil {
		return c, fmt.Errorf("failed to parse target_value: %w", err)
	}
	if c.CurrentValue, err = decimal.NewFromString(currentValue); err != nil {
		return c, fmt.Errorf("failed to parse current_value: %w", err)
	}
	if c.Metadata, err = challenge.UnmarshalMetadata(c.Type, metadataJSON); err != nil {
		return c, err
	}
	return c, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (s *Store) Record(ctx context.Context, e challenge.LedgerEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, kind, category, amount, entry_date, note)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::date, NULLIF($7, ''))
	`, e.ID, e.UserID, string(e.Kind), e.Category, e.Amount.String(), e.Date.String(), e.Note)
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, userID string, from, to civil.Date) ([]challenge.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, kind, category, amount::text, entry_date::text, COALESCE(note, '')
		FROM ledger_entries
		WHERE user_id = $1 AND entry_date BETWEEN $2::date AND $3::date
		ORDER BY entry_date ASC, created_at ASC
	`, userID, from.String(), to.String())
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
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.Category, &amount, &date, &e.Note); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Kind = challenge.EntryKind(kind)
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

func (s *Store) SumExpenses(ctx context.Context, userID string, pattern challenge.CategoryPattern, start, end time.Time) (decimal.Decimal, error) {
	from, to := challenge.DateRange(start, end)
	likes := pattern.LikeClauses()

	var sum string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM ledger_entries
		WHERE user_id = $1 AND kind = 'expense'
		  AND entry_date BETWEEN $2::date AND $3::date
		  AND (cardinality($4::text[]) = 0 OR LOWER(category) LIKE ANY($4::text[]))
	`, userID, from.String(), to.String(), likes).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum expenses: %w", err)
	}
	return decimal.NewFromString(sum)
}

func (s *Store) DistinctExpenseDays(ctx context.Context, userID string, amountFloor decimal.Decimal, start, end time.Time) (challenge.DaySet, error) {
	from, to := challenge.DateRange(start, end)
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT entry_date::text
		FROM ledger_entries
		WHERE user_id = $1 AND kind = 'expense'
		  AND entry_date BETWEEN $2::date AND $3::date
		  AND amount > $4::numeric
	`, userID, from.String(), to.String(), amountFloor.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query expense days: %w", err)
	}
	defer rows.Close()

	days := challenge.NewDaySet()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan expense day: %w", err)
		}
		d, err := civil.ParseDate(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse expense day: %w", err)
		}
		days.Add(d)
	}
	return days, rows.Err()
}

func (s *Store) NetSavings(ctx context.Context, userID string, start, end time.Time) (decimal.Decimal, error) {
	from, to := challenge.DateRange(start, end)

	var net string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'income' THEN amount ELSE -amount END), 0)::text
		FROM ledger_entries
		WHERE user_id = $1 AND entry_date BETWEEN $2::date AND $3::date
	`, userID, from.String(), to.String()).Scan(&net)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute net savings: %w", err)
	}
	return decimal.NewFromString(net)
}

// Reset clears all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE challenges, ledger_entries`)
	return err
}

// Compile-time checks
var (
	_ challenge.Repository   = (*Store)(nil)
	_ challenge.Ledger       = (*Store)(nil)
	_ challenge.LedgerWriter = (*Store)(nil)
)
