/*
engine.go - Admission and refresh orchestration

PURPOSE:
  The Engine is what the outside world calls. It exposes two operations:

    Join(userID, type)        Admit a new active challenge
    ListWithRefresh(userID)   Refresh all active challenges, then list all

ADMISSION FLOW:
  1. Validate userID and type (no I/O on failure)
  2. Precheck: active challenge of this type? → AlreadyActiveError
  3. Strategy.Seed computes TargetValue and Metadata
  4. Repository.Create (one write); a store-level duplicate rejection
     from a racing join is reported as AlreadyActiveError too

REFRESH FLOW:
  1. Load the user's active challenges
  2. For each, under its own timeout: Evaluate, then Settle
  3. Write only if CurrentValue or Status changed
  4. Load every challenge for the user, order active first, newest first

FAILURE ISOLATION:
  One challenge failing (ledger outage, timeout, store error) is
  recorded in RefreshResult.Failures and the pass moves on. Nothing
  already written in the pass is rolled back.

CONCURRENT REFRESHES:
  Two passes for the same user compute the same values. When an Update
  loses the optimistic race, the stored winner is re-read and used; this
  is not reported as a failure.

NO SCHEDULER:
  Evaluation is pull-based. Nothing here runs on a timer.

SEE ALSO:
  - evaluate.go: Evaluate and Settle
  - strategy.go: Per-type behavior
  - repository.go: Storage contract
*/
package challenge

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// ENGINE
// =============================================================================

// Observer receives engine events. Implemented by the metrics package.
type Observer interface {
	Joined(t Type, outcome string)
	Settled(t Type, status Status)
	RefreshFailed(t Type)
	RefreshCompleted(d time.Duration)
}

// Engine admits and refreshes challenges.
type Engine struct {
	Repo       Repository
	Ledger     Ledger
	Strategies *Registry

	// Clock supplies now for Join and ListWithRefresh.
	Clock func() time.Time

	// EvalTimeout bounds one challenge's evaluate-and-persist step.
	// Zero means only the caller's context applies.
	EvalTimeout time.Duration

	// NewID generates challenge IDs.
	NewID func() string

	Log      logrus.FieldLogger
	Observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

func WithRegistry(r *Registry) Option          { return func(e *Engine) { e.Strategies = r } }
func WithClock(clock func() time.Time) Option  { return func(e *Engine) { e.Clock = clock } }
func WithEvalTimeout(d time.Duration) Option   { return func(e *Engine) { e.EvalTimeout = d } }
func WithIDGenerator(gen func() string) Option { return func(e *Engine) { e.NewID = gen } }
func WithLogger(log logrus.FieldLogger) Option { return func(e *Engine) { e.Log = log } }
func WithObserver(o Observer) Option           { return func(e *Engine) { e.Observer = o } }

// NewEngine creates an engine with default strategies, a UTC wall clock
// and UUID identifiers.
func NewEngine(repo Repository, ledger Ledger, opts ...Option) *Engine {
	e := &Engine{
		Repo:        repo,
		Ledger:      ledger,
		Strategies:  DefaultRegistry(),
		Clock:       func() time.Time { return time.Now().UTC() },
		EvalTimeout: 5 * time.Second,
		NewID:       func() string { return uuid.NewString() },
		Log:         logrus.StandardLogger(),
		Observer:    nopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// ADMISSION
// =============================================================================

// Join admits a new active challenge of type t for userID.
func (e *Engine) Join(ctx context.Context, userID string, t Type) (Challenge, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Challenge{}, &InvalidInputError{Field: "user_id", Reason: "must not be empty"}
	}
	strategy := e.Strategies.Lookup(t)
	if strategy == nil {
		return Challenge{}, &InvalidInputError{Field: "type", Reason: "unknown challenge type " + string(t)}
	}
	log := e.Log.WithFields(logrus.Fields{"user_id": userID, "type": t})

	existing, err := e.Repo.FindActiveByUserAndType(ctx, userID, t)
	switch {
	case err == nil:
		e.Observer.Joined(t, "already_active")
		log.WithField("challenge_id", existing.ID).Info("Join rejected: challenge already active")
		return Challenge{}, &AlreadyActiveError{UserID: userID, Type: t, ExistingID: existing.ID}
	case !errors.Is(err, ErrNotFound):
		e.Observer.Joined(t, "error")
		log.WithError(err).Error("Failed to check for active challenge")
		return Challenge{}, err
	}

	now := e.Clock()
	seed, err := strategy.Seed(ctx, e.Ledger, userID, now)
	if err != nil {
		e.Observer.Joined(t, "error")
		log.WithError(err).Error("Failed to seed challenge")
		return Challenge{}, err
	}

	tmpl := strategy.Template()
	c := Challenge{
		ID:          e.NewID(),
		UserID:      userID,
		Type:        t,
		Title:       tmpl.Title,
		Description: tmpl.Description,
		StartDate:   now,
		EndDate:     now.Add(tmpl.Duration),
		TargetValue: seed.TargetValue,
		Status:      StatusActive,
		Metadata:    seed.Metadata,
		Version:     1,
	}

	created, err := e.Repo.Create(ctx, c)
	if err != nil {
		if errors.Is(err, ErrDuplicateActive) {
			e.Observer.Joined(t, "already_active")
			log.Info("Join rejected by store: concurrent admission won")
			return Challenge{}, &AlreadyActiveError{UserID: userID, Type: t}
		}
		e.Observer.Joined(t, "error")
		log.WithError(err).Error("Failed to create challenge")
		return Challenge{}, err
	}

	e.Observer.Joined(t, "created")
	log.WithFields(logrus.Fields{
		"challenge_id": created.ID,
		"target":       created.TargetValue.String(),
		"end_date":     created.EndDate.Format(time.RFC3339),
	}).Info("Challenge joined")
	return created, nil
}

// =============================================================================
// REFRESH
// =============================================================================

// RefreshResult is the outcome of a refresh pass.
type RefreshResult struct {
	// Challenges holds every challenge of the user, active first, newest first.
	Challenges []Challenge
	// Failures lists challenges whose pass was abandoned. They are included
	// in Challenges with their last stored values.
	Failures []*ChallengeError
}

// ListWithRefresh runs a refresh pass at the engine clock's now.
func (e *Engine) ListWithRefresh(ctx context.Context, userID string) (RefreshResult, error) {
	return e.Refresh(ctx, userID, e.Clock())
}

// Refresh recomputes and settles the user's active challenges at now,
// persists what changed, and returns the user's full challenge set.
//
// The returned error is non-nil only when the pass could not run at all
// (invalid input, store unavailable for listing). Per-challenge failures
// are in RefreshResult.Failures.
func (e *Engine) Refresh(ctx context.Context, userID string, now time.Time) (RefreshResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return RefreshResult{}, &InvalidInputError{Field: "user_id", Reason: "must not be empty"}
	}
	started := time.Now()
	log := e.Log.WithField("user_id", userID)

	active, err := e.Repo.FindActiveByUser(ctx, userID)
	if err != nil {
		log.WithError(err).Error("Failed to load active challenges")
		return RefreshResult{}, err
	}

	var result RefreshResult
	for _, c := range active {
		if err := e.refreshOne(ctx, c, now); err != nil {
			e.Observer.RefreshFailed(c.Type)
			log.WithFields(logrus.Fields{"challenge_id": c.ID, "type": c.Type}).
				WithError(err).Warn("Challenge refresh failed")
			result.Failures = append(result.Failures, &ChallengeError{ChallengeID: c.ID, Type: c.Type, Err: err})
		}
	}

	all, err := e.Repo.FindAllByUser(ctx, userID)
	if err != nil {
		log.WithError(err).Error("Failed to load challenges")
		return result, err
	}
	SortForDisplay(all)
	result.Challenges = all

	e.Observer.RefreshCompleted(time.Since(started))
	return result, nil
}

func (e *Engine) refreshOne(ctx context.Context, c Challenge, now time.Time) error {
	strategy := e.Strategies.Lookup(c.Type)
	if strategy == nil {
		return ErrUnknownType
	}

	if e.EvalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.EvalTimeout)
		defer cancel()
	}

	next, err := Evaluate(ctx, strategy, e.Ledger, c, now)
	if err != nil {
		return err
	}
	next = Settle(strategy, next, now)

	if !next.progressChanged(c) {
		return nil
	}

	saved, err := e.Repo.Update(ctx, next)
	if err != nil {
		if !IsConflict(err) {
			return err
		}
		// Another pass got there first; adopt whatever it stored.
		winner, err := e.Repo.FindByID(ctx, c.ID)
		if err != nil {
			return err
		}
		e.Log.WithFields(logrus.Fields{
			"challenge_id": winner.ID,
			"status":       winner.Status,
			"version":      winner.Version,
		}).Debug("Concurrent refresh already persisted challenge")
		return nil
	}

	if saved.Status.IsTerminal() {
		e.Observer.Settled(saved.Type, saved.Status)
		e.Log.WithFields(logrus.Fields{
			"user_id":       saved.UserID,
			"challenge_id":  saved.ID,
			"type":          saved.Type,
			"status":        saved.Status,
			"current_value": saved.CurrentValue.String(),
			"target_value":  saved.TargetValue.String(),
		}).Info("Challenge settled")
	}
	return nil
}

// SortForDisplay orders challenges by status (active, completed, failed)
// then StartDate descending.
func SortForDisplay(cs []Challenge) {
	sort.SliceStable(cs, func(i, j int) bool {
		ri, rj := cs[i].Status.rank(), cs[j].Status.rank()
		if ri != rj {
			return ri < rj
		}
		return cs[i].StartDate.After(cs[j].StartDate)
	})
}

type nopObserver struct{}

func (nopObserver) Joined(Type, string)            {}
func (nopObserver) Settled(Type, Status)           {}
func (nopObserver) RefreshFailed(Type)             {}
func (nopObserver) RefreshCompleted(time.Duration) {}
