/*
handlers.go - HTTP API handlers for the challenge engine

PURPOSE:
  Exposes the challenge engine via REST API. Handles HTTP request and
  response, JSON serialization, and delegates to challenge.Engine.

ENDPOINTS:
  Challenges:
    POST   /api/users/{userID}/challenges   Join a challenge {"type": "..."}
    GET    /api/users/{userID}/challenges   Refresh active challenges, list all
    GET    /api/challenge-types             Joinable types with their templates

  Ledger:
    POST   /api/users/{userID}/ledger       Record an income or expense
    GET    /api/users/{userID}/ledger       Entries in [from, to] (YYYY-MM-DD)

  Scenarios:
    GET    /api/scenarios                   List demo scenarios
    POST   /api/scenarios/load              Reset and load a demo scenario

ERROR HANDLING:
  Errors are returned as JSON ErrorResponse with status:
  - 400: Invalid input (empty user, unknown type, bad amount)
  - 404: Not found
  - 409: Challenge of this type already active, or write conflict
  - 429: Join rate limit exceeded
  - 503: Ledger unavailable
  - 500: Internal errors

  A refresh where some challenges failed is still a 200. Failed
  challenges are listed under "errors" with their last stored values
  in "challenges".

SECURITY NOTE:
  No authentication. The user ID in the path is trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/challenge-engine/challenge"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that can drop all their data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *challenge.Engine
	Ledger challenge.LedgerWriter
	Log    logrus.FieldLogger

	// NewID generates ledger entry IDs.
	NewID func() string

	joins *userLimiter

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. joinsPerMinute <= 0 disables join limiting.
func NewHandler(engine *challenge.Engine, ledger challenge.LedgerWriter, log logrus.FieldLogger, joinsPerMinute float64) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Engine: engine,
		Ledger: ledger,
		Log:    log,
		NewID:  uuid.NewString,
		joins:  newUserLimiter(joinsPerMinute),
	}
}

// =============================================================================
// CHALLENGE HANDLERS
// =============================================================================

// JoinChallenge admits a new challenge for the user.
// POST /api/users/{userID}/challenges
func (h *Handler) JoinChallenge(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))

	var req JoinChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	t, err := h.Engine.Strategies.ParseType(req.Type)
	if err != nil {
		writeDomainError(w, "Invalid challenge type", err)
		return
	}

	if userID != "" && !h.joins.Allow(userID) {
		writeError(w, http.StatusTooManyRequests, "Too many join attempts", nil)
		return
	}

	c, err := h.Engine.Join(r.Context(), userID, t)
	if err != nil {
		writeDomainError(w, "Failed to join challenge", err)
		return
	}

	writeJSON(w, http.StatusCreated, toChallengeDTO(c))
}

// ListChallenges refreshes the user's active challenges and returns all of them.
// GET /api/users/{userID}/challenges
func (h *Handler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	result, err := h.Engine.ListWithRefresh(r.Context(), userID)
	if err != nil {
		writeDomainError(w, "Failed to list challenges", err)
		return
	}

	resp := ListChallengesResponse{Challenges: make([]ChallengeDTO, len(result.Challenges))}
	for i, c := range result.Challenges {
		resp.Challenges[i] = toChallengeDTO(c)
	}
	for _, f := range result.Failures {
		resp.Errors = append(resp.Errors, RefreshErrorDTO{
			ChallengeID: f.ChallengeID,
			Type:        string(f.Type),
			Error:       f.Err.Error(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListChallengeTypes returns the joinable challenge types.
// GET /api/challenge-types
func (h *Handler) ListChallengeTypes(w http.ResponseWriter, r *http.Request) {
	types := h.Engine.Strategies.Types()
	dtos := make([]ChallengeTypeDTO, 0, len(types))
	for _, t := range types {
		tmpl := h.Engine.Strategies.MustLookup(t).Template()
		dtos = append(dtos, ChallengeTypeDTO{
			Type:         string(t),
			Title:        tmpl.Title,
			Description:  tmpl.Description,
			DurationDays: tmpl.Days(),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// RecordLedgerEntry stores an income or expense for the user.
// Back-dated entries are accepted and affect the next refresh.
// POST /api/users/{userID}/ledger
func (h *Handler) RecordLedgerEntry(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))

	var req RecordEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry := challenge.LedgerEntry{
		ID:       h.NewID(),
		UserID:   userID,
		Kind:     challenge.EntryKind(req.Kind),
		Category: strings.TrimSpace(req.Category),
		Amount:   req.Amount,
		Date:     req.Date,
		Note:     req.Note,
	}
	if err := entry.Validate(); err != nil {
		writeDomainError(w, "Invalid ledger entry", err)
		return
	}

	if err := h.Ledger.Record(r.Context(), entry); err != nil {
		writeDomainError(w, "Failed to record ledger entry", err)
		return
	}

	h.Log.WithFields(logrus.Fields{
		"user_id":  userID,
		"kind":     entry.Kind,
		"category": entry.Category,
		"date":     entry.Date.String(),
	}).Debug("Ledger entry recorded")

	writeJSON(w, http.StatusCreated, toLedgerEntryDTO(entry))
}

// ListLedgerEntries returns the user's entries between from and to.
// Both default to a window of the last 30 days ending today (UTC).
// GET /api/users/{userID}/ledger?from=2026-01-01&to=2026-01-31
func (h *Handler) ListLedgerEntries(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}

	to := civil.DateOf(h.Engine.Clock())
	if raw := r.URL.Query().Get("to"); raw != "" {
		d, err := civil.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'to' date (use YYYY-MM-DD)", err)
			return
		}
		to = d
	}
	from := to.AddDays(-30)
	if raw := r.URL.Query().Get("from"); raw != "" {
		d, err := civil.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'from' date (use YYYY-MM-DD)", err)
			return
		}
		from = d
	}
	if from.After(to) {
		writeError(w, http.StatusBadRequest, "'from' must not be after 'to'", nil)
		return
	}

	entries, err := h.Ledger.Entries(r.Context(), userID, from, to)
	if err != nil {
		writeDomainError(w, "Failed to list ledger entries", err)
		return
	}

	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toLedgerEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Healthz reports liveness.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps challenge errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, challenge.ErrInvalidInput), errors.Is(err, challenge.ErrUnknownType):
		return http.StatusBadRequest
	case errors.Is(err, challenge.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, challenge.ErrAlreadyActive), errors.Is(err, challenge.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, challenge.ErrLedgerUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
