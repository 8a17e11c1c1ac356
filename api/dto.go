/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  challenge domain types.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

AMOUNTS:
  decimal.Decimal marshals as a JSON string ("4000") and unmarshals from
  either a string or a number. Dates are civil.Date ("2026-03-01").

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/warp/challenge-engine/challenge"
)

// =============================================================================
// CHALLENGES
// =============================================================================

// ChallengeDTO represents a challenge in API responses.
type ChallengeDTO struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
	TargetValue  decimal.Decimal `json:"target_value"`
	CurrentValue decimal.Decimal `json:"current_value"`
	Status       string          `json:"status"`
	Metadata     *MetadataDTO    `json:"metadata,omitempty"`
}

// MetadataDTO exposes the admission-time data of a challenge.
type MetadataDTO struct {
	Baseline     *decimal.Decimal `json:"baseline,omitempty"`
	FallbackUsed bool             `json:"fallback_used,omitempty"`
}

// JoinChallengeRequest is the request body for joining a challenge.
type JoinChallengeRequest struct {
	Type string `json:"type"`
}

// ListChallengesResponse is returned by the refresh-and-list endpoint.
type ListChallengesResponse struct {
	Challenges []ChallengeDTO    `json:"challenges"`
	Errors     []RefreshErrorDTO `json:"errors,omitempty"`
}

// RefreshErrorDTO reports a challenge whose refresh was abandoned.
type RefreshErrorDTO struct {
	ChallengeID string `json:"challenge_id"`
	Type        string `json:"type"`
	Error       string `json:"error"`
}

// ChallengeTypeDTO describes a joinable challenge type.
type ChallengeTypeDTO struct {
	Type         string `json:"type"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	DurationDays int    `json:"duration_days"`
}

// =============================================================================
// LEDGER
// =============================================================================

// LedgerEntryDTO represents a ledger entry in API responses.
type LedgerEntryDTO struct {
	ID       string          `json:"id"`
	UserID   string          `json:"user_id"`
	Kind     string          `json:"kind"`
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Date     civil.Date      `json:"date"`
	Note     string          `json:"note,omitempty"`
}

// RecordEntryRequest is the request body for recording a ledger entry.
type RecordEntryRequest struct {
	Kind     string          `json:"kind"`
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Date     civil.Date      `json:"date"`
	Note     string          `json:"note,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request body for loading a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse reports the user a scenario was loaded for.
type LoadScenarioResponse struct {
	ScenarioID string `json:"scenario_id"`
	UserID     string `json:"user_id"`
	Entries    int    `json:"entries"`
	Challenges int    `json:"challenges"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toChallengeDTO(c challenge.Challenge) ChallengeDTO {
	dto := ChallengeDTO{
		ID:           c.ID,
		UserID:       c.UserID,
		Type:         string(c.Type),
		Title:        c.Title,
		Description:  c.Description,
		StartDate:    c.StartDate,
		EndDate:      c.EndDate,
		TargetValue:  c.TargetValue,
		CurrentValue: c.CurrentValue,
		Status:       string(c.Status),
	}
	if bc, ok := c.Metadata.(challenge.BudgetCutMeta); ok {
		baseline := bc.Baseline
		dto.Metadata = &MetadataDTO{Baseline: &baseline, FallbackUsed: bc.FallbackUsed}
	}
	return dto
}

func toLedgerEntryDTO(e challenge.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:       e.ID,
		UserID:   e.UserID,
		Kind:     string(e.Kind),
		Category: e.Category,
		Amount:   e.Amount,
		Date:     e.Date,
		Note:     e.Note,
	}
}
