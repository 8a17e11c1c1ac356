package challenge

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// METADATA - Per-type auxiliary data, written once at admission
// =============================================================================

// Metadata is a closed union of per-type auxiliary data.
// Implementations: NoSpendMeta, BudgetCutMeta, SavingsSprintMeta.
type Metadata interface {
	Kind() Type
	sealed()
}

// NoSpendMeta carries nothing; NoSpend needs no seeding data.
type NoSpendMeta struct{}

// BudgetCutMeta records the spend the cut is measured against.
type BudgetCutMeta struct {
	// Baseline is the matched spend over the 30 days before admission,
	// or the fallback constant when the ledger had nothing to offer.
	Baseline decimal.Decimal
	// FallbackUsed is set when Baseline is the fallback constant.
	FallbackUsed bool
}

// SavingsSprintMeta carries nothing today.
type SavingsSprintMeta struct{}

func (NoSpendMeta) Kind() Type       { return TypeNoSpend }
func (BudgetCutMeta) Kind() Type     { return TypeBudgetCut }
func (SavingsSprintMeta) Kind() Type { return TypeSavingsSprint }

func (NoSpendMeta) sealed()       {}
func (BudgetCutMeta) sealed()     {}
func (SavingsSprintMeta) sealed() {}

// =============================================================================
// JSON ENCODING - Storage representation with a kind tag
// =============================================================================

type metadataJSON struct {
	Kind         Type             `json:"kind"`
	Baseline     *decimal.Decimal `json:"baseline,omitempty"`
	FallbackUsed bool             `json:"fallback_used,omitempty"`
}

// MarshalMetadata encodes metadata for storage.
// A nil Metadata encodes as an empty string.
func MarshalMetadata(m Metadata) (string, error) {
	if m == nil {
		return "", nil
	}
	out := metadataJSON{Kind: m.Kind()}
	if bc, ok := m.(BudgetCutMeta); ok {
		baseline := bc.Baseline
		out.Baseline = &baseline
		out.FallbackUsed = bc.FallbackUsed
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

// UnmarshalMetadata decodes stored metadata. When raw is empty the zero
// metadata for t is returned.
func UnmarshalMetadata(t Type, raw string) (Metadata, error) {
	if raw == "" {
		return zeroMetadata(t)
	}
	var in metadataJSON
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if in.Kind == "" {
		in.Kind = t
	}
	if in.Kind != t {
		return nil, fmt.Errorf("metadata kind %q does not match challenge type %q", in.Kind, t)
	}
	switch in.Kind {
	case TypeBudgetCut:
		m := BudgetCutMeta{FallbackUsed: in.FallbackUsed}
		if in.Baseline != nil {
			m.Baseline = *in.Baseline
		}
		return m, nil
	default:
		return zeroMetadata(in.Kind)
	}
}

func zeroMetadata(t Type) (Metadata, error) {
	switch t {
	case TypeNoSpend:
		return NoSpendMeta{}, nil
	case TypeBudgetCut:
		return BudgetCutMeta{}, nil
	case TypeSavingsSprint:
		return SavingsSprintMeta{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
}
