/*
Package discount provides the core discount-application engine.

PURPOSE:
  This package contains the domain types and algorithms for assigning
  promotional discounts to users, resolving which ones currently apply,
  stacking them in a deterministic order, and applying them atomically
  against a monetary amount exactly once per transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Discount: A catalog entry defining a reduction rule (percentage or
    fixed amount) with a validity window and usage limits
  - UserID/DiscountID/TransactionID: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for all money and percentages.
     No float arithmetic anywhere in the core.
  2. Purity: Catalog checks (IsValid, HasReachedTotalLimit) are pure
     reads; only the Engine mutates counters.
  3. Explicit time: Validity is always evaluated against a caller-supplied
     instant, never time.Now() buried in a method.

USAGE:
  d := discount.Discount{
      Code:     "SPRING20",
      Type:     discount.TypePercentage,
      Value:    decimal.NewFromInt(20),
      IsActive: true,
  }
  if d.IsValid(time.Now()) { ... }

SEE ALSO:
  - assignment.go: The per-user binding of a discount
  - engine.go: The application algorithm
  - store.go: Persistence interfaces
*/
package discount

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type DiscountID string
type TransactionID string

// =============================================================================
// DISCOUNT - Catalog entry
// =============================================================================

// Type distinguishes how a discount's Value is interpreted.
type Type string

const (
	// TypePercentage: Value is a percentage of the remaining amount.
	// By convention in [0,100]; not hard-enforced.
	TypePercentage Type = "percentage"

	// TypeFixed: Value is a fixed monetary amount, clamped to what remains.
	TypeFixed Type = "fixed"
)

// Discount is a catalog entry. Catalog management (creating and editing
// entries) lives outside the engine; the engine only reads these fields and
// increments CurrentTotalUsage inside a successful application.
type Discount struct {
	ID          DiscountID
	Code        string // unique
	Name        string
	Description string

	Type  Type
	Value decimal.Decimal // percentage in [0,100] or a fixed amount; >= 0

	// Priority orders stacking: lower numbers are applied earlier.
	// Ties are broken by ID so the order is always total.
	Priority int

	IsActive bool

	// Validity window, inclusive on both ends. Nil = unbounded.
	StartsAt  *time.Time
	ExpiresAt *time.Time

	// Usage limits. Nil = unlimited.
	MaxUsagePerUser *int
	MaxTotalUsage   *int

	// CurrentTotalUsage counts successful applications across all users.
	// Monotonic; mutated only inside the Engine's locked apply step.
	CurrentTotalUsage int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsValid reports whether the discount can be assigned or applied at the
// given instant: active, inside its window, and below its total-usage cap.
// Pure read, no side effects.
func (d *Discount) IsValid(now time.Time) bool {
	if !d.IsActive {
		return false
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.ExpiresAt != nil && now.After(*d.ExpiresAt) {
		return false
	}
	if d.HasReachedTotalLimit() {
		return false
	}
	return true
}

// HasReachedTotalLimit reports whether the global usage cap is exhausted.
// A nil MaxTotalUsage means unlimited.
func (d *Discount) HasReachedTotalLimit() bool {
	if d.MaxTotalUsage == nil {
		return false
	}
	return d.CurrentTotalUsage >= *d.MaxTotalUsage
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

var hundred = decimal.NewFromInt(100)

// MustParseDecimal parses s, returning zero on malformed input.
// Intended for literals in wiring and tests.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
