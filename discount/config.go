/*
config.go - Stacking, cap, and rounding policy

PURPOSE:
  The engine's behavior is parameterized by a Config value threaded in at
  construction time, never by ambient global state. This keeps tests
  deterministic and lets callers run engines with different policies side
  by side.

KEY CONCEPTS:
  StackingOrder:
    Eligible discounts are sorted by (priority, id). Both keys have a
    configurable direction. The order is load-bearing: it determines the
    stacking sequence and therefore the numeric outcome.

  MaxPercentageCap:
    The maximum cumulative percentage reduction across all stacked
    percentage discounts in one application. 100 = no effective cap.

  Rounding:
    Applied once, to the final remaining amount, after all discounts.
    Per-discount amounts stay pre-rounding (see engine.go).
*/
package discount

import "github.com/shopspring/decimal"

// =============================================================================
// SORT DIRECTION
// =============================================================================

type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// StackingOrder controls the deterministic ordering of eligible discounts.
type StackingOrder struct {
	Priority SortDirection // primary key: Discount.Priority
	ID       SortDirection // secondary key: Discount.ID, breaks ties
}

// =============================================================================
// ROUNDING
// =============================================================================

type RoundingMode string

const (
	RoundUp      RoundingMode = "up"      // ceiling at precision
	RoundDown    RoundingMode = "down"    // floor at precision
	RoundNearest RoundingMode = "nearest" // standard half-away-from-zero
	RoundNone    RoundingMode = "none"    // no rounding
)

type RoundingConfig struct {
	Mode      RoundingMode
	Precision int32 // decimal places
}

// Apply rounds the amount per the configured mode. Unknown modes fall back
// to nearest. Amounts here are always non-negative, so up/down coincide
// with ceiling/floor.
func (r RoundingConfig) Apply(amount decimal.Decimal) decimal.Decimal {
	switch r.Mode {
	case RoundUp:
		return amount.RoundUp(r.Precision)
	case RoundDown:
		return amount.RoundDown(r.Precision)
	case RoundNone:
		return amount
	case RoundNearest:
		return amount.Round(r.Precision)
	default:
		return amount.Round(r.Precision)
	}
}

// =============================================================================
// CONFIG
// =============================================================================

// Config carries the resolved policy values the engine consumes. Where the
// values come from (env, flags, a config service) is the caller's concern.
type Config struct {
	Stacking         StackingOrder
	MaxPercentageCap decimal.Decimal
	Rounding         RoundingConfig
}

// DefaultConfig matches the stock policy: lowest priority first, id
// ascending, no effective percentage cap, round to the nearest cent.
func DefaultConfig() Config {
	return Config{
		Stacking:         StackingOrder{Priority: Ascending, ID: Ascending},
		MaxPercentageCap: hundred,
		Rounding:         RoundingConfig{Mode: RoundNearest, Precision: 2},
	}
}
