/*
errors.go - Centralized error types for the discount engine

PURPOSE:
  All sentinel errors in one place for consistency and discoverability.
  Callers match with errors.Is(); the engine wraps with context via %w.

ERROR CATEGORIES:
  1. Domain errors - Invalid discounts, missing bindings. Fail fast,
     no mutation occurs.
  2. Infrastructure errors - Store failures. Propagated unmodified;
     the engine never retries, the unit-of-work boundary rolls back.

  Business non-eligibility (no discounts apply, limits reached) is NOT
  an error. It is a normal zero-effect outcome in the result payload.

USAGE:
  if errors.Is(err, discount.ErrInvalidDiscount) {
      // reject the assign request
  }
*/
package discount

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDiscountNotFound is returned when a referenced catalog entry
	// doesn't exist.
	ErrDiscountNotFound = errors.New("discount not found")

	// ErrInvalidDiscount is returned by Assign when the discount is
	// inactive, outside its validity window, or its total-usage limit is
	// exhausted. No mutation occurs.
	ErrInvalidDiscount = errors.New("discount is not valid")

	// ErrAssignmentNotFound is returned by Revoke when the user has no
	// active binding for the discount, and by stores on missing rows.
	ErrAssignmentNotFound = errors.New("assignment not found")

	// ErrImmutableAudit is returned by stores on any attempt to modify
	// an existing audit record.
	ErrImmutableAudit = errors.New("audit records are append-only")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDiscountNotFound) ||
		errors.Is(err, ErrAssignmentNotFound)
}

// IsClientError reports whether the error is due to invalid client input
// rather than an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDiscount) || IsNotFound(err)
}
