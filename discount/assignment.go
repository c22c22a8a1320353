/*
assignment.go - The user-to-discount binding

PURPOSE:
  An Assignment binds one discount to one user and tracks how many times
  that user has consumed it. There is at most one ACTIVE binding per
  (user, discount) pair; revocation marks the row logically deleted
  without erasing history, and a later re-assignment reuses the same row
  with a reset counter.

STATE MACHINE:
  Active(usage_count) -> Revoked        (Revoke)
  Revoked             -> Active(0)      (re-Assign)
  No other transitions exist.

SEE ALSO:
  - engine.go: Assign/Revoke implement the transitions
  - resolver.go: Filters assignments down to currently-eligible ones
*/
package discount

import "time"

// =============================================================================
// ASSIGNMENT - One user, one discount, one usage counter
// =============================================================================

type Assignment struct {
	ID         string
	UserID     UserID
	DiscountID DiscountID

	// Discount is the catalog entry this binding points at. Store
	// implementations populate it on load so eligibility checks and
	// stacking never need a second lookup.
	Discount Discount

	// UsageCount counts this user's successful applications. Monotonic
	// while active; reset to 0 on re-assignment after a revocation.
	UsageCount int

	AssignedAt time.Time
	RevokedAt  *time.Time // nil = active

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRevoked reports whether the binding is logically deleted.
func (a *Assignment) IsRevoked() bool {
	return a.RevokedAt != nil
}

// HasReachedUsageLimit reports whether this user has exhausted the
// per-user cap of the given discount. A nil cap means unlimited.
// The discount is passed explicitly so the check works on freshly
// locked rows, not a possibly stale embedded copy.
func (a *Assignment) HasReachedUsageLimit(d *Discount) bool {
	if d.MaxUsagePerUser == nil {
		return false
	}
	return a.UsageCount >= *d.MaxUsagePerUser
}
