/*
resolver.go - Eligibility resolution and deterministic ordering

PURPOSE:
  Filters a user's assignments down to the discounts that currently
  apply, and orders them. The order is load-bearing: it is the stacking
  sequence, so it must be total and deterministic even when priorities
  tie.

SELECTION PREDICATE (all must hold):
  - binding not revoked
  - discount active
  - now within [starts_at, expires_at] (open ends unbounded)
  - total-usage cap not reached
  - user's usage_count below the per-user cap (or cap unset)

ORDERING:
  Primary: Discount.Priority, direction per config (default ascending,
  lower = applied earlier). Secondary: Discount.ID, direction per config.
  IDs are unique, so the order is total.
*/
package discount

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// ELIGIBILITY RESOLVER
// =============================================================================

type EligibilityResolver struct {
	Store  Store
	Config Config
}

// EligibleFor returns the user's currently-applicable assignments in
// stacking order. Read-only; safe outside a transaction (the engine
// re-checks limits under lock before mutating).
func (r *EligibilityResolver) EligibleFor(ctx context.Context, userID UserID, now time.Time) ([]Assignment, error) {
	assignments, err := r.Store.AssignmentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load assignments for %s: %w", userID, err)
	}

	var eligible []Assignment
	for _, a := range assignments {
		if a.IsRevoked() {
			continue
		}
		d := a.Discount
		if !d.IsActive {
			continue
		}
		if d.StartsAt != nil && now.Before(*d.StartsAt) {
			continue
		}
		if d.ExpiresAt != nil && now.After(*d.ExpiresAt) {
			continue
		}
		if d.HasReachedTotalLimit() {
			continue
		}
		if a.HasReachedUsageLimit(&d) {
			continue
		}
		eligible = append(eligible, a)
	}

	sortAssignments(eligible, r.Config.Stacking)
	return eligible, nil
}

// sortAssignments orders by (priority, id) under the configured directions.
func sortAssignments(assignments []Assignment, order StackingOrder) {
	sort.SliceStable(assignments, func(i, j int) bool {
		di, dj := assignments[i].Discount, assignments[j].Discount

		if di.Priority != dj.Priority {
			if order.Priority == Descending {
				return di.Priority > dj.Priority
			}
			return di.Priority < dj.Priority
		}
		if order.ID == Descending {
			return di.ID > dj.ID
		}
		return di.ID < dj.ID
	})
}
