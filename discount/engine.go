/*
engine.go - The discount application engine

PURPOSE:
  The Engine owns the four public operations:
    Assign       bind a valid discount to a user (idempotent while active)
    Revoke       logically delete an active binding
    EligibleFor  ordered list of currently-applicable discounts
    Apply        consume eligible discounts against a monetary amount,
                 exactly once per transaction id

APPLY ALGORITHM:
  1. Idempotency gate: existing "applied" audits for (user, txID) mean
     the work already happened; the result is reconstructed from the
     audit trail with zero mutation.
  2. Inside one unit of work: fetch the ordered eligible list, then for
     each candidate compute its amount (percentage clamped by cap
     headroom, fixed clamped by the remaining amount), lock the
     assignment and discount rows, RE-CHECK both usage limits under
     lock, and only then increment counters, write the "applied" audit,
     and notify. A failed re-check skips the candidate silently: a
     concurrent caller exhausted the limit first.
  3. Round the remaining amount per config and recompute the aggregate
     discount from the rounded final, so the returned totals are always
     consistent with each other.

KNOWN APPROXIMATION:
  Per-discount amounts in the result are pre-rounding while the
  aggregate is post-rounding; they may not sum identically. Callers and
  audit consumers depend on these exact numbers.

CONCURRENCY:
  The engine is synchronous per call and holds row locks only during the
  mutation step. Counters are mutated nowhere else.

SEE ALSO:
  - resolver.go: Eligibility and ordering
  - store.go: The transactional collaborator contract
*/
package discount

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RESULTS
// =============================================================================

// AppliedDiscount is one entry of an application's stack. Amount is the
// pre-rounding amount this discount took off the running remainder.
type AppliedDiscount struct {
	DiscountID DiscountID      `json:"discount_id"`
	Code       string          `json:"code"`
	Amount     decimal.Decimal `json:"amount"`
}

// ApplicationResult is the outcome of one Apply call. Re-invocation with
// the same transaction id returns an identical result.
type ApplicationResult struct {
	OriginalAmount   decimal.Decimal   `json:"original_amount"`
	FinalAmount      decimal.Decimal   `json:"final_amount"`
	DiscountAmount   decimal.Decimal   `json:"discount_amount"`
	AppliedDiscounts []AppliedDiscount `json:"applied_discounts"`
	TransactionID    TransactionID     `json:"transaction_id"`
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store  TxStore
	cfg    Config
	events Listener

	// now and newID are injectable for deterministic tests.
	now   func() time.Time
	newID func() string
}

func NewEngine(store TxStore, cfg Config, events Listener) *Engine {
	if events == nil {
		events = NopListener{}
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		events: events,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// WithClock replaces the engine's time source. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// =============================================================================
// ASSIGN
// =============================================================================

// Assign binds the discount to the user. Fails with ErrInvalidDiscount if
// the discount is inactive, outside its window, or globally exhausted.
// While an active binding exists the call is idempotent: the existing
// binding is returned unchanged and no audit is written. A revoked
// binding is reused with usage_count reset to 0.
func (e *Engine) Assign(ctx context.Context, userID UserID, discountID DiscountID) (*Assignment, error) {
	d, err := e.store.GetDiscount(ctx, discountID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if !d.IsValid(now) {
		return nil, fmt.Errorf("assign %s to %s: %w", discountID, userID, ErrInvalidDiscount)
	}

	var out *Assignment
	err = e.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetAssignment(ctx, userID, discountID)
		if err != nil && !IsNotFound(err) {
			return err
		}

		// Already active: idempotent, nothing to do.
		if existing != nil && !existing.IsRevoked() {
			out = existing
			return nil
		}

		// Reuse the revoked row's identity rather than creating a
		// duplicate; first-time assignment creates a fresh row.
		a := existing
		if a == nil {
			a = &Assignment{
				ID:         e.newID(),
				UserID:     userID,
				DiscountID: discountID,
			}
		}
		a.Discount = *d
		a.UsageCount = 0
		a.AssignedAt = now
		a.RevokedAt = nil

		if err := s.SaveAssignment(ctx, a); err != nil {
			return err
		}
		if err := s.AppendAudit(ctx, AuditRecord{
			ID:           e.newID(),
			UserID:       userID,
			DiscountID:   discountID,
			AssignmentID: a.ID,
			Action:       AuditAssigned,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		e.events.Notify(Event{
			Kind:         EventAssigned,
			UserID:       userID,
			DiscountID:   discountID,
			Code:         d.Code,
			AssignmentID: a.ID,
			At:           now,
		})

		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// REVOKE
// =============================================================================

// Revoke logically deletes the user's active binding. Fails with
// ErrAssignmentNotFound when no active binding exists, including when the
// binding was already revoked.
func (e *Engine) Revoke(ctx context.Context, userID UserID, discountID DiscountID) (*Assignment, error) {
	now := e.now()

	var out *Assignment
	err := e.store.WithTx(ctx, func(s Store) error {
		a, err := s.GetAssignment(ctx, userID, discountID)
		if err != nil {
			return err
		}
		if a.IsRevoked() {
			return fmt.Errorf("revoke %s from %s: %w", discountID, userID, ErrAssignmentNotFound)
		}

		a.RevokedAt = &now
		if err := s.SaveAssignment(ctx, a); err != nil {
			return err
		}
		if err := s.AppendAudit(ctx, AuditRecord{
			ID:           e.newID(),
			UserID:       userID,
			DiscountID:   discountID,
			AssignmentID: a.ID,
			Action:       AuditRevoked,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		e.events.Notify(Event{
			Kind:         EventRevoked,
			UserID:       userID,
			DiscountID:   discountID,
			Code:         a.Discount.Code,
			AssignmentID: a.ID,
			At:           now,
		})

		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// ELIGIBLE
// =============================================================================

// EligibleFor returns the user's currently-applicable assignments in
// stacking order. Read-only.
func (e *Engine) EligibleFor(ctx context.Context, userID UserID) ([]Assignment, error) {
	r := &EligibilityResolver{Store: e.store, Config: e.cfg}
	return r.EligibleFor(ctx, userID, e.now())
}

// =============================================================================
// APPLY
// =============================================================================

// Apply consumes the user's eligible discounts against originalAmount.
// An empty transactionID gets a generated one (non-idempotent path).
// Zero eligible discounts is not an error: the result simply carries the
// original amount through.
func (e *Engine) Apply(ctx context.Context, userID UserID, originalAmount decimal.Decimal, transactionID TransactionID) (*ApplicationResult, error) {
	if transactionID == "" {
		transactionID = TransactionID(e.newID())
	}

	// Idempotency gate: a prior success is replayed from its audits,
	// side-effect-free.
	prior, err := e.store.AuditsByTransaction(ctx, userID, transactionID)
	if err != nil {
		return nil, err
	}
	if len(prior) > 0 {
		return e.replay(ctx, transactionID, prior)
	}

	var result *ApplicationResult
	err = e.store.WithTx(ctx, func(s Store) error {
		r := &EligibilityResolver{Store: s, Config: e.cfg}
		now := e.now()

		eligible, err := r.EligibleFor(ctx, userID, now)
		if err != nil {
			return err
		}

		remaining := originalAmount
		appliedPct := decimal.Zero
		var applied []AppliedDiscount

		for _, a := range eligible {
			d := a.Discount

			// Candidate amount, computed from the unlocked view.
			candidate := decimal.Zero
			switch d.Type {
			case TypePercentage:
				pct := decimal.Min(d.Value, e.cfg.MaxPercentageCap.Sub(appliedPct))
				if pct.IsPositive() {
					candidate = remaining.Mul(pct).Div(hundred)
					appliedPct = appliedPct.Add(pct)
				}
			case TypeFixed:
				candidate = decimal.Min(d.Value, remaining)
			}

			if candidate.IsPositive() {
				// Serialize against concurrent applications on the
				// same rows, then re-check limits: the eligibility
				// read above ran without locks.
				lockedA, err := s.LockAssignment(ctx, a.ID)
				if err != nil {
					return err
				}
				lockedD, err := s.LockDiscount(ctx, d.ID)
				if err != nil {
					return err
				}

				if !lockedA.HasReachedUsageLimit(lockedD) && !lockedD.HasReachedTotalLimit() {
					if err := s.IncrementUsage(ctx, a.ID); err != nil {
						return err
					}
					if err := s.IncrementTotalUsage(ctx, d.ID); err != nil {
						return err
					}

					remaining = remaining.Sub(candidate)
					applied = append(applied, AppliedDiscount{
						DiscountID: d.ID,
						Code:       d.Code,
						Amount:     candidate,
					})

					orig, amt, fin := originalAmount, candidate, remaining
					if err := s.AppendAudit(ctx, AuditRecord{
						ID:             e.newID(),
						UserID:         userID,
						DiscountID:     d.ID,
						AssignmentID:   a.ID,
						Action:         AuditApplied,
						OriginalAmount: &orig,
						DiscountAmount: &amt,
						FinalAmount:    &fin,
						Metadata:       map[string]any{"stack_position": len(applied)},
						TransactionID:  transactionID,
						CreatedAt:      now,
					}); err != nil {
						return err
					}

					e.events.Notify(Event{
						Kind:          EventApplied,
						UserID:        userID,
						DiscountID:    d.ID,
						Code:          d.Code,
						AssignmentID:  a.ID,
						TransactionID: transactionID,
						Amount:        &amt,
						At:            now,
					})
				}
				// Re-check failed: skip silently, no audit, no error.

				// Cap reached: stop evaluating further discounts, fixed
				// ones included. Deliberately order-dependent; sits
				// inside the positive-candidate branch.
				if appliedPct.GreaterThanOrEqual(e.cfg.MaxPercentageCap) {
					break
				}
			}
		}

		final := e.cfg.Rounding.Apply(remaining)
		result = &ApplicationResult{
			OriginalAmount: originalAmount,
			FinalAmount:    final,
			// Recomputed post-rounding so the returned totals agree,
			// even though per-discount amounts are pre-rounding.
			DiscountAmount:   originalAmount.Sub(final),
			AppliedDiscounts: applied,
			TransactionID:    transactionID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replay reconstructs a prior application's result from its "applied"
// audit records without touching any counter.
func (e *Engine) replay(ctx context.Context, transactionID TransactionID, audits []AuditRecord) (*ApplicationResult, error) {
	var applied []AppliedDiscount
	original := decimal.Zero
	running := decimal.Zero

	for _, rec := range audits {
		code := ""
		if d, err := e.store.GetDiscount(ctx, rec.DiscountID); err == nil {
			code = d.Code
		}
		amt := decimal.Zero
		if rec.DiscountAmount != nil {
			amt = *rec.DiscountAmount
		}
		applied = append(applied, AppliedDiscount{
			DiscountID: rec.DiscountID,
			Code:       code,
			Amount:     amt,
		})
		if rec.OriginalAmount != nil {
			original = *rec.OriginalAmount
		}
		if rec.FinalAmount != nil {
			running = *rec.FinalAmount
		}
	}

	// The trail stores the pre-rounding running remainder; apply the same
	// rounding policy so the replay matches the first invocation exactly.
	final := e.cfg.Rounding.Apply(running)
	return &ApplicationResult{
		OriginalAmount:   original,
		FinalAmount:      final,
		DiscountAmount:   original.Sub(final),
		AppliedDiscounts: applied,
		TransactionID:    transactionID,
	}, nil
}
