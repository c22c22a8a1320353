/*
audit.go - Append-only audit trail

PURPOSE:
  Every state change (assignment, revocation, application) writes an
  AuditRecord. The trail is the immutable source of truth for what
  happened: for a given transaction id, the set of "applied" records
  fully reconstructs a prior application's result, which is what makes
  Apply idempotent.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, records cannot be modified
  3. SELF-CONTAINED: "applied" records carry original/discount/running
     final amounts so replay needs no other mutable state

SEE ALSO:
  - store.go: AppendAudit / AuditsByTransaction / QueryAudits
  - engine.go: Writers of these records
*/
package discount

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AUDIT ACTIONS
// =============================================================================

type AuditAction string

const (
	AuditAssigned AuditAction = "assigned"
	AuditRevoked  AuditAction = "revoked"
	AuditApplied  AuditAction = "applied"
	AuditRejected AuditAction = "rejected"
)

// =============================================================================
// AUDIT RECORD
// =============================================================================

// AuditRecord is one immutable event. Amount fields are populated only for
// "applied" records. AssignmentID may outlive the binding it points at.
type AuditRecord struct {
	ID           string
	UserID       UserID
	DiscountID   DiscountID
	AssignmentID string // may be empty if the binding is gone
	Action       AuditAction

	OriginalAmount *decimal.Decimal
	DiscountAmount *decimal.Decimal
	FinalAmount    *decimal.Decimal // running remaining after this step, pre-rounding

	// Metadata is an opaque structured payload. Applications record their
	// stack position here.
	Metadata map[string]any

	// TransactionID groups the "applied" records of one Apply call.
	TransactionID TransactionID

	CreatedAt time.Time
}

// =============================================================================
// AUDIT FILTER - For history queries
// =============================================================================

type AuditFilter struct {
	UserID        *UserID
	DiscountID    *DiscountID
	Actions       []AuditAction
	TransactionID *TransactionID
	From          *time.Time
	To            *time.Time
	Limit         int // 0 = no limit
}
