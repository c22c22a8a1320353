/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  Defines the contract between the engine and the transactional store
  that owns discounts, assignments, and the audit trail. The engine
  assumes a relational store with row-level locking, unique-constraint
  enforcement, and atomic increments — it does not implement one.

KEY INTERFACES:
  Store:   Reads, writes, row locks, atomic increments, audit append
  TxStore: Store plus WithTx for atomic units of work

UNIT OF WORK:
  Every public engine operation executes inside one WithTx call. If the
  callback returns an error, the implementation rolls back all writes.

LOCKING:
  LockAssignment/LockDiscount return a FRESH row snapshot under an
  exclusive row lock, valid until the surrounding WithTx ends. The engine
  uses them for its read-then-verify-then-mutate step: the unlocked
  eligibility read is re-checked under lock before counters move.

AUDIT CONTRACT:
  AppendAudit is the only audit write. No update or delete exists on the
  interface; implementations enforce immutability.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - discount/store: In-memory store for testing/dev

SEE ALSO:
  - engine.go: The only caller of the mutating methods
  - resolver.go: Caller of AssignmentsByUser
*/
package discount

import "context"

// =============================================================================
// STORE - Reads, writes, locks, increments
// =============================================================================

type Store interface {
	// --- Catalog ---

	// SaveDiscount creates or updates a catalog entry. Fails on a
	// duplicate code. Used by catalog plumbing and tests; the engine
	// itself never calls it.
	SaveDiscount(ctx context.Context, d *Discount) error

	// GetDiscount returns the catalog entry or ErrDiscountNotFound.
	GetDiscount(ctx context.Context, id DiscountID) (*Discount, error)

	// ListDiscounts returns all catalog entries ordered by priority.
	ListDiscounts(ctx context.Context) ([]Discount, error)

	// --- Assignments ---

	// GetAssignment returns the (user, discount) row, revoked or not,
	// with its Discount populated. ErrAssignmentNotFound if no row
	// exists at all.
	GetAssignment(ctx context.Context, userID UserID, discountID DiscountID) (*Assignment, error)

	// SaveAssignment creates or updates the binding. At most one row per
	// (user, discount) pair exists; implementations enforce uniqueness.
	SaveAssignment(ctx context.Context, a *Assignment) error

	// AssignmentsByUser returns all non-revoked bindings for the user,
	// each with its Discount populated. Unordered; the resolver sorts.
	AssignmentsByUser(ctx context.Context, userID UserID) ([]Assignment, error)

	// --- Row locks + atomic increments (call inside WithTx only) ---

	// LockAssignment returns a fresh snapshot of the binding under an
	// exclusive row lock held until the transaction ends.
	LockAssignment(ctx context.Context, id string) (*Assignment, error)

	// LockDiscount does the same for a catalog row.
	LockDiscount(ctx context.Context, id DiscountID) (*Discount, error)

	// IncrementUsage atomically adds 1 to the assignment's usage_count.
	IncrementUsage(ctx context.Context, assignmentID string) error

	// IncrementTotalUsage atomically adds 1 to the discount's
	// current_total_usage.
	IncrementTotalUsage(ctx context.Context, id DiscountID) error

	// --- Audit (append-only) ---

	// AppendAudit persists one immutable record. The ONLY audit write.
	AppendAudit(ctx context.Context, rec AuditRecord) error

	// AuditsByTransaction returns the user's "applied" records for a
	// transaction id, in creation order. Empty slice when none exist.
	AuditsByTransaction(ctx context.Context, userID UserID, txID TransactionID) ([]AuditRecord, error)

	// QueryAudits returns records matching the filter, newest first.
	QueryAudits(ctx context.Context, f AuditFilter) ([]AuditRecord, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with atomic units of work.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. The Store passed to fn is
	// bound to that transaction. If fn returns an error, everything is
	// rolled back; otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
