/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements discount.Store and discount.TxStore using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences (FOR UPDATE row locks instead of the store mutex).

KEY TABLES:
  discounts:        Catalog entries with validity windows and usage caps
  user_discounts:   One row per (user, discount) binding; revocation is a
                    timestamp, never a row delete
  discount_audits:  Immutable record of every state change

INDEXES:
  - idx_discounts_active_expiry:   Catalog validity scans
  - idx_discounts_priority:        Stacking order
  - user_discounts UNIQUE(user_id, discount_id): One binding per pair
  - idx_audits_user_created:       Per-user history
  - idx_audits_transaction:        Idempotent replay lookups

APPEND-ONLY ENFORCEMENT:
  discount_audits has no UPDATE or DELETE path through this package.

CONCURRENCY:
  Uses a store-level mutex around units of work. SQLite has no row-level
  FOR UPDATE; WAL's single-writer model plus the mutex serialize
  concurrent applications, which is the exclusivity the engine's
  lock-then-re-check step needs.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/discounts.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := discount.NewEngine(store, discount.DefaultConfig(), nil)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - discount/store.go: Interface definitions
  - discount/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/discount-engine/discount"
)

// Store implements discount.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
	ops
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and matches
	// the single-writer model.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, ops: ops{q: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS discounts (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		discount_type TEXT NOT NULL,
		value TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		starts_at TEXT,
		expires_at TEXT,
		max_usage_per_user INTEGER,
		max_total_usage INTEGER,
		current_total_usage INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_discounts_active_expiry
		ON discounts(is_active, expires_at);
	CREATE INDEX IF NOT EXISTS idx_discounts_priority
		ON discounts(priority);

	-- Assignments: one row per (user, discount), revocation is logical
	CREATE TABLE IF NOT EXISTS user_discounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		discount_id TEXT NOT NULL REFERENCES discounts(id),
		usage_count INTEGER NOT NULL DEFAULT 0,
		assigned_at TEXT NOT NULL,
		revoked_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(user_id, discount_id)
	);

	CREATE INDEX IF NOT EXISTS idx_user_discounts_user
		ON user_discounts(user_id);
	CREATE INDEX IF NOT EXISTS idx_user_discounts_discount
		ON user_discounts(discount_id);

	-- Audit trail (append-only; no UPDATE/DELETE path exists)
	CREATE TABLE IF NOT EXISTS discount_audits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		discount_id TEXT NOT NULL,
		user_discount_id TEXT,
		action TEXT NOT NULL,
		original_amount TEXT,
		discount_amount TEXT,
		final_amount TEXT,
		metadata_json TEXT,
		transaction_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audits_user_created
		ON discount_audits(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_audits_discount_created
		ON discount_audits(discount_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_audits_transaction
		ON discount_audits(transaction_id) WHERE transaction_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn inside one SQL transaction, serialized by the store
// mutex. The Store handed to fn is bound to that transaction.
func (s *Store) WithTx(ctx context.Context, fn func(discount.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&ops{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// =============================================================================
// OPERATIONS - Bound to either the DB or an open transaction
// =============================================================================

type ops struct {
	q querier
}

// --- Catalog ---

func (o *ops) SaveDiscount(ctx context.Context, d *discount.Discount) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	query := `
		INSERT INTO discounts
		(id, code, name, description, discount_type, value, priority, is_active,
		 starts_at, expires_at, max_usage_per_user, max_total_usage,
		 current_total_usage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			description = excluded.description,
			discount_type = excluded.discount_type,
			value = excluded.value,
			priority = excluded.priority,
			is_active = excluded.is_active,
			starts_at = excluded.starts_at,
			expires_at = excluded.expires_at,
			max_usage_per_user = excluded.max_usage_per_user,
			max_total_usage = excluded.max_total_usage,
			current_total_usage = excluded.current_total_usage,
			updated_at = excluded.updated_at
	`

	_, err := o.q.ExecContext(ctx, query,
		string(d.ID),
		d.Code,
		d.Name,
		d.Description,
		string(d.Type),
		d.Value.String(),
		d.Priority,
		boolToInt(d.IsActive),
		nullTime(d.StartsAt),
		nullTime(d.ExpiresAt),
		nullInt(d.MaxUsagePerUser),
		nullInt(d.MaxTotalUsage),
		d.CurrentTotalUsage,
		d.CreatedAt.Format(time.RFC3339Nano),
		d.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save discount %s: %w", d.ID, err)
	}
	return nil
}

const discountColumns = `id, code, name, description, discount_type, value, priority,
	is_active, starts_at, expires_at, max_usage_per_user, max_total_usage,
	current_total_usage, created_at, updated_at`

func (o *ops) GetDiscount(ctx context.Context, id discount.DiscountID) (*discount.Discount, error) {
	row := o.q.QueryRowContext(ctx,
		`SELECT `+discountColumns+` FROM discounts WHERE id = ?`, string(id))
	d, err := scanDiscount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("discount %s: %w", id, discount.ErrDiscountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get discount %s: %w", id, err)
	}
	return d, nil
}

func (o *ops) ListDiscounts(ctx context.Context) ([]discount.Discount, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT `+discountColumns+` FROM discounts ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("list discounts: %w", err)
	}
	defer rows.Close()

	var result []discount.Discount
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

// --- Assignments ---

const discountJoinColumns = `d.id, d.code, d.name, d.description, d.discount_type,
	       d.value, d.priority, d.is_active, d.starts_at, d.expires_at,
	       d.max_usage_per_user, d.max_total_usage, d.current_total_usage,
	       d.created_at, d.updated_at`

const assignmentJoin = `
	SELECT a.id, a.user_id, a.discount_id, a.usage_count, a.assigned_at,
	       a.revoked_at, a.created_at, a.updated_at,
	       ` + discountJoinColumns + `
	FROM user_discounts a
	JOIN discounts d ON d.id = a.discount_id`

func (o *ops) GetAssignment(ctx context.Context, userID discount.UserID, discountID discount.DiscountID) (*discount.Assignment, error) {
	row := o.q.QueryRowContext(ctx,
		assignmentJoin+` WHERE a.user_id = ? AND a.discount_id = ?`,
		string(userID), string(discountID))
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("assignment %s/%s: %w", userID, discountID, discount.ErrAssignmentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment %s/%s: %w", userID, discountID, err)
	}
	return a, nil
}

func (o *ops) SaveAssignment(ctx context.Context, a *discount.Assignment) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	query := `
		INSERT INTO user_discounts
		(id, user_id, discount_id, usage_count, assigned_at, revoked_at,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			usage_count = excluded.usage_count,
			assigned_at = excluded.assigned_at,
			revoked_at = excluded.revoked_at,
			updated_at = excluded.updated_at
	`

	_, err := o.q.ExecContext(ctx, query,
		a.ID,
		string(a.UserID),
		string(a.DiscountID),
		a.UsageCount,
		a.AssignedAt.Format(time.RFC3339Nano),
		nullTime(a.RevokedAt),
		a.CreatedAt.Format(time.RFC3339Nano),
		a.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save assignment %s: %w", a.ID, err)
	}
	return nil
}

func (o *ops) AssignmentsByUser(ctx context.Context, userID discount.UserID) ([]discount.Assignment, error) {
	rows, err := o.q.QueryContext(ctx,
		assignmentJoin+` WHERE a.user_id = ? AND a.revoked_at IS NULL`,
		string(userID))
	if err != nil {
		return nil, fmt.Errorf("assignments for %s: %w", userID, err)
	}
	defer rows.Close()

	var result []discount.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

// --- Locks + increments ---
// SQLite has no SELECT ... FOR UPDATE. Exclusivity comes from the store
// mutex around WithTx plus WAL's single writer; a "lock" here is a fresh
// read inside the open transaction.

func (o *ops) LockAssignment(ctx context.Context, id string) (*discount.Assignment, error) {
	row := o.q.QueryRowContext(ctx, assignmentJoin+` WHERE a.id = ?`, id)
	a, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("assignment %s: %w", id, discount.ErrAssignmentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock assignment %s: %w", id, err)
	}
	return a, nil
}

func (o *ops) LockDiscount(ctx context.Context, id discount.DiscountID) (*discount.Discount, error) {
	return o.GetDiscount(ctx, id)
}

func (o *ops) IncrementUsage(ctx context.Context, assignmentID string) error {
	res, err := o.q.ExecContext(ctx,
		`UPDATE user_discounts SET usage_count = usage_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), assignmentID)
	if err != nil {
		return fmt.Errorf("increment usage %s: %w", assignmentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("assignment %s: %w", assignmentID, discount.ErrAssignmentNotFound)
	}
	return nil
}

func (o *ops) IncrementTotalUsage(ctx context.Context, id discount.DiscountID) error {
	res, err := o.q.ExecContext(ctx,
		`UPDATE discounts SET current_total_usage = current_total_usage + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), string(id))
	if err != nil {
		return fmt.Errorf("increment total usage %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("discount %s: %w", id, discount.ErrDiscountNotFound)
	}
	return nil
}

// --- Audit (append-only) ---

func (o *ops) AppendAudit(ctx context.Context, rec discount.AuditRecord) error {
	var metadataJSON any
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadataJSON = string(b)
	}

	_, err := o.q.ExecContext(ctx, `
		INSERT INTO discount_audits
		(id, user_id, discount_id, user_discount_id, action, original_amount,
		 discount_amount, final_amount, metadata_json, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		string(rec.UserID),
		string(rec.DiscountID),
		nullString(rec.AssignmentID),
		string(rec.Action),
		nullDecimal(rec.OriginalAmount),
		nullDecimal(rec.DiscountAmount),
		nullDecimal(rec.FinalAmount),
		metadataJSON,
		nullString(string(rec.TransactionID)),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append audit %s: %w", rec.ID, err)
	}
	return nil
}

const auditColumns = `id, user_id, discount_id, user_discount_id, action,
	original_amount, discount_amount, final_amount, metadata_json,
	transaction_id, created_at`

func (o *ops) AuditsByTransaction(ctx context.Context, userID discount.UserID, txID discount.TransactionID) ([]discount.AuditRecord, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM discount_audits
		 WHERE user_id = ? AND transaction_id = ? AND action = ?
		 ORDER BY created_at, rowid`,
		string(userID), string(txID), string(discount.AuditApplied))
	if err != nil {
		return nil, fmt.Errorf("audits for transaction %s: %w", txID, err)
	}
	defer rows.Close()
	return collectAudits(rows)
}

func (o *ops) QueryAudits(ctx context.Context, f discount.AuditFilter) ([]discount.AuditRecord, error) {
	var where []string
	var args []any

	if f.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, string(*f.UserID))
	}
	if f.DiscountID != nil {
		where = append(where, "discount_id = ?")
		args = append(args, string(*f.DiscountID))
	}
	if f.TransactionID != nil {
		where = append(where, "transaction_id = ?")
		args = append(args, string(*f.TransactionID))
	}
	if len(f.Actions) > 0 {
		placeholders := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			placeholders[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(placeholders, ", ")+")")
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.From.Format(time.RFC3339Nano))
	}
	if f.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, f.To.Format(time.RFC3339Nano))
	}

	query := `SELECT ` + auditColumns + ` FROM discount_audits`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	defer rows.Close()
	return collectAudits(rows)
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiscount(row rowScanner) (*discount.Discount, error) {
	var (
		d              discount.Discount
		id, dType      string
		value          string
		isActive       int
		startsAt       sql.NullString
		expiresAt      sql.NullString
		maxPerUser     sql.NullInt64
		maxTotal       sql.NullInt64
		created, updat string
	)

	err := row.Scan(&id, &d.Code, &d.Name, &d.Description, &dType, &value,
		&d.Priority, &isActive, &startsAt, &expiresAt, &maxPerUser, &maxTotal,
		&d.CurrentTotalUsage, &created, &updat)
	if err != nil {
		return nil, err
	}

	d.ID = discount.DiscountID(id)
	d.Type = discount.Type(dType)
	d.Value, err = decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse discount value %q: %w", value, err)
	}
	d.IsActive = isActive != 0
	d.StartsAt = parseNullTime(startsAt)
	d.ExpiresAt = parseNullTime(expiresAt)
	d.MaxUsagePerUser = parseNullInt(maxPerUser)
	d.MaxTotalUsage = parseNullInt(maxTotal)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updat)
	return &d, nil
}

func scanAssignment(row rowScanner) (*discount.Assignment, error) {
	var (
		a                discount.Assignment
		userID, discID   string
		assignedAt       string
		revokedAt        sql.NullString
		created, updated string

		d              discount.Discount
		dID, dType     string
		value          string
		isActive       int
		startsAt       sql.NullString
		expiresAt      sql.NullString
		maxPerUser     sql.NullInt64
		maxTotal       sql.NullInt64
		dCreat, dUpdat string
	)

	err := row.Scan(&a.ID, &userID, &discID, &a.UsageCount, &assignedAt,
		&revokedAt, &created, &updated,
		&dID, &d.Code, &d.Name, &d.Description, &dType, &value, &d.Priority,
		&isActive, &startsAt, &expiresAt, &maxPerUser, &maxTotal,
		&d.CurrentTotalUsage, &dCreat, &dUpdat)
	if err != nil {
		return nil, err
	}

	a.UserID = discount.UserID(userID)
	a.DiscountID = discount.DiscountID(discID)
	a.AssignedAt = parseTime(assignedAt)
	a.RevokedAt = parseNullTime(revokedAt)
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)

	d.ID = discount.DiscountID(dID)
	d.Type = discount.Type(dType)
	d.Value, err = decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse discount value %q: %w", value, err)
	}
	d.IsActive = isActive != 0
	d.StartsAt = parseNullTime(startsAt)
	d.ExpiresAt = parseNullTime(expiresAt)
	d.MaxUsagePerUser = parseNullInt(maxPerUser)
	d.MaxTotalUsage = parseNullInt(maxTotal)
	d.CreatedAt = parseTime(dCreat)
	d.UpdatedAt = parseTime(dUpdat)
	a.Discount = d

	return &a, nil
}

func collectAudits(rows *sql.Rows) ([]discount.AuditRecord, error) {
	var result []discount.AuditRecord
	for rows.Next() {
		var (
			rec            discount.AuditRecord
			userID, discID string
			assignmentID   sql.NullString
			action         string
			origAmt        sql.NullString
			discAmt        sql.NullString
			finalAmt       sql.NullString
			metadataJSON   sql.NullString
			txID           sql.NullString
			created        string
		)
		err := rows.Scan(&rec.ID, &userID, &discID, &assignmentID, &action,
			&origAmt, &discAmt, &finalAmt, &metadataJSON, &txID, &created)
		if err != nil {
			return nil, err
		}

		rec.UserID = discount.UserID(userID)
		rec.DiscountID = discount.DiscountID(discID)
		rec.AssignmentID = assignmentID.String
		rec.Action = discount.AuditAction(action)
		if rec.OriginalAmount, err = parseNullDecimal(origAmt); err != nil {
			return nil, err
		}
		if rec.DiscountAmount, err = parseNullDecimal(discAmt); err != nil {
			return nil, err
		}
		if rec.FinalAmount, err = parseNullDecimal(finalAmt); err != nil {
			return nil, err
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			_ = json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata)
		}
		rec.TransactionID = discount.TransactionID(txID.String)
		rec.CreatedAt = parseTime(created)

		result = append(result, rec)
	}
	return result, rows.Err()
}

// =============================================================================
// NULL HELPERS
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func parseNullDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s.String, err)
	}
	return &d, nil
}
