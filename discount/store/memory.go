// Package store provides an in-memory TxStore implementation
// (for testing/dev).
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/discount-engine/discount"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	discounts   map[discount.DiscountID]discount.Discount
	assignments map[string]discount.Assignment // by assignment id
	byPair      map[pairKey]string             // (user, discount) -> assignment id
	audits      []discount.AuditRecord
}

type pairKey struct {
	UserID     discount.UserID
	DiscountID discount.DiscountID
}

func NewMemory() *Memory {
	return &Memory{
		discounts:   make(map[discount.DiscountID]discount.Discount),
		assignments: make(map[string]discount.Assignment),
		byPair:      make(map[pairKey]string),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveDiscount(_ context.Context, d *discount.Discount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveDiscountLocked(d)
}

func (m *Memory) saveDiscountLocked(d *discount.Discount) error {
	for id, existing := range m.discounts {
		if existing.Code == d.Code && id != d.ID {
			return fmt.Errorf("discount code %q already exists", d.Code)
		}
	}
	m.discounts[d.ID] = cloneDiscount(*d)
	return nil
}

func (m *Memory) GetDiscount(_ context.Context, id discount.DiscountID) (*discount.Discount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDiscountLocked(id)
}

func (m *Memory) getDiscountLocked(id discount.DiscountID) (*discount.Discount, error) {
	d, ok := m.discounts[id]
	if !ok {
		return nil, fmt.Errorf("discount %s: %w", id, discount.ErrDiscountNotFound)
	}
	out := cloneDiscount(d)
	return &out, nil
}

func (m *Memory) ListDiscounts(_ context.Context) ([]discount.Discount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]discount.Discount, 0, len(m.discounts))
	for _, d := range m.discounts {
		result = append(result, cloneDiscount(d))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority != result[j].Priority {
			return result[i].Priority < result[j].Priority
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func (m *Memory) GetAssignment(_ context.Context, userID discount.UserID, discountID discount.DiscountID) (*discount.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAssignmentLocked(userID, discountID)
}

func (m *Memory) getAssignmentLocked(userID discount.UserID, discountID discount.DiscountID) (*discount.Assignment, error) {
	id, ok := m.byPair[pairKey{UserID: userID, DiscountID: discountID}]
	if !ok {
		return nil, fmt.Errorf("assignment %s/%s: %w", userID, discountID, discount.ErrAssignmentNotFound)
	}
	a := cloneAssignment(m.assignments[id])
	if d, ok := m.discounts[a.DiscountID]; ok {
		a.Discount = cloneDiscount(d)
	}
	return &a, nil
}

func (m *Memory) SaveAssignment(_ context.Context, a *discount.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAssignmentLocked(a)
}

func (m *Memory) saveAssignmentLocked(a *discount.Assignment) error {
	k := pairKey{UserID: a.UserID, DiscountID: a.DiscountID}
	if existing, ok := m.byPair[k]; ok && existing != a.ID {
		return fmt.Errorf("assignment already exists for %s/%s", a.UserID, a.DiscountID)
	}
	m.assignments[a.ID] = cloneAssignment(*a)
	m.byPair[k] = a.ID
	return nil
}

func (m *Memory) AssignmentsByUser(_ context.Context, userID discount.UserID) ([]discount.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assignmentsByUserLocked(userID)
}

func (m *Memory) assignmentsByUserLocked(userID discount.UserID) ([]discount.Assignment, error) {
	var result []discount.Assignment
	for _, a := range m.assignments {
		if a.UserID != userID || a.IsRevoked() {
			continue
		}
		out := cloneAssignment(a)
		if d, ok := m.discounts[a.DiscountID]; ok {
			out.Discount = cloneDiscount(d)
		}
		result = append(result, out)
	}
	return result, nil
}

// =============================================================================
// LOCKS + INCREMENTS
// =============================================================================
// The memory store serializes whole units of work under one mutex (see
// WithTx), so a "row lock" is simply a fresh read inside the transaction.

func (m *Memory) LockAssignment(_ context.Context, id string) (*discount.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lockAssignmentLocked(id)
}

func (m *Memory) lockAssignmentLocked(id string) (*discount.Assignment, error) {
	a, ok := m.assignments[id]
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", id, discount.ErrAssignmentNotFound)
	}
	out := cloneAssignment(a)
	return &out, nil
}

func (m *Memory) LockDiscount(_ context.Context, id discount.DiscountID) (*discount.Discount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDiscountLocked(id)
}

func (m *Memory) IncrementUsage(_ context.Context, assignmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrementUsageLocked(assignmentID)
}

func (m *Memory) incrementUsageLocked(assignmentID string) error {
	a, ok := m.assignments[assignmentID]
	if !ok {
		return fmt.Errorf("assignment %s: %w", assignmentID, discount.ErrAssignmentNotFound)
	}
	a.UsageCount++
	m.assignments[assignmentID] = a
	return nil
}

func (m *Memory) IncrementTotalUsage(_ context.Context, id discount.DiscountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.incrementTotalUsageLocked(id)
}

func (m *Memory) incrementTotalUsageLocked(id discount.DiscountID) error {
	d, ok := m.discounts[id]
	if !ok {
		return fmt.Errorf("discount %s: %w", id, discount.ErrDiscountNotFound)
	}
	d.CurrentTotalUsage++
	m.discounts[id] = d
	return nil
}

// =============================================================================
// AUDIT (append-only)
// =============================================================================

func (m *Memory) AppendAudit(_ context.Context, rec discount.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAuditLocked(rec)
}

func (m *Memory) appendAuditLocked(rec discount.AuditRecord) error {
	m.audits = append(m.audits, rec)
	return nil
}

func (m *Memory) AuditsByTransaction(_ context.Context, userID discount.UserID, txID discount.TransactionID) ([]discount.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auditsByTransactionLocked(userID, txID)
}

func (m *Memory) auditsByTransactionLocked(userID discount.UserID, txID discount.TransactionID) ([]discount.AuditRecord, error) {
	var result []discount.AuditRecord
	for _, rec := range m.audits {
		if rec.UserID == userID && rec.TransactionID == txID && rec.Action == discount.AuditApplied {
			result = append(result, rec)
		}
	}
	return result, nil
}

func (m *Memory) QueryAudits(_ context.Context, f discount.AuditFilter) ([]discount.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []discount.AuditRecord
	for i := len(m.audits) - 1; i >= 0; i-- { // newest first
		rec := m.audits[i]
		if !matchesFilter(rec, f) {
			continue
		}
		result = append(result, rec)
		if f.Limit > 0 && len(result) >= f.Limit {
			break
		}
	}
	return result, nil
}

func matchesFilter(rec discount.AuditRecord, f discount.AuditFilter) bool {
	if f.UserID != nil && rec.UserID != *f.UserID {
		return false
	}
	if f.DiscountID != nil && rec.DiscountID != *f.DiscountID {
		return false
	}
	if f.TransactionID != nil && rec.TransactionID != *f.TransactionID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if rec.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && rec.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && rec.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn under the store mutex with snapshot rollback on
// error. Holding the mutex for the whole unit of work serializes
// concurrent applications, which is exactly the row-lock guarantee the
// engine relies on.
func (m *Memory) WithTx(_ context.Context, fn func(discount.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	discounts   map[discount.DiscountID]discount.Discount
	assignments map[string]discount.Assignment
	byPair      map[pairKey]string
	auditLen    int
}

func (m *Memory) snapshot() memorySnapshot {
	ds := make(map[discount.DiscountID]discount.Discount, len(m.discounts))
	for k, v := range m.discounts {
		ds[k] = cloneDiscount(v)
	}
	as := make(map[string]discount.Assignment, len(m.assignments))
	for k, v := range m.assignments {
		as[k] = cloneAssignment(v)
	}
	bp := make(map[pairKey]string, len(m.byPair))
	for k, v := range m.byPair {
		bp[k] = v
	}
	return memorySnapshot{discounts: ds, assignments: as, byPair: bp, auditLen: len(m.audits)}
}

func (m *Memory) restore(s memorySnapshot) {
	m.discounts = s.discounts
	m.assignments = s.assignments
	m.byPair = s.byPair
	m.audits = m.audits[:s.auditLen]
}

// txView routes Store calls to the parent's locked helpers. The parent
// mutex is already held for the duration of WithTx.
type txView struct {
	parent *Memory
}

func (tv *txView) SaveDiscount(_ context.Context, d *discount.Discount) error {
	return tv.parent.saveDiscountLocked(d)
}

func (tv *txView) GetDiscount(_ context.Context, id discount.DiscountID) (*discount.Discount, error) {
	return tv.parent.getDiscountLocked(id)
}

func (tv *txView) ListDiscounts(ctx context.Context) ([]discount.Discount, error) {
	var result []discount.Discount
	for _, d := range tv.parent.discounts {
		result = append(result, cloneDiscount(d))
	}
	return result, nil
}

func (tv *txView) GetAssignment(_ context.Context, userID discount.UserID, discountID discount.DiscountID) (*discount.Assignment, error) {
	return tv.parent.getAssignmentLocked(userID, discountID)
}

func (tv *txView) SaveAssignment(_ context.Context, a *discount.Assignment) error {
	return tv.parent.saveAssignmentLocked(a)
}

func (tv *txView) AssignmentsByUser(_ context.Context, userID discount.UserID) ([]discount.Assignment, error) {
	return tv.parent.assignmentsByUserLocked(userID)
}

func (tv *txView) LockAssignment(_ context.Context, id string) (*discount.Assignment, error) {
	return tv.parent.lockAssignmentLocked(id)
}

func (tv *txView) LockDiscount(_ context.Context, id discount.DiscountID) (*discount.Discount, error) {
	return tv.parent.getDiscountLocked(id)
}

func (tv *txView) IncrementUsage(_ context.Context, assignmentID string) error {
	return tv.parent.incrementUsageLocked(assignmentID)
}

func (tv *txView) IncrementTotalUsage(_ context.Context, id discount.DiscountID) error {
	return tv.parent.incrementTotalUsageLocked(id)
}

func (tv *txView) AppendAudit(_ context.Context, rec discount.AuditRecord) error {
	return tv.parent.appendAuditLocked(rec)
}

func (tv *txView) AuditsByTransaction(_ context.Context, userID discount.UserID, txID discount.TransactionID) ([]discount.AuditRecord, error) {
	return tv.parent.auditsByTransactionLocked(userID, txID)
}

func (tv *txView) QueryAudits(ctx context.Context, f discount.AuditFilter) ([]discount.AuditRecord, error) {
	var result []discount.AuditRecord
	for i := len(tv.parent.audits) - 1; i >= 0; i-- {
		rec := tv.parent.audits[i]
		if !matchesFilter(rec, f) {
			continue
		}
		result = append(result, rec)
		if f.Limit > 0 && len(result) >= f.Limit {
			break
		}
	}
	return result, nil
}

// =============================================================================
// CLONING - Keep callers from aliasing internal state
// =============================================================================

func cloneDiscount(d discount.Discount) discount.Discount {
	out := d
	out.StartsAt = cloneTimePtr(d.StartsAt)
	out.ExpiresAt = cloneTimePtr(d.ExpiresAt)
	out.MaxUsagePerUser = cloneIntPtr(d.MaxUsagePerUser)
	out.MaxTotalUsage = cloneIntPtr(d.MaxTotalUsage)
	return out
}

func cloneAssignment(a discount.Assignment) discount.Assignment {
	out := a
	out.RevokedAt = cloneTimePtr(a.RevokedAt)
	out.Discount = cloneDiscount(a.Discount)
	return out
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneIntPtr(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
