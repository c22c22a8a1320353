package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/discount-engine/discount"
	"github.com/warp/discount-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleDiscount(id, code string) discount.Discount {
	return discount.Discount{
		ID:       discount.DiscountID(id),
		Code:     code,
		Name:     "Sample " + code,
		Type:     discount.TypePercentage,
		Value:    discount.MustParseDecimal("12.5"),
		Priority: 3,
		IsActive: true,
	}
}

func sampleAssignment(id, userID string, d discount.Discount) discount.Assignment {
	return discount.Assignment{
		ID:         id,
		UserID:     discount.UserID(userID),
		DiscountID: d.ID,
		AssignedAt: time.Now().UTC(),
	}
}

// =============================================================================
// CATALOG TESTS
// =============================================================================

func TestSQLite_DiscountRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	starts := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	expires := starts.AddDate(0, 1, 0)
	maxPerUser := 3
	maxTotal := 100

	d := sampleDiscount("d-1", "FALL15")
	d.Description = "Fall promotion"
	d.StartsAt = &starts
	d.ExpiresAt = &expires
	d.MaxUsagePerUser = &maxPerUser
	d.MaxTotalUsage = &maxTotal

	require.NoError(t, store.SaveDiscount(ctx, &d))

	got, err := store.GetDiscount(ctx, "d-1")
	require.NoError(t, err)

	assert.Equal(t, d.Code, got.Code)
	assert.Equal(t, d.Description, got.Description)
	assert.Equal(t, discount.TypePercentage, got.Type)
	assert.True(t, got.Value.Equal(d.Value), "value should survive the roundtrip")
	assert.Equal(t, d.Priority, got.Priority)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.StartsAt)
	assert.True(t, got.StartsAt.Equal(starts))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expires))
	require.NotNil(t, got.MaxUsagePerUser)
	assert.Equal(t, 3, *got.MaxUsagePerUser)
	require.NotNil(t, got.MaxTotalUsage)
	assert.Equal(t, 100, *got.MaxTotalUsage)
}

func TestSQLite_GetDiscount_Missing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetDiscount(context.Background(), "nope")
	assert.ErrorIs(t, err, discount.ErrDiscountNotFound)
}

func TestSQLite_SaveDiscount_UpsertsByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := sampleDiscount("d-1", "FIRST")
	require.NoError(t, store.SaveDiscount(ctx, &d))

	d.Code = "SECOND"
	d.Priority = 9
	require.NoError(t, store.SaveDiscount(ctx, &d))

	got, err := store.GetDiscount(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, "SECOND", got.Code)
	assert.Equal(t, 9, got.Priority)

	all, err := store.ListDiscounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_DuplicateCode_Rejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d1 := sampleDiscount("d-1", "SAME")
	require.NoError(t, store.SaveDiscount(ctx, &d1))

	d2 := sampleDiscount("d-2", "SAME")
	assert.Error(t, store.SaveDiscount(ctx, &d2), "codes are unique")
}

// =============================================================================
// ASSIGNMENT TESTS
// =============================================================================

func TestSQLite_AssignmentRoundtrip_PopulatesDiscount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := sampleDiscount("d-1", "FALL15")
	require.NoError(t, store.SaveDiscount(ctx, &d))

	a := sampleAssignment("a-1", "user-1", d)
	require.NoError(t, store.SaveAssignment(ctx, &a))

	got, err := store.GetAssignment(ctx, "user-1", "d-1")
	require.NoError(t, err)
	assert.Equal(t, "a-1", got.ID)
	assert.Equal(t, discount.UserID("user-1"), got.UserID)
	assert.Equal(t, "FALL15", got.Discount.Code)
	assert.True(t, got.Discount.Value.Equal(d.Value))
	assert.Nil(t, got.RevokedAt)
}

func TestSQLite_GetAssignment_Missing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetAssignment(context.Background(), "user-1", "d-404")
	assert.ErrorIs(t, err, discount.ErrAssignmentNotFound)
}

func TestSQLite_AssignmentsByUser_ExcludesRevoked(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d1 := sampleDiscount("d-1", "ONE")
	d2 := sampleDiscount("d-2", "TWO")
	require.NoError(t, store.SaveDiscount(ctx, &d1))
	require.NoError(t, store.SaveDiscount(ctx, &d2))

	a1 := sampleAssignment("a-1", "user-1", d1)
	require.NoError(t, store.SaveAssignment(ctx, &a1))

	revokedAt := time.Now().UTC()
	a2 := sampleAssignment("a-2", "user-1", d2)
	a2.RevokedAt = &revokedAt
	require.NoError(t, store.SaveAssignment(ctx, &a2))

	active, err := store.AssignmentsByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a-1", active[0].ID)

	// The revoked row is still reachable by direct lookup.
	got, err := store.GetAssignment(ctx, "user-1", "d-2")
	require.NoError(t, err)
	assert.NotNil(t, got.RevokedAt)
}

// =============================================================================
// COUNTER TESTS
// =============================================================================

func TestSQLite_IncrementUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := sampleDiscount("d-1", "ONE")
	require.NoError(t, store.SaveDiscount(ctx, &d))
	a := sampleAssignment("a-1", "user-1", d)
	require.NoError(t, store.SaveAssignment(ctx, &a))

	require.NoError(t, store.IncrementUsage(ctx, "a-1"))
	require.NoError(t, store.IncrementUsage(ctx, "a-1"))

	got, err := store.GetAssignment(ctx, "user-1", "d-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
}

func TestSQLite_IncrementUsage_MissingRow(t *testing.T) {
	store := newTestStore(t)

	err := store.IncrementUsage(context.Background(), "a-404")
	assert.ErrorIs(t, err, discount.ErrAssignmentNotFound)
}

func TestSQLite_IncrementTotalUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := sampleDiscount("d-1", "ONE")
	require.NoError(t, store.SaveDiscount(ctx, &d))

	require.NoError(t, store.IncrementTotalUsage(ctx, "d-1"))

	got, err := store.GetDiscount(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentTotalUsage)

	err = store.IncrementTotalUsage(ctx, "d-404")
	assert.ErrorIs(t, err, discount.ErrDiscountNotFound)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := sampleDiscount("d-1", "ONE")
	require.NoError(t, store.SaveDiscount(ctx, &d))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s discount.Store) error {
		if err := s.IncrementTotalUsage(ctx, "d-1"); err != nil {
			return err
		}
		a := sampleAssignment("a-1", "user-1", d)
		if err := s.SaveAssignment(ctx, &a); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetDiscount(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentTotalUsage, "counter must roll back")

	_, err = store.GetAssignment(ctx, "user-1", "d-1")
	assert.ErrorIs(t, err, discount.ErrAssignmentNotFound, "assignment must roll back")
}

func TestSQLite_WithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := sampleDiscount("d-1", "ONE")
	require.NoError(t, store.SaveDiscount(ctx, &d))

	err := store.WithTx(ctx, func(s discount.Store) error {
		return s.IncrementTotalUsage(ctx, "d-1")
	})
	require.NoError(t, err)

	got, err := store.GetDiscount(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentTotalUsage)
}

// =============================================================================
// AUDIT TESTS
// =============================================================================

func appliedAudit(id, userID, discountID, txID string, at time.Time) discount.AuditRecord {
	orig := discount.MustParseDecimal("100")
	amt := discount.MustParseDecimal("20")
	fin := discount.MustParseDecimal("80")
	return discount.AuditRecord{
		ID:             id,
		UserID:         discount.UserID(userID),
		DiscountID:     discount.DiscountID(discountID),
		Action:         discount.AuditApplied,
		OriginalAmount: &orig,
		DiscountAmount: &amt,
		FinalAmount:    &fin,
		Metadata:       map[string]any{"stack_position": 1},
		TransactionID:  discount.TransactionID(txID),
		CreatedAt:      at,
	}
}

func TestSQLite_AuditsByTransaction_AppliedOnlyInOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.AppendAudit(ctx, appliedAudit("au-1", "user-1", "d-1", "tx-1", now)))
	require.NoError(t, store.AppendAudit(ctx, appliedAudit("au-2", "user-1", "d-2", "tx-1", now.Add(time.Millisecond))))
	require.NoError(t, store.AppendAudit(ctx, discount.AuditRecord{
		ID:            "au-3",
		UserID:        "user-1",
		DiscountID:    "d-1",
		Action:        discount.AuditAssigned,
		TransactionID: "tx-1",
		CreatedAt:     now,
	}))
	require.NoError(t, store.AppendAudit(ctx, appliedAudit("au-4", "user-2", "d-1", "tx-1", now)))

	audits, err := store.AuditsByTransaction(ctx, "user-1", "tx-1")
	require.NoError(t, err)
	require.Len(t, audits, 2, "only this user's applied records")
	assert.Equal(t, "au-1", audits[0].ID)
	assert.Equal(t, "au-2", audits[1].ID)

	rec := audits[0]
	require.NotNil(t, rec.OriginalAmount)
	assert.True(t, rec.OriginalAmount.Equal(discount.MustParseDecimal("100")))
	require.NotNil(t, rec.FinalAmount)
	assert.True(t, rec.FinalAmount.Equal(discount.MustParseDecimal("80")))
	require.NotNil(t, rec.Metadata)
	assert.EqualValues(t, 1, rec.Metadata["stack_position"])
}

func TestSQLite_QueryAudits_FiltersAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.AppendAudit(ctx, appliedAudit("au-1", "user-1", "d-1", "tx-1", now)))
	require.NoError(t, store.AppendAudit(ctx, appliedAudit("au-2", "user-1", "d-2", "tx-2", now.Add(time.Second))))
	require.NoError(t, store.AppendAudit(ctx, discount.AuditRecord{
		ID:         "au-3",
		UserID:     "user-1",
		DiscountID: "d-1",
		Action:     discount.AuditRevoked,
		CreatedAt:  now.Add(2 * time.Second),
	}))

	userID := discount.UserID("user-1")

	// Newest first.
	all, err := store.QueryAudits(ctx, discount.AuditFilter{UserID: &userID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "au-3", all[0].ID)

	// Action filter.
	applied, err := store.QueryAudits(ctx, discount.AuditFilter{
		UserID:  &userID,
		Actions: []discount.AuditAction{discount.AuditApplied},
	})
	require.NoError(t, err)
	assert.Len(t, applied, 2)

	// Discount filter.
	d1 := discount.DiscountID("d-1")
	byDiscount, err := store.QueryAudits(ctx, discount.AuditFilter{UserID: &userID, DiscountID: &d1})
	require.NoError(t, err)
	assert.Len(t, byDiscount, 2)

	// Limit.
	limited, err := store.QueryAudits(ctx, discount.AuditFilter{UserID: &userID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "au-3", limited[0].ID)
}
