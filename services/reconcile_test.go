package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lot_harvester/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func records(ids ...string) []models.DetailRecord {
	var out []models.DetailRecord
	for _, id := range ids {
		out = append(out, record(id, 10))
	}
	return out
}

func TestReconcile_FirstRun(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store)

	res, err := r.Reconcile(context.Background(), records("A", "B", "C"))
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Parsed)
	assert.Equal(t, 3, res.New)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 0, res.Deactivated)
	assert.Empty(t, res.Errors)

	for _, id := range []string{"A", "B", "C"} {
		e := store.lot(id)
		require.NotNil(t, e)
		assert.True(t, e.IsActive)
		assert.NotEmpty(t, e.Fingerprint)
	}
}

func TestReconcile_MissingLotIsDeactivated(t *testing.T) {
	store := newMemStore()
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	r := NewReconciler(store)
	r.now = fixedClock(first)
	_, err := r.Reconcile(context.Background(), records("A", "B", "C"))
	require.NoError(t, err)
	before := store.lot("B")

	r.now = fixedClock(second)
	res, err := r.Reconcile(context.Background(), records("A", "C"))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Parsed)
	assert.Equal(t, 0, res.New)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Deactivated)

	b := store.lot("B")
	require.NotNil(t, b)
	assert.False(t, b.IsActive)
	assert.True(t, b.UpdatedAt.Equal(second))
	// everything but the flag and updatedAt is untouched
	b.IsActive, b.UpdatedAt = before.IsActive, before.UpdatedAt
	assert.Equal(t, *before, *b)

	a := store.lot("A")
	assert.True(t, a.LastSeenAt.Equal(second))
	assert.True(t, a.FirstSeenAt.Equal(first))
}

func TestReconcile_NoOpRunIsIdempotent(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, records("A", "B"))
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, records("A", "B"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.New)
	assert.Equal(t, 0, res.Deactivated)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 0, res.Changed)
}

func TestReconcile_ReactivatesThroughUpdate(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, records("A", "B"))
	require.NoError(t, err)
	_, err = r.Reconcile(ctx, records("A"))
	require.NoError(t, err)
	require.False(t, store.lot("B").IsActive)

	res, err := r.Reconcile(ctx, records("A", "B"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.New)
	assert.Equal(t, 2, res.Updated)
	assert.True(t, store.lot("B").IsActive)
}

func TestReconcile_CountsChangedContent(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, records("A", "B"))
	require.NoError(t, err)

	snapshot := records("A", "B")
	snapshot[1].Price = 99
	res, err := r.Reconcile(ctx, snapshot)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Changed)
	assert.Equal(t, 99.0, store.lot("B").Price)
}

func TestReconcile_DuplicateInSnapshotCountsAsUpdate(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store)

	snapshot := records("A", "A", "B")
	snapshot[1].Price = 42
	res, err := r.Reconcile(context.Background(), snapshot)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Parsed)
	assert.Equal(t, 2, res.New)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Changed)
	assert.Empty(t, res.Errors)
	// the later occurrence wins
	assert.Equal(t, 42.0, store.lot("A").Price)
	assert.Len(t, store.lots, 2)
}

func TestReconcile_StoreErrorsAreCollected(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, records("A", "B", "C"))
	require.NoError(t, err)

	store.failWrite["B"] = errors.New("database is locked")
	store.failWrite["C"] = errors.New("database is locked")

	res, err := r.Reconcile(ctx, records("A", "B", "D"))
	require.NoError(t, err)

	// partial store failures do not fail the run
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Parsed)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Deactivated)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "failed to process lot B: database is locked", res.Errors[0])
	assert.Equal(t, "failed to deactivate lot C: database is locked", res.Errors[1])

	// B was seen, so a failed update must not turn into a deactivation
	assert.True(t, store.lot("B").IsActive)
	assert.NotNil(t, store.lot("D"))
}

func TestApply_PartitionIsComplete(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, records("1", "2", "3", "4", "5"))
	require.NoError(t, err)
	activeBefore, err := store.ActiveExternalIDs(ctx)
	require.NoError(t, err)

	snapshot := records("2", "4", "6")
	res := &models.ReconcileResult{}
	r.Apply(ctx, activeBefore, snapshot, res)

	seen := map[string]bool{"2": true, "4": true, "6": true}
	for _, id := range activeBefore {
		e := store.lot(id)
		require.NotNil(t, e)
		assert.Equal(t, seen[id], e.IsActive, "lot %s", id)
	}
	assert.Equal(t, 3, res.Deactivated)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 2, res.Updated)
}

func TestApply_UsesSnapshotTakenBeforeCrawl(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, records("A"))
	require.NoError(t, err)
	activeBefore, err := store.ActiveExternalIDs(ctx)
	require.NoError(t, err)

	// X shows up in the store after the active set was read
	_, err = r.Reconcile(ctx, records("A", "X"))
	require.NoError(t, err)

	res := &models.ReconcileResult{}
	r.Apply(ctx, activeBefore, records("A"), res)
	assert.Equal(t, 0, res.Deactivated)
	assert.True(t, store.lot("X").IsActive)
}

func TestReconcile_EmptySnapshotDeactivatesAll(t *testing.T) {
	store := newMemStore()
	r := NewReconciler(store)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, records("A", "B"))
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Parsed)
	assert.Equal(t, 2, res.Deactivated)
	for _, msg := range res.Errors {
		assert.False(t, strings.Contains(msg, "process"))
	}
}
