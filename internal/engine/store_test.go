package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrktfy/prospector/internal/kv"
)

func newTestStore(t *testing.T) (*Store, *time.Time, kv.Store) {
	t.Helper()
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	kvStore := kv.NewMemory()
	store := NewStore("u1", kvStore, testLogger())
	store.now = func() time.Time { return now }
	return store, &now, kvStore
}

func TestStoreSaveAssignsUniqueMonotonicIDs(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	var prev string
	for i := 0; i < 10; i++ {
		rec := store.Save(ctx, TriggerHotZone, "t", "b", []string{"l1"}, "prospector")
		require.False(t, seen[rec.ID], "duplicate ID %s", rec.ID)
		seen[rec.ID] = true
		assert.Greater(t, rec.ID, prev)
		prev = rec.ID
	}
}

func TestStoreCapEvictsOldestFirst(t *testing.T) {
	store, now, _ := newTestStore(t)
	ctx := context.Background()

	var firstID string
	for i := 0; i < maxStoredNotifications+5; i++ {
		rec := store.Save(ctx, TriggerHotZone, "t", "b", nil, "prospector")
		if i == 0 {
			firstID = rec.ID
		}
		*now = now.Add(time.Second)
	}

	notifs := store.Notifications()
	assert.Len(t, notifs, maxStoredNotifications)

	_, ok := store.Get(firstID)
	assert.False(t, ok, "oldest entry should have been evicted")

	// Newest first.
	for i := 1; i < len(notifs); i++ {
		assert.True(t, !notifs[i-1].Timestamp.Before(notifs[i].Timestamp))
	}
}

func TestStoreMarkReadIdempotent(t *testing.T) {
	store, now, _ := newTestStore(t)
	ctx := context.Background()

	rec := store.Save(ctx, TriggerHotZone, "t", "b", nil, "prospector")
	assert.Equal(t, 1, store.UnreadCount())

	require.True(t, store.MarkRead(ctx, rec.ID))
	got, ok := store.Get(rec.ID)
	require.True(t, ok)
	require.NotNil(t, got.ReadAt)
	firstReadAt := *got.ReadAt

	// Second mark succeeds but does not move the read timestamp.
	*now = now.Add(time.Hour)
	require.True(t, store.MarkRead(ctx, rec.ID))
	got, _ = store.Get(rec.ID)
	assert.Equal(t, firstReadAt, *got.ReadAt)
	assert.Equal(t, 0, store.UnreadCount())

	assert.False(t, store.MarkRead(ctx, "no-such-id"))
}

func TestStoreMarkAllRead(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		store.Save(ctx, TriggerDwell, "t", "b", nil, "prospector")
	}
	require.Equal(t, 4, store.UnreadCount())

	store.MarkAllRead(ctx)
	assert.Equal(t, 0, store.UnreadCount())
}

func TestStoreDeleteAndClear(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	a := store.Save(ctx, TriggerHotZone, "t", "b", nil, "prospector")
	b := store.Save(ctx, TriggerDwell, "t", "b", nil, "prospector")

	require.True(t, store.Delete(ctx, a.ID))
	assert.False(t, store.Delete(ctx, a.ID))
	_, ok := store.Get(b.ID)
	assert.True(t, ok)

	store.ClearAll(ctx)
	assert.Empty(t, store.Notifications())
}

func TestStoreSetInteraction(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	rec := store.Save(ctx, TriggerHotZone, "t", "b", nil, "prospector")
	require.True(t, store.SetInteraction(ctx, rec.ID, ActionTapped))

	got, ok := store.Get(rec.ID)
	require.True(t, ok)
	require.NotNil(t, got.Interaction)
	assert.Equal(t, ActionTapped, got.Interaction.Action)

	assert.False(t, store.SetInteraction(ctx, "missing", ActionTapped))
}

func TestStoreSweepExpired(t *testing.T) {
	store, now, _ := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, TriggerHotZone, "old", "b", nil, "prospector")
	*now = now.Add(8 * 24 * time.Hour)
	fresh := store.Save(ctx, TriggerHotZone, "fresh", "b", nil, "prospector")

	evicted := store.SweepExpired(ctx)
	assert.Equal(t, 1, evicted)

	notifs := store.Notifications()
	require.Len(t, notifs, 1)
	assert.Equal(t, fresh.ID, notifs[0].ID)

	assert.Equal(t, 0, store.SweepExpired(ctx))
}

func TestStorePersistenceRoundTrip(t *testing.T) {
	store, now, kvStore := newTestStore(t)
	ctx := context.Background()

	rec := store.Save(ctx, TriggerDwell, "title", "body", []string{"l1", "l2"}, "investor")
	require.True(t, store.MarkRead(ctx, rec.ID))
	require.True(t, store.SetInteraction(ctx, rec.ID, ActionDismissed))

	// A fresh store over the same kv sees the same log.
	reloaded := NewStore("u1", kvStore, testLogger())
	reloaded.now = func() time.Time { return *now }
	reloaded.Load(ctx)

	notifs := reloaded.Notifications()
	require.Len(t, notifs, 1)
	got := notifs[0]
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "title", got.Title)
	assert.Equal(t, []string{"l1", "l2"}, got.ListingIDs)
	assert.Equal(t, "investor", got.Tier)
	assert.True(t, got.Read)
	require.NotNil(t, got.Interaction)
	assert.Equal(t, ActionDismissed, got.Interaction.Action)
}

func TestStoreLoadDiscardsUnreadableSnapshot(t *testing.T) {
	kvStore := kv.NewMemory()
	ctx := context.Background()
	require.NoError(t, kvStore.Set(ctx, notificationsKey("u1"), "not json"))

	store := NewStore("u1", kvStore, testLogger())
	store.Load(ctx)
	assert.Empty(t, store.Notifications())

	// Unknown envelope version is also discarded.
	require.NoError(t, kvStore.Set(ctx, notificationsKey("u1"), `{"v":99,"data":[]}`))
	store.Load(ctx)
	assert.Empty(t, store.Notifications())
}

func TestStoreCountByTrigger(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	store.Save(ctx, TriggerHotZone, "t", "b", nil, "prospector")
	store.Save(ctx, TriggerHotZone, "t", "b", nil, "prospector")
	store.Save(ctx, TriggerDwell, "t", "b", nil, "prospector")

	counts := store.CountByTrigger()
	assert.Equal(t, 2, counts[TriggerHotZone])
	assert.Equal(t, 1, counts[TriggerDwell])
	assert.Equal(t, 0, counts[TriggerPriceDrop])
}

func TestStoreCountSinceAndOldestInWindow(t *testing.T) {
	store, now, _ := newTestStore(t)
	ctx := context.Background()
	start := *now

	for i := 0; i < 3; i++ {
		store.Save(ctx, TriggerHotZone, fmt.Sprintf("n%d", i), "b", nil, "prospector")
		*now = now.Add(30 * time.Minute)
	}

	assert.Equal(t, 3, store.CountSince(start))
	assert.Equal(t, 2, store.CountSince(start.Add(15*time.Minute)))

	oldest, ok := store.OldestInWindow(start.Add(15 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, start.Add(30*time.Minute), oldest)

	_, ok = store.OldestInWindow(now.Add(time.Hour))
	assert.False(t, ok)
}
