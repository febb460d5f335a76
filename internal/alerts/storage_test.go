package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitspectre/surveil/internal/models"
)

func TestStore_SaveRoundTrip(t *testing.T) {
	kvStore := newFakeKV()
	store := NewStore(kvStore, &fakeTSDB{})
	ctx := context.Background()

	a := testAlert(t, models.PriorityP2)
	require.NoError(t, store.Save(ctx, a, "triggered"))

	got, err := kvStore.GetAlert(ctx, a.AlertID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.AlertID, got.AlertID)
	assert.Equal(t, a.AlertType, got.AlertType)
	assert.True(t, got.TriggerValue.Equal(a.TriggerValue))
	assert.True(t, got.IsActive())

	require.Len(t, kvStore.published, 1)
	assert.Equal(t, a.AlertID, kvStore.published[0].AlertID)
	assert.Equal(t, "triggered", kvStore.published[0].Event)
}

func TestStore_UpdatePeakIsNoopWhenLessExtreme(t *testing.T) {
	kvStore := newFakeKV()
	tsdbStore := &fakeTSDB{}
	store := NewStore(kvStore, tsdbStore)
	ctx := context.Background()

	a := testAlert(t, models.PriorityP2)
	require.NoError(t, store.Save(ctx, a, "triggered"))
	writes := tsdbStore.upserts

	require.NoError(t, store.UpdatePeak(ctx, a, dec("3.1"), time.Now().UTC()))
	assert.Equal(t, writes, tsdbStore.upserts)
	assert.True(t, a.PeakValue.Equal(dec("3.5")))

	require.NoError(t, store.UpdatePeak(ctx, a, dec("4.0"), time.Now().UTC()))
	assert.Equal(t, writes+1, tsdbStore.upserts)
	assert.True(t, a.PeakValue.Equal(dec("4.0")))
}

func TestStore_GetAlertsForEscalationCheck(t *testing.T) {
	kvStore := newFakeKV()
	store := NewStore(kvStore, &fakeTSDB{})
	ctx := context.Background()
	now := time.Now().UTC()

	young := testAlert(t, models.PriorityP2)
	old := testAlert(t, models.PriorityP2)
	old.TriggeredAt = now.Add(-10 * time.Minute)
	p1 := testAlert(t, models.PriorityP1)
	p1.TriggeredAt = now.Add(-10 * time.Minute)

	require.NoError(t, store.Save(ctx, young, "triggered"))
	require.NoError(t, store.Save(ctx, old, "triggered"))
	require.NoError(t, store.Save(ctx, p1, "triggered"))

	due, err := store.GetAlertsForEscalationCheck(ctx, 300*time.Second, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, old.AlertID, due[0].AlertID)
}

func TestStore_UpdateResolutionRejectsDoubleResolve(t *testing.T) {
	store := NewStore(newFakeKV(), &fakeTSDB{})
	ctx := context.Background()
	now := time.Now().UTC()

	a := testAlert(t, models.PriorityP2)
	require.NoError(t, store.Save(ctx, a, "triggered"))
	require.NoError(t, store.UpdateResolution(ctx, a, now, models.ResolutionManual, nil))

	err := store.UpdateResolution(ctx, a, now.Add(time.Second), models.ResolutionManual, nil)
	assert.Error(t, err)
}
