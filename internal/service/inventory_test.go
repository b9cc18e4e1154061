package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-credentials/internal/apperrors"
	"github.com/iliyamo/event-credentials/internal/model"
)

func TestInventory_TryClaimScenario(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.define(t, model.ResourceLunch, 10, 2)

	for i := 1; i <= 10; i++ {
		out, err := e.inventory.TryClaim(ctx, testEvent, model.ResourceLunch)
		require.NoError(t, err)
		assert.Equal(t, 10-i, out.Remaining)
		if i == 9 {
			assert.True(t, out.IsLow)
			assert.Equal(t, 1, out.Remaining)
		}
		if i < 8 {
			assert.False(t, out.IsLow, "claim %d", i)
		}
	}

	_, err := e.inventory.TryClaim(ctx, testEvent, model.ResourceLunch)
	assert.True(t, apperrors.Is(err, apperrors.CodeDepleted))

	_, err = e.inventory.TryClaim(ctx, testEvent, model.ResourceKit)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))

	status, err := e.inventory.Status(ctx, testEvent)
	require.NoError(t, err)
	require.Len(t, status, 1)
	assert.Equal(t, 10, status[0].Claimed)
	assert.Equal(t, 0, status[0].Remaining)
}

func TestInventory_SetLowThreshold(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	st, err := e.inventory.Define(ctx, testEvent, model.ResourceKit, 10, 1)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := e.inventory.TryClaim(ctx, testEvent, model.ResourceKit)
		require.NoError(t, err)
	}

	got, err := e.inventory.SetLowThreshold(ctx, testEvent, st.ID, 4)
	require.NoError(t, err)
	assert.True(t, got.IsLow, "remaining 4 <= threshold 4")

	got, err = e.inventory.SetLowThreshold(ctx, testEvent, st.ID, 3)
	require.NoError(t, err)
	assert.False(t, got.IsLow)

	_, err = e.inventory.SetLowThreshold(ctx, testEvent, st.ID, -1)
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
	_, err = e.inventory.SetLowThreshold(ctx, testEvent+1, st.ID, 1)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}

func TestInventory_Define(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	created, err := e.inventory.Define(ctx, testEvent, model.ResourceBadge, 3, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, created.Total)
	assert.Equal(t, 3, created.Remaining)

	for i := 0; i < 2; i++ {
		_, err := e.inventory.TryClaim(ctx, testEvent, model.ResourceBadge)
		require.NoError(t, err)
	}

	_, err = e.inventory.Define(ctx, testEvent, model.ResourceBadge, 1, 0)
	assert.True(t, apperrors.Is(err, apperrors.CodeStateConflict))

	grown, err := e.inventory.Define(ctx, testEvent, model.ResourceBadge, 8, 2)
	require.NoError(t, err)
	assert.Equal(t, created.ID, grown.ID)
	assert.Equal(t, 2, grown.Claimed)
	assert.Equal(t, 6, grown.Remaining)
	assert.False(t, grown.IsLow)

	_, err = e.inventory.Define(ctx, testEvent, model.ResourceSwag, -1, 0)
	assert.True(t, apperrors.Is(err, apperrors.CodeValidation))
}
