package pending

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remitgate/internal/settlement/models"
)

func TestInMemory(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	t.Run("lists oldest first", func(t *testing.T) {
		store := NewInMemory()
		require.NoError(t, store.Save(ctx, models.Pending{Ref: "0xb", Op: models.PendingDeposit, SubmittedAt: base.Add(time.Minute)}))
		require.NoError(t, store.Save(ctx, models.Pending{Ref: "0xa", Op: models.PendingWithdraw, SubmittedAt: base}))

		got, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "0xa", got[0].Ref)
		assert.Equal(t, "0xb", got[1].Ref)
	})

	t.Run("save is idempotent per ref", func(t *testing.T) {
		store := NewInMemory()
		p := models.Pending{Ref: "0xa", Op: models.PendingDeposit, SubmittedAt: base}
		require.NoError(t, store.Save(ctx, p))
		require.NoError(t, store.Save(ctx, p))

		got, err := store.List(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("delete removes", func(t *testing.T) {
		store := NewInMemory()
		require.NoError(t, store.Save(ctx, models.Pending{Ref: "0xa"}))
		require.NoError(t, store.Delete(ctx, "0xa"))
		require.NoError(t, store.Delete(ctx, "0xmissing"))

		got, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("amounts are copied", func(t *testing.T) {
		store := NewInMemory()
		amount := big.NewInt(100)
		require.NoError(t, store.Save(ctx, models.Pending{Ref: "0xa", Amount: amount}))
		amount.SetInt64(1)

		got, err := store.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(100), got[0].Amount.Int64())
	})
}
