package world

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openrealm/server/internal/persist"
)

func TestAddItemStacksAndFills(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 1, 10, nil))

	// Stackables top up the existing stack.
	require.NoError(t, tw.Inventory.AddItem(ctx, 1, 1, 5))
	inv, err := tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, inv, 1)
	require.Equal(t, 15, inv[0].Quantity)

	// Non-stackables take one slot each and spawn at full durability.
	require.NoError(t, tw.Inventory.AddItem(ctx, 1, 10, 1))
	require.NoError(t, tw.Inventory.AddItem(ctx, 1, 10, 1))
	inv, err = tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, inv, 3)
	require.EqualValues(t, 10, inv[1].ItemID)
	require.NotNil(t, inv[1].Durability)
	require.Equal(t, 100, *inv[1].Durability)
	require.EqualValues(t, 10, inv[2].ItemID)
}

func TestAddItemSplitsOverStackLimit(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	// arrows cap at 100 per stack
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 40, 90, nil))
	require.NoError(t, tw.Inventory.AddItem(ctx, 1, 40, 30))
	inv, err := tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, inv, 2)
	require.Equal(t, 100, inv[0].Quantity)
	require.Equal(t, 20, inv[1].Quantity)
}

func TestAddItemInventoryFull(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	for i := 0; i < MaxInventorySlots; i++ {
		require.NoError(t, tw.Inventory.SetSlot(ctx, 1, i, 10, 1, intp(100)))
	}
	err := tw.Inventory.AddItem(ctx, 1, 50, 1)
	require.ErrorIs(t, err, ErrInventoryFull)

	// All-or-nothing: a partial fit is also rejected.
	require.NoError(t, tw.Inventory.DeleteSlot(ctx, 1, 27))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 27, 50, 45, nil))
	err = tw.Inventory.AddItem(ctx, 1, 50, 10)
	require.ErrorIs(t, err, ErrInventoryFull)
	inv, err := tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 45, inv[27].Quantity)
}

func TestMoveItem(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 10, 1, intp(70)))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 1, 1, 25, nil))

	// Move into a free slot.
	require.NoError(t, tw.Inventory.MoveItem(ctx, 1, 0, 5))
	inv, err := tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	_, has := inv[0]
	require.False(t, has)
	require.EqualValues(t, 10, inv[5].ItemID)
	require.Equal(t, 70, *inv[5].Durability)

	// Swap two occupied slots.
	require.NoError(t, tw.Inventory.MoveItem(ctx, 1, 5, 1))
	inv, err = tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 10, inv[1].ItemID)
	require.EqualValues(t, 1, inv[5].ItemID)

	// Same-item stacks merge.
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 7, 1, 30, nil))
	require.NoError(t, tw.Inventory.MoveItem(ctx, 1, 7, 5))
	inv, err = tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	_, has = inv[7]
	require.False(t, has)
	require.Equal(t, 55, inv[5].Quantity)

	require.ErrorIs(t, tw.Inventory.MoveItem(ctx, 1, 20, 21), ErrSlotEmpty)
	require.ErrorIs(t, tw.Inventory.MoveItem(ctx, 1, 1, 1), ErrIllegalSlot)
	require.ErrorIs(t, tw.Inventory.MoveItem(ctx, 1, -1, 2), ErrIllegalSlot)
	require.ErrorIs(t, tw.Inventory.MoveItem(ctx, 1, 1, MaxInventorySlots), ErrIllegalSlot)
}

func TestRemoveQuantity(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 1, 30, nil))

	removed, err := tw.Inventory.RemoveQuantity(ctx, 1, 0, 12)
	require.NoError(t, err)
	require.Equal(t, 12, removed.Quantity)
	inv, err := tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 18, inv[0].Quantity)

	// Negative quantity takes the whole stack.
	removed, err = tw.Inventory.RemoveQuantity(ctx, 1, 0, -1)
	require.NoError(t, err)
	require.Equal(t, 18, removed.Quantity)
	inv, err = tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, inv)

	_, err = tw.Inventory.RemoveQuantity(ctx, 1, 0, 1)
	require.ErrorIs(t, err, ErrSlotEmpty)
}

func TestSortMergesAndOrders(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 3, 50, 30, nil))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 9, 10, 1, intp(40)))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 12, 50, 25, nil))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 20, 10, 1, intp(90)))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 25, 1, 500, nil))

	require.NoError(t, tw.Inventory.Sort(ctx, 1))
	inv, err := tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, inv, 4)

	// Ascending item id; equal ids order by higher durability first.
	require.EqualValues(t, 1, inv[0].ItemID)
	require.EqualValues(t, 10, inv[1].ItemID)
	require.Equal(t, 90, *inv[1].Durability)
	require.EqualValues(t, 10, inv[2].ItemID)
	require.Equal(t, 40, *inv[2].Durability)
	require.EqualValues(t, 50, inv[3].ItemID)
	require.Equal(t, 55, inv[3].Quantity)
}

func TestSortSplitsOversizedTotals(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	// hides cap at 50; three stacks totalling 120 resolve to 50/50/20
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 2, 50, 45, nil))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 8, 50, 45, nil))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 15, 50, 30, nil))

	require.NoError(t, tw.Inventory.Sort(ctx, 1))
	inv, err := tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, inv, 3)
	require.Equal(t, 50, inv[0].Quantity)
	require.Equal(t, 50, inv[1].Quantity)
	require.Equal(t, 20, inv[2].Quantity)
}

func TestInventoryHydration(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()
	tw.invRows[4] = []persist.InventorySlotRow{
		{Slot: 2, ItemID: 1, Quantity: 99},
		{Slot: 5, ItemID: 10, Quantity: 1, Durability: intp(60)},
	}

	inv, err := tw.Inventory.GetInventory(ctx, 4)
	require.NoError(t, err)
	require.Len(t, inv, 2)
	require.Equal(t, 99, inv[2].Quantity)
	require.Equal(t, 60, *inv[5].Durability)

	// Hydration wrote through; stacking now sees the real contents.
	require.NoError(t, tw.Inventory.AddItem(ctx, 4, 1, 1))
	inv, err = tw.Inventory.GetInventory(ctx, 4)
	require.NoError(t, err)
	require.Equal(t, 100, inv[2].Quantity)
}
