package world

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openrealm/server/internal/data"
)

func TestEquipAndUnequip(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 10, 1, intp(100)))

	require.NoError(t, tw.Equipment.Equip(ctx, 1, 0))
	eq, err := tw.Equipment.GetEquipment(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 10, eq[data.SlotWeapon].ItemID)
	inv, err := tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, inv)

	require.NoError(t, tw.Equipment.Unequip(ctx, 1, data.SlotWeapon))
	eq, err = tw.Equipment.GetEquipment(ctx, 1)
	require.NoError(t, err)
	_, worn := eq[data.SlotWeapon]
	require.False(t, worn)
	inv, err = tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 10, inv[0].ItemID)
	require.Equal(t, 100, *inv[0].Durability)
}

func TestEquipDisplacesOccupant(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 10, 1, intp(60)))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 1, 20, 1, intp(80)))

	require.NoError(t, tw.Equipment.Equip(ctx, 1, 0))
	require.NoError(t, tw.Equipment.Equip(ctx, 1, 1))

	eq, err := tw.Equipment.GetEquipment(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 20, eq[data.SlotWeapon].ItemID)

	// The sword came back to the lowest free slot with its durability.
	inv, err := tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 10, inv[0].ItemID)
	require.Equal(t, 60, *inv[0].Durability)
}

func TestTwoHandedDisplacesShield(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 30, 1, intp(60)))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 1, 20, 1, intp(80)))
	require.NoError(t, tw.Equipment.Equip(ctx, 1, 0))

	// The bow goes on, the shield comes off.
	require.NoError(t, tw.Equipment.Equip(ctx, 1, 1))
	eq, err := tw.Equipment.GetEquipment(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 20, eq[data.SlotWeapon].ItemID)
	_, worn := eq[data.SlotShield]
	require.False(t, worn)
	inv, err := tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 30, inv[0].ItemID)

	// And the reverse: the shield displaces the two-hander.
	require.NoError(t, tw.Equipment.Equip(ctx, 1, 0))
	eq, err = tw.Equipment.GetEquipment(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 30, eq[data.SlotShield].ItemID)
	_, worn = eq[data.SlotWeapon]
	require.False(t, worn)
}

func TestEquipRejectedWithoutRoom(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 10, 1, intp(100)))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 1, 30, 1, intp(60)))
	require.NoError(t, tw.Equipment.Equip(ctx, 1, 0))
	require.NoError(t, tw.Equipment.Equip(ctx, 1, 1))

	// Wearing sword and shield, a two-hander displaces both. With every
	// slot full only the bow's own slot frees up, so the equip is rejected.
	for i := 0; i < MaxInventorySlots; i++ {
		if i == 5 {
			require.NoError(t, tw.Inventory.SetSlot(ctx, 1, i, 20, 1, intp(80)))
			continue
		}
		require.NoError(t, tw.Inventory.SetSlot(ctx, 1, i, 50, 50, nil))
	}
	require.ErrorIs(t, tw.Equipment.Equip(ctx, 1, 5), ErrInventoryFull)

	// Nothing moved.
	eq, err := tw.Equipment.GetEquipment(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 10, eq[data.SlotWeapon].ItemID)
	require.EqualValues(t, 30, eq[data.SlotShield].ItemID)
	inv, err := tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 20, inv[5].ItemID)
}

func TestAmmoMergesIntoQuiver(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 40, 60, nil))
	require.NoError(t, tw.Equipment.Equip(ctx, 1, 0))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 40, 30, nil))
	require.NoError(t, tw.Equipment.Equip(ctx, 1, 0))

	eq, err := tw.Equipment.GetEquipment(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 90, eq[data.SlotAmmo].Quantity)
	inv, err := tw.Inventory.GetInventory(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, inv)
}

func TestEquipValidation(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 50, 5, nil))
	require.ErrorIs(t, tw.Equipment.Equip(ctx, 1, 0), ErrNotEquippable)
	require.ErrorIs(t, tw.Equipment.Equip(ctx, 1, 3), ErrSlotEmpty)
	require.ErrorIs(t, tw.Equipment.Unequip(ctx, 1, "hat"), ErrIllegalSlot)
}

func TestBonusesAndWeaponOf(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 10, 1, intp(100)))
	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 1, 30, 1, intp(60)))
	require.NoError(t, tw.Equipment.Equip(ctx, 1, 0))
	require.NoError(t, tw.Equipment.Equip(ctx, 1, 1))

	atk, def, err := tw.Equipment.Bonuses(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 4, atk)
	require.Equal(t, 3, def)

	wdef, slot, err := tw.Equipment.WeaponOf(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, wdef)
	require.EqualValues(t, 10, wdef.ID)
	require.Equal(t, 100, *slot.Durability)
}

func TestDecrWeaponDurability(t *testing.T) {
	tw := newTestWorld(t)
	ctx := context.Background()

	require.NoError(t, tw.Inventory.SetSlot(ctx, 1, 0, 10, 1, intp(2)))
	require.NoError(t, tw.Equipment.Equip(ctx, 1, 0))

	left, err := tw.Equipment.DecrWeaponDurability(ctx, 1, 10, 1)
	require.NoError(t, err)
	require.Equal(t, 1, left)

	// Floors at zero; the weapon stays worn as a broken item.
	left, err = tw.Equipment.DecrWeaponDurability(ctx, 1, 10, 5)
	require.NoError(t, err)
	require.Zero(t, left)
	eq, err := tw.Equipment.GetEquipment(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, *eq[data.SlotWeapon].Durability)

	// Wrong expected item id surfaces as a conflict.
	_, err = tw.Equipment.DecrWeaponDurability(ctx, 1, 20, 1)
	require.ErrorIs(t, err, ErrConflict)
}
