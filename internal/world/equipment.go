package world

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openrealm/server/internal/cache"
	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/persist"
	"go.uber.org/zap"
)

var ErrNotEquippable = errors.New("world: item not equippable")

// EquipmentManager owns worn items. Equip and unequip run as a single cache
// script so no observer ever sees an item both worn and carried.
type EquipmentManager struct {
	cache *cache.Client
	repo  EquipmentLoader
	inv   *InventoryManager
	items *data.ItemTable
	bus   *event.Bus
	ttl   time.Duration
	log   *zap.Logger
}

// EquipmentLoader is the durable-store read side used on a cache miss.
type EquipmentLoader interface {
	Load(ctx context.Context, playerID int64) ([]persist.EquipmentSlotRow, error)
}

func NewEquipmentManager(c *cache.Client, repo EquipmentLoader, inv *InventoryManager, items *data.ItemTable, bus *event.Bus, ttl time.Duration, log *zap.Logger) *EquipmentManager {
	return &EquipmentManager{cache: c, repo: repo, inv: inv, items: items, bus: bus, ttl: ttl, log: log}
}

// GetEquipment returns worn items keyed by slot name.
func (m *EquipmentManager) GetEquipment(ctx context.Context, playerID int64) (map[string]Slot, error) {
	h, err := m.cache.HGetAll(ctx, cache.KeyPlayerEquip(playerID))
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return m.hydrate(ctx, playerID)
	}
	out := make(map[string]Slot, len(h))
	for slot, v := range h {
		s, err := decodeSlot(v)
		if err != nil {
			return nil, err
		}
		out[slot] = s
	}
	return out, nil
}

func (m *EquipmentManager) hydrate(ctx context.Context, playerID int64) (map[string]Slot, error) {
	rows, err := m.repo.Load(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("hydrate equipment %d: %w", playerID, err)
	}
	out := make(map[string]Slot, len(rows))
	for _, r := range rows {
		s := Slot{ItemID: r.ItemID, Quantity: r.Quantity, Durability: r.Durability}
		out[r.Slot] = s
		if err := m.cache.HSet(ctx, cache.KeyPlayerEquip(playerID), r.Slot, encodeSlot(s)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Equip moves the item in invSlot to its equipment slot (resolved from the
// item definition). Displaced items (the slot's occupant, the shield when a
// two-hander goes on, the two-handed weapon when a shield goes on) return
// to free inventory slots; without room the operation is rejected untouched.
// Ammo merges into the quiver when the item matches.
func (m *EquipmentManager) Equip(ctx context.Context, playerID int64, invSlot int) error {
	inv, err := m.inv.GetInventory(ctx, playerID)
	if err != nil {
		return err
	}
	src, ok := inv[invSlot]
	if !ok {
		return ErrSlotEmpty
	}
	def := m.items.Get(src.ItemID)
	if def == nil {
		return ErrUnknownItem
	}
	if !def.Equippable() {
		return ErrNotEquippable
	}

	eq, err := m.GetEquipment(ctx, playerID)
	if err != nil {
		return err
	}
	// Shield onto a two-handed weapon displaces the weapon. The script
	// re-checks the weapon's identity so a concurrent swap aborts cleanly.
	displaceWeaponID := int64(-1)
	if def.EquipSlot == data.SlotShield {
		if w, ok := eq[data.SlotWeapon]; ok {
			if wdef := m.items.Get(w.ItemID); wdef != nil && wdef.TwoHanded {
				displaceWeaponID = w.ItemID
			}
		}
	}

	err = m.cache.Equip(ctx,
		cache.KeyPlayerInv(playerID), cache.KeyPlayerEquip(playerID),
		invSlot, def.EquipSlot, src.ItemID, def.TwoHanded,
		def.StackLimit(), MaxInventorySlots, displaceWeaponID)
	if err != nil {
		return translateCacheErr(err)
	}
	if err := markDirty(ctx, m.cache, CategoryInventories, playerID); err != nil {
		return err
	}
	if err := markDirty(ctx, m.cache, CategoryEquipment, playerID); err != nil {
		return err
	}
	event.Emit(m.bus, event.InventoryChanged{PlayerID: playerID})
	event.Emit(m.bus, event.EquipmentChanged{PlayerID: playerID})
	return nil
}

// Unequip moves a worn item into the lowest free inventory slot; a full
// inventory rejects the operation.
func (m *EquipmentManager) Unequip(ctx context.Context, playerID int64, eqSlot string) error {
	if !data.ValidEquipSlot(eqSlot) {
		return ErrIllegalSlot
	}
	// Miss → hydrate so the script sees real state on both keys.
	if _, err := m.GetEquipment(ctx, playerID); err != nil {
		return err
	}
	if _, err := m.inv.GetInventory(ctx, playerID); err != nil {
		return err
	}
	_, err := m.cache.Unequip(ctx,
		cache.KeyPlayerInv(playerID), cache.KeyPlayerEquip(playerID),
		eqSlot, MaxInventorySlots)
	if err != nil {
		return translateCacheErr(err)
	}
	if err := markDirty(ctx, m.cache, CategoryInventories, playerID); err != nil {
		return err
	}
	if err := markDirty(ctx, m.cache, CategoryEquipment, playerID); err != nil {
		return err
	}
	event.Emit(m.bus, event.InventoryChanged{PlayerID: playerID})
	event.Emit(m.bus, event.EquipmentChanged{PlayerID: playerID})
	return nil
}

// WeaponOf returns the equipped weapon definition and its slot record, or
// (nil, zero) when unarmed.
func (m *EquipmentManager) WeaponOf(ctx context.Context, playerID int64) (*data.ItemDef, Slot, error) {
	eq, err := m.GetEquipment(ctx, playerID)
	if err != nil {
		return nil, Slot{}, err
	}
	w, ok := eq[data.SlotWeapon]
	if !ok {
		return nil, Slot{}, nil
	}
	return m.items.Get(w.ItemID), w, nil
}

// Bonuses sums attack and defence bonuses over all worn items.
func (m *EquipmentManager) Bonuses(ctx context.Context, playerID int64) (attack, defence int, err error) {
	eq, err := m.GetEquipment(ctx, playerID)
	if err != nil {
		return 0, 0, err
	}
	for _, s := range eq {
		if def := m.items.Get(s.ItemID); def != nil {
			attack += def.AttackBonus
			defence += def.DefenceBonus
		}
	}
	return attack, defence, nil
}

// DecrWeaponDurability lowers the equipped weapon's durability, floored at
// zero. Returns the new value, -1 when the weapon does not degrade.
func (m *EquipmentManager) DecrWeaponDurability(ctx context.Context, playerID int64, weaponItemID int64, loss int) (int, error) {
	dur, err := m.cache.DecrDurability(ctx, cache.KeyPlayerEquip(playerID),
		data.SlotWeapon, weaponItemID, loss)
	if err != nil {
		return 0, translateCacheErr(err)
	}
	if err := markDirty(ctx, m.cache, CategoryEquipment, playerID); err != nil {
		return 0, err
	}
	event.Emit(m.bus, event.EquipmentChanged{PlayerID: playerID})
	return dur, nil
}

func (m *EquipmentManager) Clear(ctx context.Context, playerID int64) error {
	return m.cache.Del(ctx, cache.KeyPlayerEquip(playerID))
}
