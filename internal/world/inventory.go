package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/openrealm/server/internal/cache"
	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/persist"
	"go.uber.org/zap"
)

// Game-rule failures surfaced to handlers. Transport errors stay separate.
var (
	ErrInventoryFull = errors.New("world: inventory full")
	ErrUnknownItem   = errors.New("world: unknown item")
	ErrIllegalSlot   = errors.New("world: illegal slot")
	ErrSlotEmpty     = errors.New("world: slot empty")
	ErrConflict      = errors.New("world: concurrent modification")
)

// InventoryManager owns the 28-slot player inventories. All mutations run as
// cache scripts so concurrent commands from the same player's session and
// the game loop can never half-apply.
type InventoryManager struct {
	cache *cache.Client
	repo  InventoryLoader
	items *data.ItemTable
	bus   *event.Bus
	ttl   time.Duration
	log   *zap.Logger
}

// InventoryLoader is the durable-store read side used on a cache miss.
type InventoryLoader interface {
	Load(ctx context.Context, playerID int64) ([]persist.InventorySlotRow, error)
}

func NewInventoryManager(c *cache.Client, repo InventoryLoader, items *data.ItemTable, bus *event.Bus, ttl time.Duration, log *zap.Logger) *InventoryManager {
	return &InventoryManager{cache: c, repo: repo, items: items, bus: bus, ttl: ttl, log: log}
}

// GetInventory returns occupied slots keyed by index. An empty cache entry
// triggers hydration; hydrating a genuinely empty inventory is a no-op.
func (m *InventoryManager) GetInventory(ctx context.Context, playerID int64) (map[int]Slot, error) {
	h, err := m.cache.HGetAll(ctx, cache.KeyPlayerInv(playerID))
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return m.hydrate(ctx, playerID)
	}
	return decodeSlots(h)
}

func decodeSlots(h map[string]string) (map[int]Slot, error) {
	out := make(map[int]Slot, len(h))
	for k, v := range h {
		s, err := decodeSlot(v)
		if err != nil {
			return nil, err
		}
		out[atoi(k)] = s
	}
	return out, nil
}

func (m *InventoryManager) hydrate(ctx context.Context, playerID int64) (map[int]Slot, error) {
	rows, err := m.repo.Load(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("hydrate inventory %d: %w", playerID, err)
	}
	out := make(map[int]Slot, len(rows))
	for _, r := range rows {
		s := Slot{ItemID: r.ItemID, Quantity: r.Quantity, Durability: r.Durability}
		out[r.Slot] = s
		if err := m.cache.HSet(ctx, cache.KeyPlayerInv(playerID), fmt.Sprint(r.Slot), encodeSlot(s)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SetSlot writes one slot directly. Quantity is clamped to the item's stack
// limit; handlers use AddItem for the stacking rule.
func (m *InventoryManager) SetSlot(ctx context.Context, playerID int64, slot int, itemID int64, qty int, durability *int) error {
	if slot < 0 || slot >= MaxInventorySlots {
		return ErrIllegalSlot
	}
	def := m.items.Get(itemID)
	if def == nil {
		return ErrUnknownItem
	}
	if qty < 1 {
		qty = 1
	}
	if qty > def.StackLimit() {
		qty = def.StackLimit()
	}
	s := Slot{ItemID: itemID, Quantity: qty, Durability: durability}
	if err := m.cache.HSet(ctx, cache.KeyPlayerInv(playerID), fmt.Sprint(slot), encodeSlot(s)); err != nil {
		return err
	}
	if err := markDirty(ctx, m.cache, CategoryInventories, playerID); err != nil {
		return err
	}
	event.Emit(m.bus, event.InventoryChanged{PlayerID: playerID})
	return nil
}

func (m *InventoryManager) DeleteSlot(ctx context.Context, playerID int64, slot int) error {
	if err := m.cache.HDel(ctx, cache.KeyPlayerInv(playerID), fmt.Sprint(slot)); err != nil {
		return err
	}
	if err := markDirty(ctx, m.cache, CategoryInventories, playerID); err != nil {
		return err
	}
	event.Emit(m.bus, event.InventoryChanged{PlayerID: playerID})
	return nil
}

// AddItem places qty using the stacking rule: top up existing stacks of the
// item in ascending slot order, then the lowest free slots. All-or-nothing;
// ErrInventoryFull when the item cannot fit.
func (m *InventoryManager) AddItem(ctx context.Context, playerID, itemID int64, qty int) error {
	def := m.items.Get(itemID)
	if def == nil {
		return ErrUnknownItem
	}
	if qty < 1 {
		return fmt.Errorf("world: add quantity %d < 1", qty)
	}
	// Miss → hydrate first so stacking sees the real contents.
	if _, err := m.GetInventory(ctx, playerID); err != nil {
		return err
	}
	durability := -1
	if def.HasDurability() {
		durability = def.MaxDurability
	}
	_, err := m.cache.AddItemStacking(ctx, cache.KeyPlayerInv(playerID),
		itemID, qty, def.StackLimit(), def.Stackable, durability, MaxInventorySlots)
	if err != nil {
		return translateCacheErr(err)
	}
	if err := markDirty(ctx, m.cache, CategoryInventories, playerID); err != nil {
		return err
	}
	event.Emit(m.bus, event.InventoryChanged{PlayerID: playerID})
	return nil
}

// AddSlot places an exact stack (preserving durability) using the lowest free
// slot, without merging. Used when returning displaced or dropped stacks.
func (m *InventoryManager) AddSlot(ctx context.Context, playerID int64, s Slot) error {
	inv, err := m.GetInventory(ctx, playerID)
	if err != nil {
		return err
	}
	slot := -1
	for i := 0; i < MaxInventorySlots; i++ {
		if _, used := inv[i]; !used {
			slot = i
			break
		}
	}
	if slot < 0 {
		return ErrInventoryFull
	}
	if err := m.cache.HSet(ctx, cache.KeyPlayerInv(playerID), fmt.Sprint(slot), encodeSlot(s)); err != nil {
		return err
	}
	if err := markDirty(ctx, m.cache, CategoryInventories, playerID); err != nil {
		return err
	}
	event.Emit(m.bus, event.InventoryChanged{PlayerID: playerID})
	return nil
}

// MoveItem moves, merges or swaps two slots.
func (m *InventoryManager) MoveItem(ctx context.Context, playerID int64, from, to int) error {
	if from < 0 || from >= MaxInventorySlots || to < 0 || to >= MaxInventorySlots || from == to {
		return ErrIllegalSlot
	}
	inv, err := m.GetInventory(ctx, playerID)
	if err != nil {
		return err
	}
	src, ok := inv[from]
	if !ok {
		return ErrSlotEmpty
	}
	def := m.items.Get(src.ItemID)
	if def == nil {
		return ErrUnknownItem
	}
	if _, err := m.cache.MoveSlot(ctx, cache.KeyPlayerInv(playerID),
		from, to, src.ItemID, def.StackLimit()); err != nil {
		return translateCacheErr(err)
	}
	if err := markDirty(ctx, m.cache, CategoryInventories, playerID); err != nil {
		return err
	}
	event.Emit(m.bus, event.InventoryChanged{PlayerID: playerID})
	return nil
}

// RemoveQuantity takes qty from a slot (qty < 0 removes the whole stack).
// Returns the removed stack with durability carried over.
func (m *InventoryManager) RemoveQuantity(ctx context.Context, playerID int64, slot int, qty int) (Slot, error) {
	inv, err := m.GetInventory(ctx, playerID)
	if err != nil {
		return Slot{}, err
	}
	src, ok := inv[slot]
	if !ok {
		return Slot{}, ErrSlotEmpty
	}
	removed, _, err := m.cache.RemoveQuantity(ctx, cache.KeyPlayerInv(playerID), slot, src.ItemID, qty)
	if err != nil {
		return Slot{}, translateCacheErr(err)
	}
	if err := markDirty(ctx, m.cache, CategoryInventories, playerID); err != nil {
		return Slot{}, err
	}
	event.Emit(m.bus, event.InventoryChanged{PlayerID: playerID})
	return Slot{ItemID: src.ItemID, Quantity: removed, Durability: src.Durability}, nil
}

// Sort compacts the inventory: stacks of the same item merge up to the stack
// limit, then slots reorder by ascending item id with higher durability
// first. The rewrite is compare-and-swap against the snapshot it read, so a
// concurrent mutation surfaces as ErrConflict instead of losing items.
func (m *InventoryManager) Sort(ctx context.Context, playerID int64) error {
	inv, err := m.GetInventory(ctx, playerID)
	if err != nil {
		return err
	}
	if len(inv) == 0 {
		return nil
	}

	sorted := sortSlots(inv, m.items)

	expected := make(map[string]Slot, len(inv))
	for idx, s := range inv {
		expected[fmt.Sprint(idx)] = s
	}
	next := make(map[string]Slot, len(sorted))
	for i, s := range sorted {
		next[fmt.Sprint(i)] = s
	}
	expJSON, _ := json.Marshal(expected)
	newJSON, _ := json.Marshal(next)

	if err := m.cache.ReplaceInventory(ctx, cache.KeyPlayerInv(playerID),
		string(expJSON), string(newJSON)); err != nil {
		return translateCacheErr(err)
	}
	if err := markDirty(ctx, m.cache, CategoryInventories, playerID); err != nil {
		return err
	}
	event.Emit(m.bus, event.InventoryChanged{PlayerID: playerID})
	return nil
}

// sortSlots merges and orders stacks. Order: ascending item id, then higher
// durability first, stable beyond that.
func sortSlots(inv map[int]Slot, items *data.ItemTable) []Slot {
	indices := make([]int, 0, len(inv))
	for i := range inv {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	var flat []Slot
	for _, i := range indices {
		flat = append(flat, inv[i])
	}

	// Merge stackables item by item.
	var merged []Slot
	seen := make(map[int64]bool)
	for _, s := range flat {
		def := items.Get(s.ItemID)
		if def == nil || !def.Stackable {
			merged = append(merged, s)
			continue
		}
		if seen[s.ItemID] {
			continue
		}
		seen[s.ItemID] = true
		total := 0
		for _, other := range flat {
			if other.ItemID == s.ItemID {
				total += other.Quantity
			}
		}
		limit := def.StackLimit()
		for total > 0 {
			n := total
			if n > limit {
				n = limit
			}
			merged = append(merged, Slot{ItemID: s.ItemID, Quantity: n})
			total -= n
		}
	}

	sort.SliceStable(merged, func(a, b int) bool {
		if merged[a].ItemID != merged[b].ItemID {
			return merged[a].ItemID < merged[b].ItemID
		}
		da, db := -1, -1
		if merged[a].Durability != nil {
			da = *merged[a].Durability
		}
		if merged[b].Durability != nil {
			db = *merged[b].Durability
		}
		return da > db
	})
	return merged
}

// Clear drops the cached inventory on logout, after the final sync.
func (m *InventoryManager) Clear(ctx context.Context, playerID int64) error {
	return m.cache.Del(ctx, cache.KeyPlayerInv(playerID))
}

func translateCacheErr(err error) error {
	switch {
	case errors.Is(err, cache.ErrInventoryFull):
		return ErrInventoryFull
	case errors.Is(err, cache.ErrNoSpace):
		return ErrInventoryFull
	case errors.Is(err, cache.ErrConflict):
		return ErrConflict
	case errors.Is(err, cache.ErrNotFound):
		return ErrSlotEmpty
	}
	return err
}
