package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openrealm/server/internal/cache"
	"github.com/openrealm/server/internal/core/clock"
	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/data"
	"go.uber.org/zap"
)

var (
	ErrGroundGone    = errors.New("world: ground item gone")
	ErrGroundPrivate = errors.New("world: ground item still private")
)

// GroundItemManager owns dropped item records. Records live in a per-map
// hash; a despawn zset orders expiry; a dirty buffer of map:id members tells
// the batch sync which rows to upsert or delete.
type GroundItemManager struct {
	cache   *cache.Client
	items   *data.ItemTable
	inv     *InventoryManager
	clock   clock.Clock
	bus     *event.Bus
	privacy time.Duration
	despawn time.Duration
	log     *zap.Logger
}

func NewGroundItemManager(c *cache.Client, items *data.ItemTable, inv *InventoryManager, clk clock.Clock, bus *event.Bus, privacy, despawn time.Duration, log *zap.Logger) *GroundItemManager {
	return &GroundItemManager{
		cache: c, items: items, inv: inv, clock: clk, bus: bus,
		privacy: privacy, despawn: despawn, log: log,
	}
}

// Create drops a stack at (map, x, y). droppedBy 0 means a world drop with
// no privacy window.
func (m *GroundItemManager) Create(ctx context.Context, itemID int64, mapID string, x, y, qty int, durability *int, droppedBy int64) (*GroundItem, error) {
	if m.items.Get(itemID) == nil {
		return nil, ErrUnknownItem
	}
	id, err := m.cache.Incr(ctx, cache.KeySeqGround)
	if err != nil {
		return nil, err
	}
	now := float64(m.clock.Now().UnixNano()) / 1e9
	g := &GroundItem{
		ID: id, ItemID: itemID, MapID: mapID, X: x, Y: y,
		Quantity: qty, Durability: durability, DroppedBy: droppedBy,
		DroppedAt: now,
		PublicAt:  now + m.privacy.Seconds(),
		DespawnAt: now + m.despawn.Seconds(),
	}
	if droppedBy == 0 {
		g.PublicAt = now
	}
	raw, _ := json.Marshal(g)
	if err := m.cache.HSet(ctx, cache.KeyGround(mapID), fmt.Sprint(id), string(raw)); err != nil {
		return nil, err
	}
	member := cache.GroundMember(mapID, id)
	if err := m.cache.ZAdd(ctx, cache.KeyGroundDespawn, g.DespawnAt, member); err != nil {
		return nil, err
	}
	if err := m.cache.SAdd(ctx, cache.KeyGroundDirty, member); err != nil {
		return nil, err
	}
	event.Emit(m.bus, event.GroundItemSpawned{
		GroundID: id, MapID: mapID, X: x, Y: y,
		ItemID: itemID, Quantity: qty, DroppedBy: droppedBy,
	})
	return g, nil
}

// Get returns one ground record, (nil, nil) when absent.
func (m *GroundItemManager) Get(ctx context.Context, mapID string, groundID int64) (*GroundItem, error) {
	raw, ok, err := m.cache.HGet(ctx, cache.KeyGround(mapID), fmt.Sprint(groundID))
	if err != nil || !ok {
		return nil, err
	}
	var g GroundItem
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("decode ground %d: %w", groundID, err)
	}
	return &g, nil
}

// ItemsOnMap returns every record on the map.
func (m *GroundItemManager) ItemsOnMap(ctx context.Context, mapID string) ([]*GroundItem, error) {
	h, err := m.cache.HGetAll(ctx, cache.KeyGround(mapID))
	if err != nil {
		return nil, err
	}
	out := make([]*GroundItem, 0, len(h))
	for _, raw := range h {
		var g GroundItem
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, nil
}

// PickUp enforces the privacy window, claims the record (first caller wins)
// and moves the stack into the player's inventory. On a full inventory the
// record is restored untouched.
func (m *GroundItemManager) PickUp(ctx context.Context, playerID int64, mapID string, groundID int64) (*GroundItem, error) {
	g, err := m.Get(ctx, mapID, groundID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGroundGone
	}
	now := float64(m.clock.Now().UnixNano()) / 1e9
	if now > g.DespawnAt {
		return nil, ErrGroundGone
	}
	if !g.VisibleTo(playerID, now) {
		return nil, ErrGroundPrivate
	}

	member := cache.GroundMember(mapID, groundID)
	claimed, err := m.cache.ClaimGround(ctx, cache.KeyGround(mapID), cache.KeyGroundDespawn,
		cache.KeyGroundDirty, groundID, member)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrGroundGone
	}

	if err := m.addToInventory(ctx, playerID, g); err != nil {
		// Return the claimed record to the world before reporting failure.
		raw, _ := json.Marshal(g)
		if rerr := m.cache.HSet(ctx, cache.KeyGround(mapID), fmt.Sprint(groundID), string(raw)); rerr != nil {
			m.log.Error("restore ground item after failed pickup",
				zap.Int64("ground_id", groundID), zap.Error(rerr))
		}
		_ = m.cache.ZAdd(ctx, cache.KeyGroundDespawn, g.DespawnAt, member)
		_ = m.cache.SAdd(ctx, cache.KeyGroundDirty, member)
		return nil, err
	}
	event.Emit(m.bus, event.GroundItemDespawned{GroundID: groundID, MapID: mapID, X: g.X, Y: g.Y})
	return g, nil
}

// addToInventory preserves a degraded item's durability; pristine stacks go
// through the stacking rule.
func (m *GroundItemManager) addToInventory(ctx context.Context, playerID int64, g *GroundItem) error {
	def := m.items.Get(g.ItemID)
	if def != nil && g.Durability != nil && *g.Durability < def.MaxDurability {
		return m.inv.AddSlot(ctx, playerID, Slot{ItemID: g.ItemID, Quantity: g.Quantity, Durability: g.Durability})
	}
	return m.inv.AddItem(ctx, playerID, g.ItemID, g.Quantity)
}

// SweepExpired removes every record past its despawn time and returns them.
func (m *GroundItemManager) SweepExpired(ctx context.Context) ([]*GroundItem, error) {
	now := float64(m.clock.Now().UnixNano()) / 1e9
	members, err := m.cache.ZRangeByScore(ctx, cache.KeyGroundDespawn, 0, now)
	if err != nil {
		return nil, err
	}
	var removed []*GroundItem
	for _, member := range members {
		mapID, groundID, ok := SplitGroundMember(member)
		if !ok {
			_ = m.cache.ZRem(ctx, cache.KeyGroundDespawn, member)
			continue
		}
		g, err := m.Get(ctx, mapID, groundID)
		if err != nil {
			return removed, err
		}
		claimed, err := m.cache.ClaimGround(ctx, cache.KeyGround(mapID), cache.KeyGroundDespawn,
			cache.KeyGroundDirty, groundID, member)
		if err != nil {
			return removed, err
		}
		if !claimed || g == nil {
			continue
		}
		removed = append(removed, g)
		event.Emit(m.bus, event.GroundItemDespawned{GroundID: groundID, MapID: mapID, X: g.X, Y: g.Y})
	}
	return removed, nil
}

func SplitGroundMember(member string) (mapID string, groundID int64, ok bool) {
	for i := len(member) - 1; i >= 0; i-- {
		if member[i] == ':' {
			return member[:i], atoi64(member[i+1:]), true
		}
	}
	return "", 0, false
}

// SeedIDSequence raises the id counter past ids already in the durable
// store. Called once at boot before any drop.
func (m *GroundItemManager) SeedIDSequence(ctx context.Context, maxID int64) error {
	if maxID <= 0 {
		return nil
	}
	return m.cache.SetMax(ctx, cache.KeySeqGround, maxID)
}

// Rehydrate reloads unexpired rows into the cache at boot.
func (m *GroundItemManager) Rehydrate(ctx context.Context, rows []GroundItem) error {
	for i := range rows {
		g := &rows[i]
		raw, _ := json.Marshal(g)
		if err := m.cache.HSet(ctx, cache.KeyGround(g.MapID), fmt.Sprint(g.ID), string(raw)); err != nil {
			return err
		}
		if err := m.cache.ZAdd(ctx, cache.KeyGroundDespawn, g.DespawnAt, cache.GroundMember(g.MapID, g.ID)); err != nil {
			return err
		}
	}
	return nil
}
