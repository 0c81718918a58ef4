package world

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openrealm/server/internal/cache"
	"github.com/openrealm/server/internal/core/clock"
	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/persist"
)

// Stub loaders stand in for the durable store. Hydration paths that should
// not fire in a test simply leave the maps empty.

type stubPlayers map[int64]*persist.PlayerRow

func (s stubPlayers) Load(_ context.Context, id int64) (*persist.PlayerRow, error) {
	return s[id], nil
}

type stubInventory map[int64][]persist.InventorySlotRow

func (s stubInventory) Load(_ context.Context, playerID int64) ([]persist.InventorySlotRow, error) {
	return s[playerID], nil
}

type stubEquipment map[int64][]persist.EquipmentSlotRow

func (s stubEquipment) Load(_ context.Context, playerID int64) ([]persist.EquipmentSlotRow, error) {
	return s[playerID], nil
}

type stubSkills map[int64][]persist.PlayerSkillRow

func (s stubSkills) Load(_ context.Context, playerID int64) ([]persist.PlayerSkillRow, error) {
	return s[playerID], nil
}

type testWorld struct {
	*World
	clk     *clock.Simulated
	bus     *event.Bus
	cache   *cache.Client
	catalog *data.Catalog
	rows    stubPlayers
	invRows stubInventory
}

func testItems() *data.ItemTable {
	return data.NewItemTable(
		data.ItemDef{ID: 1, Name: "coin", Stackable: true, MaxStackSize: 1000000, Indestructible: true},
		data.ItemDef{ID: 10, Name: "bronze sword", EquipSlot: data.SlotWeapon, WeaponRange: 1, AttackBonus: 4, MaxDurability: 100},
		data.ItemDef{ID: 20, Name: "oak longbow", EquipSlot: data.SlotWeapon, TwoHanded: true, WeaponRange: 7, AttackBonus: 6, MaxDurability: 80},
		data.ItemDef{ID: 30, Name: "wooden shield", EquipSlot: data.SlotShield, DefenceBonus: 3, MaxDurability: 60},
		data.ItemDef{ID: 40, Name: "arrow", Stackable: true, MaxStackSize: 100, EquipSlot: data.SlotAmmo, AmmoFor: "bow"},
		data.ItemDef{ID: 50, Name: "rabbit hide", Stackable: true, MaxStackSize: 50},
	)
}

func testSkillDefs() *data.SkillTable {
	return data.NewSkillTable(
		data.SkillDef{ID: 1, Name: data.SkillAttack},
		data.SkillDef{ID: 2, Name: data.SkillStrength},
		data.SkillDef{ID: 3, Name: data.SkillDefence},
		data.SkillDef{ID: 4, Name: data.SkillHitpoints, StartLevel: 10},
	)
}

func testEntityDefs() *data.EntityTable {
	return data.NewEntityTable(
		data.EntityDef{
			ID: 77, Name: "goblin", Behavior: "aggressive",
			MaxHP: 12, Defence: 3, AttackDamage: 2, AttackRange: 1,
			AttackSpeedTicks: 4, AggroRadius: 8, DisengageRadius: 16,
			WanderRadius: 4, RespawnDelay: 30,
		},
		data.EntityDef{ID: 78, Name: "rabbit", MaxHP: 3, WanderRadius: 6, RespawnDelay: 15},
	)
}

// quadratic test curve: level n needs 100*(n-1)^2 total xp
func testXPTable() *data.XPTable {
	return data.NewXPTable(99, func(level int) int64 {
		n := int64(level - 1)
		return 100 * n * n
	})
}

func newTestWorld(t *testing.T) *testWorld {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewFromRedis(rdb, zap.NewNop())
	clk := clock.NewSimulated(time.Unix(1_700_000_000, 0))
	bus := event.NewBus()
	rows := stubPlayers{}
	invRows := stubInventory{}

	catalog := &data.Catalog{
		Items:    testItems(),
		Skills:   testSkillDefs(),
		Entities: testEntityDefs(),
		Drops:    data.NewDropTable(nil),
	}
	w := New(Deps{
		Cache:         c,
		Clock:         clk,
		Bus:           bus,
		Catalog:       catalog,
		XP:            testXPTable(),
		Log:           zap.NewNop(),
		Players:       rows,
		Inventory:     invRows,
		Equipment:     stubEquipment{},
		Skills:        stubSkills{},
		StateTTL:      30 * time.Minute,
		GroundPrivacy: time.Minute,
		GroundDespawn: 3 * time.Minute,
	})
	return &testWorld{World: w, clk: clk, bus: bus, cache: c, catalog: catalog, rows: rows, invRows: invRows}
}

// bringOnline registers the player and seeds position and hp, the state a
// player holds right after login hydration.
func (tw *testWorld) bringOnline(t *testing.T, id int64, name, mapID string, x, y int) {
	t.Helper()
	ctx := context.Background()
	if err := tw.Players.RegisterOnline(ctx, id, name); err != nil {
		t.Fatalf("register online: %v", err)
	}
	row := &persist.PlayerRow{
		ID: id, Username: name, MapID: mapID, X: x, Y: y,
		Facing: data.FacingSouth, CurrentHP: 10, MaxHP: 10,
	}
	if err := tw.Players.SetFullState(ctx, row); err != nil {
		t.Fatalf("set full state: %v", err)
	}
}

func intp(v int) *int { return &v }
