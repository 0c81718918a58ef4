package system

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openrealm/server/internal/cache"
	"github.com/openrealm/server/internal/core/clock"
	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/persist"
	"github.com/openrealm/server/internal/scripting"
	"github.com/openrealm/server/internal/world"
)

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

// fixture wires a full world against miniredis plus the services under test.
type fixture struct {
	world   *world.World
	catalog *data.Catalog
	clk     *clock.Simulated
	bus     *event.Bus
	cache   *cache.Client

	movement *MovementService
	hp       *HPService
}

// The arena is 10x8 with a solid border. (8,1) is a portal into the den;
// (8,6) is a portal whose destination is a den wall.
func testMaps(t *testing.T) *data.MapTable {
	t.Helper()
	arena, err := data.NewMapData(data.MapInfo{MapID: "arena", Name: "Arena", SpawnX: 5, SpawnY: 4},
		"##########",
		"#........#",
		"#........#",
		"#........#",
		"#........#",
		"#........#",
		"#...#....#",
		"##########",
	)
	require.NoError(t, err)
	den, err := data.NewMapData(data.MapInfo{MapID: "den", Name: "Den", SpawnX: 2, SpawnY: 2},
		"######",
		"#....#",
		"#....#",
		"#....#",
		"######",
	)
	require.NoError(t, err)
	return data.NewMapTable(arena, den)
}

func testPortals() *data.PortalTable {
	return data.NewPortalTable([]data.PortalDef{
		{MapID: "arena", X: 8, Y: 1, DestMapID: "den", DestX: 2, DestY: 2, DestFacing: data.FacingNorth},
		{MapID: "arena", X: 8, Y: 6, DestMapID: "den", DestX: 0, DestY: 0},
	})
}

func testCatalog(t *testing.T) *data.Catalog {
	t.Helper()
	return &data.Catalog{
		Items: data.NewItemTable(
			data.ItemDef{ID: 1, Name: "coin", Stackable: true, MaxStackSize: 1000000, Indestructible: true},
			data.ItemDef{ID: 10, Name: "bronze sword", EquipSlot: data.SlotWeapon, WeaponRange: 1, AttackBonus: 4, MaxDurability: 100},
			data.ItemDef{ID: 50, Name: "rabbit hide", Stackable: true, MaxStackSize: 50},
		),
		Skills: data.NewSkillTable(
			data.SkillDef{ID: 1, Name: data.SkillAttack},
			data.SkillDef{ID: 2, Name: data.SkillStrength},
			data.SkillDef{ID: 3, Name: data.SkillDefence},
			data.SkillDef{ID: 4, Name: data.SkillHitpoints, StartLevel: 10},
		),
		Entities: data.NewEntityTable(
			data.EntityDef{
				ID: 77, Name: "goblin", Behavior: "aggressive",
				MaxHP: 12, Defence: 1, AttackDamage: 2, AttackRange: 1,
				AttackSpeedTicks: 4, AggroRadius: 8, DisengageRadius: 16,
				WanderRadius: 4, RespawnDelay: 30,
			},
			data.EntityDef{ID: 78, Name: "rabbit", MaxHP: 3, WanderRadius: 6, RespawnDelay: 15},
			data.EntityDef{
				ID: 79, Name: "wolf", Behavior: "aggressive",
				MaxHP: 8, AttackDamage: 1, AttackRange: 1,
				AttackSpeedTicks: 4, AggroRadius: 8, DisengageRadius: 2,
				WanderRadius: 2, RespawnDelay: 30,
			},
		),
		Drops: data.NewDropTable(map[int64][]data.DropItem{
			78: {{ItemID: 50, Min: 1, Max: 1, Chance: data.DropChanceScale}},
		}),
		Maps:    testMaps(t),
		Portals: testPortals(),
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := cache.NewFromRedis(rdb, zap.NewNop())
	clk := clock.NewSimulated(time.Unix(1_700_000_000, 0))
	bus := event.NewBus()
	catalog := testCatalog(t)

	w := world.New(world.Deps{
		Cache:         c,
		Clock:         clk,
		Bus:           bus,
		Catalog:       catalog,
		XP:            data.NewXPTable(99, func(level int) int64 { n := int64(level - 1); return 100 * n * n }),
		Log:           zap.NewNop(),
		Players:       stubPlayers{},
		Inventory:     stubInventory{},
		Equipment:     stubEquipment{},
		Skills:        stubSkills{},
		StateTTL:      30 * time.Minute,
		GroundPrivacy: time.Minute,
		GroundDespawn: 3 * time.Minute,
	})

	log := zap.NewNop()
	hp := NewHPService(w.Players, w.Inventory, w.Ground, catalog.Items, catalog.Maps, clk, bus, log)
	mv := NewMovementService(w.Players, catalog.Maps, catalog.Portals, clk, 500*time.Millisecond, log)
	return &fixture{
		world:    w,
		catalog:  catalog,
		clk:      clk,
		bus:      bus,
		cache:    c,
		movement: mv,
		hp:       hp,
	}
}

// newCombat builds a combat system over the fixture with a deterministic rng.
// Cooldown 600ms at a 100ms tick gives 6 ticks between swings.
func (fx *fixture) newCombat(t *testing.T, seed int64) *CombatSystem {
	t.Helper()
	engine, err := scripting.NewEngine("../../scripts", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return NewCombatSystem(context.Background(), fx.world, fx.catalog, engine, fx.hp,
		fx.clk, fx.bus, rand.New(rand.NewSource(seed)),
		600*time.Millisecond, 100*time.Millisecond, 3, zap.NewNop())
}

func (fx *fixture) login(t *testing.T, id int64, name, mapID string, x, y int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.world.Players.RegisterOnline(ctx, id, name))
	require.NoError(t, fx.world.Players.SetFullState(ctx, &persist.PlayerRow{
		ID: id, Username: name, MapID: mapID, X: x, Y: y,
		Facing: data.FacingSouth, CurrentHP: 10, MaxHP: 10,
	}))
	require.NoError(t, fx.world.Skills.GrantAll(ctx, id))
}

func faultCode(t *testing.T, err error) *Fault {
	t.Helper()
	require.Error(t, err)
	f, ok := err.(*Fault)
	require.True(t, ok, "want *Fault, got %T: %v", err, err)
	return f
}
