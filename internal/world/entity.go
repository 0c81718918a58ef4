package world

import (
	"context"
	"errors"
	"fmt"

	"github.com/openrealm/server/internal/cache"
	"github.com/openrealm/server/internal/core/clock"
	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/data"
	"go.uber.org/zap"
)

var ErrEntityGone = errors.New("world: entity not found")

// EntityManager owns live monster/NPC instances. Instances are cache
// resident only; entity state is rebuilt from spawn points at boot, so the
// durable store never sees them.
type EntityManager struct {
	cache    *cache.Client
	entities *data.EntityTable
	clock    clock.Clock
	bus      *event.Bus
	log      *zap.Logger
}

func NewEntityManager(c *cache.Client, entities *data.EntityTable, clk clock.Clock, bus *event.Bus, log *zap.Logger) *EntityManager {
	return &EntityManager{cache: c, entities: entities, clock: clk, bus: bus, log: log}
}

// Spawn creates an instance at (x,y) with full HP.
func (m *EntityManager) Spawn(ctx context.Context, def *data.EntityDef, mapID string, x, y int, spawnPointID int, respawnDelay int) (*EntityInstance, error) {
	id, err := m.cache.Incr(ctx, cache.KeySeqEntity)
	if err != nil {
		return nil, err
	}
	if respawnDelay <= 0 {
		respawnDelay = def.RespawnDelay
	}
	now := float64(m.clock.Now().UnixNano()) / 1e9
	e := &EntityInstance{
		ID: id, DefID: def.ID, MapID: mapID, X: x, Y: y,
		CurrentHP: def.MaxHP, MaxHP: def.MaxHP, State: EntityIdle,
		SpawnX: x, SpawnY: y, WanderRadius: def.WanderRadius,
		SpawnPointID: spawnPointID, SpawnedAt: now, RespawnDelay: respawnDelay,
	}
	if err := m.write(ctx, e); err != nil {
		return nil, err
	}
	if err := m.cache.SAdd(ctx, cache.KeyEntities(mapID), id); err != nil {
		return nil, err
	}
	event.Emit(m.bus, event.EntitySpawned{InstanceID: id, DefID: def.ID, MapID: mapID, X: x, Y: y})
	return e, nil
}

func (m *EntityManager) write(ctx context.Context, e *EntityInstance) error {
	return m.cache.HSet(ctx, cache.KeyEntity(fmt.Sprint(e.ID)),
		"instance_id", e.ID,
		"def_id", e.DefID,
		"map_id", e.MapID,
		"x", e.X, "y", e.Y,
		"current_hp", e.CurrentHP, "max_hp", e.MaxHP,
		"state", e.State,
		"spawn_x", e.SpawnX, "spawn_y", e.SpawnY,
		"wander_radius", e.WanderRadius,
		"spawn_point_id", e.SpawnPointID,
		"target_player_id", e.TargetPlayerID,
		"spawned_at", ftoa(e.SpawnedAt),
		"respawn_delay", e.RespawnDelay,
		"last_attack_tick", e.LastAttackTick,
		"dying_ticks", e.DyingTicks,
	)
}

// Get returns an instance, (nil, nil) when absent.
func (m *EntityManager) Get(ctx context.Context, instanceID int64) (*EntityInstance, error) {
	h, err := m.cache.HGetAll(ctx, cache.KeyEntity(fmt.Sprint(instanceID)))
	if err != nil || len(h) == 0 {
		return nil, err
	}
	return parseEntity(h), nil
}

func parseEntity(h map[string]string) *EntityInstance {
	return &EntityInstance{
		ID:             atoi64(h["instance_id"]),
		DefID:          atoi64(h["def_id"]),
		MapID:          h["map_id"],
		X:              atoi(h["x"]),
		Y:              atoi(h["y"]),
		CurrentHP:      atoi(h["current_hp"]),
		MaxHP:          atoi(h["max_hp"]),
		State:          h["state"],
		SpawnX:         atoi(h["spawn_x"]),
		SpawnY:         atoi(h["spawn_y"]),
		WanderRadius:   atoi(h["wander_radius"]),
		SpawnPointID:   atoi(h["spawn_point_id"]),
		TargetPlayerID: atoi64(h["target_player_id"]),
		SpawnedAt:      atof(h["spawned_at"]),
		RespawnDelay:   atoi(h["respawn_delay"]),
		LastAttackTick: atoi64(h["last_attack_tick"]),
		DyingTicks:     atoi(h["dying_ticks"]),
	}
}

// EntitiesOnMap batch-reads every instance on the map.
func (m *EntityManager) EntitiesOnMap(ctx context.Context, mapID string) ([]*EntityInstance, error) {
	ids, err := m.cache.SMembers(ctx, cache.KeyEntities(mapID))
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cache.KeyEntity(id)
	}
	hashes, err := m.cache.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make([]*EntityInstance, 0, len(hashes))
	for _, h := range hashes {
		if len(h) == 0 {
			continue
		}
		out = append(out, parseEntity(h))
	}
	return out, nil
}

// SetPosition moves an instance one step.
func (m *EntityManager) SetPosition(ctx context.Context, instanceID int64, x, y int) error {
	return m.cache.HSet(ctx, cache.KeyEntity(fmt.Sprint(instanceID)), "x", x, "y", y)
}

// SetState transitions the lifecycle state.
func (m *EntityManager) SetState(ctx context.Context, instanceID int64, state string) error {
	return m.cache.HSet(ctx, cache.KeyEntity(fmt.Sprint(instanceID)), "state", state)
}

// SetTarget points the entity at a player; 0 clears.
func (m *EntityManager) SetTarget(ctx context.Context, instanceID, playerID int64) error {
	return m.cache.HSet(ctx, cache.KeyEntity(fmt.Sprint(instanceID)), "target_player_id", playerID)
}

// SetFields writes arbitrary hash fields. The AI tick uses this for combined
// transitions (state + dying counter).
func (m *EntityManager) SetFields(ctx context.Context, instanceID int64, pairs ...any) error {
	return m.cache.HSet(ctx, cache.KeyEntity(fmt.Sprint(instanceID)), pairs...)
}

// ApplyDamage clamp-decrements the instance's hp; at zero the state flips to
// dying and the target clears in the same atomic step.
func (m *EntityManager) ApplyDamage(ctx context.Context, instanceID int64, damage int) (newHP, dealt int, died bool, err error) {
	newHP, dealt, died, err = m.cache.DamageEntity(ctx, cache.KeyEntity(fmt.Sprint(instanceID)), damage)
	if errors.Is(err, cache.ErrNotFound) {
		return 0, 0, false, ErrEntityGone
	}
	return newHP, dealt, died, err
}

// Remove deletes a dead instance from the world. The hash stays behind so
// the respawn sweeper can rebuild from it.
func (m *EntityManager) Remove(ctx context.Context, instanceID int64, mapID string) error {
	return m.cache.SRem(ctx, cache.KeyEntities(mapID), instanceID)
}

// ScheduleRespawn queues the instance for revival at the given unix time.
func (m *EntityManager) ScheduleRespawn(ctx context.Context, instanceID int64, when float64) error {
	return m.cache.ZAdd(ctx, cache.KeyRespawnQueue, when, fmt.Sprint(instanceID))
}

// DueRespawns pops every instance due at now.
func (m *EntityManager) DueRespawns(ctx context.Context) ([]int64, error) {
	now := float64(m.clock.Now().UnixNano()) / 1e9
	members, err := m.cache.ZRangeByScore(ctx, cache.KeyRespawnQueue, 0, now)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, s := range members {
		if err := m.cache.ZRem(ctx, cache.KeyRespawnQueue, s); err != nil {
			return ids, err
		}
		ids = append(ids, atoi64(s))
	}
	return ids, nil
}

// Respawn revives a dead instance at its spawn point with full HP.
func (m *EntityManager) Respawn(ctx context.Context, instanceID int64) (*EntityInstance, error) {
	e, err := m.Get(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrEntityGone
	}
	e.X, e.Y = e.SpawnX, e.SpawnY
	e.CurrentHP = e.MaxHP
	e.State = EntityIdle
	e.TargetPlayerID = 0
	e.DyingTicks = 0
	e.SpawnedAt = float64(m.clock.Now().UnixNano()) / 1e9
	if err := m.write(ctx, e); err != nil {
		return nil, err
	}
	if err := m.cache.SAdd(ctx, cache.KeyEntities(e.MapID), e.ID); err != nil {
		return nil, err
	}
	event.Emit(m.bus, event.EntitySpawned{InstanceID: e.ID, DefID: e.DefID, MapID: e.MapID, X: e.X, Y: e.Y})
	return e, nil
}

// Def resolves the instance's definition.
func (m *EntityManager) Def(e *EntityInstance) *data.EntityDef {
	return m.entities.Get(e.DefID)
}
