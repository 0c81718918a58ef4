package world

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openrealm/server/internal/cache"
	"github.com/openrealm/server/internal/core/clock"
	"github.com/openrealm/server/internal/core/event"
	"github.com/openrealm/server/internal/persist"
	"go.uber.org/zap"
)

// ErrDuplicateOnline signals a second registration for an id already online.
// The caller terminates the offending session; the server stays up.
var ErrDuplicateOnline = fmt.Errorf("world: player already registered online")

// PlayerStateManager owns the online registry, positions, hitpoints and
// combat state. The cache copy is authoritative while the player is online.
type PlayerStateManager struct {
	cache   *cache.Client
	players PlayerLoader
	clock   clock.Clock
	bus     *event.Bus
	ttl     time.Duration
	log     *zap.Logger
}

// PlayerLoader is the durable-store read side used on a cache miss.
type PlayerLoader interface {
	Load(ctx context.Context, id int64) (*persist.PlayerRow, error)
}

func NewPlayerStateManager(c *cache.Client, repo PlayerLoader, clk clock.Clock, bus *event.Bus, ttl time.Duration, log *zap.Logger) *PlayerStateManager {
	return &PlayerStateManager{cache: c, players: repo, clock: clk, bus: bus, ttl: ttl, log: log}
}

func dirtyKey(category string) string {
	switch category {
	case CategoryPositions:
		return cache.KeyDirtyPositions
	case CategoryInventories:
		return cache.KeyDirtyInventories
	case CategoryEquipment:
		return cache.KeyDirtyEquipment
	case CategorySkills:
		return cache.KeyDirtySkills
	}
	return "dirty:" + category
}

// markDirty flags the owner for the next sync cycle. Every mutator calls this
// after its cache write and before returning, so no mutation is lost.
func markDirty(ctx context.Context, c *cache.Client, category string, playerID int64) error {
	return c.SAdd(ctx, dirtyKey(category), playerID)
}

// ==================== online registry ====================

// RegisterOnline adds the player to the online registry. Duplicate
// registration is an invariant violation and returns ErrDuplicateOnline.
func (m *PlayerStateManager) RegisterOnline(ctx context.Context, playerID int64, username string) error {
	online, err := m.cache.SIsMember(ctx, cache.KeyOnlineIDs, playerID)
	if err != nil {
		return err
	}
	if online {
		m.log.Error("duplicate online registration",
			zap.Int64("player_id", playerID), zap.String("username", username))
		return ErrDuplicateOnline
	}
	if err := m.cache.SAdd(ctx, cache.KeyOnlineIDs, playerID); err != nil {
		return err
	}
	if err := m.cache.HSet(ctx, cache.KeyIDToName, fmt.Sprint(playerID), username); err != nil {
		return err
	}
	return m.cache.HSet(ctx, cache.KeyNameToID, strings.ToLower(username), playerID)
}

func (m *PlayerStateManager) UnregisterOnline(ctx context.Context, playerID int64) error {
	name, _, err := m.cache.HGet(ctx, cache.KeyIDToName, fmt.Sprint(playerID))
	if err != nil {
		return err
	}
	if err := m.cache.SRem(ctx, cache.KeyOnlineIDs, playerID); err != nil {
		return err
	}
	if err := m.cache.HDel(ctx, cache.KeyIDToName, fmt.Sprint(playerID)); err != nil {
		return err
	}
	if name != "" {
		return m.cache.HDel(ctx, cache.KeyNameToID, strings.ToLower(name))
	}
	return nil
}

func (m *PlayerStateManager) IsOnline(ctx context.Context, playerID int64) (bool, error) {
	return m.cache.SIsMember(ctx, cache.KeyOnlineIDs, playerID)
}

// OnlineIDs returns every registered player id.
func (m *PlayerStateManager) OnlineIDs(ctx context.Context) ([]int64, error) {
	members, err := m.cache.SMembers(ctx, cache.KeyOnlineIDs)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, s := range members {
		ids = append(ids, atoi64(s))
	}
	return ids, nil
}

// NameOf resolves an online player's username, "" when offline.
func (m *PlayerStateManager) NameOf(ctx context.Context, playerID int64) (string, error) {
	name, _, err := m.cache.HGet(ctx, cache.KeyIDToName, fmt.Sprint(playerID))
	return name, err
}

// IDOf resolves an online username (case-insensitive), 0 when offline.
func (m *PlayerStateManager) IDOf(ctx context.Context, username string) (int64, error) {
	v, ok, err := m.cache.HGet(ctx, cache.KeyNameToID, strings.ToLower(username))
	if err != nil || !ok {
		return 0, err
	}
	return atoi64(v), nil
}

// ==================== position ====================

// GetPosition reads the cached position, hydrating from the durable store on
// a miss. Returns (nil, nil) when the player does not exist at all.
func (m *PlayerStateManager) GetPosition(ctx context.Context, playerID int64) (*Position, error) {
	h, err := m.cache.HGetAll(ctx, cache.KeyPlayerPos(playerID))
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		row, err := m.hydrate(ctx, playerID)
		if err != nil || row == nil {
			return nil, err
		}
		return &Position{MapID: row.MapID, X: row.X, Y: row.Y, Facing: row.Facing}, nil
	}
	return &Position{
		MapID:        h["map_id"],
		X:            atoi(h["x"]),
		Y:            atoi(h["y"]),
		Facing:       h["facing"],
		LastMoveTime: atof(h["last_move_time"]),
	}, nil
}

// SetPosition writes the position atomically (hash plus per-map index) and
// marks the positions category dirty. moveTime < 0 leaves the cooldown stamp
// untouched (teleports); otherwise it becomes the new last_move_time.
func (m *PlayerStateManager) SetPosition(ctx context.Context, playerID int64, mapID string, x, y int, facing string, moveTime float64) error {
	old, err := m.GetPosition(ctx, playerID)
	if err != nil {
		return err
	}
	oldMap := mapID
	oldX, oldY := x, y
	if old != nil {
		oldMap = old.MapID
		oldX, oldY = old.X, old.Y
	}
	mt := ""
	if moveTime >= 0 {
		mt = ftoa(moveTime)
	}
	if err := m.cache.SetPosition(ctx,
		cache.KeyPlayerPos(playerID), cache.KeyPosIndex(mapID), cache.KeyPosIndex(oldMap),
		playerID, mapID, x, y, facing, mt); err != nil {
		return err
	}
	if err := markDirty(ctx, m.cache, CategoryPositions, playerID); err != nil {
		return err
	}
	event.Emit(m.bus, event.PositionChanged{
		PlayerID: playerID, MapID: mapID,
		OldX: oldX, OldY: oldY, X: x, Y: y, Facing: facing,
	})
	return nil
}

// GetNearbyPlayerIDs returns online players on the map within Chebyshev
// radius of (x,y), excluding nobody.
func (m *PlayerStateManager) GetNearbyPlayerIDs(ctx context.Context, mapID string, x, y, radius int) ([]int64, error) {
	index, err := m.cache.HGetAll(ctx, cache.KeyPosIndex(mapID))
	if err != nil {
		return nil, err
	}
	var ids []int64
	for idStr, pos := range index {
		px, py, ok := splitCoords(pos)
		if !ok {
			continue
		}
		if Chebyshev(x, y, px, py) <= radius {
			ids = append(ids, atoi64(idStr))
		}
	}
	return ids, nil
}

func splitCoords(s string) (x, y int, ok bool) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return 0, 0, false
	}
	return atoi(s[:i]), atoi(s[i+1:]), true
}

// ==================== hitpoints ====================

func (m *PlayerStateManager) GetHP(ctx context.Context, playerID int64) (*HP, error) {
	h, err := m.cache.HGetAll(ctx, cache.KeyPlayerHP(playerID))
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		row, err := m.hydrate(ctx, playerID)
		if err != nil || row == nil {
			return nil, err
		}
		return &HP{Current: row.CurrentHP, Max: row.MaxHP}, nil
	}
	return &HP{Current: atoi(h["current"]), Max: atoi(h["max"])}, nil
}

// SetHP writes both bounds. current is clamped into [0, max].
func (m *PlayerStateManager) SetHP(ctx context.Context, playerID int64, current, max int) error {
	if max < 1 {
		return fmt.Errorf("world: max hp %d < 1", max)
	}
	if current < 0 {
		current = 0
	}
	if current > max {
		current = max
	}
	if err := m.cache.HSet(ctx, cache.KeyPlayerHP(playerID), "current", current, "max", max); err != nil {
		return err
	}
	if err := markDirty(ctx, m.cache, CategoryPositions, playerID); err != nil {
		return err
	}
	m.emitHP(ctx, playerID, current, max)
	return nil
}

// ApplyDamage clamp-decrements hp; at zero the combat key dies in the same
// atomic step, so no observer sees hp == 0 with live combat state.
func (m *PlayerStateManager) ApplyDamage(ctx context.Context, playerID int64, damage int) (newHP, dealt int, err error) {
	newHP, dealt, err = m.cache.ApplyDamage(ctx,
		cache.KeyPlayerHP(playerID), cache.KeyPlayerCombat(playerID), damage)
	if err != nil {
		return 0, 0, err
	}
	if err := markDirty(ctx, m.cache, CategoryPositions, playerID); err != nil {
		return 0, 0, err
	}
	m.emitHP(ctx, playerID, newHP, -1)
	return newHP, dealt, nil
}

// Heal cap-increments hp up to max.
func (m *PlayerStateManager) Heal(ctx context.Context, playerID int64, amount int) (int, error) {
	newHP, err := m.cache.Heal(ctx, cache.KeyPlayerHP(playerID), amount)
	if err != nil {
		return 0, err
	}
	if err := markDirty(ctx, m.cache, CategoryPositions, playerID); err != nil {
		return 0, err
	}
	m.emitHP(ctx, playerID, newHP, -1)
	return newHP, nil
}

func (m *PlayerStateManager) emitHP(ctx context.Context, playerID int64, current, max int) {
	if max < 0 {
		if hp, err := m.GetHP(ctx, playerID); err == nil && hp != nil {
			max = hp.Max
		}
	}
	mapID := ""
	if pos, err := m.GetPosition(ctx, playerID); err == nil && pos != nil {
		mapID = pos.MapID
	}
	event.Emit(m.bus, event.PlayerHPChanged{PlayerID: playerID, MapID: mapID, Current: current, Max: max})
}

// ==================== combat state ====================

// GetCombatState returns nil when the player is not engaged.
func (m *PlayerStateManager) GetCombatState(ctx context.Context, playerID int64) (*CombatState, error) {
	h, err := m.cache.HGetAll(ctx, cache.KeyPlayerCombat(playerID))
	if err != nil || len(h) == 0 {
		return nil, err
	}
	return &CombatState{
		TargetType:     h["target_type"],
		TargetID:       atoi64(h["target_id"]),
		LastAttackTick: atoi64(h["last_attack_tick"]),
		AttackSpeed:    atoi(h["attack_speed"]),
	}, nil
}

func (m *PlayerStateManager) SetCombatState(ctx context.Context, playerID int64, cs CombatState) error {
	return m.cache.HSet(ctx, cache.KeyPlayerCombat(playerID),
		"target_type", cs.TargetType,
		"target_id", cs.TargetID,
		"last_attack_tick", cs.LastAttackTick,
		"attack_speed", cs.AttackSpeed)
}

func (m *PlayerStateManager) ClearCombatState(ctx context.Context, playerID int64) error {
	return m.cache.Del(ctx, cache.KeyPlayerCombat(playerID))
}

// ==================== lifecycle ====================

// Hydrate primes the hot store from a freshly loaded row on login. When the
// previous session's state still sits in the cache (reconnect landing before
// the final sync flushed), the cache wins over the durable row, which may be
// stale by up to one sync interval; only the per-map index entry is restored.
// A cold cache takes the row wholesale.
func (m *PlayerStateManager) Hydrate(ctx context.Context, row *persist.PlayerRow) error {
	warm, err := m.cache.Exists(ctx, cache.KeyPlayerPos(row.ID))
	if err != nil {
		return err
	}
	if !warm {
		return m.SetFullState(ctx, row)
	}
	pos, err := m.GetPosition(ctx, row.ID)
	if err != nil {
		return err
	}
	if err := m.cache.HSet(ctx, cache.KeyPosIndex(pos.MapID),
		fmt.Sprint(row.ID), fmt.Sprintf("%d:%d", pos.X, pos.Y)); err != nil {
		return err
	}
	hpWarm, err := m.cache.Exists(ctx, cache.KeyPlayerHP(row.ID))
	if err != nil {
		return err
	}
	if !hpWarm {
		if err := m.cache.HSet(ctx, cache.KeyPlayerHP(row.ID),
			"current", row.CurrentHP, "max", row.MaxHP); err != nil {
			return err
		}
	}
	// Offline reads bound these keys with a TTL; the owner is online again.
	if err := m.cache.Persist(ctx, cache.KeyPlayerPos(row.ID)); err != nil {
		return err
	}
	return m.cache.Persist(ctx, cache.KeyPlayerHP(row.ID))
}

// SetFullState writes position and hitpoints from a freshly loaded row.
// Called during login hydration, before the player is observable.
func (m *PlayerStateManager) SetFullState(ctx context.Context, row *persist.PlayerRow) error {
	if err := m.cache.SetPosition(ctx,
		cache.KeyPlayerPos(row.ID), cache.KeyPosIndex(row.MapID), cache.KeyPosIndex(row.MapID),
		row.ID, row.MapID, row.X, row.Y, row.Facing, "0"); err != nil {
		return err
	}
	return m.cache.HSet(ctx, cache.KeyPlayerHP(row.ID), "current", row.CurrentHP, "max", row.MaxHP)
}

// MarkAllDirty places the player in every dirty category so the next sync
// cycle flushes a complete snapshot. Logout path.
func (m *PlayerStateManager) MarkAllDirty(ctx context.Context, playerID int64) error {
	for _, cat := range []string{CategoryPositions, CategoryInventories, CategoryEquipment, CategorySkills} {
		if err := markDirty(ctx, m.cache, cat, playerID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFromMapIndex drops the player's per-map index entry so nearby scans
// stop returning them. The state hashes stay behind for the final flush.
func (m *PlayerStateManager) RemoveFromMapIndex(ctx context.Context, playerID int64) error {
	pos, err := m.GetPosition(ctx, playerID)
	if err != nil || pos == nil {
		return err
	}
	return m.cache.HDel(ctx, cache.KeyPosIndex(pos.MapID), fmt.Sprint(playerID))
}

// Clear removes every cached record for the player. Call only after the
// final sync has flushed.
func (m *PlayerStateManager) Clear(ctx context.Context, playerID int64) error {
	pos, err := m.GetPosition(ctx, playerID)
	if err != nil {
		return err
	}
	if pos != nil {
		if err := m.cache.HDel(ctx, cache.KeyPosIndex(pos.MapID), fmt.Sprint(playerID)); err != nil {
			return err
		}
	}
	return m.cache.Del(ctx,
		cache.KeyPlayerPos(playerID),
		cache.KeyPlayerHP(playerID),
		cache.KeyPlayerCombat(playerID),
		cache.KeyPlayerInv(playerID),
		cache.KeyPlayerEquip(playerID),
		cache.KeyPlayerSkills(playerID),
	)
}

// hydrate loads the player row on a cache miss, writes position and hp back
// to the cache, and bounds the entries with a TTL when the owner is offline.
func (m *PlayerStateManager) hydrate(ctx context.Context, playerID int64) (*persist.PlayerRow, error) {
	row, err := m.players.Load(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("hydrate player %d: %w", playerID, err)
	}
	if row == nil {
		return nil, nil
	}
	online, err := m.IsOnline(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if online {
		if err := m.SetFullState(ctx, row); err != nil {
			return nil, err
		}
	} else {
		// Offline read: rehydrate the hashes but stay out of the per-map
		// index so nearby scans never see ghosts.
		if err := m.cache.HSet(ctx, cache.KeyPlayerPos(playerID),
			"map_id", row.MapID, "x", row.X, "y", row.Y,
			"facing", row.Facing, "last_move_time", "0"); err != nil {
			return nil, err
		}
		if err := m.cache.HSet(ctx, cache.KeyPlayerHP(playerID),
			"current", row.CurrentHP, "max", row.MaxHP); err != nil {
			return nil, err
		}
	}
	if !online && m.ttl > 0 {
		_ = m.cache.Expire(ctx, cache.KeyPlayerPos(playerID), m.ttl)
		_ = m.cache.Expire(ctx, cache.KeyPlayerHP(playerID), m.ttl)
	}
	return row, nil
}
