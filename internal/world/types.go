// Package world holds the per-entity managers: thin façades over the cache
// client that enforce game invariants, hydrate misses from the durable store,
// and place owners into dirty sets so the batch sync eventually flushes them.
package world

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MaxInventorySlots bounds a player inventory. Slot indices are sparse in
// 0..MaxInventorySlots-1; holes are allowed.
const MaxInventorySlots = 28

// Dirty categories drained by the batch sync.
const (
	CategoryPositions   = "positions"
	CategoryInventories = "inventories"
	CategoryEquipment   = "equipment"
	CategorySkills      = "skills"
)

// Position is a player's location plus movement bookkeeping. LastMoveTime is
// unix seconds with sub-second precision.
type Position struct {
	MapID        string
	X, Y         int
	Facing       string
	LastMoveTime float64
}

// HP is the current/max hitpoint pair. Current == 0 means dead.
type HP struct {
	Current int
	Max     int
}

// CombatState is present only while a player is engaged.
type CombatState struct {
	TargetType     string // "entity" or "player"
	TargetID       int64
	LastAttackTick int64
	AttackSpeed    int // ticks between swings
}

// Slot is one inventory or equipment stack. Durability is nil for items that
// do not degrade. The JSON form is shared with the cache-side Lua scripts.
type Slot struct {
	ItemID     int64 `json:"item_id"`
	Quantity   int   `json:"quantity"`
	Durability *int  `json:"durability,omitempty"`
}

// SkillState is one trained skill.
type SkillState struct {
	Level int   `json:"level"`
	XP    int64 `json:"xp"`
}

// GroundItem is a dropped stack with privacy and despawn windows (unix
// seconds).
type GroundItem struct {
	ID         int64   `json:"id"`
	ItemID     int64   `json:"item_id"`
	MapID      string  `json:"map_id"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Quantity   int     `json:"quantity"`
	Durability *int    `json:"durability,omitempty"`
	DroppedBy  int64   `json:"dropped_by,omitempty"` // 0 = no owner
	DroppedAt  float64 `json:"dropped_at"`
	PublicAt   float64 `json:"public_at"`
	DespawnAt  float64 `json:"despawn_at"`
}

// VisibleTo reports whether a player may see (and pick up) the item at now.
func (g *GroundItem) VisibleTo(playerID int64, now float64) bool {
	if now >= g.PublicAt {
		return true
	}
	return g.DroppedBy != 0 && g.DroppedBy == playerID
}

// Entity states.
const (
	EntityIdle   = "idle"
	EntityWalk   = "walk"
	EntityAttack = "attack"
	EntityDying  = "dying"
	EntityDead   = "dead"
)

// EntityInstance is one live (or respawn-pending) monster/NPC.
type EntityInstance struct {
	ID             int64
	DefID          int64
	MapID          string
	X, Y           int
	CurrentHP      int
	MaxHP          int
	State          string
	SpawnX, SpawnY int
	WanderRadius   int
	SpawnPointID   int
	TargetPlayerID int64 // 0 = no target
	SpawnedAt      float64
	RespawnDelay   int   // seconds
	LastAttackTick int64 // game tick of the last swing
	DyingTicks     int   // ticks remaining in the dying hold
}

// Chebyshev is the board distance used for nearness, aggro and range checks.
func Chebyshev(x1, y1, x2, y2 int) int {
	dx := x1 - x2
	if dx < 0 {
		dx = -dx
	}
	dy := y1 - y2
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// ==================== hash codecs ====================

func encodeSlot(s Slot) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func decodeSlot(raw string) (Slot, error) {
	var s Slot
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Slot{}, fmt.Errorf("decode slot %q: %w", raw, err)
	}
	return s, nil
}

func encodeSkill(s SkillState) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func decodeSkill(raw string) (SkillState, error) {
	var s SkillState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return SkillState{}, fmt.Errorf("decode skill %q: %w", raw, err)
	}
	return s, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func atof(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
