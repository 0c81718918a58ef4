package cache

import "fmt"

// Key layout for the hot state store. Everything player-scoped embeds the
// player id; everything map-scoped embeds the map id so per-map scans stay
// cheap.
const (
	KeyOnlineIDs  = "online:ids"        // set of online player ids
	KeyIDToName   = "online:id_to_name" // hash id -> name
	KeyNameToID   = "online:name_to_id" // hash lowercase name -> id

	KeyGroundDespawn = "ground:despawn" // zset member map:ground_id scored by despawn time
	KeyGroundDirty   = "grounddirty:ids"
	KeyRespawnQueue  = "respawn:queue" // zset member instance_id scored by respawn time

	KeyDirtyPositions   = "dirty:positions"
	KeyDirtyInventories = "dirty:inventories"
	KeyDirtyEquipment   = "dirty:equipment"
	KeyDirtySkills      = "dirty:skills"

	KeySeqGround = "seq:ground" // Incr-driven ground item ids
	KeySeqEntity = "seq:entity" // Incr-driven entity instance ids
)

func KeyPlayerPos(playerID int64) string {
	return fmt.Sprintf("player:%d:pos", playerID)
}

func KeyPlayerHP(playerID int64) string {
	return fmt.Sprintf("player:%d:hp", playerID)
}

func KeyPlayerCombat(playerID int64) string {
	return fmt.Sprintf("player:%d:combat", playerID)
}

func KeyPlayerInv(playerID int64) string {
	return fmt.Sprintf("player:%d:inv", playerID)
}

func KeyPlayerEquip(playerID int64) string {
	return fmt.Sprintf("player:%d:equip", playerID)
}

func KeyPlayerSkills(playerID int64) string {
	return fmt.Sprintf("player:%d:skills", playerID)
}

func KeyPosIndex(mapID string) string {
	return fmt.Sprintf("posindex:%s", mapID)
}

func KeyGround(mapID string) string {
	return fmt.Sprintf("ground:%s", mapID)
}

func KeyEntity(instanceID string) string {
	return fmt.Sprintf("entity:%s", instanceID)
}

func KeyEntities(mapID string) string {
	return fmt.Sprintf("entities:%s", mapID)
}

// GroundMember is the despawn zset member for a ground item.
func GroundMember(mapID string, groundID int64) string {
	return fmt.Sprintf("%s:%d", mapID, groundID)
}
