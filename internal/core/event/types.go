package event

// Domain events emitted by managers and services. Fields stay primitive so
// the broadcaster decides what each observer needs to see; heavyweight state
// (inventories, equipment) is re-read from the cache at dispatch time.

type PlayerJoined struct {
	PlayerID int64
	Username string
	MapID    string
}

type PlayerDisconnected struct {
	PlayerID int64
	Username string
	MapID    string
}

type PositionChanged struct {
	PlayerID   int64
	MapID      string
	OldX, OldY int
	X, Y       int
	Facing     string
}

type PlayerHPChanged struct {
	PlayerID int64
	MapID    string
	Current  int
	Max      int
}

type PlayerDied struct {
	PlayerID int64
	MapID    string
	X, Y     int
}

type PlayerRespawned struct {
	PlayerID int64
	MapID    string
	X, Y     int
}

type InventoryChanged struct {
	PlayerID int64
}

type EquipmentChanged struct {
	PlayerID int64
}

type SkillChanged struct {
	PlayerID  int64
	Skill     string
	Level     int
	XP        int64
	LeveledUp bool
}

type GroundItemSpawned struct {
	GroundID  int64
	MapID     string
	X, Y      int
	ItemID    int64
	Quantity  int
	DroppedBy int64 // 0 = world drop, visible to everyone immediately
}

type GroundItemDespawned struct {
	GroundID int64
	MapID    string
	X, Y     int
}

type EntitySpawned struct {
	InstanceID int64
	DefID      int64
	MapID      string
	X, Y       int
}

type EntityDied struct {
	InstanceID int64
	DefID      int64
	MapID      string
	X, Y       int
	KillerID   int64 // player id, 0 when unattributed
}

type ChatMessage struct {
	Channel  string // "global", "local" or "dm:<user>"
	FromID   int64
	FromName string
	Text     string
	MapID    string // sender position, for local radius
	X, Y     int
}
