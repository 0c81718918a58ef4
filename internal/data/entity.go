package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Entity behavior classes.
const (
	BehaviorPassive    = "passive"    // wanders, fights back only when hit
	BehaviorAggressive = "aggressive" // acquires players inside its aggro radius
	BehaviorGuard      = "guard"      // stationary, attacks aggressors on sight
)

// EntityDef holds static data for an entity type loaded from YAML.
type EntityDef struct {
	ID               int64  `yaml:"id"`
	Name             string `yaml:"name"`
	Behavior         string `yaml:"behavior"`
	MaxHP            int    `yaml:"max_hp"`
	Defence          int    `yaml:"defence"` // defender level fed to the hit formula
	AttackDamage     int    `yaml:"attack_damage"`
	AttackRange      int    `yaml:"attack_range"`
	AttackSpeedTicks int    `yaml:"attack_speed_ticks"`
	AggroRadius      int    `yaml:"aggro_radius"`
	DisengageRadius  int    `yaml:"disengage_radius"`
	WanderRadius     int    `yaml:"wander_radius"`
	RespawnDelay     int    `yaml:"respawn_delay"` // seconds
}

// Aggressive reports whether the entity initiates combat on proximity.
func (d *EntityDef) Aggressive() bool {
	return d.Behavior == BehaviorAggressive
}

// SpawnPoint defines where and how many entities to spawn.
type SpawnPoint struct {
	EntityID     int64  `yaml:"entity_id"`
	MapID        string `yaml:"map_id"`
	X            int    `yaml:"x"`
	Y            int    `yaml:"y"`
	Count        int    `yaml:"count"`
	RandomX      int    `yaml:"randomx"`
	RandomY      int    `yaml:"randomy"`
	RespawnDelay int    `yaml:"respawn_delay"` // seconds; 0 uses the entity default
}

type entityListFile struct {
	Entities []EntityDef `yaml:"entities"`
}

type spawnListFile struct {
	Spawns []SpawnPoint `yaml:"spawns"`
}

// EntityTable holds all entity definitions indexed by ID.
type EntityTable struct {
	defs map[int64]*EntityDef
}

// LoadEntityTable loads entity definitions from a YAML file.
func LoadEntityTable(path string) (*EntityTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity_list: %w", err)
	}
	var f entityListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse entity_list: %w", err)
	}
	t := &EntityTable{defs: make(map[int64]*EntityDef, len(f.Entities))}
	for i := range f.Entities {
		d := &f.Entities[i]
		switch d.Behavior {
		case BehaviorPassive, BehaviorAggressive, BehaviorGuard:
		case "":
			d.Behavior = BehaviorPassive
		default:
			return nil, fmt.Errorf("entity %d %q: unknown behavior %q", d.ID, d.Name, d.Behavior)
		}
		if d.AttackRange < 1 {
			d.AttackRange = 1
		}
		if d.AttackSpeedTicks < 1 {
			d.AttackSpeedTicks = 1
		}
		t.defs[d.ID] = d
	}
	return t, nil
}

// NewEntityTable builds a table from in-memory definitions.
func NewEntityTable(defs ...EntityDef) *EntityTable {
	t := &EntityTable{defs: make(map[int64]*EntityDef, len(defs))}
	for i := range defs {
		d := &defs[i]
		if d.Behavior == "" {
			d.Behavior = BehaviorPassive
		}
		if d.AttackRange < 1 {
			d.AttackRange = 1
		}
		if d.AttackSpeedTicks < 1 {
			d.AttackSpeedTicks = 1
		}
		t.defs[d.ID] = d
	}
	return t
}

// Get returns an entity definition by ID, or nil if not found.
func (t *EntityTable) Get(entityID int64) *EntityDef {
	return t.defs[entityID]
}

// Count returns the number of loaded definitions.
func (t *EntityTable) Count() int {
	return len(t.defs)
}

// LoadSpawnList loads spawn points from a YAML file.
func LoadSpawnList(path string) ([]SpawnPoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spawn_list: %w", err)
	}
	var f spawnListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse spawn_list: %w", err)
	}
	return f.Spawns, nil
}
