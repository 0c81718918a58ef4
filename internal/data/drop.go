package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DropChanceScale is the denominator for drop chances (100% = 1000000).
const DropChanceScale = 1000000

// DropItem represents a single possible drop from an entity.
type DropItem struct {
	ItemID int64 `yaml:"item_id"`
	Min    int   `yaml:"min"`
	Max    int   `yaml:"max"`
	Chance int   `yaml:"chance"` // out of DropChanceScale
}

type entityDropEntry struct {
	EntityID int64      `yaml:"entity_id"`
	Items    []DropItem `yaml:"items"`
}

type dropListFile struct {
	Drops []entityDropEntry `yaml:"drops"`
}

// DropTable holds all entity drop data indexed by entity definition ID.
type DropTable struct {
	drops map[int64][]DropItem
}

// NewDropTable builds a table from an in-memory drop map.
func NewDropTable(drops map[int64][]DropItem) *DropTable {
	if drops == nil {
		drops = map[int64][]DropItem{}
	}
	return &DropTable{drops: drops}
}

// Get returns the drop list for an entity, or nil if none defined.
func (t *DropTable) Get(entityID int64) []DropItem {
	return t.drops[entityID]
}

// Count returns the number of entities with drop entries.
func (t *DropTable) Count() int {
	return len(t.drops)
}

// LoadDropTable loads entity drop data from a YAML file.
func LoadDropTable(path string) (*DropTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read drop_list: %w", err)
	}
	var f dropListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse drop_list: %w", err)
	}
	t := &DropTable{drops: make(map[int64][]DropItem, len(f.Drops))}
	for _, entry := range f.Drops {
		t.drops[entry.EntityID] = entry.Items
	}
	return t, nil
}
