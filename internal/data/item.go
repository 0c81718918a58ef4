package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Equipment slot names. EquipSlot on an item definition is one of these or
// empty for items that cannot be worn.
const (
	SlotWeapon = "weapon"
	SlotShield = "shield"
	SlotHelmet = "helmet"
	SlotChest  = "chest"
	SlotLegs   = "legs"
	SlotBoots  = "boots"
	SlotGloves = "gloves"
	SlotAmulet = "amulet"
	SlotRing   = "ring"
	SlotCape   = "cape"
	SlotAmmo   = "ammo"
)

// EquipSlots lists every wearable slot in display order.
var EquipSlots = []string{
	SlotWeapon, SlotShield, SlotHelmet, SlotChest, SlotLegs,
	SlotBoots, SlotGloves, SlotAmulet, SlotRing, SlotCape, SlotAmmo,
}

// ValidEquipSlot reports whether s names a wearable slot.
func ValidEquipSlot(s string) bool {
	for _, slot := range EquipSlots {
		if slot == s {
			return true
		}
	}
	return false
}

// ItemDef holds the static definition of an item type.
// Flat struct; fields that don't apply to a kind are zero-valued.
type ItemDef struct {
	ID           int64  `yaml:"id"`
	Name         string `yaml:"name"`
	Stackable    bool   `yaml:"stackable"`
	MaxStackSize int    `yaml:"max_stack_size"`

	// Equipment
	EquipSlot    string `yaml:"equip_slot"` // empty = not equippable
	TwoHanded    bool   `yaml:"two_handed"`
	WeaponRange  int    `yaml:"weapon_range"`
	AttackBonus  int    `yaml:"attack_bonus"`
	DefenceBonus int    `yaml:"defence_bonus"`

	// Durability. MaxDurability 0 means the item does not degrade.
	MaxDurability  int    `yaml:"max_durability"`
	Indestructible bool   `yaml:"indestructible"`
	AmmoFor        string `yaml:"ammo_for"` // weapon class this ammo feeds, e.g. "bow"
}

// StackLimit returns the effective stack ceiling, 1 for non-stackables.
func (d *ItemDef) StackLimit() int {
	if !d.Stackable || d.MaxStackSize < 1 {
		return 1
	}
	return d.MaxStackSize
}

// HasDurability reports whether instances of this item carry a durability
// counter.
func (d *ItemDef) HasDurability() bool {
	return d.MaxDurability > 0
}

// Equippable reports whether the item can be worn at all.
func (d *ItemDef) Equippable() bool {
	return d.EquipSlot != ""
}

type itemListFile struct {
	Items []ItemDef `yaml:"items"`
}

// ItemTable holds all item definitions indexed by ID.
type ItemTable struct {
	items map[int64]*ItemDef
}

// LoadItemTable loads item definitions from a YAML file.
func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	var f itemListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse items: %w", err)
	}
	t := &ItemTable{items: make(map[int64]*ItemDef, len(f.Items))}
	for i := range f.Items {
		d := &f.Items[i]
		if d.EquipSlot != "" && !ValidEquipSlot(d.EquipSlot) {
			return nil, fmt.Errorf("item %d %q: unknown equip_slot %q", d.ID, d.Name, d.EquipSlot)
		}
		t.items[d.ID] = d
	}
	return t, nil
}

// NewItemTable builds a table from in-memory definitions.
func NewItemTable(defs ...ItemDef) *ItemTable {
	t := &ItemTable{items: make(map[int64]*ItemDef, len(defs))}
	for i := range defs {
		t.items[defs[i].ID] = &defs[i]
	}
	return t
}

// Get returns an item definition by ID, or nil if not found.
func (t *ItemTable) Get(itemID int64) *ItemDef {
	return t.items[itemID]
}

// Count returns the number of loaded definitions.
func (t *ItemTable) Count() int {
	return len(t.items)
}

// All returns every definition. Order is unspecified.
func (t *ItemTable) All() []*ItemDef {
	out := make([]*ItemDef, 0, len(t.items))
	for _, d := range t.items {
		out = append(out, d)
	}
	return out
}
