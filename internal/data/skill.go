package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Baseline skill names. hitpoints starts at level 10; everything else at 1.
const (
	SkillAttack    = "attack"
	SkillStrength  = "strength"
	SkillDefence   = "defence"
	SkillHitpoints = "hitpoints"
)

// SkillDef holds a single trainable skill definition.
type SkillDef struct {
	ID           int64   `yaml:"id"`
	Name         string  `yaml:"name"`
	XPMultiplier float64 `yaml:"xp_multiplier"` // scales awarded XP; 1.0 when unset
	StartLevel   int     `yaml:"start_level"`   // level granted on first login; min 1
}

type skillListFile struct {
	Skills []SkillDef `yaml:"skills"`
}

// SkillTable holds all skill definitions indexed by ID and name.
type SkillTable struct {
	skills map[int64]*SkillDef
	byName map[string]*SkillDef
}

// LoadSkillTable loads skill definitions from YAML.
func LoadSkillTable(path string) (*SkillTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read skills: %w", err)
	}
	var f skillListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse skills: %w", err)
	}
	t := &SkillTable{
		skills: make(map[int64]*SkillDef, len(f.Skills)),
		byName: make(map[string]*SkillDef, len(f.Skills)),
	}
	for i := range f.Skills {
		d := &f.Skills[i]
		if d.XPMultiplier == 0 {
			d.XPMultiplier = 1.0
		}
		if d.StartLevel < 1 {
			d.StartLevel = 1
		}
		t.skills[d.ID] = d
		t.byName[d.Name] = d
	}
	return t, nil
}

// NewSkillTable builds a table from in-memory definitions.
func NewSkillTable(defs ...SkillDef) *SkillTable {
	t := &SkillTable{
		skills: make(map[int64]*SkillDef, len(defs)),
		byName: make(map[string]*SkillDef, len(defs)),
	}
	for i := range defs {
		d := &defs[i]
		if d.XPMultiplier == 0 {
			d.XPMultiplier = 1.0
		}
		if d.StartLevel < 1 {
			d.StartLevel = 1
		}
		t.skills[d.ID] = d
		t.byName[d.Name] = d
	}
	return t
}

// Get returns a skill by ID, or nil if not found.
func (t *SkillTable) Get(skillID int64) *SkillDef {
	return t.skills[skillID]
}

// GetByName returns a skill by its exact name, or nil if not found.
func (t *SkillTable) GetByName(name string) *SkillDef {
	return t.byName[name]
}

// Count returns total loaded skills.
func (t *SkillTable) Count() int {
	return len(t.skills)
}

// All returns all skill definitions. Order is unspecified.
func (t *SkillTable) All() []*SkillDef {
	result := make([]*SkillDef, 0, len(t.skills))
	for _, s := range t.skills {
		result = append(result, s)
	}
	return result
}
