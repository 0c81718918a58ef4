package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PortalDef is a walk-on teleporter. Stepping onto the source tile places
// the walker at the destination in the same move.
type PortalDef struct {
	MapID      string `yaml:"map_id"`
	X          int    `yaml:"x"`
	Y          int    `yaml:"y"`
	DestMapID  string `yaml:"dest_map_id"`
	DestX      int    `yaml:"dest_x"`
	DestY      int    `yaml:"dest_y"`
	DestFacing string `yaml:"dest_facing"` // empty keeps the walker's facing
}

type portalKey struct {
	mapID string
	x, y  int
}

type portalListFile struct {
	Portals []PortalDef `yaml:"portals"`
}

// PortalTable indexes portals by their source tile.
type PortalTable struct {
	byTile map[portalKey]*PortalDef
}

// NewPortalTable builds a table from in-memory definitions.
func NewPortalTable(defs []PortalDef) *PortalTable {
	t := &PortalTable{byTile: make(map[portalKey]*PortalDef, len(defs))}
	for i := range defs {
		p := &defs[i]
		t.byTile[portalKey{mapID: p.MapID, x: p.X, y: p.Y}] = p
	}
	return t
}

// LoadPortalTable loads portals.yaml.
func LoadPortalTable(path string) (*PortalTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portal list: %w", err)
	}
	var file portalListFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse portal list: %w", err)
	}
	for i := range file.Portals {
		p := &file.Portals[i]
		if f := p.DestFacing; f != "" && f != FacingNorth && f != FacingSouth && f != FacingWest && f != FacingEast {
			return nil, fmt.Errorf("portal %s (%d,%d): bad dest_facing %q", p.MapID, p.X, p.Y, f)
		}
	}
	return NewPortalTable(file.Portals), nil
}

// At returns the portal whose source is the given tile, or nil.
func (t *PortalTable) At(mapID string, x, y int) *PortalDef {
	return t.byTile[portalKey{mapID: mapID, x: x, y: y}]
}

// Count returns the number of portals loaded.
func (t *PortalTable) Count() int {
	return len(t.byTile)
}
