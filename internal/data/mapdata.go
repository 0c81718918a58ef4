package data

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ChunkSize is the edge length of the square terrain chunks streamed to
// clients.
const ChunkSize = 16

// MapInfo holds metadata for a single map, loaded from map_list.yaml.
type MapInfo struct {
	MapID  string `yaml:"map_id"`
	Name   string `yaml:"name"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	File   string `yaml:"file"` // tile grid file, relative to the tile dir
	SpawnX int    `yaml:"spawn_x"`
	SpawnY int    `yaml:"spawn_y"`
}

// MapData stores loaded tile data plus metadata for one map.
// Tiles are row-major [y*width+x]; 0 = walkable, 1 = blocked.
type MapData struct {
	Info  MapInfo
	tiles []byte
}

// MapTable provides map tile data and metadata lookups by map id.
type MapTable struct {
	maps map[string]*MapData
}

type mapListFile struct {
	Maps []MapInfo `yaml:"maps"`
}

// LoadMapTable loads map metadata from YAML and a tile grid per map.
// Grid files are ASCII: one line per row, '.' walkable and '#' blocked.
func LoadMapTable(yamlPath, tileDir string) (*MapTable, error) {
	raw, err := os.ReadFile(yamlPath)
	if err != nil {
		return nil, fmt.Errorf("read map list %s: %w", yamlPath, err)
	}
	var file mapListFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse map list: %w", err)
	}

	table := &MapTable{maps: make(map[string]*MapData, len(file.Maps))}
	for _, info := range file.Maps {
		if info.Width <= 0 || info.Height <= 0 {
			return nil, fmt.Errorf("map %s: bad dimensions %dx%d", info.MapID, info.Width, info.Height)
		}
		tiles, err := loadTileGrid(filepath.Join(tileDir, info.File), info.Width, info.Height)
		if err != nil {
			return nil, fmt.Errorf("map %s: %w", info.MapID, err)
		}
		m := &MapData{Info: info, tiles: tiles}
		if !m.IsWalkable(info.SpawnX, info.SpawnY) {
			return nil, fmt.Errorf("map %s: spawn point %d,%d is not walkable", info.MapID, info.SpawnX, info.SpawnY)
		}
		table.maps[info.MapID] = m
	}
	return table, nil
}

// loadTileGrid reads an ASCII tile grid: height lines of width runes each.
func loadTileGrid(path string, width, height int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read tiles: %w", err)
	}
	defer f.Close()

	tiles := make([]byte, width*height)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

	y := 0
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}
		if y >= height {
			return nil, fmt.Errorf("parse tiles: more than %d rows", height)
		}
		if len(line) != width {
			return nil, fmt.Errorf("parse tiles: row %d has %d columns, want %d", y, len(line), width)
		}
		for x := 0; x < width; x++ {
			switch line[x] {
			case '.':
				tiles[y*width+x] = 0
			case '#':
				tiles[y*width+x] = 1
			default:
				return nil, fmt.Errorf("parse tiles: row %d col %d: unknown tile %q", y, x, line[x])
			}
		}
		y++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tiles: %w", err)
	}
	if y != height {
		return nil, fmt.Errorf("parse tiles: %d rows, want %d", y, height)
	}
	return tiles, nil
}

// NewMapData builds a map from in-memory grid rows ('.' walkable, '#'
// blocked). Width and height are taken from the rows.
func NewMapData(info MapInfo, rows ...string) (*MapData, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("map %s: no rows", info.MapID)
	}
	info.Height = len(rows)
	info.Width = len(rows[0])
	tiles := make([]byte, info.Width*info.Height)
	for y, row := range rows {
		if len(row) != info.Width {
			return nil, fmt.Errorf("map %s: row %d has %d columns, want %d", info.MapID, y, len(row), info.Width)
		}
		for x := 0; x < info.Width; x++ {
			switch row[x] {
			case '.':
			case '#':
				tiles[y*info.Width+x] = 1
			default:
				return nil, fmt.Errorf("map %s: row %d col %d: unknown tile %q", info.MapID, y, x, row[x])
			}
		}
	}
	return &MapData{Info: info, tiles: tiles}, nil
}

// NewMapTable builds a table from in-memory maps.
func NewMapTable(maps ...*MapData) *MapTable {
	t := &MapTable{maps: make(map[string]*MapData, len(maps))}
	for _, m := range maps {
		t.maps[m.Info.MapID] = m
	}
	return t
}

// Count returns the number of maps loaded.
func (t *MapTable) Count() int {
	return len(t.maps)
}

// Get returns a map by id, or nil if not found.
func (t *MapTable) Get(mapID string) *MapData {
	return t.maps[mapID]
}

// All returns every loaded map. Order is unspecified.
func (t *MapTable) All() []*MapData {
	out := make([]*MapData, 0, len(t.maps))
	for _, m := range t.maps {
		out = append(out, m)
	}
	return out
}

// InBounds checks whether the coordinates lie inside the map.
func (m *MapData) InBounds(x, y int) bool {
	return x >= 0 && x < m.Info.Width && y >= 0 && y < m.Info.Height
}

// IsWalkable checks whether the tile at (x,y) exists and is not blocked.
func (m *MapData) IsWalkable(x, y int) bool {
	if !m.InBounds(x, y) {
		return false
	}
	return m.tiles[y*m.Info.Width+x] == 0
}

// Spawn returns the map's spawn point.
func (m *MapData) Spawn() (x, y int) {
	return m.Info.SpawnX, m.Info.SpawnY
}

// Chunk returns the ChunkSize×ChunkSize tile block at chunk coordinates
// (cx,cy), row-major. Tiles outside the map read as blocked.
func (m *MapData) Chunk(cx, cy int) []byte {
	out := make([]byte, ChunkSize*ChunkSize)
	baseX := cx * ChunkSize
	baseY := cy * ChunkSize
	for dy := 0; dy < ChunkSize; dy++ {
		for dx := 0; dx < ChunkSize; dx++ {
			x, y := baseX+dx, baseY+dy
			if !m.InBounds(x, y) {
				out[dy*ChunkSize+dx] = 1
				continue
			}
			out[dy*ChunkSize+dx] = m.tiles[y*m.Info.Width+x]
		}
	}
	return out
}

// ChunkOf returns the chunk coordinates containing tile (x,y).
func ChunkOf(x, y int) (cx, cy int) {
	return x / ChunkSize, y / ChunkSize
}

// ==================== directions ====================

// Canonical facings stored in position state. Commands accept the synonyms
// up/down/left/right as well.
const (
	FacingNorth = "north"
	FacingSouth = "south"
	FacingWest  = "west"
	FacingEast  = "east"
)

// direction deltas; north decreases y, south increases y.
var directionDX = map[string]int{
	FacingNorth: 0, FacingSouth: 0, FacingWest: -1, FacingEast: 1,
}
var directionDY = map[string]int{
	FacingNorth: -1, FacingSouth: 1, FacingWest: 0, FacingEast: 0,
}

// ParseDirection canonicalizes a direction token and returns its step delta.
// ok is false for anything that isn't one of the eight accepted tokens.
func ParseDirection(s string) (facing string, dx, dy int, ok bool) {
	switch s {
	case "up", FacingNorth:
		facing = FacingNorth
	case "down", FacingSouth:
		facing = FacingSouth
	case "left", FacingWest:
		facing = FacingWest
	case "right", FacingEast:
		facing = FacingEast
	default:
		return "", 0, 0, false
	}
	return facing, directionDX[facing], directionDY[facing], true
}
