package data

import "sort"

// XPTable maps total experience to skill levels. It is generated once at boot
// from the Lua curve and shared read-only; managers never call into the VM.
type XPTable struct {
	// thresholds[i] = total XP required to hold level i+1; strictly
	// non-decreasing, thresholds[0] == 0.
	thresholds []int64
}

// NewXPTable samples xpForLevel for levels 1..maxLevel.
func NewXPTable(maxLevel int, xpForLevel func(level int) int64) *XPTable {
	if maxLevel < 1 {
		maxLevel = 1
	}
	t := &XPTable{thresholds: make([]int64, maxLevel)}
	for lvl := 1; lvl <= maxLevel; lvl++ {
		t.thresholds[lvl-1] = xpForLevel(lvl)
	}
	return t
}

func (t *XPTable) MaxLevel() int {
	return len(t.thresholds)
}

// XPForLevel returns the total XP required to hold the level. Levels outside
// the table clamp to its ends.
func (t *XPTable) XPForLevel(level int) int64 {
	if level < 1 {
		return 0
	}
	if level > len(t.thresholds) {
		level = len(t.thresholds)
	}
	return t.thresholds[level-1]
}

// LevelForXP returns the level the given total XP grants.
func (t *XPTable) LevelForXP(xp int64) int {
	if xp < 0 {
		return 1
	}
	// First threshold strictly above xp; the level before it is held.
	i := sort.Search(len(t.thresholds), func(i int) bool {
		return t.thresholds[i] > xp
	})
	if i < 1 {
		return 1
	}
	return i
}
