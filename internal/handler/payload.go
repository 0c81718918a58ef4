package handler

import (
	"sort"

	"github.com/openrealm/server/internal/world"
)

// Wire shapes for player state snapshots. Slot payloads always carry the
// slot index so sparse inventories round-trip.

func slotPayload(slot int, s world.Slot) map[string]any {
	p := map[string]any{
		"slot":     slot,
		"item_id":  s.ItemID,
		"quantity": s.Quantity,
	}
	if s.Durability != nil {
		p["durability"] = *s.Durability
	}
	return p
}

func slotsPayload(inv map[int]world.Slot) []map[string]any {
	keys := make([]int, 0, len(inv))
	for k := range inv {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, slotPayload(k, inv[k]))
	}
	return out
}

func equipmentPayload(eq map[string]world.Slot) map[string]any {
	out := make(map[string]any, len(eq))
	for slot, s := range eq {
		p := map[string]any{
			"item_id":  s.ItemID,
			"quantity": s.Quantity,
		}
		if s.Durability != nil {
			p["durability"] = *s.Durability
		}
		out[slot] = p
	}
	return out
}

func skillsPayload(sk map[string]world.SkillState) map[string]any {
	out := make(map[string]any, len(sk))
	for name, s := range sk {
		out[name] = map[string]any{"level": s.Level, "xp": s.XP}
	}
	return out
}
