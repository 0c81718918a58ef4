package broadcast

import (
	"sort"

	"github.com/openrealm/server/internal/world"
)

func invPayload(inv map[int]world.Slot) []map[string]any {
	keys := make([]int, 0, len(inv))
	for k := range inv {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		s := inv[k]
		p := map[string]any{"slot": k, "item_id": s.ItemID, "quantity": s.Quantity}
		if s.Durability != nil {
			p["durability"] = *s.Durability
		}
		out = append(out, p)
	}
	return out
}

func equipPayload(eq map[string]world.Slot) map[string]any {
	out := make(map[string]any, len(eq))
	for slot, s := range eq {
		p := map[string]any{"item_id": s.ItemID, "quantity": s.Quantity}
		if s.Durability != nil {
			p["durability"] = *s.Durability
		}
		out[slot] = p
	}
	return out
}
