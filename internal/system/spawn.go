package system

import (
	"context"
	"math/rand"

	"go.uber.org/zap"

	"github.com/openrealm/server/internal/data"
	"github.com/openrealm/server/internal/world"
)

// SeedEntities populates the world from the spawn table at boot. Maps that
// already hold entities are left alone so a warm cache survives restarts.
func SeedEntities(ctx context.Context, w *world.World, catalog *data.Catalog, rng *rand.Rand, log *zap.Logger) error {
	seeded := map[string]bool{}
	for _, m := range catalog.Maps.All() {
		ents, err := w.Entities.EntitiesOnMap(ctx, m.Info.MapID)
		if err != nil {
			return err
		}
		seeded[m.Info.MapID] = len(ents) > 0
	}

	total := 0
	for i, sp := range catalog.Spawns {
		if seeded[sp.MapID] {
			continue
		}
		def := catalog.Entities.Get(sp.EntityID)
		if def == nil {
			log.Warn("spawn point references unknown entity",
				zap.Int("spawn_point", i),
				zap.Int64("entity_id", sp.EntityID))
			continue
		}
		m := catalog.Maps.Get(sp.MapID)
		if m == nil {
			log.Warn("spawn point references unknown map",
				zap.Int("spawn_point", i),
				zap.String("map_id", sp.MapID))
			continue
		}

		count := sp.Count
		if count <= 0 {
			count = 1
		}
		for n := 0; n < count; n++ {
			x, y := jitterSpawn(m, sp, rng)
			if _, err := w.Entities.Spawn(ctx, def, sp.MapID, x, y, i, sp.RespawnDelay); err != nil {
				return err
			}
			total++
		}
	}
	if total > 0 {
		log.Info("entities seeded", zap.Int("count", total))
	}
	return nil
}

// jitterSpawn picks a walkable tile inside the spawn rectangle, falling back
// to the anchor tile when the jitter keeps landing on walls.
func jitterSpawn(m *data.MapData, sp data.SpawnPoint, rng *rand.Rand) (int, int) {
	if sp.RandomX <= 0 && sp.RandomY <= 0 {
		return sp.X, sp.Y
	}
	for attempt := 0; attempt < 8; attempt++ {
		x, y := sp.X, sp.Y
		if sp.RandomX > 0 {
			x += rng.Intn(2*sp.RandomX+1) - sp.RandomX
		}
		if sp.RandomY > 0 {
			y += rng.Intn(2*sp.RandomY+1) - sp.RandomY
		}
		if m.IsWalkable(x, y) {
			return x, y
		}
	}
	return sp.X, sp.Y
}
