package persist

import (
	"context"
	"fmt"

	"github.com/openrealm/server/internal/data"
)

// CatalogRepo mirrors the YAML item and skill definitions into the relational
// store at boot so the inventory/equipment/skills foreign keys always hold.
type CatalogRepo struct {
	db *DB
}

func NewCatalogRepo(db *DB) *CatalogRepo {
	return &CatalogRepo{db: db}
}

// Sync upserts every definition in the catalog. Rows for removed definitions
// are kept, player state may still reference them.
func (r *CatalogRepo) Sync(ctx context.Context, c *data.Catalog) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, item := range c.Items.All() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO items (id, name) VALUES ($1, $2)
			 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
			item.ID, item.Name); err != nil {
			return fmt.Errorf("sync item %d: %w", item.ID, err)
		}
	}
	for _, skill := range c.Skills.All() {
		if _, err := tx.Exec(ctx,
			`INSERT INTO skills (id, name, xp_multiplier) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, xp_multiplier = EXCLUDED.xp_multiplier`,
			skill.ID, skill.Name, skill.XPMultiplier); err != nil {
			return fmt.Errorf("sync skill %d: %w", skill.ID, err)
		}
	}
	return tx.Commit(ctx)
}
