package persist

import "context"

type GroundItemRow struct {
	ID         int64
	ItemID     int64
	MapID      string
	X          int
	Y          int
	Quantity   int
	Durability *int
	DroppedBy  *int64
	DroppedAt  float64
	PublicAt   float64
	DespawnAt  float64
}

type GroundItemRepo struct {
	db *DB
}

func NewGroundItemRepo(db *DB) *GroundItemRepo {
	return &GroundItemRepo{db: db}
}

// LoadUnexpired returns ground items still alive at now (unix seconds).
// Called once on boot to rehydrate the cache.
func (r *GroundItemRepo) LoadUnexpired(ctx context.Context, now float64) ([]GroundItemRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, item_id, map_id, x, y, quantity, current_durability,
		        dropped_by, dropped_at, public_at, despawn_at
		 FROM ground_items WHERE despawn_at > $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []GroundItemRow
	for rows.Next() {
		var g GroundItemRow
		if err := rows.Scan(&g.ID, &g.ItemID, &g.MapID, &g.X, &g.Y, &g.Quantity,
			&g.Durability, &g.DroppedBy, &g.DroppedAt, &g.PublicAt, &g.DespawnAt); err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

func (r *GroundItemRepo) Upsert(ctx context.Context, q Querier, g *GroundItemRow) error {
	_, err := q.Exec(ctx,
		`INSERT INTO ground_items (id, item_id, map_id, x, y, quantity, current_durability,
		                           dropped_by, dropped_at, public_at, despawn_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   map_id = EXCLUDED.map_id, x = EXCLUDED.x, y = EXCLUDED.y,
		   quantity = EXCLUDED.quantity, current_durability = EXCLUDED.current_durability,
		   public_at = EXCLUDED.public_at, despawn_at = EXCLUDED.despawn_at`,
		g.ID, g.ItemID, g.MapID, g.X, g.Y, g.Quantity, g.Durability,
		g.DroppedBy, g.DroppedAt, g.PublicAt, g.DespawnAt)
	return err
}

// Delete removes a ground row; picked up or expired items fall away on the
// next sync cycle.
func (r *GroundItemRepo) Delete(ctx context.Context, q Querier, id int64) error {
	_, err := q.Exec(ctx, `DELETE FROM ground_items WHERE id = $1`, id)
	return err
}

// MaxID seeds the cache id sequence so restarted servers never reuse ids.
func (r *GroundItemRepo) MaxID(ctx context.Context) (int64, error) {
	var max int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM ground_items`).Scan(&max)
	return max, err
}
